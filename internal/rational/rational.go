// Package rational wraps math/big.Rat for the (numerator, denominator)
// pairs used throughout igni for timestamps, frame rates and segment
// lengths, matching the way Eyevinn/avpipe represents probed TimeBase,
// FrameRate and AspectRatio fields as *big.Rat.
package rational

import (
	"encoding/json"
	"fmt"
	"math/big"
)

// R is a wire-friendly rational number, serialized as a two-element
// [numerator, denominator] JSON array per spec §6 ("Time format").
type R struct {
	rat *big.Rat
}

// New builds a rational from an integer numerator/denominator pair.
func New(num, den int64) R {
	return R{rat: big.NewRat(num, den)}
}

// FromRat adopts an existing big.Rat.
func FromRat(r *big.Rat) R {
	if r == nil {
		return R{rat: new(big.Rat)}
	}
	return R{rat: r}
}

func (r R) Num() int64 {
	r.ensure()
	return r.rat.Num().Int64()
}

func (r R) Den() int64 {
	r.ensure()
	return r.rat.Denom().Int64()
}

func (r R) Rat() *big.Rat {
	r.ensure()
	return r.rat
}

func (r *R) ensure() {
	if r.rat == nil {
		r.rat = new(big.Rat)
	}
}

// Float64 returns the nearest float64 approximation, used only for
// display (playlist durations) and never for ordering decisions.
func (r R) Float64() float64 {
	r.ensure()
	f, _ := r.rat.Float64()
	return f
}

// Cmp orders two rationals exactly, with no floating-point rounding —
// required for the strictly-increasing timestamp invariants in spec §3.
func (r R) Cmp(o R) int {
	r.ensure()
	o.ensure()
	return r.rat.Cmp(o.rat)
}

func (r R) Add(o R) R {
	r.ensure()
	o.ensure()
	return R{rat: new(big.Rat).Add(r.rat, o.rat)}
}

func (r R) Mul(o R) R {
	r.ensure()
	o.ensure()
	return R{rat: new(big.Rat).Mul(r.rat, o.rat)}
}

// MulInt scales a rational by an integer (used for frame-index * frame
// duration style arithmetic).
func (r R) MulInt(n int64) R {
	r.ensure()
	return R{rat: new(big.Rat).Mul(r.rat, big.NewRat(n, 1))}
}

func (r R) String() string {
	r.ensure()
	return fmt.Sprintf("%d/%d", r.Num(), r.Den())
}

func (r R) IsZero() bool {
	r.ensure()
	return r.rat.Sign() == 0
}

func (r R) MarshalJSON() ([]byte, error) {
	r.ensure()
	return json.Marshal([2]int64{r.Num(), r.Den()})
}

func (r *R) UnmarshalJSON(data []byte) error {
	var pair [2]int64
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("rational: expected [num, den] array: %w", err)
	}
	if pair[1] == 0 {
		return fmt.Errorf("rational: zero denominator")
	}
	r.rat = big.NewRat(pair[0], pair[1])
	return nil
}
