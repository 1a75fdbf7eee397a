package mux

import "github.com/ixlab-labs/igni/internal/apperr"

// AccessUnit is one coded picture worth of Annex-B NAL units (its
// parameter sets, if repeated, plus its slice data), the unit C6 hands
// to the muxer as a single PES packet.
type AccessUnit struct {
	NALs  [][]byte
	IsIDR bool
}

// nalType extracts the H.264 nal_unit_type (low 5 bits of the first
// byte after the start code).
func nalType(nal []byte) int {
	if len(nal) == 0 {
		return -1
	}
	return int(nal[0] & 0x1f)
}

const (
	nalSliceNonIDR = 1
	nalSliceIDR    = 5
)

// SplitAccessUnits walks a raw Annex-B elementary stream (as produced
// by RawFrameEncoder, one h264_mp4toannexb-filtered NAL per start
// code) and groups NAL units into access units, one per coded
// picture: any SPS/PPS/SEI NALs preceding a slice NAL attach to that
// slice's access unit. This assumes one slice NAL per picture, true
// for the single-slice-per-frame encode this package configures.
func SplitAccessUnits(annexB []byte) ([]AccessUnit, error) {
	nals := splitStartCodes(annexB)
	var units []AccessUnit
	var pending [][]byte

	for _, nal := range nals {
		t := nalType(nal)
		switch t {
		case nalSliceIDR, nalSliceNonIDR:
			pending = append(pending, nal)
			units = append(units, AccessUnit{NALs: pending, IsIDR: t == nalSliceIDR})
			pending = nil
		default:
			pending = append(pending, nal)
		}
	}
	if len(pending) > 0 {
		return nil, apperr.New(apperr.RenderError, "trailing NAL units with no slice to attach to")
	}
	if len(units) == 0 {
		return nil, apperr.New(apperr.RenderError, "no access units found in encoder output")
	}
	return units, nil
}

// splitStartCodes splits an Annex-B buffer on 3- or 4-byte start codes
// (0x000001 / 0x00000001), returning each NAL unit's payload bytes
// without the start code.
func splitStartCodes(buf []byte) [][]byte {
	var starts []int
	for i := 0; i+2 < len(buf); i++ {
		if buf[i] == 0 && buf[i+1] == 0 && buf[i+2] == 1 {
			starts = append(starts, i)
		}
	}
	if len(starts) == 0 {
		return nil
	}
	nals := make([][]byte, 0, len(starts))
	for i, s := range starts {
		begin := s + 3
		end := len(buf)
		if i+1 < len(starts) {
			end = starts[i+1]
		}
		nal := buf[begin:end]
		// A byte-aligned RBSP's final byte is never 0x00 (the
		// rbsp_stop_one_bit plus any cabac_zero_word padding lives
		// before trailing_zero_8bits), so trailing zero bytes here are
		// padding that belongs to a following 4-byte start code, not
		// this NAL's payload.
		for len(nal) > 0 && nal[len(nal)-1] == 0 {
			nal = nal[:len(nal)-1]
		}
		nals = append(nals, nal)
	}
	return nals
}
