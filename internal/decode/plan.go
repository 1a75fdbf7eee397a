// Package decode implements C4: the decode planner and decoder pool.
// Grouping strategy and the keyframe-run pattern are adapted from the
// teacher's HLS segmenting logic (transcoder.Stream.transcode's
// -force_key_frames / start-one-frame-early seek alignment), repurposed
// here for read-side seek planning instead of write-side GOP alignment.
package decode

import (
	"github.com/ixlab-labs/igni/internal/rational"
	"github.com/ixlab-labs/igni/internal/source"
)

// Group is a run of required PTS values that share the same nearest
// preceding keyframe: "group consecutive indices that share a keyframe
// run; within a run, read from K forward and extract all required
// frames in one pass" (spec §4.4 step 2).
type Group struct {
	KeyframeIndex int
	KeyframePTS   rational.R
	Targets       []rational.R
}

// Plan is the ordered sequence of seek-and-decode groups for one
// source's required PTS list.
type Plan struct {
	Groups []Group
}

// Build implements spec §4.4 steps 1-3 for a single source's sorted,
// deduplicated PTS list (the output of C3's resolver for that source).
func Build(handle *source.Handle, required []rational.R) *Plan {
	plan := &Plan{}
	if len(required) == 0 {
		return plan
	}

	var current *Group
	for _, pts := range required {
		kfIdx, ok := handle.NearestKeyframeAtOrBefore(pts)
		if !ok {
			kfIdx = 0
		}
		if current == nil || current.KeyframeIndex != kfIdx {
			plan.Groups = append(plan.Groups, Group{
				KeyframeIndex: kfIdx,
				KeyframePTS:   handle.TS[kfIdx].PTS,
			})
			current = &plan.Groups[len(plan.Groups)-1]
		}
		current.Targets = append(current.Targets, pts)
	}
	return plan
}
