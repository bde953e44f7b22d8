package gait

import "sort"

// contactInterval is a run of frames [Start, End) during which a foot is on
// the ground.
type contactInterval struct {
	Start int
	End   int
}

// footEvents holds per-foot contact segmentation. A heel strike is the first
// frame of a contact interval; a toe off is the first airborne frame after it.
type footEvents struct {
	Strikes   []int
	ToeOffs   []int
	Contact   []bool
	Intervals []contactInterval
}

// detectFootEvents segments one ankle's vertical trajectory into ground
// contact and swing. A frame counts as contact when the ankle sits within
// threshold (fraction of the observed height range) of the lowest observed
// position. Threshold segmentation tolerates flat stance plateaus where local
// minima detection does not.
func detectFootEvents(ankleZ []float64, threshold float64) footEvents {
	minZ, maxZ := ankleZ[0], ankleZ[0]
	for _, z := range ankleZ {
		if z < minZ {
			minZ = z
		}
		if z > maxZ {
			maxZ = z
		}
	}

	ev := footEvents{Contact: make([]bool, len(ankleZ))}
	cut := minZ + threshold*(maxZ-minZ)
	for i, z := range ankleZ {
		ev.Contact[i] = z <= cut
	}

	for i := 0; i < len(ev.Contact); {
		if !ev.Contact[i] {
			i++
			continue
		}
		start := i
		for i < len(ev.Contact) && ev.Contact[i] {
			i++
		}
		ev.Intervals = append(ev.Intervals, contactInterval{Start: start, End: i})
		if start > 0 {
			ev.Strikes = append(ev.Strikes, start)
		}
		if i < len(ev.Contact) {
			ev.ToeOffs = append(ev.ToeOffs, i)
		}
	}
	return ev
}

// strike pairs a heel-strike frame with the foot that landed.
type strike struct {
	Frame int
	Left  bool
}

// mergeStrikes interleaves both feet's heel strikes in frame order.
func mergeStrikes(left, right []int) []strike {
	out := make([]strike, 0, len(left)+len(right))
	for _, f := range left {
		out = append(out, strike{Frame: f, Left: true})
	}
	for _, f := range right {
		out = append(out, strike{Frame: f, Left: false})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Frame < out[j].Frame })
	return out
}

// doubleSupportFraction is the share of frames in which both feet are in
// contact, over the span where the walk is observable.
func doubleSupportFraction(left, right []bool) float64 {
	n := len(left)
	if n == 0 {
		return 0
	}
	both := 0
	for i := 0; i < n; i++ {
		if left[i] && right[i] {
			both++
		}
	}
	return float64(both) / float64(n)
}
