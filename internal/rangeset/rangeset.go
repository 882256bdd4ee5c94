// Package rangeset implements a sorted, coalesced set of half-open byte
// ranges used to track which parts of a download have already landed on
// disk.
package rangeset

import "sort"

// Range is a half-open byte interval [Start, End).
type Range struct {
	Start int64
	End   int64
}

// Width returns the number of bytes covered by r.
func (r Range) Width() int64 {
	if r.End <= r.Start {
		return 0
	}
	return r.End - r.Start
}

// Set is an ordered sequence of non-empty, non-overlapping, non-adjacent
// ranges sorted by Start. The zero value is an empty set.
type Set struct {
	ranges []Range
}

// NewSet builds a Set from an arbitrary slice of ranges, merging overlaps
// and adjacency as Merge would.
func NewSet(rs ...Range) *Set {
	s := &Set{}
	for _, r := range rs {
		s.Merge(r)
	}
	return s
}

// Ranges returns a copy of the set's ranges in ascending order.
func (s *Set) Ranges() []Range {
	out := make([]Range, len(s.ranges))
	copy(out, s.ranges)
	return out
}

// Len reports the number of disjoint ranges currently in the set.
func (s *Set) Len() int {
	return len(s.ranges)
}

// Merge folds r into the set, fusing with any overlapping or adjacent
// neighbors so the sorted/non-overlapping/non-adjacent invariant holds.
// Empty ranges (End <= Start) are ignored.
func (s *Set) Merge(r Range) {
	if r.End <= r.Start {
		return
	}

	// Find first range whose End >= r.Start (possible left neighbor to fuse).
	lo := sort.Search(len(s.ranges), func(i int) bool {
		return s.ranges[i].End >= r.Start
	})
	// Find first range whose Start > r.End (first range strictly past r).
	hi := sort.Search(len(s.ranges), func(i int) bool {
		return s.ranges[i].Start > r.End
	})

	merged := r
	if lo < hi {
		if s.ranges[lo].Start < merged.Start {
			merged.Start = s.ranges[lo].Start
		}
		if s.ranges[hi-1].End > merged.End {
			merged.End = s.ranges[hi-1].End
		}
	}

	out := make([]Range, 0, len(s.ranges)-(hi-lo)+1)
	out = append(out, s.ranges[:lo]...)
	out = append(out, merged)
	out = append(out, s.ranges[hi:]...)
	s.ranges = out
}

// Total sums the widths of every range in the set.
func (s *Set) Total() int64 {
	var total int64
	for _, r := range s.ranges {
		total += r.Width()
	}
	return total
}

// ContainsZeroStart reports whether the set contains a range beginning at
// offset 0.
func (s *Set) ContainsZeroStart() bool {
	return len(s.ranges) > 0 && s.ranges[0].Start == 0
}

// Clear empties the set in place.
func (s *Set) Clear() {
	s.ranges = nil
}

// Invert returns the set-difference [0,total) \ s, i.e. the outstanding
// work for a resumed download. A gap wider than 2*minChunk is split into
// minChunk-wide pieces, the last piece absorbing the remainder; a narrower
// gap is returned whole, even when it is narrower than minChunk.
func (s *Set) Invert(total, minChunk int64) []Range {
	if total <= 0 {
		return nil
	}
	if minChunk <= 0 {
		minChunk = 1
	}

	var gaps []Range
	cursor := int64(0)
	for _, r := range s.ranges {
		if r.Start > cursor {
			gaps = append(gaps, Range{Start: cursor, End: r.Start})
		}
		if r.End > cursor {
			cursor = r.End
		}
	}
	if cursor < total {
		gaps = append(gaps, Range{Start: cursor, End: total})
	}

	var out []Range
	for _, g := range gaps {
		out = append(out, partition(g, minChunk)...)
	}
	return out
}

// partition splits g into pieces no smaller than minChunk, except possibly
// the last piece, which absorbs the remainder instead of being dropped.
func partition(g Range, minChunk int64) []Range {
	width := g.Width()
	if width <= minChunk*2 {
		return []Range{g}
	}

	var out []Range
	cursor := g.Start
	for g.End-cursor > minChunk*2 {
		out = append(out, Range{Start: cursor, End: cursor + minChunk})
		cursor += minChunk
	}
	out = append(out, Range{Start: cursor, End: g.End})
	return out
}
