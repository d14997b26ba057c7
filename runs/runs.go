// Package runs implements the runs engine (spec §4.1): an ordered,
// VCN-sorted collection of (vcn, lcn, length) extents mapping one
// attribute's logical clusters to physical ones, with the NTFS runlist
// byte encoding used to pack it into a non-resident attribute.
//
// This is the write-side counterpart of parser.Run / parser.RunList():
// parser's Run/RunReader stay read-only consumers of an already-packed
// byte stream (see parser/attribute.go's RunList and MakeReaderRuns);
// Tree is the structure that builds and edits that stream before it is
// packed back into an MFT record.
package runs

import (
	"fmt"
	"sort"
)

// Sparse is the LCN value that marks an extent as a hole (spec: "a
// sparse extent uses lcn = -1").
const Sparse = int64(-1)

// Extent is one run: a contiguous mapping from VCN..VCN+Length to
// LCN..LCN+Length (or, if LCN == Sparse, an unmapped hole of that
// length).
type Extent struct {
	VCN    int64
	LCN    int64
	Length int64
}

func (self Extent) End() int64 {
	return self.VCN + self.Length
}

func (self Extent) isSparse() bool {
	return self.LCN == Sparse
}

// contiguous reports whether `next` continues `self` without a gap and
// with matching sparseness, i.e. they are mergeable.
func (self Extent) contiguous(next Extent) bool {
	if self.End() != next.VCN {
		return false
	}
	if self.isSparse() != next.isSparse() {
		return false
	}
	if self.isSparse() {
		return true
	}
	return self.LCN+self.Length == next.LCN
}

// Tree is a VCN-sorted, non-overlapping, gapless-except-for-holes list
// of extents belonging to one attribute.
type Tree struct {
	extents []Extent
}

func New() *Tree {
	return &Tree{}
}

// NewFromExtents builds a Tree from an already VCN-sorted, merged list
// - used by unpack and by tests.
func NewFromExtents(extents []Extent) *Tree {
	t := &Tree{}
	for _, e := range extents {
		t.Add(e.VCN, e.LCN, e.Length)
	}
	return t
}

// Extents returns the current run list, in VCN order.
func (self *Tree) Extents() []Extent {
	result := make([]Extent, len(self.extents))
	copy(result, self.extents)
	return result
}

// Lookup finds the extent containing vcn. idx is the extent's index
// if found, or the insertion point (the first extent whose VCN is >
// vcn) on a miss.
func (self *Tree) Lookup(vcn int64) (extent Extent, idx int, found bool) {
	idx = sort.Search(len(self.extents), func(i int) bool {
		return self.extents[i].VCN > vcn
	})

	if idx > 0 {
		candidate := self.extents[idx-1]
		if vcn >= candidate.VCN && vcn < candidate.End() {
			return candidate, idx - 1, true
		}
	}
	return Extent{}, idx, false
}

// IsMappedFull reports whether every VCN in [svcn,evcn] is covered by
// some extent (sparse extents count as mapped).
func (self *Tree) IsMappedFull(svcn, evcn int64) bool {
	vcn := svcn
	for vcn <= evcn {
		_, idx, found := self.Lookup(vcn)
		if !found {
			return false
		}
		e := self.extents[idx]
		vcn = e.End()
	}
	return true
}

// Add inserts (vcn, lcn, length), merging with neighbours when
// contiguous and splitting/overwriting any existing extents it
// overlaps. A duplicate, identical insertion is a no-op.
func (self *Tree) Add(vcn, lcn, length int64) error {
	if length <= 0 {
		return fmt.Errorf("runs: zero length run")
	}
	new_extent := Extent{VCN: vcn, LCN: lcn, Length: length}
	new_end := vcn + length

	result := make([]Extent, 0, len(self.extents)+1)
	for _, e := range self.extents {
		if e.End() <= vcn || e.VCN >= new_end {
			// No overlap - keep as-is.
			result = append(result, e)
			continue
		}

		// Overlaps the new extent: keep the non-overlapping
		// remainder on either side, the new extent wins the middle.
		if e.VCN < vcn {
			left_len := vcn - e.VCN
			left_lcn := e.LCN
			result = append(result, Extent{VCN: e.VCN, LCN: left_lcn, Length: left_len})
		}
		if e.End() > new_end {
			right_vcn := new_end
			right_len := e.End() - new_end
			right_lcn := e.LCN
			if !e.isSparse() {
				right_lcn = e.LCN + (right_vcn - e.VCN)
			}
			result = append(result, Extent{VCN: right_vcn, LCN: right_lcn, Length: right_len})
		}
	}
	result = append(result, new_extent)

	sort.Slice(result, func(i, j int) bool { return result[i].VCN < result[j].VCN })

	self.extents = mergeAdjacent(result)
	return nil
}

func mergeAdjacent(in []Extent) []Extent {
	if len(in) == 0 {
		return in
	}
	out := make([]Extent, 0, len(in))
	cur := in[0]
	for _, e := range in[1:] {
		if cur.contiguous(e) {
			cur.Length = e.End() - cur.VCN
			continue
		}
		out = append(out, cur)
		cur = e
	}
	out = append(out, cur)
	return out
}

// Truncate drops every extent whose VCN is >= from_vcn, trimming an
// extent that straddles the boundary.
func (self *Tree) Truncate(from_vcn int64) {
	result := make([]Extent, 0, len(self.extents))
	for _, e := range self.extents {
		if e.VCN >= from_vcn {
			continue
		}
		if e.End() > from_vcn {
			e.Length = from_vcn - e.VCN
		}
		result = append(result, e)
	}
	self.extents = result
}

// TruncateHead drops every extent whose end is <= from_vcn, trimming
// an extent that straddles the boundary and renumbering nothing (VCNs
// of surviving extents are left as-is; the caller is responsible for
// any base-VCN shift semantics it wants on top of this).
func (self *Tree) TruncateHead(from_vcn int64) {
	result := make([]Extent, 0, len(self.extents))
	for _, e := range self.extents {
		if e.End() <= from_vcn {
			continue
		}
		if e.VCN < from_vcn {
			trimmed := from_vcn - e.VCN
			new_lcn := e.LCN
			if !e.isSparse() {
				new_lcn = e.LCN + trimmed
			}
			e = Extent{VCN: from_vcn, LCN: new_lcn, Length: e.Length - trimmed}
		}
		result = append(result, e)
	}
	self.extents = result
}
