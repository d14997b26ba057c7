package index

import (
	"fmt"

	"github.com/vex-labs/ntfs3core/ntfserr"
)

// rootVCN is the sentinel frame.vcn value meaning "this frame is the
// resident root, not an allocation block".
const rootVCN = int64(-1)

// frame is one level of a descent path: the node visited, the index
// within it the search stopped at, and the VCN it was loaded from
// (rootVCN for the resident root).
type frame struct {
	node *Node
	idx  int
	vcn  int64
}

// Finder is the descent path find() records, spec §4.5's fnd: root
// frame first, leaf frame last.
type Finder []frame

// Tree is a B-tree-style NTFS index: entries live at every level (not
// just leaves), each entry's subnode covering keys smaller than it and
// the trailing terminator's subnode covering everything larger. The
// root is always resident ($INDEX_ROOT); every other node is one
// $INDEX_ALLOCATION block addressed by VCN through store.
type Tree struct {
	root         *Node
	comparator   Comparator
	store        BlockStore
	blockSize    int
	rootCapacity int
	attrType     uint32
	collation    uint32
	tag          uint16
}

// defaultRootCapacity bounds a resident $INDEX_ROOT the same way
// record.attrSizeThreshold bounds a resident attribute in general -
// small relative to a full $INDEX_ALLOCATION block, so absorbing an
// overflowing root's entries into one fresh block never itself
// overflows that block.
const defaultRootCapacity = 320

// NewTree creates an empty index (a single resident, childless root).
func NewTree(comparator Comparator, store BlockStore, block_size int, attr_type, collation uint32) *Tree {
	return &Tree{
		root:         newLeafNode(),
		comparator:   comparator,
		store:        store,
		blockSize:    block_size,
		rootCapacity: defaultRootCapacity,
		attrType:     attr_type,
		collation:    collation,
		tag:          1,
	}
}

// LoadTree reconstructs a Tree from a decoded $INDEX_ROOT node (the
// rest of the tree is paged in from store lazily as descents need it).
func LoadTree(root *Node, comparator Comparator, store BlockStore, block_size int, attr_type, collation uint32) *Tree {
	return &Tree{root: root, comparator: comparator, store: store, blockSize: block_size, rootCapacity: defaultRootCapacity, attrType: attr_type, collation: collation, tag: 1}
}

// EncodeRoot returns the $INDEX_ROOT attribute content for the tree's
// current in-memory root.
func (self *Tree) EncodeRoot() []byte {
	return EncodeIndexRoot(self.root, self.attrType, self.collation, uint32(self.blockSize))
}

func (self *Tree) loadNode(vcn int64) (*Node, error) {
	if vcn == rootVCN {
		return self.root, nil
	}
	buf, err := self.store.ReadBlock(vcn)
	if err != nil {
		return nil, err
	}
	node, _, err := DecodeIndexAllocationBlock(buf)
	return node, err
}

func (self *Tree) writeNode(vcn int64, node *Node) error {
	if vcn == rootVCN {
		self.root = node
		return nil
	}
	self.tag++
	buf := EncodeIndexAllocationBlock(node, vcn, self.blockSize, self.tag)
	return self.store.WriteBlock(vcn, buf)
}

// findPath descends from the root, recording a Finder frame at every
// level, and returns the leaf-most (deepest) diff: 0 means the last
// frame's entry is an exact match.
func (self *Tree) findPath(key []byte) (Finder, int, error) {
	var fnd Finder
	vcn := rootVCN
	for {
		node, err := self.loadNode(vcn)
		if err != nil {
			return nil, 0, err
		}
		idx, diff := node.find(self.comparator, key)
		fnd = append(fnd, frame{node: node, idx: idx, vcn: vcn})
		if diff == 0 {
			return fnd, 0, nil
		}
		entry := node.Entries[idx]
		if !entry.HasSubnode {
			return fnd, diff, nil
		}
		vcn = entry.SubnodeVCN
	}
}

// Find descends to key's position and returns the matching entry (nil
// if not found), the comparator diff at the stopping point, and the
// descent path for a subsequent InsertEntry/DeleteEntry to reuse.
func (self *Tree) Find(key []byte) (*Entry, int, Finder, error) {
	fnd, diff, err := self.findPath(key)
	if err != nil {
		return nil, 0, nil, err
	}
	last := fnd[len(fnd)-1]
	if diff == 0 {
		return last.node.Entries[last.idx], 0, fnd, nil
	}
	return nil, diff, fnd, nil
}

// InsertEntry descends to entry's key and inserts it, splitting nodes
// bottom-up (and growing the tree's height at the root) as needed.
func (self *Tree) InsertEntry(entry *Entry) error {
	fnd, diff, err := self.findPath(entry.Key)
	if err != nil {
		return err
	}
	if diff == 0 {
		return fmt.Errorf("index: insert_entry: %w", ntfserr.ErrExists)
	}
	return self.insertAt(fnd, entry)
}

func (self *Tree) insertAt(fnd Finder, entry *Entry) error {
	top := fnd[len(fnd)-1]
	top.node.insertAt(top.idx, entry)

	capacity := self.blockSize - allocationBlockOverhead(self.blockSize)
	if top.vcn == rootVCN {
		capacity = self.rootCapacity
	}
	if top.node.byteSize() <= capacity {
		return self.writeNode(top.vcn, top.node)
	}

	if top.vcn == rootVCN {
		// Root overflow: absorb the whole (already overflowing) root
		// content into a single fresh allocation block and collapse
		// the root to point at it, per spec §4.5 ("root remains
		// resident; a new allocation block absorbs the old root
		// contents"). The root's resident capacity is always small
		// relative to a full index block, so the absorbed child does
		// not itself need to split immediately.
		child_vcn, err := self.store.AllocBlock()
		if err != nil {
			return fmt.Errorf("index: insert_entry: growing root: %w", err)
		}
		child := top.node
		if err := self.writeNode(child_vcn, child); err != nil {
			return err
		}
		self.root = &Node{Entries: []*Entry{{IsLast: true, HasSubnode: true, SubnodeVCN: child_vcn}}}
		return nil
	}

	median, left := top.node.split()
	left_vcn, err := self.store.AllocBlock()
	if err != nil {
		return fmt.Errorf("index: insert_entry: splitting: %w", err)
	}
	if err := self.writeNode(left_vcn, left); err != nil {
		return err
	}
	if err := self.writeNode(top.vcn, top.node); err != nil {
		return err
	}

	median.HasSubnode = true
	median.SubnodeVCN = left_vcn
	return self.insertAt(fnd[:len(fnd)-1], median)
}

// DeleteEntry removes the entry matching key. Internal entries are
// replaced with their in-order successor (spec §4.5) before the
// successor's own leaf slot is removed.
//
// TODO: underflowing non-root nodes are not currently borrowed from or
// merged with a sibling (spec §4.5's half-full invariant), only
// emptied in place; implementing that requires walking back up fnd to
// find a sibling through the parent entry adjacent to top.idx and is
// tracked as follow-up work, not attempted here.
func (self *Tree) DeleteEntry(key []byte) error {
	fnd, diff, err := self.findPath(key)
	if err != nil {
		return err
	}
	if diff != 0 {
		return fmt.Errorf("index: delete_entry: %w", ntfserr.ErrNotFound)
	}

	top := fnd[len(fnd)-1]
	entry := top.node.Entries[top.idx]

	if !entry.HasSubnode {
		top.node.removeAt(top.idx)
		return self.writeNode(top.vcn, top.node)
	}

	// The in-order successor - the smallest key greater than entry -
	// is the leftmost (minimum) key in the subtree attached to the
	// entry immediately after entry in this same node (entry's own
	// subnode instead covers keys *less* than entry, the predecessor
	// side).
	next := top.node.Entries[top.idx+1]
	succ_fnd, succ, err := self.leftmost(next.SubnodeVCN, fnd)
	if err != nil {
		return err
	}
	top.node.Entries[top.idx] = &Entry{
		MftRef:     succ.MftRef,
		Key:        succ.Key,
		HasSubnode: entry.HasSubnode,
		SubnodeVCN: entry.SubnodeVCN,
	}
	if err := self.writeNode(top.vcn, top.node); err != nil {
		return err
	}

	succ_top := succ_fnd[len(succ_fnd)-1]
	succ_top.node.removeAt(succ_top.idx)
	return self.writeNode(succ_top.vcn, succ_top.node)
}

// leftmost descends from vcn following each node's first entry's own
// subnode (if any) until it reaches a leaf, appending frames to base.
func (self *Tree) leftmost(vcn int64, base Finder) (Finder, *Entry, error) {
	fnd := append(Finder{}, base...)
	for {
		node, err := self.loadNode(vcn)
		if err != nil {
			return nil, nil, err
		}
		first := node.Entries[0]
		fnd = append(fnd, frame{node: node, idx: 0, vcn: vcn})
		if !first.HasSubnode {
			return fnd, first, nil
		}
		vcn = first.SubnodeVCN
	}
}

// FindSort returns every entry in ascending key order (spec §4.5's
// find_sort), an in-order traversal of the tree.
func (self *Tree) FindSort() ([]*Entry, error) {
	var out []*Entry
	err := self.walkInOrder(rootVCN, &out)
	return out, err
}

func (self *Tree) walkInOrder(vcn int64, out *[]*Entry) error {
	node, err := self.loadNode(vcn)
	if err != nil {
		return err
	}
	for _, e := range node.Entries {
		if e.HasSubnode {
			if err := self.walkInOrder(e.SubnodeVCN, out); err != nil {
				return err
			}
		}
		if !e.IsLast {
			*out = append(*out, e)
		}
	}
	return nil
}

// FindRaw returns every entry in on-disk allocation order (spec
// §4.5's find_raw): each node's own entries before descending into its
// children, rather than FindSort's key order.
func (self *Tree) FindRaw() ([]*Entry, error) {
	var out []*Entry
	err := self.walkPreOrder(rootVCN, &out)
	return out, err
}

func (self *Tree) walkPreOrder(vcn int64, out *[]*Entry) error {
	node, err := self.loadNode(vcn)
	if err != nil {
		return err
	}
	var children []int64
	for _, e := range node.Entries {
		if !e.IsLast {
			*out = append(*out, e)
		}
		if e.HasSubnode {
			children = append(children, e.SubnodeVCN)
		}
	}
	for _, c := range children {
		if err := self.walkPreOrder(c, out); err != nil {
			return err
		}
	}
	return nil
}

// UpdateDup locates the entry matching key and replaces its key bytes
// with patch(existing) - the mechanism spec §4.5 calls update_dup,
// used to refresh a $FILE_NAME entry's $DUPLICATED_INFORMATION after a
// size or timestamp change. patch must return a same-length key.
func (self *Tree) UpdateDup(key []byte, patch func(existing []byte) []byte) error {
	fnd, diff, err := self.findPath(key)
	if err != nil {
		return err
	}
	if diff != 0 {
		return fmt.Errorf("index: update_dup: %w", ntfserr.ErrNotFound)
	}
	top := fnd[len(fnd)-1]
	entry := top.node.Entries[top.idx]
	new_key := patch(entry.Key)
	if len(new_key) != len(entry.Key) {
		return fmt.Errorf("index: update_dup: key length changed: %w", ntfserr.ErrBadFormat)
	}
	entry.Key = new_key
	return self.writeNode(top.vcn, top.node)
}
