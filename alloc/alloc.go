// Package alloc implements the cluster and MFT record allocator (spec
// §4.3) on top of a pair of wnd.Bitmap windowed bitmaps: one over disk
// clusters, one over MFT record numbers.
package alloc

import (
	"fmt"
	"sync"

	"github.com/vex-labs/ntfs3core/ntfserr"
	"github.com/vex-labs/ntfs3core/wnd"
)

// reservedPoolSize is the number of MFT record numbers held back from
// ordinary allocation so that operations which themselves need a free
// MFT slot (attribute-list expansion, extending $MFT itself) cannot
// recursively block waiting on the allocator they are part of.
const reservedPoolSize = 8

// AllocOpt modifies how look_for_free_space/look_free_mft pick a
// location.
type AllocOpt int

const (
	// AllocateMFT asks look_for_free_space for zone-preferred cluster
	// placement (used when growing $MFT itself).
	AllocateMFT AllocOpt = 1 << iota
	// Privileged allows look_free_mft to dip into the reserved pool
	// once ordinary allocation is exhausted.
	Privileged
)

// ClusterGrower is implemented by the caller so the allocator can grow
// $MFT::$DATA and extend the MFT bitmap without depending on package
// record directly (which itself depends on alloc).
type ClusterGrower interface {
	// GrowMFT appends n_clusters clusters to $MFT::$DATA and returns
	// the number of MFT records the new space holds.
	GrowMFT(n_clusters int64) (new_records int64, err error)
	// ClearMFTTail zeroes the backing bytes for MFT records in
	// [from_rno, to_rno) so freshly allocated records never surface
	// stale data.
	ClearMFTTail(from_rno, to_rno int64) error
}

// Allocator wraps the cluster bitmap and the MFT bitmap. Spec §4.3
// requires the two to have independent locks with a fixed class order
// (clusters before MFT) to avoid lock-order inversions; since each
// wnd.Bitmap carries its own internal mutex, the locks here are
// clusterMu and mftMu, which guard the hint fields below. No method
// holds both at once: look_free_mft, including its grow path, takes
// only mftMu.
type Allocator struct {
	clusterMu     sync.Mutex
	clusters      *wnd.Bitmap
	nextFreeLCN   int64
	clusterSize   int64
	discardGran   int64
	discard       bool
	discardTarget Discarder

	mftMu       sync.Mutex
	mft         *wnd.Bitmap
	nextFreeMFT int64
	grower      ClusterGrower

	mftZoneStart, mftZoneEnd int64
}

// Discarder issues a block-discard (TRIM) hint for an LBA range. The
// Linux implementation in discard_linux.go wraps golang.org/x/sys/unix;
// discard_other.go is a no-op for every other GOOS.
type Discarder interface {
	Discard(device_path string, byte_offset, byte_len int64) error
}

// Options configures a new Allocator.
type Options struct {
	ClusterSize        int64
	DiscardGranularity  int64
	Discard             bool
	DiscardTarget       Discarder
	Grower              ClusterGrower
}

// New builds an Allocator over already-initialised cluster and MFT
// bitmaps (each produced by wnd.Init against the volume's $Bitmap and
// $MFT::$Bitmap streams respectively).
func New(clusters, mft *wnd.Bitmap, opts Options) *Allocator {
	return &Allocator{
		clusters:      clusters,
		clusterSize:   opts.ClusterSize,
		discardGran:   opts.DiscardGranularity,
		discard:       opts.Discard,
		discardTarget: opts.DiscardTarget,
		mft:           mft,
		grower:        opts.Grower,
	}
}

// LookForFreeSpace wraps the cluster bitmap's Find, recording the
// tail of the returned extent as the next hint so sequential
// allocation requests tend to extend the same run.
func (self *Allocator) LookForFreeSpace(hint_lcn, want_len int64, opt AllocOpt) (lcn int64, got_len int64, err error) {
	self.clusterMu.Lock()
	defer self.clusterMu.Unlock()

	if hint_lcn == 0 {
		hint_lcn = self.nextFreeLCN
	}

	flags := wnd.FindMarkAsUsed
	if opt&AllocateMFT != 0 {
		flags |= wnd.FindMFT
	}

	lcn, got_len, err = self.clusters.Find(want_len, hint_lcn, flags)
	if err != nil {
		return 0, 0, fmt.Errorf("alloc: no free clusters: %w: %w", ntfserr.ErrNoSpace, err)
	}

	self.nextFreeLCN = lcn + got_len
	return lcn, got_len, nil
}

// LookFreeMFT wraps the MFT bitmap. It scans from the last hint, grows
// $MFT::$DATA if the bitmap is exhausted, and - only for a privileged
// caller, i.e. an internal operation that cannot itself wait on a free
// slot - hands out a record from the reserved pool as a last resort.
func (self *Allocator) LookFreeMFT(opt AllocOpt) (rno int64, err error) {
	self.mftMu.Lock()
	defer self.mftMu.Unlock()

	privileged := opt&Privileged != 0
	reserved_end := int64(reservedPoolSize)

	search_from := self.nextFreeMFT
	if search_from < reserved_end {
		search_from = reserved_end
	}

	// findOrdinary allocates one slot at or after from. Find wraps
	// around to bit 0 when nothing is free past from, so a hit below
	// reserved_end is a reserved-pool slot: it is released again and
	// reported as no space.
	findOrdinary := func(from int64) (int64, error) {
		bit, _, find_err := self.mft.Find(1, from, wnd.FindMarkAsUsed)
		if find_err != nil {
			return 0, find_err
		}
		if bit < reserved_end {
			self.mft.SetFree(bit, 1)
			return 0, wnd.ErrNoSpace
		}
		return bit, nil
	}

	rno, err = findOrdinary(search_from)
	if err == nil {
		self.nextFreeMFT = rno + 1
		return rno, nil
	}

	// Exhausted: grow $MFT::$DATA by one cluster chunk and extend the
	// bitmap to cover the new records.
	if self.grower != nil {
		old_nbits := self.mft.NBits()
		new_records, grow_err := self.grower.GrowMFT(1)
		if grow_err == nil && new_records > 0 {
			self.mft.Extend(old_nbits + new_records)
			if grow_err = self.grower.ClearMFTTail(old_nbits, old_nbits+new_records); grow_err != nil {
				return 0, fmt.Errorf("alloc: clearing new MFT records: %w", grow_err)
			}

			rno, err = findOrdinary(old_nbits)
			if err == nil {
				self.nextFreeMFT = rno + 1
				return rno, nil
			}
		}
	}

	if privileged {
		rno, _, err = self.mft.Find(1, 0, wnd.FindMarkAsUsed|wnd.FindMFT)
		if err == nil {
			return rno, nil
		}
	}

	return 0, fmt.Errorf("alloc: no free MFT record: %w", ntfserr.ErrNoSpace)
}

// MarkRecFree clears the MFT bitmap bit for rno. Record bytes are not
// zeroed here - they're overwritten on next allocation by
// ClearMFTTail/format_new.
func (self *Allocator) MarkRecFree(rno int64) {
	self.mftMu.Lock()
	defer self.mftMu.Unlock()
	self.mft.SetFree(rno, 1)
	if rno < self.nextFreeMFT {
		self.nextFreeMFT = rno
	}
}

// MarkAsFreeEx clears len cluster bits starting at lcn, optionally
// issuing a discard (TRIM) for the freed range when trim is true and
// the allocator was configured with a Discarder.
func (self *Allocator) MarkAsFreeEx(lcn, length int64, trim bool) error {
	self.clusterMu.Lock()
	self.clusters.SetFree(lcn, length)
	if lcn < self.nextFreeLCN {
		self.nextFreeLCN = lcn
	}
	self.clusterMu.Unlock()

	if !trim || !self.discard || self.discardTarget == nil {
		return nil
	}

	byte_offset := alignDown(lcn*self.clusterSize, self.discardGran)
	byte_end := alignUp((lcn+length)*self.clusterSize, self.discardGran)
	if byte_end <= byte_offset {
		return nil
	}

	return self.discardTarget.Discard("", byte_offset, byte_end-byte_offset)
}

func alignDown(v, gran int64) int64 {
	if gran <= 0 {
		return v
	}
	return v - v%gran
}

func alignUp(v, gran int64) int64 {
	if gran <= 0 {
		return v
	}
	rem := v % gran
	if rem == 0 {
		return v
	}
	return v + (gran - rem)
}

// RefreshZone recomputes the cluster bitmap's preferred zone after
// $MFT::$DATA grows: the zone tracks the cluster range currently
// backing the MFT so the default cluster allocator steers new file
// data away from it.
func (self *Allocator) RefreshZone(mft_start_lcn, mft_cluster_count int64) {
	self.clusterMu.Lock()
	defer self.clusterMu.Unlock()
	self.mftZoneStart = mft_start_lcn
	self.mftZoneEnd = mft_start_lcn + mft_cluster_count
	self.clusters.ZoneSet(self.mftZoneStart, self.mftZoneEnd-self.mftZoneStart)
}

// DebugString reports headline allocator stats in the teacher's terse
// DebugString idiom.
func (self *Allocator) DebugString() string {
	return fmt.Sprintf("Allocator clusters{%v} mft{%v} next_lcn=%v next_mft=%v",
		self.clusters.DebugString(), self.mft.DebugString(), self.nextFreeLCN, self.nextFreeMFT)
}
