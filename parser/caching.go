// Manage caching of MFT Entry metadata. This is mainly used for path
// traversal calculation.

package parser

import (
	"sync"

	"github.com/Velocidex/ordereddict"
)

type FNSummary struct {
	Name                 string
	NameType             string
	ParentEntryNumber    uint64
	ParentSequenceNumber uint16
}

type MFTEntrySummary struct {
	Sequence  uint16
	Filenames []FNSummary
}

type MFTEntryCache struct {
	mu sync.Mutex

	ntfs *NTFSContext

	lru *LRU

	preloaded map[uint64]*MFTEntrySummary
}

func (self *MFTEntryCache) Stats() *ordereddict.Dict {
	self.mu.Lock()
	defer self.mu.Unlock()

	return self.lru.Stats().Set("Preloaded", len(self.preloaded))
}

func NewMFTEntryCache(ntfs *NTFSContext) *MFTEntryCache {
	lru, _ := NewLRU(10000, nil, "MFTEntryCache")
	return &MFTEntryCache{
		ntfs:      ntfs,
		lru:       lru,
		preloaded: make(map[uint64]*MFTEntrySummary),
	}
}

// This function is used to preset persisted information in the cache
// about known MFT entries from other sources than the MFT itself. In
// particular, the USN journal is often a source of additional
// historical information. When resolving an MFT entry summary, we
// first look to the MFT itself, and use the preloaded entry only when
// the MFT entry can not be read.
//
// The allows us to substitute historical information (from the USN
// journal) while resolving full paths.
func (self *MFTEntryCache) SetPreload(id uint64,
	cb func(entry *MFTEntrySummary) (*MFTEntrySummary, bool)) {
	// Optionally allow the callback to update the preloaded entry.
	entry, _ := self.preloaded[id]
	new_entry, updated := cb(entry)
	if updated {
		self.preloaded[id] = new_entry
	}
}

// GetSummary gets a MFTEntrySummary for the mft id, preferring the
// live MFT entry (it has all the short names etc) and falling back to
// a preloaded entry (usually seeded from the USN journal) if the MFT
// entry can not be read, e.g. because the record was since reused.
func (self *MFTEntryCache) GetSummary(
	id uint64) (*MFTEntrySummary, error) {
	self.mu.Lock()
	defer self.mu.Unlock()

	res, err := self._GetSummary(id)
	if err == nil {
		return res, nil
	}

	preloaded, ok := self.preloaded[id]
	if ok {
		return preloaded, nil
	}

	return nil, err
}

// Get the summary from the underlying MFT itself.
func (self *MFTEntryCache) _GetSummary(
	id uint64) (*MFTEntrySummary, error) {
	res_any, pres := self.lru.Get(int(id))
	if pres {
		res, ok := res_any.(*MFTEntrySummary)
		if ok {
			return res, nil
		}
	}

	mft_entry, err := self.ntfs.GetMFT(int64(id))
	if err != nil {
		return nil, err
	}

	cache_record := &MFTEntrySummary{
		Sequence: mft_entry.Sequence_value(),
	}
	for _, fn := range mft_entry.FileName(self.ntfs) {
		cache_record.Filenames = append(cache_record.Filenames,
			FNSummary{
				Name:                 fn.Name(),
				NameType:             fn.NameType().Name,
				ParentEntryNumber:    fn.MftReference(),
				ParentSequenceNumber: fn.Seq_num(),
			})
	}

	self.lru.Add(int(id), cache_record)
	return cache_record, nil
}
