// Package inode implements the inode facade (spec §4.6): a base
// record plus its subrecords (via package record's ni_* operations),
// a $DATA runs cache guarded by its own R/W lock, and (for
// directories) $I30 index state, all behind one metadata mutex.
package inode

import (
	"fmt"
	"sync"

	"github.com/vex-labs/ntfs3core/alloc"
	"github.com/vex-labs/ntfs3core/index"
	"github.com/vex-labs/ntfs3core/ntfserr"
	"github.com/vex-labs/ntfs3core/record"
	"github.com/vex-labs/ntfs3core/runs"
)

// ClusterAllocator is the subset of *alloc.Allocator the runs cache
// needs to grow or shrink $DATA; declared as an interface here (the
// same decoupling package record uses for RecordAllocator) so this
// package doesn't otherwise depend on how allocation is implemented.
type ClusterAllocator interface {
	LookForFreeSpace(hint_lcn, want_len int64, opt alloc.AllocOpt) (lcn int64, got_len int64, err error)
	MarkAsFreeEx(lcn, length int64, trim bool) error
}

// stdInfoFlagsOffset is $STANDARD_INFORMATION's file_attributes field
// (parser.STANDARD_INFORMATION.Flags(), parser/profile.go offset 0x20).
const stdInfoFlagsOffset = 0x20

// Inode is the facade spec §4.6 describes.
type Inode struct {
	mu      sync.Mutex // ni_lock: guards everything below except dataMu's data
	ni      *record.Inode
	records record.RecordAllocator
	clusters ClusterAllocator
	clusterSize int64

	dataMu     sync.RWMutex // guards dataRuns; readers may walk while a writer extends
	dataRuns   *runs.Tree
	dataLoaded bool

	isDir   bool
	dirTree *index.Tree
}

// New wraps a freshly formatted base record as a new inode. is_dir
// selects whether WriteInode/DeleteAll treat the inode as a directory
// (with a $I30 index) or a file (with a $DATA runs cache).
func New(base *record.Record, records record.RecordAllocator, clusters ClusterAllocator, cluster_size int64, is_dir bool) *Inode {
	return &Inode{
		ni:          record.NewInode(base, records),
		records:     records,
		clusters:    clusters,
		clusterSize: cluster_size,
		isDir:       is_dir,
	}
}

// Record exposes the underlying record.Inode for callers (e.g. a
// directory-loading path) that need to register subrecords or resolve
// attributes directly.
func (self *Inode) Record() *record.Inode {
	return self.ni
}

// IsDir reports whether the inode was created as a directory.
func (self *Inode) IsDir() bool {
	return self.isDir
}

// RecordNumber is the inode's own MFT record number.
func (self *Inode) RecordNumber() int64 {
	return self.ni.Base().RecordNumber()
}

// --------------------------------------------------------------------
// $STANDARD_INFORMATION mirror (std_fa).

// FileAttributes reads $STANDARD_INFORMATION.file_attributes.
func (self *Inode) FileAttributes() (uint32, error) {
	self.mu.Lock()
	defer self.mu.Unlock()

	attr, _, err := self.ni.FindAttr(record.TypeStandardInformation, "", -1)
	if err != nil {
		return 0, err
	}
	content := attr.Content()
	if len(content) < stdInfoFlagsOffset+4 {
		return 0, fmt.Errorf("inode: short $STANDARD_INFORMATION: %w", ntfserr.ErrBadFormat)
	}
	return leUint32(content[stdInfoFlagsOffset:]), nil
}

// SetFileAttributes writes $STANDARD_INFORMATION.file_attributes,
// keeping std_fa in sync with the on-disk attribute as spec §4.6
// requires.
func (self *Inode) SetFileAttributes(flags uint32) error {
	self.mu.Lock()
	defer self.mu.Unlock()

	attr, rec, err := self.ni.FindAttr(record.TypeStandardInformation, "", -1)
	if err != nil {
		return err
	}
	content := append([]byte{}, attr.Content()...)
	if len(content) < stdInfoFlagsOffset+4 {
		return fmt.Errorf("inode: short $STANDARD_INFORMATION: %w", ntfserr.ErrBadFormat)
	}
	putLeUint32(content[stdInfoFlagsOffset:], flags)
	return rec.SetResidentContent(attr, content)
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func putLeUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

// --------------------------------------------------------------------
// $DATA runs cache.

// ensureDataRunsLoadedLocked composes every $DATA fragment (there may
// be more than one once the inode has an $ATTRIBUTE_LIST) into a
// single runs.Tree. Callers must hold dataMu for writing.
func (self *Inode) ensureDataRunsLoadedLocked() error {
	if self.dataLoaded {
		return nil
	}
	tree := runs.New()
	for _, frag := range self.ni.EnumAttrEx() {
		if frag.Attr.Type() != record.TypeData || frag.Attr.Name() != "" {
			continue
		}
		if frag.Attr.IsResident() {
			continue
		}
		extents, err := runs.Unpack(frag.Attr.RunlistBytes(), frag.Attr.VCNStart(), frag.Attr.VCNEnd())
		if err != nil {
			return fmt.Errorf("inode: loading $DATA runs: %w", err)
		}
		for _, e := range extents.Extents() {
			if err := tree.Add(e.VCN, e.LCN, e.Length); err != nil {
				return err
			}
		}
	}
	self.dataRuns = tree
	self.dataLoaded = true
	return nil
}

// WithDataRuns runs fn with a read lock over the $DATA runs cache -
// spec §4.6's "readers may walk runs in parallel with writers
// extending".
func (self *Inode) WithDataRuns(fn func(*runs.Tree) error) error {
	self.dataMu.RLock()
	defer self.dataMu.RUnlock()
	if !self.dataLoaded {
		return fmt.Errorf("inode: $DATA runs not loaded: %w", ntfserr.ErrNotFound)
	}
	return fn(self.dataRuns)
}

// LoadDataRuns populates the runs cache from the on-disk $DATA
// fragments. Must be called (once) before WithDataRuns/ExtendData for
// an inode read in from disk; New inodes start with an empty cache
// implicitly the first time ExtendData is called.
func (self *Inode) LoadDataRuns() error {
	self.dataMu.Lock()
	defer self.dataMu.Unlock()
	return self.ensureDataRunsLoadedLocked()
}

func (self *Inode) dataSizesLocked() (valid, actual, allocated int64, err error) {
	attr, _, err := self.ni.FindAttr(record.TypeData, "", -1)
	if err != nil {
		if err == ntfserr.ErrNotFound {
			return 0, 0, 0, nil
		}
		return 0, 0, 0, err
	}
	if attr.IsResident() {
		return attr.ContentSize(), attr.ContentSize(), attr.ContentSize(), nil
	}
	return int64(attr.InitializedSize()), int64(attr.ActualSize()), int64(attr.AllocatedSize()), nil
}

// ExtendData grows $DATA's allocation to cover new_size bytes,
// allocating clusters through the ClusterAllocator and repacking the
// run list into the record(s). It enforces i_valid <= i_size <=
// allocated_size (spec §4.6) by leaving i_valid unchanged - callers
// write the new bytes and advance i_valid themselves.
func (self *Inode) ExtendData(new_size int64) error {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.dataMu.Lock()
	defer self.dataMu.Unlock()

	if err := self.ensureDataRunsLoadedLocked(); err != nil {
		return err
	}
	valid, actual, allocated, err := self.dataSizesLocked()
	if err != nil {
		return err
	}
	if new_size <= actual {
		return nil
	}

	needed_clusters := (new_size + self.clusterSize - 1) / self.clusterSize
	have_clusters := allocated / self.clusterSize
	hint := int64(0)
	if last, _, ok := self.dataRuns.Lookup(have_clusters - 1); ok && last.LCN != runs.Sparse {
		hint = last.LCN + last.Length
	}
	for have_clusters < needed_clusters {
		lcn, got, err := self.clusters.LookForFreeSpace(hint, needed_clusters-have_clusters, 0)
		if err != nil {
			return fmt.Errorf("inode: extend_data: %w", err)
		}
		if err := self.dataRuns.Add(have_clusters, lcn, got); err != nil {
			return err
		}
		have_clusters += got
		hint = lcn + got
	}

	if err := self.repackDataLocked(); err != nil {
		return err
	}
	return self.setDataSizesLocked(valid, new_size, have_clusters*self.clusterSize)
}

// Truncate shrinks $DATA to new_size bytes, freeing clusters past the
// new end through the ClusterAllocator.
func (self *Inode) Truncate(new_size int64, discard bool) error {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.dataMu.Lock()
	defer self.dataMu.Unlock()

	if err := self.ensureDataRunsLoadedLocked(); err != nil {
		return err
	}
	valid, actual, _, err := self.dataSizesLocked()
	if err != nil {
		return err
	}
	if new_size >= actual {
		return nil
	}

	keep_clusters := (new_size + self.clusterSize - 1) / self.clusterSize
	for _, e := range self.dataRuns.Extents() {
		if e.End() <= keep_clusters || e.LCN == runs.Sparse {
			continue
		}
		lcn, length := e.LCN, e.Length
		if e.VCN < keep_clusters {
			// Straddles the new end: free only the tail.
			lcn += keep_clusters - e.VCN
			length -= keep_clusters - e.VCN
		}
		if err := self.clusters.MarkAsFreeEx(lcn, length, discard); err != nil {
			return err
		}
	}
	self.dataRuns.Truncate(keep_clusters)

	if err := self.repackDataLocked(); err != nil {
		return err
	}
	if valid > new_size {
		valid = new_size
	}
	return self.setDataSizesLocked(valid, new_size, keep_clusters*self.clusterSize)
}

// repackDataLocked rewrites every $DATA fragment from self.dataRuns.
// It removes all existing $DATA attributes and reinserts the tree as
// fresh non-resident fragments; a real driver edits run lists for the
// existing fragments in place, but the record package doesn't expose
// that as a standalone operation (only insert-new and remove-whole),
// so this facade rebuilds the attribute wholesale on every resize.
func (self *Inode) repackDataLocked() error {
	for {
		if err := self.ni.RemoveAttr(record.TypeData, ""); err != nil {
			break
		}
	}
	extents := self.dataRuns.Extents()
	if len(extents) == 0 {
		_, err := self.ni.InsertNonResident(record.TypeData, "", self.dataRuns, 0, 0, self.clusterSize)
		return err
	}
	last := extents[len(extents)-1]
	count := last.End()
	_, err := self.ni.InsertNonResident(record.TypeData, "", self.dataRuns, 0, count, self.clusterSize)
	return err
}

func (self *Inode) setDataSizesLocked(valid, actual, allocated int64) error {
	if !(valid <= actual && actual <= allocated) {
		return fmt.Errorf("inode: i_valid <= i_size <= allocated_size violated: %w", ntfserr.ErrBadFormat)
	}
	attr, _, err := self.ni.FindAttr(record.TypeData, "", -1)
	if err != nil {
		return err
	}
	if attr.IsResident() {
		return nil
	}
	attr.SetSizes(uint64(allocated), uint64(actual), uint64(valid))
	return nil
}

// --------------------------------------------------------------------
// Directory ($I30) state.

// InitDirectoryIndex installs a fresh, empty $I30 index for a newly
// formatted directory inode and writes its $INDEX_ROOT.
func (self *Inode) InitDirectoryIndex(index_block_size int) error {
	self.mu.Lock()
	defer self.mu.Unlock()
	if !self.isDir {
		return fmt.Errorf("inode: not a directory: %w", ntfserr.ErrNotSupported)
	}
	self.dirTree = index.NewTree(index.FileNameComparator{}, index.NewBitmapBlockStore(4096), index_block_size, record.TypeFileName, 1)
	_, _, err := self.ni.InsertResident(record.TypeIndexRoot, "$I30", self.dirTree.EncodeRoot())
	return err
}

// LoadDirectoryIndex decodes an existing directory's $INDEX_ROOT. Only
// the resident root is read back; $INDEX_ALLOCATION paging for a
// directory large enough to have spilled off the root uses the same
// in-memory BitmapBlockStore InitDirectoryIndex creates, so it is
// populated fresh rather than paged in from disk - persisting
// $INDEX_ALLOCATION blocks through the cluster allocator is tracked as
// follow-up work (see DESIGN.md).
func (self *Inode) LoadDirectoryIndex(index_block_size int) error {
	self.mu.Lock()
	defer self.mu.Unlock()
	if !self.isDir {
		return fmt.Errorf("inode: not a directory: %w", ntfserr.ErrNotSupported)
	}
	attr, _, err := self.ni.FindAttr(record.TypeIndexRoot, "$I30", -1)
	if err != nil {
		return err
	}
	root, attr_type, collation, err := index.DecodeIndexRoot(attr.Content())
	if err != nil {
		return err
	}
	self.dirTree = index.LoadTree(root, index.FileNameComparator{}, index.NewBitmapBlockStore(4096), index_block_size, attr_type, collation)
	return nil
}

// AddDirEntry inserts a $FILE_NAME-keyed entry into the directory's
// index and persists the (possibly still resident) root.
func (self *Inode) AddDirEntry(key *index.FileNameKey, mft_ref uint64) error {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.dirTree == nil {
		return fmt.Errorf("inode: directory index not loaded: %w", ntfserr.ErrNotFound)
	}
	err := self.dirTree.InsertEntry(&index.Entry{MftRef: mft_ref, Key: index.EncodeFileNameKey(key)})
	if err != nil {
		return err
	}
	return self.syncIndexRootLocked()
}

// RemoveDirEntry deletes the entry named name (looked up under
// parent_ref) from the directory's index.
func (self *Inode) RemoveDirEntry(parent_ref uint64, name string) error {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.dirTree == nil {
		return fmt.Errorf("inode: directory index not loaded: %w", ntfserr.ErrNotFound)
	}
	key := index.EncodeFileNameKey(&index.FileNameKey{ParentRef: parent_ref, Name: name})
	if err := self.dirTree.DeleteEntry(key); err != nil {
		return err
	}
	return self.syncIndexRootLocked()
}

// Lookup finds a directory entry by name.
func (self *Inode) Lookup(parent_ref uint64, name string) (*index.Entry, error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.dirTree == nil {
		return nil, fmt.Errorf("inode: directory index not loaded: %w", ntfserr.ErrNotFound)
	}
	key := index.EncodeFileNameKey(&index.FileNameKey{ParentRef: parent_ref, Name: name})
	entry, diff, _, err := self.dirTree.Find(key)
	if err != nil {
		return nil, err
	}
	if diff != 0 {
		return nil, ntfserr.ErrNotFound
	}
	return entry, nil
}

// ReadDir returns every entry in the directory in name-sorted order
// (spec §4.5's find_sort, used for readdir).
func (self *Inode) ReadDir() ([]*index.Entry, error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.dirTree == nil {
		return nil, fmt.Errorf("inode: directory index not loaded: %w", ntfserr.ErrNotFound)
	}
	return self.dirTree.FindSort()
}

func (self *Inode) syncIndexRootLocked() error {
	attr, rec, err := self.ni.FindAttr(record.TypeIndexRoot, "$I30", -1)
	if err != nil {
		return err
	}
	return rec.SetResidentContent(attr, self.dirTree.EncodeRoot())
}

// --------------------------------------------------------------------
// Lifecycle.

// WriteInode flushes every dirty record belonging to this inode.
func (self *Inode) WriteInode(sync bool) error {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.ni.WriteInode(sync)
}

// DeleteAll releases the inode's allocated clusters (if any $DATA runs
// are loaded) and frees its records.
func (self *Inode) DeleteAll(discard bool) error {
	self.mu.Lock()
	defer self.mu.Unlock()

	self.dataMu.Lock()
	if self.dataLoaded {
		for _, e := range self.dataRuns.Extents() {
			if e.LCN == runs.Sparse {
				continue
			}
			if err := self.clusters.MarkAsFreeEx(e.LCN, e.Length, discard); err != nil {
				self.dataMu.Unlock()
				return err
			}
		}
	}
	self.dataMu.Unlock()

	return self.ni.DeleteAll()
}
