package xattr

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"sync"

	"github.com/vex-labs/ntfs3core/index"
	"github.com/vex-labs/ntfs3core/ntfserr"
)

// SecurityIDFirst is the first security_id $Secure ever hands out;
// values below it are reserved (spec §4.5/§4.7, SECURITY_ID_FIRST in
// xattr.c/ntfs.h).
const SecurityIDFirst = 0x100

// sdsRecordHeaderSize is the $SDS stream's per-descriptor header:
// hash(4) + security_id(4) + stream_offset(8), preceding the raw
// descriptor bytes - mirrors the real SECURITY_DESCRIPTOR_HEADER this
// driver doesn't otherwise need to decode, kept only long enough to
// let insert_security recompute size_pack-equivalent bookkeeping.
const sdsRecordHeaderSize = 16

// SecureStore is $Secure: two shared indexes ($SII keyed by
// security_id, $SDH keyed by (hash, security_id)) plus a $SDS stream
// of the descriptors themselves (spec §4.5/§4.7). Unlike a per-inode
// index, $Secure's indexes have their own mutex, matching spec's
// "shared structural indexes ... have independent mutexes tagged with
// a lock class" and the lock-ordering rule that places them after any
// single inode's mutex.
type SecureStore struct {
	mu sync.Mutex

	sii *index.Tree // security_id -> offset into sds
	sdh *index.Tree // (hash, security_id) -> offset into sds

	sds    []byte // concatenated sdsRecordHeaderSize+descriptor records
	nextID uint32
}

// NewSecureStore creates an empty $Secure store.
func NewSecureStore(block_size int) *SecureStore {
	return &SecureStore{
		sii:    index.NewTree(index.Uint32Comparator{}, index.NewBitmapBlockStore(4096), block_size, 0, 0),
		sdh:    index.NewTree(index.SDHComparator{}, index.NewBitmapBlockStore(4096), block_size, 0, 0),
		nextID: SecurityIDFirst,
	}
}

func sdHash(descriptor []byte) uint32 {
	return crc32.ChecksumIEEE(descriptor)
}

func sdhKey(hash, id uint32) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:], hash)
	binary.LittleEndian.PutUint32(buf[4:], id)
	return buf
}

func siiKey(id uint32) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, id)
	return buf
}

// InsertSecurity is insert_security (spec §4.5): hash descriptor,
// look it up in $SDH for a byte-identical existing entry, and return
// its security_id if found; otherwise append descriptor to $SDS with
// a fresh security_id and add it to both indexes. Returns (id,
// inserted) where inserted is false on a dedup hit.
func (self *SecureStore) InsertSecurity(descriptor []byte) (uint32, bool, error) {
	self.mu.Lock()
	defer self.mu.Unlock()

	hash := sdHash(descriptor)
	entries, err := self.sdh.FindSort()
	if err != nil {
		return 0, false, err
	}
	for _, e := range entries {
		if len(e.Key) < 8 {
			continue
		}
		eh := binary.LittleEndian.Uint32(e.Key[0:4])
		eid := binary.LittleEndian.Uint32(e.Key[4:8])
		if eh != hash {
			continue
		}
		existing, err := self.descriptorAt(e.MftRef)
		if err != nil {
			return 0, false, err
		}
		if bytesEqual(existing, descriptor) {
			return eid, false, nil
		}
	}

	id := self.nextID
	self.nextID++
	offset := uint64(len(self.sds))

	header := make([]byte, sdsRecordHeaderSize)
	binary.LittleEndian.PutUint32(header[0:], hash)
	binary.LittleEndian.PutUint32(header[4:], id)
	binary.LittleEndian.PutUint64(header[8:], offset)
	self.sds = append(self.sds, header...)
	self.sds = append(self.sds, descriptor...)

	if err := self.sii.InsertEntry(&index.Entry{MftRef: offset, Key: siiKey(id)}); err != nil {
		return 0, false, err
	}
	if err := self.sdh.InsertEntry(&index.Entry{MftRef: offset, Key: sdhKey(hash, id)}); err != nil {
		return 0, false, err
	}
	return id, true, nil
}

// descriptorAt reads back the raw descriptor bytes stored at a $SDS
// byte offset (the value carried as an index entry's MftRef field,
// repurposed here as a stream offset rather than an MFT reference).
func (self *SecureStore) descriptorAt(offset uint64) ([]byte, error) {
	if offset+sdsRecordHeaderSize > uint64(len(self.sds)) {
		return nil, fmt.Errorf("xattr: $SDS offset out of range: %w", ntfserr.ErrBadFormat)
	}
	header := self.sds[offset : offset+sdsRecordHeaderSize]
	id := binary.LittleEndian.Uint32(header[4:8])
	// Descriptor length is implicit: up to the next record's start, or
	// the stream end for the last one. $SII is VCN/offset-ordered by
	// construction (offsets only grow), so find this id's slot and its
	// successor's offset.
	entries, err := self.sii.FindSort()
	if err != nil {
		return nil, err
	}
	start := offset + sdsRecordHeaderSize
	end := uint64(len(self.sds))
	for i, e := range entries {
		if len(e.Key) < 4 {
			continue
		}
		if binary.LittleEndian.Uint32(e.Key) == id && i+1 < len(entries) {
			end = entries[i+1].MftRef
			break
		}
	}
	return self.sds[start:end], nil
}

// GetSecurity returns the descriptor bytes stored under security_id.
func (self *SecureStore) GetSecurity(security_id uint32) ([]byte, error) {
	self.mu.Lock()
	defer self.mu.Unlock()

	entry, diff, _, err := self.sii.Find(siiKey(security_id))
	if err != nil {
		return nil, err
	}
	if diff != 0 {
		return nil, ntfserr.ErrNotFound
	}
	return self.descriptorAt(entry.MftRef)
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
