package index

import (
	"bytes"
	"encoding/binary"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Comparator orders two raw key byte strings the way a given index
// type's collation rule does. Compare returns <0, 0, >0 the way
// bytes.Compare does.
type Comparator interface {
	Compare(a, b []byte) int
}

// FileNameComparator implements $I30's collation: filenames compared
// case-insensitively. Only when both names are in the POSIX namespace
// (NameType 0, see parser.FILE_NAME.NameType) does a case-sensitive
// tiebreak separate names that differ only in case. It only looks at
// the name portion of the FILE_NAME key; ParentRef and dup-info play
// no part in ordering.
//
// NTFS's real rule upcases through the volume's $UpCase table. We
// don't carry that table, so we upcase with golang.org/x/text/cases'
// Unicode-aware caser (language.Und, so no locale-specific tailoring
// creeps in) rather than stdlib strings.ToUpper, which only handles
// simple one-rune-to-one-rune folding and misses cases $UpCase gets
// right, such as German sharp s.
type FileNameComparator struct{}

var fileNameUpper = cases.Upper(language.Und)

// fileNamePOSIX is the FILE_NAME NameType of the POSIX namespace.
const fileNamePOSIX = 0

func (FileNameComparator) Compare(a, b []byte) int {
	ka, errA := DecodeFileNameKey(a)
	kb, errB := DecodeFileNameKey(b)
	if errA != nil || errB != nil {
		return bytes.Compare(a, b)
	}
	upa := fileNameUpper.String(ka.Name)
	upb := fileNameUpper.String(kb.Name)
	if c := strings.Compare(upa, upb); c != 0 {
		return c
	}
	if ka.NameType != fileNamePOSIX || kb.NameType != fileNamePOSIX {
		return 0
	}
	return strings.Compare(ka.Name, kb.Name)
}

// Uint32Comparator orders keys as a single little-endian uint32, the
// collation $SII uses (security_id).
type Uint32Comparator struct{}

func (Uint32Comparator) Compare(a, b []byte) int {
	va := binary.LittleEndian.Uint32(pad4(a))
	vb := binary.LittleEndian.Uint32(pad4(b))
	switch {
	case va < vb:
		return -1
	case va > vb:
		return 1
	default:
		return 0
	}
}

func pad4(b []byte) []byte {
	if len(b) >= 4 {
		return b
	}
	out := make([]byte, 4)
	copy(out, b)
	return out
}

// OpaqueComparator orders keys by raw byte comparison, the collation
// $SO, $SQ, $SR and the object-id index use for their fixed-size
// binary keys.
type OpaqueComparator struct{}

func (OpaqueComparator) Compare(a, b []byte) int {
	return bytes.Compare(a, b)
}

// SDHComparator orders $SDH entries by (hash, security_id), both
// little-endian uint32s packed back to back.
type SDHComparator struct{}

func (SDHComparator) Compare(a, b []byte) int {
	if len(a) < 8 || len(b) < 8 {
		return bytes.Compare(a, b)
	}
	ha := binary.LittleEndian.Uint32(a[0:4])
	hb := binary.LittleEndian.Uint32(b[0:4])
	if ha != hb {
		if ha < hb {
			return -1
		}
		return 1
	}
	ia := binary.LittleEndian.Uint32(a[4:8])
	ib := binary.LittleEndian.Uint32(b[4:8])
	switch {
	case ia < ib:
		return -1
	case ia > ib:
		return 1
	default:
		return 0
	}
}
