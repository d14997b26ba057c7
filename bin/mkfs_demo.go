// Write-path smoke commands: mkfile/touch/rm/fsck build a small,
// entirely in-memory NTFS-shaped volume (no backing disk image) to
// exercise record+index+alloc+inode end to end, the way carve/ls/stat
// exercise the read path against a real image.
package main

import (
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	kingpin "gopkg.in/alecthomas/kingpin.v2"

	"github.com/vex-labs/ntfs3core/alloc"
	"github.com/vex-labs/ntfs3core/index"
	"github.com/vex-labs/ntfs3core/inode"
	"github.com/vex-labs/ntfs3core/record"
	"github.com/vex-labs/ntfs3core/wnd"
)

const demoClusterSize = 4096
const demoRecordSize = 1024
const rootRno = 5

var (
	mkfile_command = app.Command(
		"mkfile", "Create an in-memory volume, then a directory and a data file in it, and report the result.")
	mkfile_command_name = mkfile_command.Arg("name", "File name.").Required().String()
	mkfile_command_size = mkfile_command.Arg("size", "File size in bytes.").Default("0").Int64()

	touch_command      = app.Command("touch", "Create an in-memory volume and an empty file in it.")
	touch_command_name = touch_command.Arg("name", "File name.").Required().String()

	rm_command      = app.Command("rm", "Create an in-memory volume, a file, then remove it and report freed space.")
	rm_command_name = rm_command.Arg("name", "File name.").Required().String()

	fsck_command = app.Command("fsck", "Create an in-memory volume, exercise create/extend/delete, and check invariants.")
)

// demoRecordAllocator adapts an alloc.Allocator's MFT bitmap into
// record.RecordAllocator, the same wiring a real mount would use
// between the two packages.
type demoRecordAllocator struct {
	allocator *alloc.Allocator
	records   map[int64]*record.Record
}

func newDemoVolume() (*alloc.Allocator, *demoRecordAllocator) {
	cluster_bitmap := wnd.Init(1<<20, 4096, wnd.NewMemBacking(512))
	mft_bitmap := wnd.Init(4096, 1024, wnd.NewMemBacking(512))
	allocator := alloc.New(cluster_bitmap, mft_bitmap, alloc.Options{ClusterSize: demoClusterSize})

	// Reserve the low, well-known MFT record numbers real NTFS keeps
	// for system files, the same way a real $MFT::$Bitmap starts out.
	mft_bitmap.SetUsed(0, 16)

	return allocator, &demoRecordAllocator{allocator: allocator, records: make(map[int64]*record.Record)}
}

func (self *demoRecordAllocator) AllocMFTRecord() (int64, *record.Record, error) {
	rno, err := self.allocator.LookFreeMFT(0)
	if err != nil {
		return 0, nil, err
	}
	rec := record.Init(rno, demoRecordSize)
	rec.FormatNew(rno, 0, false)
	self.records[rno] = rec
	return rno, rec, nil
}

func (self *demoRecordAllocator) FreeMFTRecord(rno int64) {
	self.allocator.MarkRecFree(rno)
	delete(self.records, rno)
}

func newDemoInode(records *demoRecordAllocator, allocator *alloc.Allocator, rno int64, is_dir bool) *inode.Inode {
	rec := record.Init(rno, demoRecordSize)
	flags := uint16(0)
	if is_dir {
		flags = record.FlagDirectory
	}
	rec.FormatNew(rno, flags, false)
	records.records[rno] = rec

	ino := inode.New(rec, records, allocator, demoClusterSize, is_dir)
	std_info := make([]byte, 0x38)
	_, _, err := ino.Record().InsertResident(record.TypeStandardInformation, "", std_info)
	kingpin.FatalIfError(err, "InsertResident $STANDARD_INFORMATION")
	return ino
}

func newDemoRoot(records *demoRecordAllocator, allocator *alloc.Allocator) *inode.Inode {
	root := newDemoInode(records, allocator, rootRno, true)
	err := root.InitDirectoryIndex(demoClusterSize)
	kingpin.FatalIfError(err, "InitDirectoryIndex")
	return root
}

func createDemoFile(records *demoRecordAllocator, allocator *alloc.Allocator, root *inode.Inode, name string, size int64) *inode.Inode {
	rno, err := allocator.LookFreeMFT(0)
	kingpin.FatalIfError(err, "LookFreeMFT")

	file := newDemoInode(records, allocator, rno, false)
	if size > 0 {
		err = file.ExtendData(size)
		kingpin.FatalIfError(err, "ExtendData")
	}

	key := &index.FileNameKey{ParentRef: uint64(rootRno), Name: name}
	err = root.AddDirEntry(key, uint64(rno))
	kingpin.FatalIfError(err, "AddDirEntry")
	return file
}

func reportVolume(allocator *alloc.Allocator, root *inode.Inode) {
	entries, err := root.ReadDir()
	kingpin.FatalIfError(err, "ReadDir")

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"MftRef", "Name"})
	table.SetCaption(true, "Directory listing")
	for _, e := range entries {
		fn, err := index.DecodeFileNameKey(e.Key)
		kingpin.FatalIfError(err, "DecodeFileNameKey")
		table.Append([]string{fmt.Sprintf("%v", e.MftRef), fn.Name})
	}
	table.Render()

	fmt.Println(allocator.DebugString())
}

func doMkfile() {
	allocator, records := newDemoVolume()
	root := newDemoRoot(records, allocator)
	createDemoFile(records, allocator, root, *mkfile_command_name, *mkfile_command_size)
	reportVolume(allocator, root)
}

func doTouch() {
	allocator, records := newDemoVolume()
	root := newDemoRoot(records, allocator)
	createDemoFile(records, allocator, root, *touch_command_name, 0)
	reportVolume(allocator, root)
}

func doRm() {
	allocator, records := newDemoVolume()
	root := newDemoRoot(records, allocator)
	file := createDemoFile(records, allocator, root, *rm_command_name, demoClusterSize*2)

	before := allocator.DebugString()
	err := root.RemoveDirEntry(uint64(rootRno), *rm_command_name)
	kingpin.FatalIfError(err, "RemoveDirEntry")
	err = file.DeleteAll(false)
	kingpin.FatalIfError(err, "DeleteAll")

	fmt.Println("before:", before)
	fmt.Println("after: ", allocator.DebugString())
	reportVolume(allocator, root)
}

// doFsck creates two files, extends and truncates one, removes the
// other's directory entry, and then checks that every remaining
// directory entry still resolves to a record this run actually
// allocated. It does not re-check i_valid <= i_size <= allocated_size
// itself; ExtendData and Truncate fail if a resize would break it.
func doFsck() {
	allocator, records := newDemoVolume()
	root := newDemoRoot(records, allocator)

	a := createDemoFile(records, allocator, root, "a.txt", demoClusterSize)
	_ = createDemoFile(records, allocator, root, "b.txt", demoClusterSize*3)

	err := a.ExtendData(demoClusterSize * 5)
	kingpin.FatalIfError(err, "ExtendData a.txt")
	err = a.Truncate(demoClusterSize*5-1, false)
	kingpin.FatalIfError(err, "Truncate a.txt")

	err = root.RemoveDirEntry(uint64(rootRno), "b.txt")
	kingpin.FatalIfError(err, "RemoveDirEntry b.txt")

	problems := 0
	entries, err := root.ReadDir()
	kingpin.FatalIfError(err, "ReadDir")
	for _, e := range entries {
		if _, ok := records.records[int64(e.MftRef)]; !ok {
			fmt.Printf("fsck: directory entry mft_ref=%v has no backing record\n", e.MftRef)
			problems++
		}
	}

	fmt.Printf("fsck: %d entries checked, %d problems found\n", len(entries), problems)
	reportVolume(allocator, root)
}

func init() {
	command_handlers = append(command_handlers, func(command string) bool {
		switch command {
		case mkfile_command.FullCommand():
			doMkfile()
		case touch_command.FullCommand():
			doTouch()
		case rm_command.FullCommand():
			doRm()
		case fsck_command.FullCommand():
			doFsck()
		default:
			return false
		}
		return true
	})
}
