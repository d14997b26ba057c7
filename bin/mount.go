package main

import (
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	kingpin "gopkg.in/alecthomas/kingpin.v2"

	"github.com/vex-labs/ntfs3core/index"
	"github.com/vex-labs/ntfs3core/mount"
	"github.com/vex-labs/ntfs3core/parser"
)

var (
	mount_command = app.Command(
		"mount", "Mount a real NTFS image and report allocator state plus a directory's entries.")

	mount_command_file_arg = mount_command.Arg(
		"file", "The image file to mount.",
	).Required().File()

	mount_command_image_offset = mount_command.Flag(
		"image_offset", "The offset in the image to use.",
	).Int64()

	mount_command_mft_id = mount_command.Arg(
		"mft_id", "MFT record number of the directory to list.",
	).Default("5").Int64()
)

func doMount() {
	reader, _ := parser.NewPagedReader(&parser.OffsetReader{
		Offset: *mount_command_image_offset,
		Reader: getReader(*mount_command_file_arg),
	}, 1024, 10000)

	vol, err := mount.Mount(reader, 0)
	kingpin.FatalIfError(err, "Can not mount volume")

	fmt.Printf("cluster size: %d, record size: %d\n", vol.ClusterSize, vol.RecordSize)
	fmt.Println(vol.DebugString())

	dir, err := vol.OpenInode(*mount_command_mft_id)
	kingpin.FatalIfError(err, "Can not open MFT record %v", *mount_command_mft_id)

	if !dir.IsDir() {
		fmt.Printf("record %v is not a directory\n", *mount_command_mft_id)
		return
	}

	entries, err := dir.ReadDir()
	kingpin.FatalIfError(err, "Can not read directory")

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"MftRef", "Name"})
	table.SetCaption(true, fmt.Sprintf("record %v listing", *mount_command_mft_id))
	for _, e := range entries {
		fn, err := index.DecodeFileNameKey(e.Key)
		kingpin.FatalIfError(err, "DecodeFileNameKey")
		table.Append([]string{fmt.Sprintf("%v", e.MftRef), fn.Name})
	}
	table.Render()
}

func init() {
	command_handlers = append(command_handlers, func(command string) bool {
		switch command {
		case mount_command.FullCommand():
			doMount()
		default:
			return false
		}
		return true
	})
}
