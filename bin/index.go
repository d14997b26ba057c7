package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"
	kingpin "gopkg.in/alecthomas/kingpin.v2"

	"github.com/vex-labs/ntfs3core/index"
	"github.com/vex-labs/ntfs3core/record"
)

var (
	index_command = app.Command(
		"index", "Build an in-memory $I30 index from a list of names and dump it in sorted order.")

	index_command_names = index_command.Arg(
		"names", "Comma separated file names to insert.",
	).Required().String()

	index_command_block_size = index_command.Flag(
		"block-size", "$INDEX_ALLOCATION block size.").
		Default("4096").Int()
)

func doIndex() {
	tree := index.NewTree(index.FileNameComparator{}, index.NewBitmapBlockStore(4096),
		*index_command_block_size, record.TypeFileName, 1)

	names := strings.Split(*index_command_names, ",")
	for i, name := range names {
		key := index.EncodeFileNameKey(&index.FileNameKey{ParentRef: 5, Name: name})
		err := tree.InsertEntry(&index.Entry{MftRef: uint64(100 + i), Key: key})
		kingpin.FatalIfError(err, "InsertEntry %v", name)
	}

	entries, err := tree.FindSort()
	kingpin.FatalIfError(err, "FindSort")

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"MftRef", "Name"})
	table.SetCaption(true, fmt.Sprintf("%d entries, sorted", len(entries)))
	defer table.Render()

	for _, e := range entries {
		fn, err := index.DecodeFileNameKey(e.Key)
		kingpin.FatalIfError(err, "DecodeFileNameKey")
		table.Append([]string{fmt.Sprintf("%v", e.MftRef), fn.Name})
	}
}

func init() {
	command_handlers = append(command_handlers, func(command string) bool {
		switch command {
		case index_command.FullCommand():
			doIndex()
		default:
			return false
		}
		return true
	})
}
