package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	kingpin "gopkg.in/alecthomas/kingpin.v2"

	"github.com/vex-labs/ntfs3core/alloc"
	"github.com/vex-labs/ntfs3core/wnd"
)

var (
	alloc_command = app.Command(
		"alloc", "Build an in-memory cluster/MFT allocator and report free-space picks.")

	alloc_command_clusters = alloc_command.Flag(
		"clusters", "Total cluster count.").
		Default("65536").Int64()

	alloc_command_mft_records = alloc_command.Flag(
		"mft-records", "Total MFT record count.").
		Default("4096").Int64()

	alloc_command_want = alloc_command.Flag(
		"want", "Comma separated cluster lengths to request in sequence, e.g. 8,16,4.").
		Default("8,16,4").String()
)

func doAlloc() {
	cluster_bitmap := wnd.Init(*alloc_command_clusters, 4096, wnd.NewMemBacking(512))
	mft_bitmap := wnd.Init(*alloc_command_mft_records, 1024, wnd.NewMemBacking(512))

	allocator := alloc.New(cluster_bitmap, mft_bitmap, alloc.Options{ClusterSize: 4096})

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Requested", "LCN", "Got"})
	table.SetCaption(true, "Cluster allocations")
	defer table.Render()

	hint := int64(0)
	for _, want := range parseIntList(*alloc_command_want) {
		lcn, got, err := allocator.LookForFreeSpace(hint, want, 0)
		kingpin.FatalIfError(err, "LookForFreeSpace")
		table.Append([]string{
			fmt.Sprintf("%v", want),
			fmt.Sprintf("%v", lcn),
			fmt.Sprintf("%v", got),
		})
		hint = lcn + got
	}

	fmt.Println(allocator.DebugString())
}

func parseIntList(s string) []int64 {
	var out []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.ParseInt(part, 10, 64)
		kingpin.FatalIfError(err, "Bad integer %v", part)
		out = append(out, n)
	}
	return out
}

func init() {
	command_handlers = append(command_handlers, func(command string) bool {
		switch command {
		case alloc_command.FullCommand():
			doAlloc()
		default:
			return false
		}
		return true
	})
}
