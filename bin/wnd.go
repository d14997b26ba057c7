package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	kingpin "gopkg.in/alecthomas/kingpin.v2"

	"github.com/vex-labs/ntfs3core/wnd"
)

var (
	wnd_command = app.Command(
		"wnd", "Build an in-memory windowed bitmap and dump its state.")

	wnd_command_bits = wnd_command.Flag(
		"bits", "Total number of bits in the bitmap.").
		Default("65536").Int64()

	wnd_command_window = wnd_command.Flag(
		"window-bits", "Bits per window.").
		Default("4096").Int64()

	wnd_command_used = wnd_command.Flag(
		"used", "Comma separated bit,length pairs to mark used, e.g. 0,100,500,20.").
		Default("").String()
)

func doWND() {
	bitmap := wnd.Init(*wnd_command_bits, *wnd_command_window, wnd.NewMemBacking(512))

	if *wnd_command_used != "" {
		parts := strings.Split(*wnd_command_used, ",")
		for i := 0; i+1 < len(parts); i += 2 {
			bit, err := strconv.ParseInt(parts[i], 10, 64)
			kingpin.FatalIfError(err, "Bad bit offset %v", parts[i])
			length, err := strconv.ParseInt(parts[i+1], 10, 64)
			kingpin.FatalIfError(err, "Bad length %v", parts[i+1])
			bitmap.SetUsed(bit, length)
		}
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"NBits", "Free", "Used"})
	table.SetCaption(true, "Windowed bitmap summary")
	table.Append([]string{
		fmt.Sprintf("%v", bitmap.NBits()),
		fmt.Sprintf("%v", bitmap.TotalZeroes()),
		fmt.Sprintf("%v", bitmap.NBits()-bitmap.TotalZeroes()),
	})
	table.Render()

	fmt.Println(bitmap.DebugString())
}

func init() {
	command_handlers = append(command_handlers, func(command string) bool {
		switch command {
		case wnd_command.FullCommand():
			doWND()
		default:
			return false
		}
		return true
	})
}
