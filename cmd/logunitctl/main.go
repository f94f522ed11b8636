// Command logunitctl is a local inspection tool for a log unit's on-disk
// directory: dump tails, walk an address range, force a trim, force a sync.
// It talks to the engine directly (no network hop), the way the teacher's
// cmd/cli talks to its command handler in-process.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/corfudb-go/logunit/pkg/config"
	"github.com/corfudb-go/logunit/pkg/engine"
	"github.com/corfudb-go/logunit/pkg/metrics"
	"github.com/fatih/color"
	"github.com/kr/text"
)

func main() {
	logDir := flag.String("log-dir", "logunit-data", "Root directory for segment files and metadata")
	recordsPerSegment := flag.Uint64("records-per-segment", 10000, "Addresses per segment file")
	flag.Parse()

	cfg := &config.Config{LogDir: *logDir, RecordsPerSegment: *recordsPerSegment}
	cfg.Normalize()

	e, err := engine.Open(cfg, metrics.Noop)
	if err != nil {
		color.Red("failed to open log unit at %s: %v", *logDir, err)
		os.Exit(1)
	}
	defer e.Close()

	color.Cyan("logunitctl ready against %s. Type HELP for commands.", *logDir)
	fmt.Println()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.EqualFold(line, "EXIT") {
			break
		}
		if line == "" {
			continue
		}
		runCommand(e, line)
	}
}

func runCommand(e *engine.Engine, line string) {
	fields := strings.Fields(line)
	verb := strings.ToUpper(fields[0])
	args := fields[1:]

	switch verb {
	case "HELP":
		printHelp()
	case "TAILS":
		printTails(e)
	case "WALK":
		walk(e, args)
	case "TRIM":
		trim(e, args)
	case "SYNC":
		sync(e)
	default:
		color.Yellow("unknown command %q. Try HELP.", fields[0])
	}
}

func printHelp() {
	fmt.Println(text.Indent(`TAILS                 - print the global tail and every stream's tail
WALK <lo> <hi>        - print every known address in [lo, hi]
TRIM <address>        - advance the prefix-trim mark past address
SYNC                  - flush dirty segments and the metadata snapshot
EXIT                  - quit`, "  "))
}

func printTails(e *engine.Engine) {
	space := e.GetStreamsAddressSpace()
	color.Green("global_tail=%d", space.GlobalTail)
	for sid, tail := range space.StreamTails {
		fmt.Printf("  stream %s tail=%d\n", sid, tail)
	}
}

func walk(e *engine.Engine, args []string) {
	if len(args) != 2 {
		color.Yellow("usage: WALK <lo> <hi>")
		return
	}
	lo, err1 := strconv.ParseUint(args[0], 10, 64)
	hi, err2 := strconv.ParseUint(args[1], 10, 64)
	if err1 != nil || err2 != nil {
		color.Yellow("WALK: lo and hi must be non-negative integers")
		return
	}

	addrs, err := e.KnownAddressesInRange(lo, hi)
	if err != nil {
		color.Red("WALK failed: %v", err)
		return
	}
	if len(addrs) == 0 {
		fmt.Println("  (no known addresses in range)")
		return
	}
	for _, addr := range addrs {
		entry, ok, err := e.Read(addr)
		if err != nil {
			fmt.Printf("  %d: ERROR %v\n", addr, err)
			continue
		}
		if !ok {
			continue
		}
		fmt.Printf("  %d: type=%s payload=%q\n", addr, entry.Type, entry.Payload)
	}
}

func trim(e *engine.Engine, args []string) {
	if len(args) != 1 {
		color.Yellow("usage: TRIM <address>")
		return
	}
	addr, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		color.Yellow("TRIM: address must be a non-negative integer")
		return
	}
	if err := e.PrefixTrim(addr); err != nil {
		color.Red("TRIM failed: %v", err)
		return
	}
	color.Green("trimmed through %d", addr)
}

func sync(e *engine.Engine) {
	if err := e.Sync(true); err != nil {
		color.Red("SYNC failed: %v", err)
		return
	}
	color.Green("synced")
}
