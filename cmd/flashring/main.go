package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"

	"github.com/flashring/flashring/pkg/common/log"
	"github.com/flashring/flashring/pkg/flashio"
	"github.com/flashring/flashring/pkg/ring"
)

// Command completer for readline
var completer = readline.NewPrefixCompleter(
	readline.PcItem(".help"),
	readline.PcItem(".write"),
	readline.PcItem(".read"),
	readline.PcItem(".ack"),
	readline.PcItem(".stats"),
	readline.PcItem(".format"),
	readline.PcItem(".fsck",
		readline.PcItem("repair"),
	),
	readline.PcItem(".exit"),
)

const helpText = `
flashring - a NOR-flash-backed, append-only, wrap-around record log.

Commands:
  .help                   - Show this help message
  .write TEXT              - Append TEXT as a new record
  .read                    - Read the oldest unacknowledged record
  .ack                     - Acknowledge the record returned by the last .read
  .stats                   - Show operation statistics
  .format                  - Erase the whole partition and reset it
  .fsck [repair]            - Check (and optionally repair) partition consistency
  .exit                    - Exit the program
`

func main() {
	filePath := flag.String("file", "", "path to a flash snapshot file (in-memory only if omitted)")
	sectors := flag.Uint("sectors", 16, "number of sectors in the partition")
	sectorSize := flag.Uint("sector-size", 4096, "erase granularity in bytes")
	cacheSize := flag.Int("cache-size", 8, "bound on resident sector cache entries")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	logger := log.NewStandardLogger(log.WithLevel(parseLevel(*logLevel)))

	size := uint32(*sectors) * uint32(*sectorSize)
	var dev *flashio.MemDevice
	var err error
	if *filePath != "" {
		dev, err = flashio.OpenMemDevice(*filePath, size, uint32(*sectorSize), 256)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening flash snapshot: %s\n", err)
			os.Exit(1)
		}
	} else {
		dev = flashio.NewMemDevice(size, uint32(*sectorSize), 256)
	}

	buf, err := ring.New(dev, 0, size, ring.WithSectorCacheSize(*cacheSize), ring.WithLogger(logger))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error constructing ring buffer: %s\n", err)
		os.Exit(1)
	}

	if !buf.Load() {
		fmt.Println("Partition failed to load (likely unformatted); formatting now.")
		if !buf.Format() {
			fmt.Fprintln(os.Stderr, "Error: format failed")
			os.Exit(1)
		}
	}

	runInteractive(buf, dev, *filePath)
}

func parseLevel(s string) log.Level {
	switch strings.ToLower(s) {
	case "debug":
		return log.LevelDebug
	case "warn":
		return log.LevelWarn
	case "error":
		return log.LevelError
	default:
		return log.LevelInfo
	}
}

func runInteractive(buf *ring.Buffer, dev *flashio.MemDevice, filePath string) {
	fmt.Println("flashring version 0.1.0")
	fmt.Println("Enter .help for usage hints.")

	var pending *ring.ReadInfo

	historyFile := filepath.Join(os.TempDir(), ".flashring_history")
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "flashring> ",
		HistoryFile:     historyFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    completer,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing readline: %s\n", err)
		os.Exit(1)
	}
	defer rl.Close()

	for {
		line, readErr := rl.Readline()
		if readErr != nil {
			if readErr == readline.ErrInterrupt {
				if len(line) == 0 {
					break
				}
				continue
			} else if readErr == io.EOF {
				fmt.Println("Goodbye!")
				break
			}
			fmt.Fprintf(os.Stderr, "Error reading input: %s\n", readErr)
			continue
		}

		if line == "" {
			continue
		}

		parts := strings.SplitN(line, " ", 2)
		cmd := strings.ToLower(parts[0])

		switch cmd {
		case ".help":
			fmt.Print(helpText)

		case ".write":
			if len(parts) < 2 {
				fmt.Println("Error: .write requires a payload")
				continue
			}
			if !buf.WriteData([]byte(parts[1])) {
				fmt.Println("Error: write_data failed (partition full or invalid)")
				continue
			}
			fmt.Println("Record written")

		case ".read":
			info, ok := buf.ReadData()
			if !ok {
				fmt.Println("No unread records")
				continue
			}
			pending = &info
			fmt.Printf("[sector %d seq %d index %d] %s\n", info.SectorNum, info.SectorCommon.Sequence, info.Index, info.Payload.Bytes())

		case ".ack":
			if pending == nil {
				fmt.Println("Error: no pending read to acknowledge (run .read first)")
				continue
			}
			if !buf.MarkAsRead(*pending) {
				fmt.Println("Error: mark_as_read rejected (sector was reclaimed under you)")
			} else {
				fmt.Println("Acknowledged")
			}
			pending = nil

		case ".stats":
			printStats(buf)

		case ".format":
			if !buf.Format() {
				fmt.Println("Error: format failed")
				continue
			}
			pending = nil
			fmt.Println("Partition formatted")

		case ".fsck":
			repair := len(parts) > 1 && strings.ToLower(strings.TrimSpace(parts[1])) == "repair"
			if !buf.Fsck(repair) {
				fmt.Println("fsck: partition is NOT consistent")
			} else {
				fmt.Println("fsck: partition is consistent")
			}

		case ".exit":
			if err := dev.Save(); err != nil {
				fmt.Fprintf(os.Stderr, "Error saving snapshot: %s\n", err)
			}
			fmt.Println("Goodbye!")
			return

		default:
			fmt.Printf("Unknown command: %s\n", parts[0])
		}
	}

	if err := dev.Save(); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving snapshot: %s\n", err)
	}
}

func printStats(buf *ring.Buffer) {
	usage, ok := buf.UsageStats()
	fmt.Println("Usage:")
	if ok {
		fmt.Printf("  • Record count: %d\n", usage.RecordCount)
		fmt.Printf("  • Data size: %d bytes\n", usage.DataSize)
		fmt.Printf("  • Free sectors: %d\n", usage.FreeSectors)
	} else {
		fmt.Println("  • (unavailable: buffer not loaded)")
	}

	stats := buf.Stats()
	getUint64 := func(m map[string]interface{}, key string) uint64 {
		switch v := m[key].(type) {
		case uint64:
			return v
		case int64:
			return uint64(v)
		case int:
			return uint64(v)
		case float64:
			return uint64(v)
		default:
			return 0
		}
	}

	fmt.Println("\nOperations:")
	fmt.Printf("  • Writes: %d\n", getUint64(stats, "write_ops"))
	fmt.Printf("  • Reads: %d\n", getUint64(stats, "read_ops"))
	fmt.Printf("  • Mark-read: %d\n", getUint64(stats, "mark_read_ops"))
	fmt.Printf("  • Reclaims: %d\n", getUint64(stats, "reclaim_count"))
	fmt.Printf("  • Cached sectors: %d\n", getUint64(stats, "cached_sectors"))

	if errorsMap, ok := stats["errors"].(map[string]uint64); ok && len(errorsMap) > 0 {
		fmt.Println("\nErrors:")
		for errType, count := range errorsMap {
			fmt.Printf("  • %s: %d\n", errType, count)
		}
	}
}
