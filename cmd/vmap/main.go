package main

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/vmap/pkg/areas"
	"github.com/ajitpratap0/vmap/pkg/json"
	"github.com/ajitpratap0/vmap/pkg/logger"
	"github.com/ajitpratap0/vmap/pkg/mmap"
)

var version = "0.1.0"

// areaRecord is the JSON projection of a memory area.
type areaRecord struct {
	Start      string `json:"start"`
	End        string `json:"end"`
	Size       uint64 `json:"size"`
	Protection string `json:"protection"`
	ShareMode  string `json:"share_mode"`
	Path       string `json:"path,omitempty"`
	FileOffset uint64 `json:"file_offset,omitempty"`
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "vmap",
		Short: "vmap - Virtual memory mapping inspector",
		Long: `vmap inspects the virtual address space of a process and reports its
memory regions, page-size configuration, and mapping capabilities.`,
	}

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("vmap v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	var jsonOutput bool
	var addrRange string

	areasCmd := &cobra.Command{
		Use:   "areas [pid]",
		Short: "List the memory regions of a process",
		Long: `List the memory regions of the process with the given pid, or of vmap
itself when no pid is given. Each region is printed on one line with its
address range, protection, share mode, and backing file if any.

Example:
  vmap areas 1234 --range 0x400000-0x500000 --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pid := 0
			if len(args) == 1 {
				parsed, err := strconv.Atoi(args[0])
				if err != nil || parsed < 0 {
					return fmt.Errorf("invalid pid %q", args[0])
				}
				pid = parsed
			}
			return runAreas(pid, addrRange, jsonOutput)
		},
	}
	areasCmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit one JSON object per region instead of text")
	areasCmd.Flags().StringVar(&addrRange, "range", "", "Restrict output to regions intersecting lo-hi (hex accepted, e.g. 0x400000-0x500000)")
	root.AddCommand(areasCmd)

	queryCmd := &cobra.Command{
		Use:   "query <address> [pid]",
		Short: "Show the memory region containing an address",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := strconv.ParseUint(args[0], 0, 64)
			if err != nil {
				return fmt.Errorf("invalid address %q", args[0])
			}
			pid := 0
			if len(args) == 2 {
				if pid, err = strconv.Atoi(args[1]); err != nil || pid < 0 {
					return fmt.Errorf("invalid pid %q", args[1])
				}
			}
			return runQuery(pid, uintptr(addr), jsonOutput)
		},
	}
	queryCmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit the region as a JSON object instead of text")
	root.AddCommand(queryCmd)

	root.AddCommand(&cobra.Command{
		Use:   "pagesize",
		Short: "Show the page sizes supported by this system",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("page size: %d\n", mmap.SystemPageSize())
			fmt.Printf("allocation granularity: %d\n", mmap.AllocationGranularity())
			sizes, err := mmap.SupportedPageSizes()
			if err != nil {
				fmt.Fprintf(os.Stderr, "supported page sizes unavailable: %v\n", err)
				return
			}
			for _, s := range sizes {
				fmt.Printf("supported: %d\n", s.Bytes())
			}
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// parseRange splits a lo-hi address pair, accepting hex with a 0x prefix.
func parseRange(s string) (lo, hi uintptr, err error) {
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("range must be of the form lo-hi, got %q", s)
	}
	l, err := strconv.ParseUint(parts[0], 0, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid range start %q", parts[0])
	}
	h, err := strconv.ParseUint(parts[1], 0, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid range end %q", parts[1])
	}
	if h <= l {
		return 0, 0, fmt.Errorf("range end must be above range start")
	}
	return uintptr(l), uintptr(h), nil
}

func runAreas(pid int, addrRange string, jsonOutput bool) error {
	log := logger.Get().With(
		zap.String("component", "vmap-cli"),
		zap.Int("pid", pid),
	)

	var ma *areas.MemoryAreas
	var err error
	if addrRange != "" {
		lo, hi, perr := parseRange(addrRange)
		if perr != nil {
			return perr
		}
		ma, err = areas.QueryRange(pid, lo, hi)
	} else {
		ma, err = areas.Open(pid)
	}
	if err != nil {
		return fmt.Errorf("failed to enumerate memory areas: %w", err)
	}
	defer ma.Close()

	enc := json.NewEncoder(os.Stdout)
	defer enc.Close()
	count := 0
	for {
		area, err := ma.Next()
		if err != nil {
			// A single undecodable record does not end the walk.
			log.Warn("skipping undecodable region", zap.Error(err))
			continue
		}
		if area == nil {
			break
		}
		count++
		if jsonOutput {
			if err := enc.Encode(toRecord(area)); err != nil {
				return err
			}
			continue
		}
		printArea(area)
	}

	log.Debug("enumeration complete", zap.Int("regions", count))
	return nil
}

func runQuery(pid int, addr uintptr, jsonOutput bool) error {
	area, err := areas.Query(pid, addr)
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}
	if area == nil {
		return fmt.Errorf("no region contains address %#x", addr)
	}
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		defer enc.Close()
		return enc.Encode(toRecord(area))
	}
	printArea(area)
	return nil
}

func toRecord(a *areas.MemoryArea) areaRecord {
	return areaRecord{
		Start:      fmt.Sprintf("%#x", a.Start()),
		End:        fmt.Sprintf("%#x", a.End()),
		Size:       uint64(a.Size()),
		Protection: a.Protection().String(),
		ShareMode:  a.ShareMode().String(),
		Path:       a.Path(),
		FileOffset: a.FileOffset(),
	}
}

func printArea(a *areas.MemoryArea) {
	perms := []byte("---")
	if a.Protection().Has(areas.ProtectionRead) {
		perms[0] = 'r'
	}
	if a.Protection().Has(areas.ProtectionWrite) {
		perms[1] = 'w'
	}
	if a.Protection().Has(areas.ProtectionExecute) {
		perms[2] = 'x'
	}
	line := fmt.Sprintf("%012x-%012x %s %-13s %08x", a.Start(), a.End(), perms, a.ShareMode(), a.FileOffset())
	if a.Path() != "" {
		line += " " + a.Path()
	}
	fmt.Println(line)
}
