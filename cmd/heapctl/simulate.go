package main

import (
	"fmt"
	"io"
	"math/rand"
	"os"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/joshuapare/heapkit/alloc"
	"github.com/joshuapare/heapkit/backing"
	"github.com/joshuapare/heapkit/internal/config"
	"github.com/joshuapare/heapkit/internal/logger"
)

var (
	simOps    int
	simSeed   int64
	simCycles int
)

func init() {
	cmd := newSimulateCmd()
	cmd.Flags().IntVar(&simOps, "ops", 0, "Operations per cycle (overrides [workload] ops)")
	cmd.Flags().Int64Var(&simSeed, "seed", 0, "Random seed (overrides [workload] seed)")
	cmd.Flags().IntVar(&simCycles, "cycles", 0, "Cycles, with a router reset between them")
	rootCmd.AddCommand(cmd)
}

func newSimulateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "simulate",
		Short: "Run a random allocate/free workload against the router",
		Long: `The simulate command drives the free-list router with random requests
drawn from the [workload] section and prints one row per pool: its size
class, heap class, page size, page count and usage.

Example:
  heapctl simulate
  heapctl simulate --ops 50000 --seed 7
  heapctl simulate --config heapkit.toml --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("ops") {
				cfg.Workload.Ops = simOps
			}
			if cmd.Flags().Changed("seed") {
				cfg.Workload.Seed = simSeed
			}
			if cmd.Flags().Changed("cycles") {
				cfg.Workload.Cycles = simCycles
			}
			rep, err := runSimulate(cfg)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(cmd.OutOrStdout(), rep)
			}
			rep.render(cmd.OutOrStdout())
			return nil
		},
	}
}

// poolRow is one router pool in a simulate report.
type poolRow struct {
	SizeClass     int    `json:"size_class"`
	HeapClass     int    `json:"heap_class"`
	PageSize      uint64 `json:"page_size"`
	Pages         int    `json:"pages"`
	BytesUsed     uint64 `json:"bytes_used"`
	BytesReserved uint64 `json:"bytes_reserved"`
	FastPath      int    `json:"fast_path"`
	SlowPath      int    `json:"slow_path"`
	Evictions     int    `json:"evictions"`
}

// simulateReport is the outcome of one simulate run.
type simulateReport struct {
	Seed     int64       `json:"seed"`
	Cycles   int         `json:"cycles"`
	Allocs   int         `json:"allocs"`
	Frees    int         `json:"frees"`
	Failures int         `json:"failures"`
	PeakUsed uint64      `json:"peak_used"`
	Pools    []poolRow   `json:"pools"`
	Totals   alloc.Stats `json:"totals"`
}

func runSimulate(cfg *config.Config) (*simulateReport, error) {
	factory, err := cfg.Factory()
	if err != nil {
		return nil, err
	}
	router, err := alloc.NewRouter(factory, cfg.RouterOptions())
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := router.Release(); err != nil {
			logger.Warn("simulate: release failed", "err", err)
		}
	}()

	w := cfg.Workload
	rng := rand.New(rand.NewSource(w.Seed))
	rep := &simulateReport{Seed: w.Seed, Cycles: max(w.Cycles, 1)}

	var live []alloc.Record
	for cycle := range rep.Cycles {
		if cycle > 0 {
			router.Reset()
			live = live[:0]
		}
		for range w.Ops {
			if len(live) > 0 && rng.Float64() < w.FreeRatio {
				i := rng.Intn(len(live))
				if err := router.Free(&live[i]); err != nil {
					return nil, errors.Wrapf(err, "cycle %d", cycle)
				}
				live[i] = live[len(live)-1]
				live = live[:len(live)-1]
				rep.Frees++
				continue
			}

			size := w.MinSize + uint64(rng.Int63n(int64(w.MaxSize-w.MinSize+1)))
			alignment := w.Alignments[rng.Intn(len(w.Alignments))]
			heapClass := backing.HeapClass(w.HeapClasses[rng.Intn(len(w.HeapClasses))])

			rec, err := router.Allocate(size, alignment, heapClass)
			if err != nil {
				if errors.Is(err, alloc.ErrBackingStore) {
					rep.Failures++
					printVerbose(os.Stderr, "allocate %d bytes: %v\n", size, err)
					logger.Info("simulate: allocation failed", "size", size, "heap_class", heapClass, "err", err)
					continue
				}
				return nil, errors.Wrapf(err, "cycle %d", cycle)
			}
			if len(rec.Mapped) > 0 {
				rec.Mapped[0] = byte(cycle)
				rec.Mapped[len(rec.Mapped)-1] = byte(cycle)
			}
			live = append(live, rec)
			rep.Allocs++
		}
		rep.PeakUsed = max(rep.PeakUsed, router.Stats().BytesUsed)
	}

	if err := router.Validate(); err != nil {
		return nil, err
	}
	for _, p := range router.Pools() {
		rep.Pools = append(rep.Pools, poolRow{
			SizeClass:     p.SizeClass,
			HeapClass:     int(p.HeapClass),
			PageSize:      p.PageSize,
			Pages:         p.Stats.PagesCreated,
			BytesUsed:     p.Stats.BytesUsed,
			BytesReserved: p.Stats.BytesReserved,
			FastPath:      p.Stats.AllocFastPath,
			SlowPath:      p.Stats.AllocSlowPath,
			Evictions:     p.Stats.Evictions,
		})
	}
	rep.Totals = router.Stats()
	return rep, nil
}

func (r *simulateReport) render(w io.Writer) {
	table := newTable(w, []string{"Size class", "Heap class", "Page size", "Pages", "Used", "Reserved", "Fill", "Fast", "Slow"})
	for _, p := range r.Pools {
		table.Append([]string{
			strconv.Itoa(p.SizeClass),
			strconv.Itoa(p.HeapClass),
			formatBytes(p.PageSize),
			formatCount(p.Pages),
			formatBytes(p.BytesUsed),
			formatBytes(p.BytesReserved),
			percent(p.BytesUsed, p.BytesReserved),
			formatCount(p.FastPath),
			formatCount(p.SlowPath),
		})
	}
	table.Append([]string{
		"total", "",
		"",
		formatCount(r.Totals.Pages),
		formatBytes(r.Totals.BytesUsed),
		formatBytes(r.Totals.BytesReserved),
		percent(r.Totals.BytesUsed, r.Totals.BytesReserved),
		"", "",
	})
	table.Render()

	fmt.Fprintf(w, "seed %d, %d cycle(s): %s allocations, %s frees, %s failures, peak used %s\n",
		r.Seed, r.Cycles,
		formatCount(r.Allocs), formatCount(r.Frees), formatCount(r.Failures),
		formatBytes(r.PeakUsed))
}
