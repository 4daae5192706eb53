package main

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"strconv"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/joshuapare/heapkit/alloc/staging"
	"github.com/joshuapare/heapkit/internal/config"
	"github.com/joshuapare/heapkit/internal/logger"
)

var (
	stagingCycles  int
	stagingWorkers int
)

func init() {
	cmd := newStagingCmd()
	cmd.Flags().IntVar(&stagingCycles, "cycles", 0, "Cycles (overrides [workload] cycles)")
	cmd.Flags().IntVar(&stagingWorkers, "workers", 0, "Concurrent producers (overrides [workload] workers)")
	rootCmd.AddCommand(cmd)
}

func newStagingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "staging",
		Short: "Run per-cycle transfer workloads against a staging pool",
		Long: `The staging command runs the [staging] pool through several cycles.
Each cycle, concurrent producers carve buffers out of the pool and fill them,
then the pool is made visible (flush for upload, invalidate for readback) and
all pages are rewound in bulk.

Example:
  heapctl staging
  heapctl staging --cycles 16 --workers 8
  heapctl staging --config heapkit.toml --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("cycles") {
				cfg.Workload.Cycles = stagingCycles
			}
			if cmd.Flags().Changed("workers") {
				cfg.Workload.Workers = stagingWorkers
			}
			rep, err := runStaging(cmd.Context(), cfg)
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

// cycleRow is one staging cycle in a report.
type cycleRow struct {
	Cycle       int    `json:"cycle"`
	Allocations int64  `json:"allocations"`
	BytesUsed   uint64 `json:"bytes_used"`
	Pages       int    `json:"pages"`
	Pending     int    `json:"pending_ranges"`
}

// stagingReport is the outcome of one staging run.
type stagingReport struct {
	Kind     string        `json:"kind"`
	Coherent bool          `json:"coherent"`
	Workers  int           `json:"workers"`
	Cycles   []cycleRow    `json:"cycles"`
	Totals   staging.Stats `json:"totals"`
}

func runStaging(ctx context.Context, cfg *config.Config) (*stagingReport, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	factory, err := cfg.Factory()
	if err != nil {
		return nil, err
	}
	opts, err := cfg.StagingOptions()
	if err != nil {
		return nil, err
	}
	pool, err := staging.New(factory, opts)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := pool.Release(); err != nil {
			logger.Warn("staging: release failed", "err", err)
		}
	}()

	w := cfg.Workload
	workers := max(w.Workers, 1)
	rep := &stagingReport{Kind: pool.Kind().String(), Coherent: pool.Coherent(), Workers: workers}

	for cycle := range max(w.Cycles, 1) {
		var allocs atomic.Int64
		g, gctx := errgroup.WithContext(ctx)
		for worker := range workers {
			rng := rand.New(rand.NewSource(w.Seed + int64(cycle*workers+worker)))
			ops := w.Ops / workers
			if worker < w.Ops%workers {
				ops++
			}
			g.Go(func() error {
				for range ops {
					if err := gctx.Err(); err != nil {
						return err
					}
					size := w.MinSize + uint64(rng.Int63n(int64(w.MaxSize-w.MinSize+1)))
					alignment := w.Alignments[rng.Intn(len(w.Alignments))]
					rec, err := pool.AllocateBufferPart(size, alignment)
					if err != nil {
						return err
					}
					for i := range rec.Mapped {
						rec.Mapped[i] = byte(worker)
					}
					allocs.Add(1)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, errors.Wrapf(err, "cycle %d", cycle)
		}

		row := cycleRow{Cycle: cycle, Allocations: allocs.Load()}
		for _, p := range pool.Pages() {
			row.BytesUsed += p.Used
			row.Pending += p.Pending
		}
		row.Pages = len(pool.Pages())
		rep.Cycles = append(rep.Cycles, row)

		if err := pool.MakeVisible(ctx); err != nil {
			return nil, errors.Wrapf(err, "cycle %d", cycle)
		}
		pool.ResetPages()
	}

	rep.Totals = pool.Stats()
	return rep, nil
}

func (r *stagingReport) render(w io.Writer) {
	table := newTable(w, []string{"Cycle", "Allocations", "Used", "Pages", "Pending ranges"})
	for _, c := range r.Cycles {
		table.Append([]string{
			strconv.Itoa(c.Cycle),
			formatCount(c.Allocations),
			formatBytes(c.BytesUsed),
			formatCount(c.Pages),
			formatCount(c.Pending),
		})
	}
	table.Render()

	coherency := "non-coherent"
	if r.Coherent {
		coherency = "coherent"
	}
	fmt.Fprintf(w, "%s pool (%s), %d worker(s): %s pages (%s oversized), %s reserved, %s flushes, %s invalidates\n",
		r.Kind, coherency, r.Workers,
		formatCount(r.Totals.PagesCreated), formatCount(r.Totals.OversizedPages),
		formatBytes(r.Totals.BytesReserved),
		formatCount(r.Totals.Flushes), formatCount(r.Totals.Invalidates))
}
