package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joshuapare/heapkit/heap"
	"github.com/joshuapare/heapkit/internal/workload"
)

var (
	simCycles        int
	simRoots         int
	simWorkers       int
	simSemiPages     int
	simArenaPages    int
	simOldPages      int
	simLargeEvery    int
	simSites         int
	simSampleRate    int
	simStoreRate     float64
	simDropRate      float64
	simSeed          uint64
	simSharedStrings bool
	simNoShortcut    bool
	simVerify        bool
)

func init() {
	cmd := newSimulateCmd()
	defaults := workload.DefaultOptions()
	cfg := heap.DefaultConfig()
	cmd.Flags().IntVar(&simCycles, "cycles", defaults.Cycles, "Number of scavenges to run")
	cmd.Flags().IntVar(&simRoots, "roots", defaults.Roots, "Number of root slots")
	cmd.Flags().IntVar(&simWorkers, "workers", cfg.Workers, "Parallel scavenger workers")
	cmd.Flags().IntVar(&simSemiPages, "semi-pages", cfg.SemiSpacePages, "Pages per semi-space")
	cmd.Flags().IntVar(&simArenaPages, "arena-pages", cfg.ArenaPages, "Pages reserved for the arena")
	cmd.Flags().IntVar(&simOldPages, "old-pages", cfg.OldSpaceMaxPages, "Maximum old-space pages")
	cmd.Flags().IntVar(&simLargeEvery, "large-every", defaults.LargeEvery, "Allocate a large array every N objects (0 disables)")
	cmd.Flags().IntVar(&simSites, "sites", defaults.Sites, "Allocation sites for pretenuring feedback")
	cmd.Flags().IntVar(&simSampleRate, "sample-rate", defaults.SampleRate, "Sample one young allocation every N bytes on average (0 disables)")
	cmd.Flags().Float64Var(&simStoreRate, "store-rate", defaults.StoreRate, "Probability a new object is stored in a root")
	cmd.Flags().Float64Var(&simDropRate, "drop-rate", defaults.DropRate, "Probability a root is cleared after a cycle")
	cmd.Flags().Uint64Var(&simSeed, "seed", defaults.Seed, "Random seed")
	cmd.Flags().BoolVar(&simSharedStrings, "shared-strings", cfg.SharedStringTable, "Promote flat strings into the shared space")
	cmd.Flags().BoolVar(&simNoShortcut, "no-shortcut", !cfg.ShortcutStrings, "Keep thin and cons strings instead of shortcutting them")
	cmd.Flags().BoolVar(&simVerify, "verify", false, "Verify heap invariants after every cycle")
	rootCmd.AddCommand(cmd)
}

func newSimulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a seeded mutator workload and report every scavenge",
		Long: `The simulate command allocates a random mix of strings, arrays,
numbers, ephemeron tables and site-tracked arrays until the young
generation is full, then scavenges. Survivors are kept alive through a
fixed set of old root slots.

Example:
  scavctl simulate
  scavctl simulate --cycles 50 --workers 4 --verify
  scavctl simulate --large-every 500 --seed 7 --json
  scavctl simulate --sample-rate 8192`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(cmd.Context())
		},
	}
	return cmd
}

func runSimulate(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := heap.DefaultConfig()
	cfg.ArenaPages = simArenaPages
	cfg.SemiSpacePages = simSemiPages
	cfg.OldSpaceMaxPages = simOldPages
	cfg.Workers = simWorkers
	cfg.SharedStringTable = simSharedStrings
	cfg.ShortcutStrings = !simNoShortcut

	h, err := heap.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create heap: %w", err)
	}
	defer h.Close()

	opts := workload.Options{
		Cycles:     simCycles,
		Roots:      simRoots,
		StoreRate:  simStoreRate,
		DropRate:   simDropRate,
		LargeEvery: simLargeEvery,
		Sites:      simSites,
		SampleRate: simSampleRate,
		Seed:       simSeed,
		Verify:     simVerify,
	}
	printVerbose("Simulating %d cycles with %d workers (seed %d)\n", opts.Cycles, cfg.Workers, opts.Seed)

	report, err := workload.Run(ctx, h, opts)
	if err != nil {
		return fmt.Errorf("simulation failed: %w", err)
	}

	if jsonOut {
		return printJSON(map[string]any{
			"allocations":      report.Allocations,
			"allocated_bytes":  report.AllocatedBytes,
			"survival_percent": report.SurvivalPercent(),
			"tenured_sites":    report.TenuredSites,
			"samples":          report.Samples,
			"sampled_bytes":    report.SampledBytes,
			"verified":         opts.Verify,
			"cycles":           report.Cycles,
		})
	}

	for _, c := range report.Cycles {
		printInfo("cycle %3d: %6d allocs, %4d slots, copied %8d B, promoted %8d B, large %d kept / %d B freed, %d ephemerons cleared, %d remembered, %s\n",
			c.Cycle, c.Allocations, c.Slots, c.CopiedBytes, c.PromotedBytes,
			c.LargeSurvivors, c.FreedLargeBytes, c.ClearedEphemerons, c.RememberedSlots, c.Duration)
	}
	printInfo("\n%d objects (%d bytes) allocated, %.2f%% survived, %d sites tenured\n",
		report.Allocations, report.AllocatedBytes, report.SurvivalPercent(), report.TenuredSites)
	if opts.SampleRate > 0 {
		printInfo("%d allocation samples covering %d bytes\n", report.Samples, report.SampledBytes)
	}
	if opts.Verify {
		printInfo("heap verified after every cycle\n")
	}
	return nil
}
