package main

import (
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"newton/batch"
)

var (
	batchInput string
	batchSize  int
	batchRuns  int
	batchSeed  int64
	batchDelay time.Duration
	batchOut   string
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Generate a sample of concepts and report pipeline statistics",
	Long: `Generate animations for a seeded sample of concepts from a physics knowledge
file. Running the same sample more than once shows how much the fix memory
learned: later runs should heal more failures from retrieved fixes.`,
	Args: cobra.NoArgs,
	RunE: runBatch,
}

func init() {
	batchCmd.Flags().StringVarP(&batchInput, "input", "i", "", "Physics knowledge JSON file (required)")
	batchCmd.Flags().IntVarP(&batchSize, "size", "n", 55, "Number of concepts to sample (0 for all)")
	batchCmd.Flags().IntVar(&batchRuns, "runs", 2, "Passes over the same sample")
	batchCmd.Flags().Int64Var(&batchSeed, "seed", 42, "Sampling seed")
	batchCmd.Flags().DurationVar(&batchDelay, "delay", 2*time.Second, "Pause before each item")
	batchCmd.Flags().StringVarP(&batchOut, "out", "o", "batch_statistics.json", "Statistics report path")
	_ = batchCmd.MarkFlagRequired("input")
}

func runBatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	f, err := os.Open(batchInput)
	if err != nil {
		return err
	}
	items, err := batch.LoadItems(f)
	f.Close()
	if err != nil {
		return err
	}
	items = batch.Select(items, batchSize, batchSeed)

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	c, stopWorker, err := a.startWorker()
	if err != nil {
		return err
	}
	defer stopWorker()

	runner := batch.NewRunner(a.gateway(c), cfg.Batch.Concurrency, batchDelay, logger)
	report := &batch.Report{Timestamp: time.Now().UTC()}
	for i := 1; i <= batchRuns; i++ {
		logger.Info("Starting batch run", "run", i, "of", batchRuns, "items", len(items))
		stats, err := runner.Run(ctx, i, items)
		if stats != nil {
			report.Runs = append(report.Runs, stats)
			if serr := report.Save(batchOut); serr != nil {
				logger.Error("Failed to save statistics", "error", serr)
			}
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "run %d: %d/%d succeeded (%d first attempt, %d healed, %d from retrieved fixes)\n",
			i, stats.Success, stats.TotalItems, stats.FirstAttemptSuccess, stats.HealedSuccess, stats.RetrievedFixesUsed)
	}
	logger.Info("Statistics saved", "path", batchOut)
	return nil
}
