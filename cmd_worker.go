package main

import (
	"github.com/spf13/cobra"

	"newton/temporal"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run only the Temporal worker",
	Long: `Run only the Temporal worker. Events are persisted but not streamed live,
since the event hub lives in the serving process.`,
	Args: cobra.NoArgs,
	RunE: runWorker,
}

func runWorker(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	c, err := temporal.NewClient(cfg.Temporal, logger)
	if err != nil {
		return err
	}
	defer c.Close()

	acts, err := a.activities()
	if err != nil {
		return err
	}
	w := temporal.NewWorker(c, cfg.Temporal.TaskQueue, acts)
	return temporal.RunWorker(w, cfg.Temporal.TaskQueue, logger)
}
