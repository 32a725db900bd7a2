package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"newton/shared"
)

var generateJSON bool

var generateCmd = &cobra.Command{
	Use:   "generate <request>",
	Short: "Generate one animation and wait for the result",
	Example: `  newton generate "simple pendulum"
  newton generate --json "projectile motion with air resistance"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runGenerate,
}

func init() {
	generateCmd.Flags().BoolVar(&generateJSON, "json", false, "Print the final workflow state as JSON")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

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

	st, err := a.gateway(c).Run(ctx, strings.Join(args, " "))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if generateJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(st); err != nil {
			return err
		}
	} else {
		printState(out, st)
	}
	if st.Phase == shared.PhaseFailed {
		return fmt.Errorf("generation failed: %s", st.ErrorKind)
	}
	return nil
}

func printState(w io.Writer, st *shared.WorkflowState) {
	fmt.Fprintf(w, "Status:     %s\n", shared.RunStatusFor(st.Phase))
	fmt.Fprintf(w, "Workflow:   %s\n", st.WorkflowID)
	fmt.Fprintf(w, "Repairs:    %d (%s)\n", st.RetryCount, st.FixMethod)
	if len(st.FixesApplied) > 0 {
		fmt.Fprintf(w, "Auto-fixes: %s\n", strings.Join(st.FixesApplied, "; "))
	}
	switch {
	case st.OutputPath != "":
		fmt.Fprintf(w, "Video:      %s\n", st.OutputPath)
	case st.UnvalidatedOutputPath != "":
		fmt.Fprintf(w, "Video:      %s (failed content validation)\n", st.UnvalidatedOutputPath)
	}
	if st.ErrorKind != shared.ErrorKindNone {
		fmt.Fprintf(w, "Error:      %s\n", st.ErrorKind)
	}
	for _, issue := range st.ValidationIssues {
		fmt.Fprintf(w, "  - %s\n", issue)
	}
}
