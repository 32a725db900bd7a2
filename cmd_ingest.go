package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"newton/knowledge"
)

var ingestKind string

var ingestCmd = &cobra.Command{
	Use:   "ingest <file.json>",
	Short: "Load physics concepts or renderer docs into the knowledge store",
	Example: `  newton ingest data/physics.json
  newton ingest --kind docs data/manim_docs.json`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestKind, "kind", "physics", "physics or docs")
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	var (
		docs      []knowledge.Document
		namespace string
	)
	switch ingestKind {
	case "physics":
		namespace = knowledge.NamespacePhysics
		docs, err = knowledge.LoadConcepts(f)
	case "docs":
		namespace = knowledge.NamespaceReferences
		docs, err = knowledge.LoadReferenceDocs(f)
	default:
		return fmt.Errorf("--kind must be physics or docs, got %q", ingestKind)
	}
	if err != nil {
		return err
	}
	if cfg.Knowledge.InMemory {
		logger.Warn("knowledge.in_memory is set; ingested documents are lost on exit")
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.store.Ingest(ctx, namespace, docs)
	if err != nil {
		return err
	}
	total, err := a.store.Count(ctx, namespace)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Ingested %d documents into %s (%d stored)\n", n, namespace, total)
	return nil
}
