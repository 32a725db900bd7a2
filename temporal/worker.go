// temporal/worker.go
package temporal

import (
	"log/slog"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"newton/activities"
	"newton/workflows"
)

// Activities holds every activity struct the generation workflow calls.
type Activities struct {
	LLM       *activities.LLMActivities
	Pipeline  *activities.PipelineActivities
	Knowledge *activities.KnowledgeActivities
	Events    *activities.EventActivities
}

// NewWorker registers the generation workflow and its activities on taskQueue.
// Activities are registered by struct, so each method is exposed under its own
// name.
func NewWorker(c client.Client, taskQueue string, acts Activities) worker.Worker {
	if taskQueue == "" {
		taskQueue = DefaultTaskQueue
	}
	w := worker.New(c, taskQueue, worker.Options{})

	w.RegisterWorkflow(workflows.GenerationWorkflow)

	w.RegisterActivity(acts.LLM)
	w.RegisterActivity(acts.Pipeline)
	w.RegisterActivity(acts.Knowledge)
	w.RegisterActivity(acts.Events)
	return w
}

// RunWorker blocks until an interrupt signal stops the worker.
func RunWorker(w worker.Worker, taskQueue string, logger *slog.Logger) error {
	logger.Info("Starting Temporal worker", "task_queue", taskQueue)
	if err := w.Run(worker.InterruptCh()); err != nil {
		logger.Error("Temporal worker Run() failed", "error", err)
		return err
	}
	logger.Info("Temporal worker stopped gracefully")
	return nil
}
