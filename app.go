package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-git/go-billy/v5/osfs"
	"go.temporal.io/sdk/client"

	"newton/activities"
	"newton/autofix"
	"newton/db"
	"newton/execution"
	"newton/healer"
	"newton/knowledge"
	"newton/services"
	"newton/streaming"
	"newton/temporal"
	"newton/validator"
)

// app holds the long-lived dependencies shared by the commands.
type app struct {
	db        *sql.DB
	runs      *services.DBService
	store     *knowledge.Store
	generator services.Generator
	hub       *streaming.MemoryHub
}

func newApp(ctx context.Context) (*app, error) {
	d, err := db.InitDB(cfg.DatabasePath())
	if err != nil {
		return nil, err
	}
	gen, emb, err := services.NewProviders(ctx, cfg.LLM, logger)
	if err != nil {
		d.Close()
		return nil, err
	}

	var index knowledge.VectorIndex
	if cfg.Knowledge.InMemory {
		index = knowledge.NewMemoryIndex()
	} else {
		index, err = knowledge.NewSQLiteIndex(ctx, d)
		if err != nil {
			d.Close()
			return nil, err
		}
	}
	audit, err := knowledge.NewAuditLog(cfg.ErrorLogPath())
	if err != nil {
		d.Close()
		return nil, err
	}

	return &app{
		db:        d,
		runs:      services.NewDBService(d, logger),
		store:     knowledge.NewStore(index, emb, audit, logger),
		generator: gen,
		hub:       streaming.NewMemoryHub(),
	}, nil
}

func (a *app) Close() error { return a.db.Close() }

// activities builds every activity struct the worker registers.
func (a *app) activities() (temporal.Activities, error) {
	workDir, err := filepath.Abs(cfg.Sandbox.WorkDir)
	if err != nil {
		return temporal.Activities{}, fmt.Errorf("resolve sandbox work dir: %w", err)
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return temporal.Activities{}, fmt.Errorf("create sandbox work dir: %w", err)
	}

	sandbox := execution.NewDockerSandbox(cfg.Sandbox.DockerBinary, cfg.Sandbox.Image, cfg.Sandbox.Quality, logger)
	adapter := execution.NewAdapter(osfs.New(workDir), sandbox,
		execution.WithTimeout(cfg.Sandbox.Timeout),
		execution.WithSceneName(cfg.Sandbox.SceneName),
		execution.WithLogger(logger),
	)
	sampler := validator.NewFFmpegSampler(cfg.Validator.FFmpegBinary, cfg.Validator.FFprobeBinary, logger)
	v := validator.New(sampler, cfg.Validator.BlankMean, cfg.Validator.LowContrast, logger)
	h := healer.New(a.generator, a.store, cfg.Knowledge.FixThreshold, logger)

	return temporal.Activities{
		LLM:       activities.NewLLMActivities(a.generator, a.store, cfg.Knowledge.KnowledgeThreshold, cfg.Knowledge.ReferenceTopK),
		Pipeline:  activities.NewPipelineActivities(autofix.New(), adapter, v, h),
		Knowledge: activities.NewKnowledgeActivities(a.store),
		Events:    activities.NewEventActivities(a.runs, a.hub),
	}, nil
}

// startWorker dials Temporal and starts an in-process worker. The returned
// stop func stops the worker and closes the client.
func (a *app) startWorker() (client.Client, func(), error) {
	c, err := temporal.NewClient(cfg.Temporal, logger)
	if err != nil {
		return nil, nil, err
	}
	acts, err := a.activities()
	if err != nil {
		c.Close()
		return nil, nil, err
	}
	w := temporal.NewWorker(c, cfg.Temporal.TaskQueue, acts)
	if err := w.Start(); err != nil {
		c.Close()
		return nil, nil, fmt.Errorf("unable to start Temporal worker: %w", err)
	}
	logger.Info("Temporal worker started", "task_queue", cfg.Temporal.TaskQueue)
	return c, func() {
		w.Stop()
		c.Close()
	}, nil
}

func (a *app) gateway(c client.Client) *temporal.Gateway {
	return temporal.NewGateway(c, cfg.Temporal.TaskQueue, cfg.Workflow.HealLimit, cfg.Workflow.Deadline, logger)
}
