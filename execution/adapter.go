// Package execution runs generated scene code in a sandbox and turns the
// raw process outcome into a classified ExecutionResult.
package execution

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/google/uuid"

	"newton/shared"
)

//go:embed layout_helper.py
var layoutHelper []byte

const (
	DefaultTimeout   = 180 * time.Second
	DefaultSceneName = "PhysicsScene"
	qualityDir       = "720p30"
	partialDir       = "partial_movie_files"
)

var errFound = errors.New("found")

// Adapter prepares a work dir for each run, calls the sandbox under a hard
// timeout and locates the rendered video.
type Adapter struct {
	fs        billy.Filesystem
	sandbox   Sandbox
	timeout   time.Duration
	sceneName string
	newRunID  func() string
	logger    *slog.Logger
}

type AdapterOption func(*Adapter)

func WithTimeout(d time.Duration) AdapterOption {
	return func(a *Adapter) {
		if d > 0 {
			a.timeout = d
		}
	}
}

func WithSceneName(name string) AdapterOption {
	return func(a *Adapter) {
		if name != "" {
			a.sceneName = name
		}
	}
}

func WithRunIDs(gen func() string) AdapterOption {
	return func(a *Adapter) { a.newRunID = gen }
}

func WithLogger(l *slog.Logger) AdapterOption {
	return func(a *Adapter) { a.logger = l }
}

// NewAdapter builds an adapter writing into fs. fs.Root() must be the host
// path the sandbox mounts.
func NewAdapter(fs billy.Filesystem, sandbox Sandbox, opts ...AdapterOption) *Adapter {
	a := &Adapter{
		fs:        fs,
		sandbox:   sandbox,
		timeout:   DefaultTimeout,
		sceneName: DefaultSceneName,
		newRunID: func() string {
			return "scene_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
		},
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Execute renders the artifact. The returned error is non-nil only when ctx
// was cancelled or the work dir could not be prepared; every failure of the
// code itself is reported through the result.
//
// The scene file is removed afterwards. A successful run keeps its final
// video and drops the partial segments; a failed run leaves nothing behind.
func (a *Adapter) Execute(ctx context.Context, artifact string) (shared.ExecutionResult, error) {
	runID := a.newRunID()
	res, err := a.execute(ctx, runID, artifact)
	a.cleanUp(runID, res.Success)
	return res, err
}

func (a *Adapter) execute(ctx context.Context, runID, artifact string) (shared.ExecutionResult, error) {
	sceneFile := runID + ".py"

	if err := util.WriteFile(a.fs, sceneFile, []byte(artifact), 0o644); err != nil {
		return shared.ExecutionResult{}, fmt.Errorf("write scene file: %w", err)
	}
	if err := util.WriteFile(a.fs, "layout_helper.py", layoutHelper, 0o644); err != nil {
		return shared.ExecutionResult{}, fmt.Errorf("write layout helper: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := time.Now()
	raw, runErr := a.sandbox.Run(runCtx, SandboxRequest{
		RunID:     runID,
		WorkDir:   a.fs.Root(),
		SceneFile: sceneFile,
		SceneName: a.sceneName,
	})
	log := a.logger.With("run_id", runID, "elapsed", time.Since(start).Round(time.Millisecond))

	if err := ctx.Err(); err != nil {
		log.Info("Execution cancelled", "error", err)
		return shared.ExecutionResult{}, err
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		log.Warn("Execution timed out", "timeout", a.timeout)
		return shared.ExecutionResult{
			Stderr:    fmt.Sprintf("Rendering timed out after %d seconds", int(a.timeout.Seconds())),
			ExitCode:  TimeoutExitCode,
			ErrorKind: shared.ErrorKindTimeout,
		}, nil
	}

	res := shared.ExecutionResult{Stdout: raw.Stdout, Stderr: raw.Stderr, ExitCode: raw.ExitCode}
	if runErr != nil {
		// The sandbox never ran the code. Route it like any other failure.
		res.Stderr = strings.TrimSpace(res.Stderr + "\nExecutor error: " + runErr.Error())
		if res.ExitCode == 0 {
			res.ExitCode = 1
		}
		res.ErrorKind = Classify(res.Stderr, res.ExitCode)
		log.Warn("Sandbox failed to run", "error", runErr, "kind", res.ErrorKind)
		return res, nil
	}
	if res.ExitCode != 0 {
		res.ErrorKind = Classify(res.Stderr, res.ExitCode)
		log.Info("Execution failed", "exit_code", res.ExitCode, "kind", res.ErrorKind)
		return res, nil
	}

	out, ok := a.findVideo(runID)
	if !ok {
		res.Stderr += "\nVideo file not found despite exit code 0"
		res.ErrorKind = shared.ErrorKindMissingOutput
		log.Warn("No output file after clean exit")
		return res, nil
	}
	res.Success = true
	res.OutputPath = filepath.Join(a.fs.Root(), filepath.FromSlash(out))
	log.Info("Execution succeeded", "output", res.OutputPath)
	return res, nil
}

func (a *Adapter) cleanUp(runID string, keepVideo bool) {
	log := a.logger.With("run_id", runID)
	if err := a.fs.Remove(runID + ".py"); err != nil && !os.IsNotExist(err) {
		log.Debug("Failed to remove scene file", "error", err)
	}
	sceneDir := path.Join("media", "videos", runID)
	if !keepVideo {
		if err := util.RemoveAll(a.fs, sceneDir); err != nil {
			log.Debug("Failed to remove render output", "error", err)
		}
		return
	}
	entries, err := a.fs.ReadDir(sceneDir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if err := util.RemoveAll(a.fs, path.Join(sceneDir, e.Name(), partialDir)); err != nil {
			log.Debug("Failed to remove partial segments", "error", err)
		}
	}
}

// findVideo checks the renderer's usual location and then any mp4 under the
// scene's folder that is not a partial segment.
func (a *Adapter) findVideo(runID string) (string, bool) {
	sceneDir := path.Join("media", "videos", runID)
	expected := path.Join(sceneDir, qualityDir, a.sceneName+".mp4")
	if fi, err := a.fs.Stat(expected); err == nil && !fi.IsDir() {
		return expected, true
	}

	var found string
	err := util.Walk(a.fs, sceneDir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			if info.Name() == partialDir {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(strings.ToLower(p), ".mp4") && !strings.Contains(p, partialDir) {
			found = filepath.ToSlash(p)
			return errFound
		}
		return nil
	})
	if err != nil && !errors.Is(err, errFound) {
		a.logger.Debug("Output search failed", "run_id", runID, "error", err)
	}
	return found, found != ""
}
