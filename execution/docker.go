package execution

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

// SandboxRequest names the scene to render inside a prepared work dir.
type SandboxRequest struct {
	RunID     string
	WorkDir   string // host path mounted into the sandbox
	SceneFile string // relative to WorkDir
	SceneName string
}

// SandboxResult is the raw process outcome.
type SandboxResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Sandbox runs a scene file in isolation. A non-zero exit is a result, not an
// error; errors mean the sandbox itself could not run or ctx ended.
type Sandbox interface {
	Run(ctx context.Context, req SandboxRequest) (SandboxResult, error)
}

// DockerSandbox renders scenes with the manim CLI inside a throwaway container.
type DockerSandbox struct {
	Binary  string
	Image   string
	Quality string
	Logger  *slog.Logger
}

func NewDockerSandbox(binary, image, quality string, logger *slog.Logger) *DockerSandbox {
	if binary == "" {
		binary = "docker"
	}
	if quality == "" {
		quality = "-qm"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DockerSandbox{Binary: binary, Image: image, Quality: quality, Logger: logger}
}

func (d *DockerSandbox) args(req SandboxRequest) []string {
	return []string{
		"run", "--rm",
		"--name", containerName(req.RunID),
		"--stop-timeout", "10",
		"-e", "PYTHONIOENCODING=utf-8",
		"-e", "PYTHONUTF8=1",
		"-v", req.WorkDir + ":/app",
		d.Image,
		"manim", d.Quality,
		"/app/" + req.SceneFile,
		req.SceneName,
	}
}

func containerName(runID string) string {
	return "newton-" + strings.ReplaceAll(runID, "_", "-")
}

func (d *DockerSandbox) Run(ctx context.Context, req SandboxRequest) (SandboxResult, error) {
	if err := ctx.Err(); err != nil {
		return SandboxResult{}, err
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, d.Binary, d.args(req)...)
	cmd.Dir = req.WorkDir
	cmd.Env = append(os.Environ(), "PYTHONIOENCODING=utf-8", "PYTHONUTF8=1")
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	// Killing the docker CLI leaves the container running, so stop it too.
	cmd.Cancel = func() error {
		d.killContainer(req.RunID)
		if cmd.Process != nil {
			return cmd.Process.Kill()
		}
		return nil
	}
	cmd.WaitDelay = 5 * time.Second

	d.Logger.Debug("Starting sandbox", "run_id", req.RunID, "scene", req.SceneFile, "image", d.Image)
	err := cmd.Run()
	res := SandboxResult{Stdout: stdout.String(), Stderr: stderr.String()}

	if ctxErr := ctx.Err(); ctxErr != nil {
		res.ExitCode = -1
		return res, ctxErr
	}
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		res.ExitCode = 0
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		return res, fmt.Errorf("run sandbox: %w", err)
	}
	return res, nil
}

func (d *DockerSandbox) killContainer(runID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, d.Binary, "kill", containerName(runID)).CombinedOutput()
	if err != nil {
		d.Logger.Warn("Failed to kill sandbox container", "run_id", runID, "error", err, "output", strings.TrimSpace(string(out)))
	}
}
