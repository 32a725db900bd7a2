package execution

import (
	"context"
	"errors"
	"os"
	"path"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newton/shared"
)

type sandboxFunc func(ctx context.Context, req SandboxRequest) (SandboxResult, error)

func (f sandboxFunc) Run(ctx context.Context, req SandboxRequest) (SandboxResult, error) {
	return f(ctx, req)
}

func fixedID(id string) AdapterOption {
	return WithRunIDs(func() string { return id })
}

func render(fs billy.Filesystem, rel string) {
	_ = util.WriteFile(fs, rel, []byte("mp4"), 0o644)
}

func TestExecuteSuccessAtExpectedPath(t *testing.T) {
	fs := memfs.New()
	var (
		got  SandboxRequest
		code []byte
	)
	sb := sandboxFunc(func(ctx context.Context, req SandboxRequest) (SandboxResult, error) {
		got = req
		code, _ = util.ReadFile(fs, req.SceneFile)
		render(fs, path.Join("media/videos", "scene_abcd1234", "720p30", req.SceneName+".mp4"))
		return SandboxResult{Stdout: "File ready"}, nil
	})

	res, err := NewAdapter(fs, sb, fixedID("scene_abcd1234")).Execute(context.Background(), "print('hi')")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, shared.ErrorKindNone, res.ErrorKind)
	assert.Contains(t, res.OutputPath, "media/videos/scene_abcd1234/720p30/PhysicsScene.mp4")
	assert.Equal(t, "scene_abcd1234.py", got.SceneFile)

	assert.Equal(t, "print('hi')", string(code))
	_, err = fs.Stat("layout_helper.py")
	assert.NoError(t, err)
}

func TestExecuteCleansUpWorkDir(t *testing.T) {
	fs := memfs.New()
	sb := sandboxFunc(func(ctx context.Context, req SandboxRequest) (SandboxResult, error) {
		render(fs, path.Join("media/videos", req.RunID, "720p30/partial_movie_files/PhysicsScene/seg0.mp4"))
		if req.RunID == "scene_ok" {
			render(fs, path.Join("media/videos", req.RunID, "720p30/PhysicsScene.mp4"))
			return SandboxResult{}, nil
		}
		return SandboxResult{Stderr: "NameError: name 'Foo' is not defined", ExitCode: 1}, nil
	})

	res, err := NewAdapter(fs, sb, fixedID("scene_ok")).Execute(context.Background(), "code")
	require.NoError(t, err)
	require.True(t, res.Success)
	_, err = fs.Stat("scene_ok.py")
	assert.True(t, errors.Is(err, os.ErrNotExist), "scene file removed")
	_, err = fs.Stat("media/videos/scene_ok/720p30/PhysicsScene.mp4")
	assert.NoError(t, err, "final video kept")
	_, err = fs.Stat("media/videos/scene_ok/720p30/partial_movie_files")
	assert.True(t, errors.Is(err, os.ErrNotExist), "partial segments removed")

	res, err = NewAdapter(fs, sb, fixedID("scene_bad")).Execute(context.Background(), "code")
	require.NoError(t, err)
	require.False(t, res.Success)
	_, err = fs.Stat("scene_bad.py")
	assert.True(t, errors.Is(err, os.ErrNotExist))
	_, err = fs.Stat("media/videos/scene_bad")
	assert.True(t, errors.Is(err, os.ErrNotExist), "failed run output removed")
}

func TestExecuteFallbackSkipsPartialFiles(t *testing.T) {
	fs := memfs.New()
	sb := sandboxFunc(func(ctx context.Context, req SandboxRequest) (SandboxResult, error) {
		render(fs, "media/videos/scene_x/1080p60/partial_movie_files/PhysicsScene/seg0.mp4")
		render(fs, "media/videos/scene_x/480p15/PhysicsScene.mp4")
		return SandboxResult{}, nil
	})

	res, err := NewAdapter(fs, sb, fixedID("scene_x")).Execute(context.Background(), "code")
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Contains(t, res.OutputPath, "480p15/PhysicsScene.mp4")
}

func TestExecuteMissingOutput(t *testing.T) {
	fs := memfs.New()
	sb := sandboxFunc(func(ctx context.Context, req SandboxRequest) (SandboxResult, error) {
		render(fs, "media/videos/scene_y/720p30/partial_movie_files/PhysicsScene/seg0.mp4")
		return SandboxResult{}, nil
	})

	res, err := NewAdapter(fs, sb, fixedID("scene_y")).Execute(context.Background(), "code")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, shared.ErrorKindMissingOutput, res.ErrorKind)
	assert.Equal(t, 0, res.ExitCode)
	assert.Empty(t, res.OutputPath)
}

func TestExecuteClassifiesFailure(t *testing.T) {
	sb := sandboxFunc(func(ctx context.Context, req SandboxRequest) (SandboxResult, error) {
		return SandboxResult{ExitCode: 1, Stderr: "Traceback...\nAttributeError: 'Circle' object has no attribute 'glow'"}, nil
	})

	res, err := NewAdapter(memfs.New(), sb).Execute(context.Background(), "code")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, shared.ErrorKindRuntimeAttribute, res.ErrorKind)
	assert.Equal(t, 1, res.ExitCode)
}

func TestExecuteTimeout(t *testing.T) {
	sb := sandboxFunc(func(ctx context.Context, req SandboxRequest) (SandboxResult, error) {
		<-ctx.Done()
		return SandboxResult{Stdout: "partial"}, ctx.Err()
	})

	res, err := NewAdapter(memfs.New(), sb, WithTimeout(20*time.Millisecond)).Execute(context.Background(), "code")
	require.NoError(t, err)
	assert.Equal(t, shared.ErrorKindTimeout, res.ErrorKind)
	assert.Equal(t, TimeoutExitCode, res.ExitCode)
	assert.Empty(t, res.Stdout)
	assert.Empty(t, res.OutputPath)
}

func TestExecuteParentCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sb := sandboxFunc(func(c context.Context, req SandboxRequest) (SandboxResult, error) {
		cancel()
		<-c.Done()
		return SandboxResult{}, c.Err()
	})

	_, err := NewAdapter(memfs.New(), sb).Execute(ctx, "code")
	require.ErrorIs(t, err, context.Canceled)
}

func TestExecuteSandboxStartFailure(t *testing.T) {
	sb := sandboxFunc(func(ctx context.Context, req SandboxRequest) (SandboxResult, error) {
		return SandboxResult{}, errors.New("docker: request returned Internal Server Error for API route")
	})

	res, err := NewAdapter(memfs.New(), sb).Execute(context.Background(), "code")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, shared.ErrorKindSandboxDaemon, res.ErrorKind)
	assert.Equal(t, 1, res.ExitCode)
}

func TestDockerArgs(t *testing.T) {
	d := NewDockerSandbox("", "manim:v0.18", "", nil)
	args := d.args(SandboxRequest{RunID: "scene_1", WorkDir: "/tmp/w", SceneFile: "scene_1.py", SceneName: "PhysicsScene"})
	assert.Equal(t, "run", args[0])
	assert.Contains(t, args, "/tmp/w:/app")
	assert.Contains(t, args, "newton-scene-1")
	assert.Equal(t, []string{"manim:v0.18", "manim", "-qm", "/app/scene_1.py", "PhysicsScene"}, args[len(args)-5:])
}
