package environment

import (
	"archive/tar"
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	appErr "codeclash/pkg/errors"
	"codeclash/pkg/utils/logger"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const dockerMountPoint = "/arena/players"

// DockerConfig holds docker-runtime settings.
type DockerConfig struct {
	// GameImages maps game ids to docker images carrying the game engine.
	GameImages map[string]string `yaml:"gameImages"`

	// PullImages pulls missing images at provision time.
	PullImages bool `yaml:"pullImages"`

	// StopTimeout bounds container kill+remove during teardown.
	StopTimeout time.Duration `yaml:"stopTimeout"`
}

// DockerRuntime hosts each environment in its own container. Containers are
// created with the game image, kept alive for the match, and force-removed
// at teardown.
type DockerRuntime struct {
	cfg DockerConfig
	cli *client.Client
}

// NewDockerRuntime creates a container-backed runtime from the ambient
// docker daemon configuration.
func NewDockerRuntime(cfg DockerConfig) (*DockerRuntime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.ServiceUnavailable, "create docker client failed")
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 10 * time.Second
	}
	return &DockerRuntime{cfg: cfg, cli: cli}, nil
}

func (r *DockerRuntime) Provision(ctx context.Context, gameID string) (*Handle, error) {
	img, ok := r.cfg.GameImages[gameID]
	if !ok || img == "" {
		return nil, appErr.Newf(appErr.GameNotFound, "no docker image configured for game %q", gameID)
	}

	if r.cfg.PullImages {
		reader, err := r.cli.ImagePull(ctx, img, image.PullOptions{})
		if err != nil {
			return nil, appErr.Wrapf(err, appErr.EnvironmentProvisionFailed, "pull image %s failed", img)
		}
		_, _ = io.Copy(io.Discard, reader)
		_ = reader.Close()
	}

	id := "env-" + uuid.NewString()
	created, err := r.cli.ContainerCreate(ctx,
		&container.Config{
			Image: img,
			Cmd:   []string{"sleep", "infinity"},
			Env:   []string{"GAME_ID=" + gameID},
		},
		&container.HostConfig{
			CapDrop:     []string{"ALL"},
			NetworkMode: "bridge",
		},
		nil, nil, id)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.EnvironmentProvisionFailed, "create container failed")
	}

	if err := r.cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		_ = r.cli.ContainerRemove(ctx, created.ID, container.RemoveOptions{Force: true})
		return nil, appErr.Wrapf(err, appErr.EnvironmentProvisionFailed, "start container failed")
	}

	return &Handle{
		ID:         id,
		GameID:     gameID,
		MountPoint: dockerMountPoint,
		ref:        created.ID,
		state:      StateProvisioning,
	}, nil
}

func (r *DockerRuntime) Install(ctx context.Context, h *Handle, playerID, sourcePath string) error {
	archive, err := tarTree(sourcePath, playerID)
	if err != nil {
		return appErr.Wrapf(err, appErr.InstallFailed, "archive submission failed")
	}
	res, err := r.Exec(ctx, h, "mkdir -p "+h.MountPoint, "")
	if err != nil {
		return appErr.Wrapf(err, appErr.InstallFailed, "prepare mount point failed")
	}
	if res.ExitCode != 0 {
		return appErr.Newf(appErr.InstallFailed, "prepare mount point failed: %s", res.Output)
	}
	if err := r.cli.CopyToContainer(ctx, h.ref, h.MountPoint, archive, container.CopyToContainerOptions{}); err != nil {
		return appErr.Wrapf(err, appErr.InstallFailed, "copy submission into container failed")
	}
	return nil
}

func (r *DockerRuntime) WriteFile(ctx context.Context, h *Handle, destPath string, content []byte) error {
	dir, name := filepath.Split(destPath)
	dir = "/" + strings.Trim(dir, "/")

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	if err := tw.WriteHeader(&tar.Header{Name: name, Mode: 0644, Size: int64(len(content))}); err != nil {
		return appErr.Wrapf(err, appErr.EnvironmentUnreachable, "build tar header failed")
	}
	if _, err := tw.Write(content); err != nil {
		return appErr.Wrapf(err, appErr.EnvironmentUnreachable, "build tar content failed")
	}
	if err := tw.Close(); err != nil {
		return appErr.Wrapf(err, appErr.EnvironmentUnreachable, "close tar failed")
	}

	// CopyToContainer refuses a destination directory that does not exist.
	res, err := r.Exec(ctx, h, "mkdir -p "+dir, "")
	if err != nil {
		return appErr.Wrapf(err, appErr.EnvironmentUnreachable, "prepare destination dir failed")
	}
	if res.ExitCode != 0 {
		return appErr.Newf(appErr.EnvironmentUnreachable, "prepare destination dir failed: %s", res.Output)
	}
	if err := r.cli.CopyToContainer(ctx, h.ref, dir, &buf, container.CopyToContainerOptions{}); err != nil {
		return appErr.Wrapf(err, appErr.EnvironmentUnreachable, "copy file into container failed")
	}
	return nil
}

func (r *DockerRuntime) Exec(ctx context.Context, h *Handle, command, workDir string) (ExecResult, error) {
	execResp, err := r.cli.ContainerExecCreate(ctx, h.ref, container.ExecOptions{
		Cmd:          []string{"/bin/sh", "-c", command},
		WorkingDir:   "/" + strings.Trim(workDir, "/"),
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return ExecResult{}, appErr.Wrapf(err, appErr.EnvironmentUnreachable, "exec create failed")
	}

	attach, err := r.cli.ContainerExecAttach(ctx, execResp.ID, container.ExecAttachOptions{})
	if err != nil {
		return ExecResult{}, appErr.Wrapf(err, appErr.EnvironmentUnreachable, "exec attach failed")
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	done := make(chan error, 1)
	go func() {
		_, cpErr := stdcopy.StdCopy(&stdout, &stderr, attach.Reader)
		done <- cpErr
	}()
	select {
	case <-ctx.Done():
		return ExecResult{Output: stdout.String() + stderr.String()},
			appErr.Wrap(ctx.Err(), appErr.ExecutionTimeout)
	case cpErr := <-done:
		if cpErr != nil {
			return ExecResult{}, appErr.Wrapf(cpErr, appErr.EnvironmentUnreachable, "read exec output failed")
		}
	}

	inspect, err := r.cli.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return ExecResult{}, appErr.Wrapf(err, appErr.EnvironmentUnreachable, "exec inspect failed")
	}
	return ExecResult{ExitCode: inspect.ExitCode, Output: stdout.String() + stderr.String()}, nil
}

func (r *DockerRuntime) Health(ctx context.Context, h *Handle) bool {
	inspect, err := r.cli.ContainerInspect(ctx, h.ref)
	if err != nil {
		return false
	}
	return inspect.State != nil && inspect.State.Running
}

func (r *DockerRuntime) Teardown(ctx context.Context, h *Handle) error {
	ctxStop, cancel := context.WithTimeout(ctx, r.cfg.StopTimeout)
	defer cancel()

	if err := r.cli.ContainerKill(ctxStop, h.ref, "KILL"); err != nil {
		logger.Debug(ctx, "container kill failed, removing anyway",
			zap.String("container_id", h.ref))
	}
	return r.cli.ContainerRemove(ctxStop, h.ref, container.RemoveOptions{Force: true})
}

// tarTree archives a host file or directory under prefix/ for CopyToContainer.
func tarTree(src, prefix string) (io.Reader, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	defer tw.Close()

	info, err := os.Stat(src)
	if err != nil {
		return nil, err
	}

	addFile := func(path, name string, fi os.FileInfo) error {
		hdr, err := tar.FileInfoHeader(fi, "")
		if err != nil {
			return err
		}
		hdr.Name = name
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if fi.IsDir() {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	}

	if !info.IsDir() {
		if err := addFile(src, filepath.Join(prefix, filepath.Base(src)), info); err != nil {
			return nil, err
		}
		return &buf, nil
	}

	err = filepath.Walk(src, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		name := filepath.Join(prefix, rel)
		if !fi.IsDir() && !fi.Mode().IsRegular() {
			return nil
		}
		return addFile(path, name, fi)
	})
	if err != nil {
		return nil, err
	}
	return &buf, nil
}
