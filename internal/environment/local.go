package environment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	appErr "codeclash/pkg/errors"

	"github.com/google/shlex"
	"github.com/google/uuid"
)

const localMountPoint = "players"

// LocalConfig holds local-runtime settings.
type LocalConfig struct {
	// RootDir is where per-environment work directories are created.
	RootDir string `yaml:"rootDir"`

	// GameDirs maps game ids to host directories holding the game's engine
	// assets, staged into each environment at provision time.
	GameDirs map[string]string `yaml:"gameDirs"`

	// Shell runs commands; defaults to /bin/sh.
	Shell string `yaml:"shell"`
}

// LocalRuntime hosts each environment in a disposable work directory on the
// local machine and runs commands through os/exec. It provides isolation by
// disposability, not confinement; use the docker runtime for untrusted code.
type LocalRuntime struct {
	cfg LocalConfig
}

// NewLocalRuntime creates a work-directory based runtime.
func NewLocalRuntime(cfg LocalConfig) (*LocalRuntime, error) {
	if cfg.RootDir == "" {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("local runtime rootDir is required")
	}
	if cfg.Shell == "" {
		cfg.Shell = "/bin/sh"
	}
	return &LocalRuntime{cfg: cfg}, nil
}

func (r *LocalRuntime) Provision(ctx context.Context, gameID string) (*Handle, error) {
	id := "env-" + uuid.NewString()
	workDir := filepath.Join(r.cfg.RootDir, id)
	h := &Handle{
		ID:         id,
		GameID:     gameID,
		MountPoint: localMountPoint,
		ref:        workDir,
		state:      StateProvisioning,
	}

	if err := os.MkdirAll(filepath.Join(workDir, localMountPoint), 0755); err != nil {
		return nil, appErr.Wrapf(err, appErr.EnvironmentProvisionFailed, "create environment workdir failed")
	}
	if err := os.MkdirAll(filepath.Join(workDir, "logs"), 0755); err != nil {
		return nil, appErr.Wrapf(err, appErr.EnvironmentProvisionFailed, "create environment log dir failed")
	}

	if gameDir, ok := r.cfg.GameDirs[gameID]; ok && gameDir != "" {
		if err := copyTree(gameDir, filepath.Join(workDir, "game")); err != nil {
			_ = os.RemoveAll(workDir)
			return nil, appErr.Wrapf(err, appErr.EnvironmentProvisionFailed, "stage game assets failed")
		}
	}
	return h, nil
}

func (r *LocalRuntime) Install(ctx context.Context, h *Handle, playerID, sourcePath string) error {
	if h.State() == StateTornDown {
		return appErr.New(appErr.EnvironmentTornDown)
	}
	info, err := os.Stat(sourcePath)
	if err != nil {
		return appErr.Wrapf(err, appErr.InstallFailed, "stat submission failed")
	}
	dest := filepath.Join(h.ref, h.MountPoint, playerID)
	if err := os.RemoveAll(dest); err != nil {
		return appErr.Wrapf(err, appErr.InstallFailed, "clear previous submission failed")
	}
	if info.IsDir() {
		if err := copyTree(sourcePath, dest); err != nil {
			return appErr.Wrapf(err, appErr.InstallFailed, "copy submission failed")
		}
		return nil
	}
	if err := os.MkdirAll(dest, 0755); err != nil {
		return appErr.Wrapf(err, appErr.InstallFailed, "create submission dir failed")
	}
	if err := copyFile(sourcePath, filepath.Join(dest, filepath.Base(sourcePath))); err != nil {
		return appErr.Wrapf(err, appErr.InstallFailed, "copy submission failed")
	}
	return nil
}

func (r *LocalRuntime) WriteFile(ctx context.Context, h *Handle, destPath string, content []byte) error {
	full, err := safeJoin(h.ref, destPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return appErr.Wrapf(err, appErr.EnvironmentUnreachable, "create parent dir failed")
	}
	if err := os.WriteFile(full, content, 0644); err != nil {
		return appErr.Wrapf(err, appErr.EnvironmentUnreachable, "write file failed")
	}
	return nil
}

func (r *LocalRuntime) Exec(ctx context.Context, h *Handle, command, workDir string) (ExecResult, error) {
	if h.State() == StateTornDown {
		return ExecResult{}, appErr.New(appErr.EnvironmentTornDown)
	}
	// Commands go through the shell for redirections and chaining; shlex
	// catches unbalanced quoting before anything runs.
	if _, err := shlex.Split(command); err != nil {
		return ExecResult{}, appErr.Wrapf(err, appErr.InvalidParams, "unparseable command")
	}

	dir := h.ref
	if workDir != "" {
		var err error
		dir, err = safeJoin(h.ref, workDir)
		if err != nil {
			return ExecResult{}, err
		}
	}

	cmd := exec.CommandContext(ctx, r.cfg.Shell, "-c", command)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	res := ExecResult{ExitCode: 0, Output: string(out)}
	if err != nil {
		if ctx.Err() != nil {
			return res, appErr.Wrap(ctx.Err(), appErr.ExecutionTimeout)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return res, appErr.Wrapf(err, appErr.EnvironmentUnreachable, "exec failed")
	}
	return res, nil
}

func (r *LocalRuntime) Health(ctx context.Context, h *Handle) bool {
	if h.State() == StateTornDown || h.State() == StateFailed {
		return false
	}
	info, err := os.Stat(h.ref)
	return err == nil && info.IsDir()
}

func (r *LocalRuntime) Teardown(ctx context.Context, h *Handle) error {
	if err := os.RemoveAll(h.ref); err != nil {
		return fmt.Errorf("remove environment workdir: %w", err)
	}
	return nil
}

func safeJoin(basePath, relPath string) (string, error) {
	if relPath == "" {
		return "", appErr.ValidationError("path", "required")
	}
	clean := filepath.Clean(relPath)
	if filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return "", appErr.New(appErr.InvalidParams).WithMessage("invalid relative path")
	}
	full := filepath.Join(basePath, clean)
	if !strings.HasPrefix(full, filepath.Clean(basePath)+string(filepath.Separator)) {
		return "", appErr.New(appErr.InvalidParams).WithMessage("path traversal detected")
	}
	return full, nil
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	info, err := in.Stat()
	if err != nil {
		return err
	}
	return out.Chmod(info.Mode().Perm())
}
