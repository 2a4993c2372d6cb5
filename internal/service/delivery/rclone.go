package delivery

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"meterrelay/internal/model"
)

// RcloneTransport shells out to rclone.
type RcloneTransport struct {
	Binary         string
	Remote         string
	Timeout        time.Duration
	ConnectTimeout time.Duration

	lookPath func(string) (string, error)
}

func NewRcloneTransport(binary, remote string, timeout, connectTimeout time.Duration) *RcloneTransport {
	if binary == "" {
		binary = "rclone"
	}
	return &RcloneTransport{
		Binary:         binary,
		Remote:         remote,
		Timeout:        timeout,
		ConnectTimeout: connectTimeout,
		lookPath:       exec.LookPath,
	}
}

func (t *RcloneTransport) Name() string { return "rclone" }

// Check requires the binary on PATH and the remote in `rclone listremotes`.
func (t *RcloneTransport) Check(ctx context.Context) error {
	if strings.TrimSpace(t.Remote) == "" {
		return model.NewFault(model.ErrConfiguration, "rclone check", errors.New("no remote configured"))
	}
	bin, err := t.lookPath(t.Binary)
	if err != nil {
		return model.NewFault(model.ErrConfiguration, "rclone check", fmt.Errorf("%s not installed: %w", t.Binary, err))
	}
	t.Binary = bin

	out, err := t.run(ctx, 5*time.Second, "listremotes")
	if err != nil {
		return model.NewFault(model.ErrConfiguration, "rclone listremotes", err)
	}

	var remotes []string
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		name := strings.TrimSuffix(strings.TrimSpace(sc.Text()), ":")
		if name == "" {
			continue
		}
		if name == t.Remote {
			return nil
		}
		remotes = append(remotes, name)
	}
	return model.NewFault(model.ErrConfiguration, "rclone check",
		fmt.Errorf("remote %q not configured (available: %v)", t.Remote, remotes))
}

func (t *RcloneTransport) copyArgs(path, dest string) []string {
	return []string{
		"copy", path, t.target(dest),
		"--retries", "1",
		"--low-level-retries", "3",
		"--timeout", durationFlag(t.Timeout),
		"--contimeout", durationFlag(t.ConnectTimeout),
		"--no-traverse",
		"--stats", "0",
		"--quiet",
	}
}

// Copy runs one `rclone copy`. The process gets Timeout plus a grace period
// before it is terminated.
func (t *RcloneTransport) Copy(ctx context.Context, path, dest string) error {
	_, err := t.run(ctx, t.Timeout+10*time.Second, t.copyArgs(path, dest)...)
	if err != nil {
		return model.NewFault(model.ErrTransport, "rclone copy", err)
	}
	return nil
}

// Verify lists the destination filtered to the file name.
func (t *RcloneTransport) Verify(ctx context.Context, path, dest string) error {
	name := filepath.Base(path)
	out, err := t.run(ctx, t.Timeout, "lsf", t.target(dest), "--files-only", "--include", name,
		"--contimeout", durationFlag(t.ConnectTimeout), "--quiet")
	if err != nil {
		return model.NewFault(model.ErrTransport, "rclone lsf", err)
	}
	for _, line := range strings.Split(string(out), "\n") {
		if strings.TrimSpace(line) == name {
			return nil
		}
	}
	return model.NewFault(model.ErrTransport, "rclone verify", errNotVerified)
}

func (t *RcloneTransport) target(dest string) string {
	return t.Remote + ":" + dest
}

// run executes rclone with a hard deadline. On expiry the process gets
// SIGTERM, then SIGKILL after a short delay, and is always reaped.
func (t *RcloneTransport) run(ctx context.Context, limit time.Duration, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, t.Binary, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
	cmd.WaitDelay = 5 * time.Second

	err := cmd.Run()
	if err == nil {
		return stdout.Bytes(), nil
	}
	if ctx.Err() != nil {
		return nil, fmt.Errorf("timed out after %s: %w", limit, ctx.Err())
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil, fmt.Errorf("exit %d (%s): %s", exitErr.ExitCode(), exitMessage(exitErr.ExitCode()), truncate(stderr.String(), 200))
	}
	return nil, err
}

var exitMessages = map[int]string{
	1: "syntax or usage error",
	2: "error not otherwise categorised",
	3: "directory not found",
	4: "file not found",
	5: "temporary error",
	6: "less serious error",
	7: "fatal error",
	8: "transfer exceeded limit",
	9: "no files transferred",
}

func exitMessage(code int) string {
	if msg, ok := exitMessages[code]; ok {
		return msg
	}
	return "unknown error"
}

func durationFlag(d time.Duration) string {
	if d <= 0 {
		d = 10 * time.Second
	}
	return strconv.Itoa(int(d.Seconds())) + "s"
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "no details"
	}
	if len(s) > n {
		return s[:n]
	}
	return s
}
