// Package terminalproc spawns the terminal multiplexer as a child process
// pointed at a session's sandbox container. Building the multiplexer itself
// is out of scope; this package only starts it, tracks its lifetime, and
// signals it to stop.
package terminalproc

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"sync"
	"syscall"

	"github.com/demolab/sessionbroker/internal/supervisor"
)

// Config points at the multiplexer binary and any non-sensitive flags it
// needs regardless of session.
type Config struct {
	BinaryPath string
	Debug      bool
}

// Launcher spawns the terminal multiplexer as a child process. It satisfies
// supervisor.TerminalLauncher.
type Launcher struct {
	cfg Config
}

// New returns a Launcher.
func New(cfg Config) *Launcher {
	return &Launcher{cfg: cfg}
}

// Spawn starts the multiplexer, pointing it at containerID and the
// credential file by path — never by contents or command-line value beyond
// the path itself.
func (l *Launcher) Spawn(ctx context.Context, sessionID, containerID, credentialPath string, timeoutMinutes int) (supervisor.TerminalHandle, error) {
	args := []string{
		"--session-id", sessionID,
		"--container-id", containerID,
	}

	cmd := exec.CommandContext(ctx, l.cfg.BinaryPath, args...)
	cmd.Env = append(cmd.Env,
		"CREDENTIAL_FILE="+credentialPath,
		"SESSION_TIMEOUT_MINUTES="+strconv.Itoa(timeoutMinutes),
		"DEBUG="+strconv.FormatBool(l.cfg.Debug),
	)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("terminalproc: start multiplexer: %w", err)
	}

	h := &Handle{cmd: cmd, done: make(chan struct{})}
	go func() {
		_ = cmd.Wait()
		close(h.done)
	}()

	return h, nil
}

// Handle is a running terminal multiplexer child process. It satisfies
// supervisor.TerminalHandle.
type Handle struct {
	cmd  *exec.Cmd
	done chan struct{}

	mu     sync.Mutex
	sentTerm bool
}

// Terminate sends SIGTERM to the child process, if it hasn't been sent
// already. It does not wait for exit.
func (h *Handle) Terminate() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sentTerm || h.cmd.Process == nil {
		return nil
	}
	h.sentTerm = true
	return h.cmd.Process.Signal(syscall.SIGTERM)
}

// Kill force-kills the child process. Safe to call after Terminate.
func (h *Handle) Kill() error {
	if h.cmd.Process == nil {
		return nil
	}
	return h.cmd.Process.Kill()
}

// Done is closed when the process has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}
