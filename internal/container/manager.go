// Package container launches and reaps the single ephemeral sandbox
// container backing the broker's one active session at a time. Building the
// sandbox image and running the interactive shell inside it are out of
// scope here; this package only starts and stops the container.
package container

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
)

const (
	imageName       = "demo-sandbox:latest"
	containerUser   = "1000"
	workingDir      = "/home/demo/work"
	stopTimeoutSecs = 10

	memoryLimitBytes = 512 * 1024 * 1024 // 512MB
	cpuQuota         = 50000             // 0.5 CPU
	pidsLimit        = 128

	tmpfsSize = 64 * 1024 * 1024 // 64MB writable working area

	sandboxNetwork = "demo-sandbox-net"
	sandboxSubnet  = "172.29.0.0/16"

	credentialMountPath = "/run/session/credentials.env"

	createRetryAttempts = 10
	createRetryDelay    = 250 * time.Millisecond
)

// Manager launches and stops the single sandbox container a promoted
// session runs against. It satisfies supervisor.Sandbox.
type Manager struct {
	cli     *client.Client
	runtime string // "" = default runc, "runsc" = gVisor
}

// New creates a Docker-backed sandbox manager. runtime may be "" for the
// default Docker runtime or "runsc" for gVisor.
func New(runtime string) (*Manager, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("container: create docker client: %w", err)
	}
	slog.Info("sandbox manager initialized", "runtime", runtimeLabel(runtime))
	return &Manager{cli: cli, runtime: runtime}, nil
}

func runtimeLabel(runtime string) string {
	if runtime == "" {
		return "default"
	}
	return runtime
}

// Launch starts a fresh, conservatively-limited sandbox container for
// sessionID, bind-mounting credPath read-only at a fixed in-container path.
// The container has a read-only root filesystem, a small writable tmpfs for
// the working directory, and every capability dropped except the minimum
// required for an interactive shell.
func (m *Manager) Launch(ctx context.Context, sessionID, credPath string) (string, error) {
	name := "demo-session-" + sessionID

	cfg := &container.Config{
		Image:      imageName,
		User:       containerUser,
		WorkingDir: workingDir,
		Tty:        true,
		Env: []string{
			"SESSION_ID=" + sessionID,
			"CREDENTIAL_FILE=" + credentialMountPath,
		},
	}

	hostCfg := &container.HostConfig{
		Runtime:        m.runtime,
		NetworkMode:    container.NetworkMode(sandboxNetwork),
		ReadonlyRootfs: true,
		Tmpfs: map[string]string{
			workingDir: fmt.Sprintf("size=%d,uid=1000,gid=1000", tmpfsSize),
		},
		Mounts: []mount.Mount{{
			Type:     mount.TypeBind,
			Source:   credPath,
			Target:   credentialMountPath,
			ReadOnly: true,
		}},
		CapDrop: []string{"ALL"},
		CapAdd:  []string{"SETUID", "SETGID"},
		Resources: container.Resources{
			Memory:    memoryLimitBytes,
			CPUQuota:  cpuQuota,
			PidsLimit: ptr(int64(pidsLimit)),
		},
		DNS: []string{"8.8.8.8", "8.8.4.4"},
	}

	var resp container.CreateResponse
	var createErr error
	for i := 0; i < createRetryAttempts; i++ {
		resp, createErr = m.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
		if createErr == nil {
			break
		}

		errStr := strings.ToLower(createErr.Error())
		if !strings.Contains(errStr, "is already in use") && !strings.Contains(errStr, "conflict") {
			return "", fmt.Errorf("container: create: %w", createErr)
		}

		slog.Warn("sandbox name conflict on create, retrying", "session_id", sessionID, "attempt", i+1)
		if inspect, inspectErr := m.cli.ContainerInspect(ctx, name); inspectErr == nil {
			if stopErr := m.Stop(ctx, inspect.ID); stopErr != nil {
				slog.Warn("failed to clear conflicting sandbox before retry", "container_id", inspect.ID, "error", stopErr)
			}
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(createRetryDelay):
		}
	}
	if createErr != nil {
		return "", fmt.Errorf("container: create after retries: %w", createErr)
	}

	if err := m.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		if removeErr := m.cli.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true}); removeErr != nil {
			slog.Warn("failed to remove sandbox after start failure", "container_id", resp.ID, "error", removeErr)
		}
		return "", fmt.Errorf("container: start %s: %w", resp.ID, err)
	}

	if m.runtime == "runsc" {
		if err := m.fixDNS(ctx, resp.ID); err != nil {
			slog.Warn("gVisor DNS fix failed, proceeding anyway", "error", err)
		}
	}

	slog.Info("sandbox launched", "container_id", resp.ID, "session_id", sessionID)
	return resp.ID, nil
}

// fixDNS forces public DNS servers into /etc/resolv.conf; Docker's embedded
// DNS (127.0.0.11) frequently fails against gVisor's netstack.
func (m *Manager) fixDNS(ctx context.Context, containerID string) error {
	execConfig := container.ExecOptions{
		Cmd:  []string{"sh", "-c", "echo 'nameserver 8.8.8.8' > /etc/resolv.conf && echo 'nameserver 8.8.4.4' >> /etc/resolv.conf"},
		User: "root",
	}

	resp, err := m.cli.ContainerExecCreate(ctx, containerID, execConfig)
	if err != nil {
		return fmt.Errorf("create dns-fix exec: %w", err)
	}

	attach, err := m.cli.ContainerExecAttach(ctx, resp.ID, container.ExecStartOptions{})
	if err != nil {
		return fmt.Errorf("attach dns-fix exec: %w", err)
	}
	defer attach.Close()

	buf := make([]byte, 4096)
	for {
		if _, err := attach.Reader.Read(buf); err != nil {
			break
		}
	}

	inspect, err := m.cli.ContainerExecInspect(ctx, resp.ID)
	if err != nil {
		return fmt.Errorf("inspect dns-fix exec: %w", err)
	}
	if inspect.ExitCode != 0 {
		return fmt.Errorf("dns-fix exited %d", inspect.ExitCode)
	}
	return nil
}

// Stop stops and removes a sandbox container. It is idempotent: a missing
// or already-removed container is not an error.
func (m *Manager) Stop(ctx context.Context, containerID string) error {
	if containerID == "" {
		return nil
	}
	slog.Info("stopping sandbox", "container_id", containerID)

	if _, err := m.cli.ContainerInspect(ctx, containerID); err != nil {
		if errdefs.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("container: inspect %s: %w", containerID, err)
	}

	timeout := stopTimeoutSecs
	if err := m.cli.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout}); err != nil {
		if !errdefs.IsNotFound(err) {
			slog.Debug("sandbox stop returned error, continuing to remove", "container_id", containerID, "error", err)
		}
	}

	if err := m.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		if errdefs.IsNotFound(err) || strings.Contains(err.Error(), "is already in progress") {
			return nil
		}
		return fmt.Errorf("container: remove %s: %w", containerID, err)
	}

	slog.Info("sandbox stopped and removed", "container_id", containerID)
	return nil
}

// EnsureNetwork creates the sandbox's dedicated bridge network if absent.
func (m *Manager) EnsureNetwork(ctx context.Context) (string, error) {
	networks, err := m.cli.NetworkList(ctx, network.ListOptions{})
	if err != nil {
		return "", fmt.Errorf("container: list networks: %w", err)
	}
	for _, nw := range networks {
		if nw.Name == sandboxNetwork {
			return nw.ID, nil
		}
	}

	resp, err := m.cli.NetworkCreate(ctx, sandboxNetwork, network.CreateOptions{
		Driver: "bridge",
		IPAM: &network.IPAM{
			Config: []network.IPAMConfig{{Subnet: sandboxSubnet}},
		},
	})
	if err != nil {
		return "", fmt.Errorf("container: create network %s: %w", sandboxNetwork, err)
	}
	slog.Info("sandbox network created", "network_id", resp.ID, "subnet", sandboxSubnet)
	return resp.ID, nil
}

// Client returns the underlying Docker client, for health checks.
func (m *Manager) Client() *client.Client {
	return m.cli
}

func ptr[T any](v T) *T {
	return &v
}
