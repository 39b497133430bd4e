// Package docker runs jobs in local containers for hosts without a
// batch system. The Docker daemon plays the scheduler: Submit starts a
// container running the generated script, Status inspects it, Cancel
// stops and removes it. Finished containers are left in place so their
// exit codes stay readable.
package docker

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/go-units"

	"drover/internal/apperrors"
	"drover/internal/job"
	"drover/internal/profile"
)

const stopTimeout = 10 // seconds

// Backend implements job.Backend against a local Docker daemon.
type Backend struct {
	client *client.Client
	prof   *profile.Profile
}

func New(ctx context.Context, prof *profile.Profile) (*Backend, error) {
	if prof == nil {
		prof = &profile.Profile{}
	}
	dockerClient, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &Backend{client: dockerClient, prof: prof}, nil
}

func (b *Backend) Name() string { return "docker" }

// Submit creates and starts a container running the script. The backend
// id is the container id.
func (b *Backend) Submit(ctx context.Context, scriptPath string) (string, error) {
	d, err := parseDirectives(scriptPath)
	if err != nil {
		return "", apperrors.Submission(b.Name(), err)
	}
	imageName := d.image
	if imageName == "" {
		imageName = b.prof.Docker.Image
	}
	if imageName == "" {
		imageName = defaultImage
	}

	if err := b.pullIfMissing(ctx, imageName); err != nil {
		return "", apperrors.Submission(b.Name(), fmt.Errorf("pull %s: %w", imageName, err))
	}

	resources := container.Resources{}
	if d.cpus > 0 {
		resources.NanoCPUs = int64(d.cpus) * 1e9
	}
	if d.memory != "" {
		if size, err := units.RAMInBytes(d.memory); err == nil {
			resources.Memory = size
		}
	}
	if d.gpus > 0 {
		resources.DeviceRequests = []container.DeviceRequest{{
			Driver:       "nvidia",
			Count:        d.gpus,
			Capabilities: [][]string{{"gpu"}},
		}}
	}

	containerConfig := &container.Config{
		Image:      imageName,
		Cmd:        []string{"/bin/sh", scriptPath},
		WorkingDir: d.workdir,
		Labels: map[string]string{
			"managed-by": "drover",
		},
	}
	hostConfig := &container.HostConfig{
		Mounts:    bindMounts(scriptPath, d),
		Resources: resources,
	}

	resp, err := b.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, "")
	if err != nil {
		return "", apperrors.Submission(b.Name(), err)
	}

	success := false
	defer func() {
		if !success {
			b.removeContainer(context.WithoutCancel(ctx), resp.ID)
		}
	}()

	if err := b.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", apperrors.Submission(b.Name(), err)
	}

	success = true
	return resp.ID, nil
}

// Status maps the container state onto the scheduler vocabulary. A
// container that has vanished is reported completed; the failure
// detector catches anything that actually went wrong.
func (b *Backend) Status(ctx context.Context, backendID string) (job.State, error) {
	inspect, err := b.client.ContainerInspect(ctx, backendID)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return job.StateCompleted, nil
		}
		return job.StateUnknown, fmt.Errorf("inspect container %s: %w", backendID, err)
	}

	st := inspect.State
	switch {
	case st == nil:
		return job.StateUnknown, nil
	case st.Running, st.Paused, st.Restarting:
		return job.StateRunning, nil
	case st.Status == "created":
		return job.StateQueued, nil
	case st.ExitCode == 0:
		return job.StateCompleted, nil
	default:
		return job.StateFailed, nil
	}
}

// Cancel stops and removes the container. A container that is already
// gone counts as cancelled.
func (b *Backend) Cancel(ctx context.Context, backendID string) error {
	timeout := stopTimeout
	if err := b.client.ContainerStop(ctx, backendID, container.StopOptions{Timeout: &timeout}); err != nil {
		if errdefs.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("stop container %s: %w", backendID, err)
	}
	if err := b.client.ContainerRemove(ctx, backendID, container.RemoveOptions{Force: true}); err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("remove container %s: %w", backendID, err)
	}
	return nil
}

// Available reports whether the daemon answers a ping.
func (b *Backend) Available(ctx context.Context) bool {
	_, err := b.client.Ping(ctx)
	return err == nil
}

func (b *Backend) Close() error {
	return b.client.Close()
}

func (b *Backend) pullIfMissing(ctx context.Context, imageName string) error {
	_, err := b.client.ImageInspect(ctx, imageName)
	if err == nil {
		return nil
	}
	if !errdefs.IsNotFound(err) {
		return err
	}

	// Detached context so a short submit deadline cannot abandon a pull
	// halfway through.
	pullCtx := context.WithoutCancel(ctx)
	reader, err := b.client.ImagePull(pullCtx, imageName, image.PullOptions{})
	if err != nil {
		return err
	}
	defer reader.Close()

	_, err = io.Copy(io.Discard, reader)
	return err
}

// bindMounts mounts the run directory, the workdir, and the log
// directories into the container at their host paths, so the script's
// own paths resolve unchanged.
func bindMounts(scriptPath string, d directives) []mount.Mount {
	dirs := []string{filepath.Dir(scriptPath), d.workdir, filepath.Dir(d.stdout), filepath.Dir(d.stderr)}

	seen := make(map[string]bool, len(dirs))
	var mounts []mount.Mount
	for _, dir := range dirs {
		if dir == "" || dir == "." || seen[dir] {
			continue
		}
		seen[dir] = true
		mounts = append(mounts, mount.Mount{
			Type:   mount.TypeBind,
			Source: dir,
			Target: dir,
		})
	}
	return mounts
}

func (b *Backend) removeContainer(ctx context.Context, containerID string) {
	if containerID == "" {
		return
	}
	timeout := stopTimeout
	_ = b.client.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout})
	_ = b.client.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true})
}

var _ job.Backend = (*Backend)(nil)
