package launcher

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/google/uuid"
)

// FunctionImage resolves which image and resource limits to launch for a
// function, the one piece of profile data the launcher needs that the
// core doesn't otherwise expose.
type FunctionImage func(functionName string) (image string, cpuCores float64, memoryMB int64, ok bool)

// DockerLauncher is a WorkerLauncher backed by the Docker Engine API,
// adapted from the teacher's dockerService: same client construction and
// container lifecycle calls, narrowed to the one container shape a worker
// needs (no port/volume allocation bookkeeping, since a worker talks back
// over the delegate's IPC channel rather than a published port).
type DockerLauncher struct {
	client  *client.Client
	resolve FunctionImage

	mu         sync.Mutex
	containers map[string]string // credential -> container ID
}

// NewDockerLauncher connects to the local Docker daemon the same way the
// teacher's NewDockerService does (FromEnv + API version negotiation).
func NewDockerLauncher(resolve FunctionImage) (*DockerLauncher, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("launcher: create docker client: %w", err)
	}
	return &DockerLauncher{
		client:     cli,
		resolve:    resolve,
		containers: make(map[string]string),
	}, nil
}

// TryLaunch implements WorkerLauncher by starting one container for the
// function and issuing it a fresh credential. The credential becomes the
// handle the delegate and the control plane use to address the worker
// from here on (spec §8 GLOSSARY: "opaque, unique identifier issued by
// the launcher").
func (l *DockerLauncher) TryLaunch(ctx context.Context, reason LaunchReason, metadata WorkerMetadata) (string, error) {
	image, cpuCores, memoryMB, ok := l.resolve(metadata.FunctionName)
	if !ok {
		return "", fmt.Errorf("launcher: no image configured for function %q", metadata.FunctionName)
	}

	credential := uuid.NewString()

	resources := container.Resources{
		NanoCPUs: int64(cpuCores * 1e9),
		Memory:   memoryMB * 1024 * 1024,
	}

	resp, err := l.client.ContainerCreate(ctx,
		&container.Config{
			Image: image,
			Env: []string{
				"WORKER_CREDENTIAL=" + credential,
				"WORKER_FUNCTION=" + metadata.FunctionName,
			},
		},
		&container.HostConfig{Resources: resources},
		nil, nil, "")
	if err != nil {
		return "", fmt.Errorf("launcher: create container for %q (%s): %w", metadata.FunctionName, reason, err)
	}

	if err := l.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("launcher: start container for %q: %w", metadata.FunctionName, err)
	}

	l.mu.Lock()
	l.containers[credential] = resp.ID
	l.mu.Unlock()

	log.Printf("launcher: started %s for function %q (credential %s, reason %s)", resp.ID, metadata.FunctionName, credential, reason)
	return credential, nil
}

// StopWorker implements WorkerLauncher.
func (l *DockerLauncher) StopWorker(ctx context.Context, credential string) error {
	l.mu.Lock()
	containerID, ok := l.containers[credential]
	if ok {
		delete(l.containers, credential)
	}
	l.mu.Unlock()
	if !ok {
		return fmt.Errorf("launcher: unknown credential %q", credential)
	}

	if err := l.client.ContainerStop(ctx, containerID, container.StopOptions{}); err != nil {
		return fmt.Errorf("launcher: stop container %s: %w", containerID, err)
	}
	if err := l.client.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("launcher: remove container %s: %w", containerID, err)
	}
	return nil
}

// Close releases the underlying Docker client.
func (l *DockerLauncher) Close() error {
	return l.client.Close()
}
