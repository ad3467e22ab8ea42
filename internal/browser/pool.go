// Package browser launches Chrome containers for the cdp backend.
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/sirupsen/logrus"
)

const (
	DefaultImage = "browserless/chrome:latest"

	devtoolsPort  = nat.Port("3000/tcp")
	readyInterval = 500 * time.Millisecond
	readyTimeout  = 30 * time.Second
)

// Instance is a running browser container.
type Instance struct {
	ContainerID string
	SessionID   string
	// Endpoint is the DevTools HTTP endpoint, e.g. http://localhost:49153.
	Endpoint string
	Port     string
}

// LaunchOptions describe the browser a session needs.
type LaunchOptions struct {
	SessionID   string
	UserDataDir string
	Proxy       string
	Headless    bool
}

// Pool starts and stops one container per session.
type Pool struct {
	client *client.Client
	image  string
	http   *http.Client
	log    logrus.FieldLogger
}

func NewPool(imageRef string, log logrus.FieldLogger) (*Pool, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	if imageRef == "" {
		imageRef = DefaultImage
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	return &Pool{
		client: cli,
		image:  imageRef,
		http:   &http.Client{Timeout: 2 * time.Second},
		log:    log,
	}, nil
}

func (p *Pool) containerConfig(opts LaunchOptions) (*container.Config, *container.HostConfig) {
	env := []string{
		"CONNECTION_TIMEOUT=-1",        // sessions end when the driver says so
		"MAX_CONCURRENT_SESSIONS=1",    // one driver session per container
		"PREBOOT_CHROME=true",          // faster first navigation
		"KEEP_ALIVE=true",              // keep the browser between connections
		"EXIT_ON_HEALTH_FAILURE=false", // let the manager decide
		"DEFAULT_USER_DATA_DIR=/data",
		fmt.Sprintf("DEFAULT_HEADLESS=%t", opts.Headless),
	}
	if opts.Proxy != "" {
		args, _ := json.Marshal([]string{"--proxy-server=" + opts.Proxy})
		env = append(env, "DEFAULT_LAUNCH_ARGS="+string(args))
	}

	config := &container.Config{
		Image: p.image,
		Labels: map[string]string{
			"session-id": opts.SessionID,
			"managed-by": "jbrowserdriver",
		},
		Env:          env,
		ExposedPorts: nat.PortSet{devtoolsPort: struct{}{}},
	}

	hostConfig := &container.HostConfig{
		PortBindings: nat.PortMap{
			devtoolsPort: []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: "0"}},
		},
	}
	if opts.UserDataDir != "" {
		hostConfig.Mounts = []mount.Mount{{
			Type:   mount.TypeBind,
			Source: opts.UserDataDir,
			Target: "/data",
		}}
	}
	return config, hostConfig
}

// Launch starts a browser container and waits until DevTools answers.
func (p *Pool) Launch(ctx context.Context, opts LaunchOptions) (*Instance, error) {
	if opts.SessionID == "" {
		return nil, fmt.Errorf("session id is required")
	}
	name := opts.SessionID
	if len(name) > 8 {
		name = name[:8]
	}
	config, hostConfig := p.containerConfig(opts)

	resp, err := p.client.ContainerCreate(ctx, config, hostConfig, nil, nil, "jbd-session-"+name)
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}
	log := p.log.WithField("session", opts.SessionID).WithField("container", resp.ID[:12])

	instance, err := p.start(ctx, resp.ID, opts.SessionID)
	if err != nil {
		cleanup, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if rmErr := p.client.ContainerRemove(cleanup, resp.ID, container.RemoveOptions{Force: true}); rmErr != nil {
			log.WithError(rmErr).Warn("failed to remove broken container")
		}
		return nil, err
	}

	log.WithField("endpoint", instance.Endpoint).Info("browser container ready")
	return instance, nil
}

func (p *Pool) start(ctx context.Context, containerID, sessionID string) (*Instance, error) {
	if err := p.client.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	inspect, err := p.client.ContainerInspect(ctx, containerID)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect container: %w", err)
	}
	bindings := inspect.NetworkSettings.Ports[devtoolsPort]
	if len(bindings) == 0 {
		return nil, fmt.Errorf("container exposes no devtools port")
	}
	port := bindings[0].HostPort
	endpoint := "http://localhost:" + port

	readyCtx, cancel := context.WithTimeout(ctx, readyTimeout)
	defer cancel()
	if err := WaitReady(readyCtx, p.http, endpoint); err != nil {
		return nil, fmt.Errorf("browser failed to become ready: %w", err)
	}

	return &Instance{
		ContainerID: containerID,
		SessionID:   sessionID,
		Endpoint:    endpoint,
		Port:        port,
	}, nil
}

// Stop stops and removes the container of instance.
func (p *Pool) Stop(ctx context.Context, instance *Instance) error {
	timeout := 10
	if err := p.client.ContainerStop(ctx, instance.ContainerID, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("failed to stop container: %w", err)
	}
	if err := p.client.ContainerRemove(ctx, instance.ContainerID, container.RemoveOptions{}); err != nil {
		return fmt.Errorf("failed to remove container: %w", err)
	}
	p.log.WithField("session", instance.SessionID).Debug("browser container removed")
	return nil
}

func (p *Pool) IsHealthy(ctx context.Context, instance *Instance) bool {
	inspect, err := p.client.ContainerInspect(ctx, instance.ContainerID)
	if err != nil {
		return false
	}
	return inspect.State != nil && inspect.State.Running
}

// EnsureImage pulls the browser image unless it is already present.
func (p *Pool) EnsureImage(ctx context.Context) error {
	images, err := p.client.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return err
	}
	for _, img := range images {
		for _, tag := range img.RepoTags {
			if tag == p.image {
				return nil
			}
		}
	}

	p.log.WithField("image", p.image).Info("pulling browser image")
	reader, err := p.client.ImagePull(ctx, p.image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	defer reader.Close()

	_, err = io.Copy(io.Discard, reader)
	return err
}

func (p *Pool) Close() error {
	return p.client.Close()
}

// WaitReady polls the DevTools /json/version endpoint until it answers 200
// or ctx ends.
func WaitReady(ctx context.Context, hc *http.Client, endpoint string) error {
	ticker := time.NewTicker(readyInterval)
	defer ticker.Stop()

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"/json/version", nil)
		if err != nil {
			return err
		}
		resp, err := hc.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("devtools at %s not ready: %w", endpoint, ctx.Err())
		case <-ticker.C:
		}
	}
}
