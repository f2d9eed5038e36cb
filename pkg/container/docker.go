package container

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/vyvo/bundlecast/pkg/fault"
)

const outputTailLines = 20

// DockerCLI drives a docker-compatible command line client (docker, podman,
// nerdctl).
type DockerCLI struct {
	binary  string
	runArgs []string
	log     *zap.Logger
}

var _ Runtime = (*DockerCLI)(nil)

func NewDockerCLI(binary string, runArgs []string, logger *zap.Logger) *DockerCLI {
	if strings.TrimSpace(binary) == "" {
		binary = "docker"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DockerCLI{binary: binary, runArgs: append([]string(nil), runArgs...), log: logger}
}

// Build runs "build -t tag dir", streaming the engine output into the log.
// The returned image reference is the tag.
func (d *DockerCLI) Build(ctx context.Context, req BuildRequest) (string, error) {
	if err := d.stream(ctx, "build", "-t", req.Tag, req.ContextDir); err != nil {
		return "", fault.Runtime("build "+req.Tag, err)
	}
	return req.Tag, nil
}

// Run starts a detached container and returns its id.
func (d *DockerCLI) Run(ctx context.Context, req RunRequest) (string, error) {
	args := append([]string{"run", "-d"}, d.runArgs...)
	args = append(args, req.Image)
	out, err := d.output(ctx, args...)
	if err != nil {
		return "", fault.Runtime("run "+req.Image, err)
	}
	id := lastLine(out)
	if id == "" {
		return "", fault.Runtime("run "+req.Image, fmt.Errorf("runtime returned no container id"))
	}
	return id, nil
}

// List returns every container, running or not.
func (d *DockerCLI) List(ctx context.Context) ([]Container, error) {
	out, err := d.output(ctx, "ps", "-a", "--no-trunc", "--format", "{{json .}}")
	if err != nil {
		return nil, fault.Runtime("list containers", err)
	}

	var containers []Container
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var row struct {
			ID     string `json:"ID"`
			Image  string `json:"Image"`
			Names  string `json:"Names"`
			State  string `json:"State"`
			Status string `json:"Status"`
		}
		if err := json.Unmarshal([]byte(line), &row); err != nil {
			return nil, fault.Runtime("list containers", fmt.Errorf("decode ps row: %w", err))
		}
		containers = append(containers, Container{
			ID:     row.ID,
			Image:  row.Image,
			Name:   row.Names,
			State:  row.State,
			Status: row.Status,
		})
	}
	return containers, scanner.Err()
}

func (d *DockerCLI) Stop(ctx context.Context, id string) error {
	if _, err := d.output(ctx, "stop", id); err != nil {
		return fault.Runtime("stop "+id, err)
	}
	return nil
}

func (d *DockerCLI) Remove(ctx context.Context, id string) error {
	if _, err := d.output(ctx, "rm", id); err != nil {
		return fault.Runtime("remove "+id, err)
	}
	return nil
}

// Logs returns the last tail lines of a container's output.
func (d *DockerCLI) Logs(ctx context.Context, id string, tail int) (string, error) {
	if tail <= 0 {
		tail = 100
	}
	out, err := d.output(ctx, "logs", "--tail", strconv.Itoa(tail), id)
	if err != nil {
		return "", fault.Runtime("logs "+id, err)
	}
	return out, nil
}

func (d *DockerCLI) output(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, d.binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return stdout.String(), fmt.Errorf("%s %s: %w: %s", d.binary, args[0], err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// stream runs the command and forwards each stdout/stderr line to the log.
// On failure the last lines of output are folded into the error.
func (d *DockerCLI) stream(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, d.binary, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe error: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe error: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%s %s start failed: %w", d.binary, args[0], err)
	}

	tail := &lineTail{max: outputTailLines}
	var wg sync.WaitGroup
	wg.Add(2)
	go d.streamPipe(args[0], stdout, tail, &wg)
	go d.streamPipe(args[0], stderr, tail, &wg)
	// Pipes must be drained before Wait closes them.
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("%s %s failed: %w: %s", d.binary, args[0], err, tail.String())
	}
	return nil
}

func (d *DockerCLI) streamPipe(step string, pipe io.Reader, tail *lineTail, wg *sync.WaitGroup) {
	defer wg.Done()
	scanner := bufio.NewScanner(pipe)
	for scanner.Scan() {
		line := scanner.Text()
		tail.add(line)
		d.log.Debug("runtime output", zap.String("step", step), zap.String("line", line))
	}
	if err := scanner.Err(); err != nil {
		d.log.Warn("runtime output stream error", zap.String("step", step), zap.Error(err))
	}
}

type lineTail struct {
	mu    sync.Mutex
	max   int
	lines []string
}

func (t *lineTail) add(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, line)
	if len(t.lines) > t.max {
		t.lines = t.lines[len(t.lines)-t.max:]
	}
}

func (t *lineTail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.lines, "\n")
}

func lastLine(out string) string {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
