package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/mattjoyce/vessel/internal/log"
	"github.com/mattjoyce/vessel/internal/plugin"
	"github.com/mattjoyce/vessel/internal/protocol"
)

const (
	// maxStderrBytes caps the amount of stderr captured from plugin execution.
	maxStderrBytes = 64 * 1024

	// terminationGracePeriod is the time we wait after SIGTERM before sending SIGKILL.
	terminationGracePeriod = 5 * time.Second
)

// Options configure an Engine.
type Options struct {
	Roots   []string
	Timeout time.Duration
	// Host filters plugins by their hosts list. Empty accepts all.
	Host string
	// Targets filters plugins by their targets list.
	Targets []string
}

// Engine discovers manifest plugins and executes them as subprocesses.
type Engine struct {
	opts   Options
	logger *slog.Logger
}

// New creates an Engine.
func New(opts Options) *Engine {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if len(opts.Targets) == 0 {
		opts.Targets = []string{"default"}
	}
	return &Engine{
		opts:   opts,
		logger: log.WithComponent("engine"),
	}
}

// Discover rescans the plugin roots and returns active plugins sorted by order.
func (e *Engine) Discover(ctx context.Context) ([]*plugin.Plugin, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	reg, err := plugin.DiscoverMany(e.opts.Roots, func(level, msg string, args ...any) {
		e.logger.Log(ctx, log.ParseLevel(level), msg, args...)
	})
	if err != nil {
		return nil, fmt.Errorf("discover plugins: %w", err)
	}

	var out []*plugin.Plugin
	for _, p := range reg.Sorted() {
		if e.opts.Host != "" && !p.SupportsHost(e.opts.Host) {
			continue
		}
		if !p.InTargets(e.opts.Targets) {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// Process runs a plugin against the context, or against one instance when
// inst is non-nil.
func (e *Engine) Process(ctx context.Context, p *plugin.Plugin, c *Context, inst *Instance) protocol.Result {
	return e.run(ctx, CommandProcess, p, c, inst)
}

// Repair runs a plugin's repair command.
func (e *Engine) Repair(ctx context.Context, p *plugin.Plugin, c *Context, inst *Instance) protocol.Result {
	return e.run(ctx, CommandRepair, p, c, inst)
}

func (e *Engine) run(ctx context.Context, command string, p *plugin.Plugin, c *Context, inst *Instance) protocol.Result {
	logger := log.WithPlugin(p.Name).With("command", command)
	started := time.Now()

	req := &Request{
		Protocol:   1,
		Command:    command,
		Plugin:     p.DTO(),
		Context:    c.payload(),
		DeadlineAt: started.Add(e.opts.Timeout).UTC(),
	}
	result := protocol.Result{Plugin: req.Plugin, Records: []protocol.Record{}}
	if inst != nil {
		dto := c.InstanceDTO(inst)
		req.Instance = &dto
		result.Instance = &dto
		logger = logger.With("instance", inst.Name)
	}

	resp, stderr, err := e.spawnPlugin(ctx, p.Entrypoint, req, logger)
	result.Duration = float64(time.Since(started).Microseconds()) / 1000

	if err != nil {
		msg := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			msg = fmt.Sprintf("plugin timed out after %s", e.opts.Timeout)
		}
		result.Error = &protocol.ErrorInfo{Message: msg, Func: command, Exc: stderr}
		logger.Warn("plugin failed", "error", msg)
		return result
	}

	result.Records = toRecords(p.Name, started, resp.Logs)

	// Updates are applied even on error so collectors can report partial work.
	if len(resp.ContextData) > 0 {
		c.Merge(resp.ContextData)
	}
	if inst != nil && len(resp.Data) > 0 {
		c.MergeInstance(inst, resp.Data)
		dto := c.InstanceDTO(inst)
		result.Instance = &dto
	}
	for _, ni := range resp.Instances {
		created := c.Add(ni.Name, ni.Data)
		logger.Debug("instance collected", "instance", created.Name, "id", created.ID)
	}

	if resp.Status == "error" {
		info := resp.ErrorInfo
		if info == nil {
			info = &protocol.ErrorInfo{}
		}
		if info.Message == "" {
			info.Message = resp.Error
		}
		if info.Exc == "" {
			info.Exc = stderr
		}
		result.Error = info
		logger.Info("plugin reported error", "error", info.Message)
		return result
	}

	result.Success = true
	logger.Debug("plugin succeeded", "duration_ms", result.Duration)
	return result
}

func toRecords(name string, at time.Time, logs []LogEntry) []protocol.Record {
	records := make([]protocol.Record, 0, len(logs))
	created := float64(at.UnixNano()) / 1e9
	for _, entry := range logs {
		records = append(records, protocol.Record{
			Name:      name,
			LevelName: strings.ToUpper(entry.Level),
			LevelNo:   protocol.LevelNo(entry.Level),
			Message:   entry.Message,
			Created:   created,
			Msecs:     float64(at.Nanosecond()) / 1e6,
		})
	}
	return records
}

// spawnPlugin executes a plugin subprocess with timeout enforcement.
func (e *Engine) spawnPlugin(
	ctx context.Context,
	entrypoint string,
	req *Request,
	logger *slog.Logger,
) (*Response, string, error) {
	timeoutTimer := time.NewTimer(e.opts.Timeout)
	defer timeoutTimer.Stop()

	// Don't use CommandContext: termination is managed here.
	cmd := exec.Command(entrypoint)
	cmd.Dir = req.Plugin.Path

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, "", fmt.Errorf("create stdin pipe: %w", err)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger.Debug("spawning plugin", "entrypoint", entrypoint, "timeout", e.opts.Timeout)

	if err := cmd.Start(); err != nil {
		return nil, "", fmt.Errorf("start process: %w", err)
	}

	writeErr := make(chan error, 1)
	go func() {
		defer stdin.Close()
		if err := EncodeRequest(stdin, req); err != nil {
			writeErr <- fmt.Errorf("encode request: %w", err)
			return
		}
		writeErr <- nil
	}()

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	terminate := func(reason string) {
		logger.Warn("terminating plugin, sending SIGTERM", "reason", reason)
		if cmd.Process != nil {
			if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
				logger.Error("failed to send SIGTERM", "error", err)
			}
		}

		grace := time.NewTimer(terminationGracePeriod)
		defer grace.Stop()

		select {
		case <-waitErr:
			logger.Info("plugin exited after SIGTERM")
		case <-grace.C:
			logger.Warn("plugin did not exit after SIGTERM, sending SIGKILL")
			if cmd.Process != nil {
				if err := cmd.Process.Kill(); err != nil {
					logger.Error("failed to send SIGKILL", "error", err)
				}
			}
			<-waitErr
		}
	}

	select {
	case <-timeoutTimer.C:
		terminate("timeout")
		return nil, truncateStderr(stderr.String()), context.DeadlineExceeded

	case <-ctx.Done():
		terminate("cancelled")
		return nil, truncateStderr(stderr.String()), ctx.Err()

	case err := <-waitErr:
		stderrStr := truncateStderr(stderr.String())
		// A plugin may exit without reading stdin; that is not a write failure
		// worth reporting over its own response.
		if werr := <-writeErr; werr != nil && stdout.Len() == 0 {
			return nil, stderrStr, werr
		}

		if err != nil {
			var exitErr *exec.ExitError
			if !errors.As(err, &exitErr) {
				return nil, stderrStr, fmt.Errorf("wait for process: %w", err)
			}
			logger.Warn("plugin exited with non-zero status", "exit_code", exitErr.ExitCode())
			if stdout.Len() == 0 {
				return nil, stderrStr, fmt.Errorf("plugin exited with status %d", exitErr.ExitCode())
			}
		}

		resp, rawBytes, err := DecodeResponse(bytes.NewReader(stdout.Bytes()))
		if err != nil {
			logger.Error("failed to decode plugin response", "error", err, "stdout", string(rawBytes))
			return nil, stderrStr, fmt.Errorf("decode response: %w", err)
		}
		return resp, stderrStr, nil
	}
}

func truncateStderr(s string) string {
	if len(s) > maxStderrBytes {
		return s[:maxStderrBytes]
	}
	return s
}
