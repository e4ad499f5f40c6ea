// Package host installs a publishing session inside the host process:
// it claims a port, opens the journal, serves the gateway to a detached
// presentation process and tears everything down again.
package host

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/vessel/internal/api"
	"github.com/mattjoyce/vessel/internal/config"
	"github.com/mattjoyce/vessel/internal/engine"
	"github.com/mattjoyce/vessel/internal/events"
	"github.com/mattjoyce/vessel/internal/gateway"
	"github.com/mattjoyce/vessel/internal/journal"
	"github.com/mattjoyce/vessel/internal/log"
	"github.com/mattjoyce/vessel/internal/metrics"
	"github.com/mattjoyce/vessel/internal/protocol"
	"github.com/mattjoyce/vessel/internal/service"
	"github.com/mattjoyce/vessel/internal/storage"
)

// terminationGracePeriod is how long the child gets between quit, SIGTERM
// and SIGKILL.
const terminationGracePeriod = 5 * time.Second

var (
	ErrNotShown     = errors.New("presentation process is not running")
	ErrUninstalled  = errors.New("session is uninstalled")
	ErrEmptyCommand = errors.New("launch command is empty")
)

// LaunchFunc builds the command that starts the presentation process.
type LaunchFunc func(ctx context.Context, port int) (*exec.Cmd, error)

type Options struct {
	Config *config.Config
	// ConfigPath is handed to the child so both sides read the same file.
	ConfigPath string
	// Host names the embedding application. Defaults to "shell".
	Host string
	// Launch defaults to re-running this executable as "ui --aschild".
	Launch LaunchFunc
	// Passthrough receives text the child prints outside the protocol.
	Passthrough io.Writer
	Executor    gateway.Executor
	Container   gateway.Container
}

// Session is one installed publishing session.
type Session struct {
	id      string
	opts    Options
	cfg     *config.Config
	logger  *slog.Logger
	port    *gateway.PortClaim
	db      *sql.DB
	journal *journal.Journal
	hub     *events.Hub
	metrics *metrics.Metrics
	svc     *service.Local

	callbacks  *service.Callbacks
	cbMu       sync.Mutex
	deregister func()
	apiCancel  context.CancelFunc
	apiDone    chan error

	mu          sync.Mutex
	child       *exec.Cmd
	gw          *gateway.Gateway
	gwCancel    context.CancelFunc
	exited      chan struct{}
	uninstalled bool
}

// Install claims a port, opens the journal, starts the service and, when
// enabled, the status API.
func Install(ctx context.Context, opts Options) (*Session, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Defaults()
	}
	if opts.Host == "" {
		opts.Host = "shell"
	}
	if opts.Passthrough == nil {
		opts.Passthrough = os.Stdout
	}
	if opts.Launch == nil {
		opts.Launch = SelfLauncher(opts.ConfigPath)
	}

	s := &Session{
		id:      uuid.NewString(),
		opts:    opts,
		cfg:     cfg,
		hub:     events.NewHub(256),
		metrics: metrics.New(),
	}
	s.logger = log.WithSession(s.id)

	claim, err := gateway.NextAvailablePort(cfg.Ports.ClaimsDir, cfg.Ports.Base, cfg.Ports.Range)
	if err != nil {
		return nil, fmt.Errorf("install: %w", err)
	}
	s.port = claim

	db, err := storage.OpenSQLite(ctx, cfg.Journal.Path)
	if err != nil {
		_ = claim.Release()
		return nil, fmt.Errorf("install: %w", err)
	}
	s.db = db
	s.journal = journal.New(db)
	if err := s.journal.StartSession(ctx, journal.Session{
		ID:   s.id,
		Host: opts.Host,
		Port: claim.Port,
		PID:  os.Getpid(),
	}); err != nil {
		_ = db.Close()
		_ = claim.Release()
		return nil, fmt.Errorf("install: %w", err)
	}

	eng := engine.New(engine.Options{
		Roots:   cfg.Plugins.Roots,
		Timeout: cfg.Plugins.Timeout,
		Host:    opts.Host,
		Targets: cfg.Plugins.Targets,
	})
	s.callbacks = service.NewCallbacks()
	s.registerCallbacks()
	s.svc = service.NewLocal(eng, service.Options{
		Host:                opts.Host,
		Port:                claim.Port,
		Targets:             cfg.Plugins.Targets,
		ValidationThreshold: cfg.Pipeline.ValidationThreshold,
		SafeMode:            cfg.Protocol.SafeMode,
		Callbacks:           s.callbacks,
		Recorder:            service.RecorderFunc(s.record),
		Metrics:             s.metrics,
		Events:              s.hub,
	})

	if cfg.API.Enabled {
		s.startAPI()
	}

	s.logger.Info("session installed", "port", claim.Port, "host", opts.Host, "journal", cfg.Journal.Path)
	return s, nil
}

func (s *Session) ID() string                { return s.id }
func (s *Session) Port() int                 { return s.port.Port }
func (s *Session) Events() *events.Hub       { return s.hub }
func (s *Session) Metrics() *metrics.Metrics { return s.metrics }
func (s *Session) Service() *service.Local   { return s.svc }
func (s *Session) Journal() *journal.Journal { return s.journal }

// registerCallbacks installs the host callbacks unless they are already
// registered.
func (s *Session) registerCallbacks() {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	if s.deregister == nil {
		s.deregister = s.callbacks.Register(service.SignalInstanceToggled, s.onInstanceToggled)
	}
}

func (s *Session) dropCallbacks() {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	if s.deregister != nil {
		s.deregister()
		s.deregister = nil
	}
}

func (s *Session) record(ctx context.Context, command string, r protocol.Result) error {
	_, err := s.journal.Record(ctx, s.id, command, r)
	return err
}

// onInstanceToggled writes the user's toggle back onto the live instance.
func (s *Session) onInstanceToggled(_ context.Context, args service.EmitArgs) error {
	if args.Instance == nil {
		return fmt.Errorf("%s: no instance given", service.SignalInstanceToggled)
	}
	publish, ok := args.Values["newValue"].(bool)
	if !ok {
		return fmt.Errorf("%s: newValue must be a boolean", service.SignalInstanceToggled)
	}
	args.Context.MergeInstance(args.Instance, map[string]any{"publish": publish})
	s.logger.Info("instance toggled", "instance", args.Instance.Name, "publish", publish)
	return nil
}

func (s *Session) startAPI() {
	srv := api.New(api.Config{
		Listen:    net.JoinHostPort("127.0.0.1", strconv.Itoa(s.port.Port)),
		SessionID: s.id,
	}, s.svc, s.journal, s.hub, s.metrics, log.WithComponent("api"))

	ctx, cancel := context.WithCancel(context.Background())
	s.apiCancel = cancel
	s.apiDone = make(chan error, 1)
	go func() { s.apiDone <- srv.Start(ctx) }()
}

// Show launches the presentation process, or re-shows it when it is
// already running.
func (s *Session) Show(ctx context.Context, settings map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.uninstalled {
		return ErrUninstalled
	}
	if s.gw != nil {
		select {
		case <-s.gw.Gone():
		default:
			return s.gw.Parent().Show(settings)
		}
	}

	cmd, err := s.opts.Launch(ctx, s.port.Port)
	if err != nil {
		return fmt.Errorf("show: %w", err)
	}
	// A previous child may have died and taken the callbacks with it.
	s.registerCallbacks()
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("show: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("show: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("show: start %s: %w", cmd.Path, err)
	}
	s.logger.Info("presentation process started", "pid", cmd.Process.Pid)

	container := s.opts.Container
	if container == nil {
		container = gateway.NopContainer{}
	}
	gwCtx, cancel := context.WithCancel(context.Background())
	gw := gateway.New(protocol.NewChannel(stdout, stdin), gateway.ServiceRegistry(s.svc, container), gateway.Options{
		PulseInterval: s.cfg.Protocol.PulseInterval,
		Executor:      s.opts.Executor,
		Container:     container,
		Passthrough:   s.opts.Passthrough,
		Metrics:       s.metrics,
		Events:        s.hub,
		// Runs on gateway goroutines, possibly while Show holds s.mu.
		OnRemoteGone: func() {
			s.dropCallbacks()
			cancel()
		},
	})
	exited := make(chan struct{})
	go func() {
		if err := gw.Run(gwCtx); err != nil {
			s.logger.Warn("gateway stopped", "error", err)
		}
	}()
	go func() {
		defer close(exited)
		// Wait closes the pipes, so it must follow the reader.
		<-gw.Gone()
		if err := cmd.Wait(); err != nil {
			s.logger.Info("presentation process exited", "error", err)
			return
		}
		s.logger.Info("presentation process exited")
	}()

	s.child = cmd
	s.gw = gw
	s.gwCancel = cancel
	s.exited = exited

	return gw.Parent().Show(settings)
}

// Parent returns the sender for host-initiated commands.
func (s *Session) Parent() (*gateway.Parent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gw == nil {
		return nil, ErrNotShown
	}
	return s.gw.Parent(), nil
}

// Gone is closed once the presentation process stops answering. It is nil
// before Show.
func (s *Session) Gone() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gw == nil {
		return nil
	}
	return s.gw.Gone()
}

// Uninstall quits the presentation process, ends the session and releases
// everything Install acquired. It is safe to call more than once.
func (s *Session) Uninstall(ctx context.Context) error {
	s.mu.Lock()
	if s.uninstalled {
		s.mu.Unlock()
		return nil
	}
	s.uninstalled = true
	child, gw, cancel, exited := s.child, s.gw, s.gwCancel, s.exited
	s.mu.Unlock()

	var errs []error
	if gw != nil {
		s.stopChild(child, gw, exited)
		cancel()
	}
	if s.apiCancel != nil {
		s.apiCancel()
		if err := <-s.apiDone; err != nil {
			errs = append(errs, err)
		}
	}
	s.dropCallbacks()
	if err := s.journal.EndSession(ctx, s.id); err != nil {
		errs = append(errs, err)
	}
	if err := s.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close journal: %w", err))
	}
	if err := s.port.Release(); err != nil {
		errs = append(errs, fmt.Errorf("release port: %w", err))
	}
	s.logger.Info("session uninstalled")
	return errors.Join(errs...)
}

// stopChild asks the child to quit, then escalates SIGTERM to SIGKILL.
func (s *Session) stopChild(cmd *exec.Cmd, gw *gateway.Gateway, exited <-chan struct{}) {
	if err := gw.Parent().Quit(); err != nil {
		s.logger.Debug("quit not delivered", "error", err)
	}
	select {
	case <-exited:
		return
	case <-time.After(terminationGracePeriod):
	}

	s.logger.Warn("presentation process ignored quit, sending SIGTERM", "pid", cmd.Process.Pid)
	_ = cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-exited:
		return
	case <-time.After(terminationGracePeriod):
	}

	s.logger.Warn("presentation process ignored SIGTERM, sending SIGKILL", "pid", cmd.Process.Pid)
	_ = cmd.Process.Kill()
	<-exited
}
