// Package lifecycle runs an HTTP application as a managed background
// server: it allocates a port, starts the listener off the calling
// goroutine, waits for a single-fire readiness signal, and guarantees the
// run goroutine has joined before Stop returns.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/mkoering/snowfake/internal/config"
)

var ErrStartupFailed = errors.New("lifecycle: server failed to start")

// State tracks a handle through its lifecycle. StartupFailed and Stopped
// are terminal.
type State int32

const (
	StateCreated State = iota
	StateStarting
	StateReady
	StateStartupFailed
	StateStoppingRequested
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateStartupFailed:
		return "startup_failed"
	case StateStoppingRequested:
		return "stopping_requested"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

type Options struct {
	// Port to bind on the loopback address. Zero allocates an ephemeral
	// port via a throwaway probe listener; the allocation is best effort,
	// another process can win the race before the real bind.
	Port    int
	Handler http.Handler
	// ReadyTimeout bounds the wait for the readiness signal. Zero means
	// the default of 30s.
	ReadyTimeout time.Duration
	Logger       zerolog.Logger
}

// Handle owns one running background server. The started and shouldExit
// flags are the only state shared across goroutines besides the ready and
// done channels.
type Handle struct {
	port    int
	httpSrv *http.Server

	state      atomic.Int32
	started    atomic.Bool
	shouldExit atomic.Bool

	ready chan struct{}
	done  chan struct{}
	eg    *errgroup.Group

	stop    sync.Once
	stopErr error

	log zerolog.Logger
}

// Start launches the handler as a background server and blocks until it
// is accepting connections, it dies, or the ready timeout expires. Only a
// Ready handle is returned; any failure joins the run goroutine first.
func Start(opts Options) (*Handle, error) {
	if opts.Handler == nil {
		return nil, errors.New("lifecycle: nil handler")
	}
	port := opts.Port
	if port == 0 {
		p, err := probePort()
		if err != nil {
			return nil, err
		}
		port = p
	}
	timeout := opts.ReadyTimeout
	if timeout == 0 {
		timeout = config.Default().ReadyTimeout
	}

	h := &Handle{
		port: port,
		httpSrv: &http.Server{
			Handler:           opts.Handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
		ready: make(chan struct{}),
		done:  make(chan struct{}),
		eg:    &errgroup.Group{},
		log:   opts.Logger,
	}
	h.state.Store(int32(StateStarting))
	h.eg.Go(func() error {
		defer close(h.done)
		return h.run()
	})

	select {
	case <-h.ready:
		h.state.Store(int32(StateReady))
		h.log.Debug().Int("port", h.port).Msg("server ready")
		return h, nil
	case <-h.done:
		err := h.eg.Wait()
		h.state.Store(int32(StateStartupFailed))
		if err == nil {
			err = errors.New("server exited before signaling readiness")
		}
		return nil, fmt.Errorf("%w: %w", ErrStartupFailed, err)
	case <-time.After(timeout):
		// The run goroutine neither signaled nor died. Force the listener
		// closed and join before reporting.
		h.shouldExit.Store(true)
		h.httpSrv.Close() //nolint:errcheck
		<-h.done
		_ = h.eg.Wait()
		h.state.Store(int32(StateStartupFailed))
		return nil, fmt.Errorf("%w: not ready within %s", ErrStartupFailed, timeout)
	}
}

func (h *Handle) run() error {
	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(h.port)))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	h.started.Store(true)
	close(h.ready)
	if err := h.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

func (h *Handle) Port() int { return h.port }

// Addr is the loopback address the server listens on.
func (h *Handle) Addr() string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(h.port))
}

func (h *Handle) State() State { return State(h.state.Load()) }

// Started reports whether the server ever signaled readiness.
func (h *Handle) Started() bool { return h.started.Load() }

// StopRequested reports whether shutdown has been signaled.
func (h *Handle) StopRequested() bool { return h.shouldExit.Load() }

// Stop signals the server to exit and blocks until the run goroutine has
// joined. Safe to call more than once; later calls return the first
// result.
func (h *Handle) Stop() error {
	h.stop.Do(func() {
		h.state.Store(int32(StateStoppingRequested))
		h.shouldExit.Store(true)
		ctx, cancel := context.WithTimeout(context.Background(), config.Default().ShutdownGrace)
		defer cancel()
		if err := h.httpSrv.Shutdown(ctx); err != nil {
			h.httpSrv.Close() //nolint:errcheck
		}
		h.stopErr = h.eg.Wait()
		h.state.Store(int32(StateStopped))
		h.log.Debug().Int("port", h.port).Msg("server stopped")
	})
	return h.stopErr
}

// probePort asks the OS for an unused loopback port. The probe listener
// closes before the real bind, so the port can be lost in between;
// callers accept the allocation as best effort.
func probePort() (int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("probe port: %w", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	if err := ln.Close(); err != nil {
		return 0, fmt.Errorf("close probe listener: %w", err)
	}
	return port, nil
}
