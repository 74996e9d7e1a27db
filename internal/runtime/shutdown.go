// Package runtime runs the service until it is told to stop, then closes
// its components newest first.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joss/lumina/internal/logging"
)

// DefaultShutdownTimeout bounds the whole cleanup sequence.
const DefaultShutdownTimeout = 15 * time.Second

// ShutdownFunc releases one component.
type ShutdownFunc func(ctx context.Context) error

type component struct {
	name string
	stop ShutdownFunc
}

// ShutdownManager stops registered components once, in reverse
// registration order, so a listener registered after its session store is
// drained before the store closes.
type ShutdownManager struct {
	mu         sync.Mutex
	components []component
	timeout    time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
	done   chan struct{}
	err    error
	log    *logging.Logger
}

// NewShutdownManager creates a manager whose cleanup must finish within
// timeout.
func NewShutdownManager(timeout time.Duration) *ShutdownManager {
	ctx, cancel := context.WithCancel(context.Background())
	return &ShutdownManager{
		timeout: timeout,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		log:     logging.New("runtime"),
	}
}

// Register adds a component to stop on shutdown.
func (m *ShutdownManager) Register(name string, stop ShutdownFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.components = append(m.components, component{name: name, stop: stop})
}

// RegisterCloser stops c with Close, ignoring the deadline.
func (m *ShutdownManager) RegisterCloser(name string, c io.Closer) {
	m.Register(name, func(context.Context) error { return c.Close() })
}

// Context is cancelled as soon as shutdown begins.
func (m *ShutdownManager) Context() context.Context { return m.ctx }

// Done is closed once every component has been stopped.
func (m *ShutdownManager) Done() <-chan struct{} { return m.done }

// Err waits for shutdown and returns the joined component errors.
func (m *ShutdownManager) Err() error {
	<-m.done
	return m.err
}

// ListenForSignals shuts down on SIGINT or SIGTERM.
func (m *ShutdownManager) ListenForSignals() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		defer signal.Stop(sig)
		select {
		case s := <-sig:
			m.log.Info("signal_received", map[string]any{"signal": s.String()})
			m.Shutdown()
		case <-m.done:
		}
	}()
}

// Run calls serve and shuts down when it returns, or stops serve through
// the registered components when shutdown starts first. serve must return
// once its component has been stopped. The serve error takes precedence
// over cleanup errors.
func (m *ShutdownManager) Run(serve func() error) error {
	errc := make(chan error, 1)
	go func() { errc <- serve() }()

	var serveErr error
	select {
	case serveErr = <-errc:
		if serveErr != nil {
			m.log.Error("serve_failed", nil, serveErr)
		}
		m.Shutdown()
	case <-m.ctx.Done():
		m.Shutdown()
		serveErr = <-errc
	}
	if serveErr != nil {
		return serveErr
	}
	return m.Err()
}

// Shutdown stops every component. Later calls wait for the first.
func (m *ShutdownManager) Shutdown() {
	m.once.Do(m.stopAll)
	<-m.done
}

func (m *ShutdownManager) stopAll() {
	defer close(m.done)
	m.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	m.mu.Lock()
	components := append([]component(nil), m.components...)
	m.mu.Unlock()

	start := time.Now()
	var errs []error
	for i := len(components) - 1; i >= 0; i-- {
		c := components[i]
		if err := ctx.Err(); err != nil {
			errs = append(errs, fmt.Errorf("%s: skipped: %w", c.name, err))
			continue
		}
		cStart := time.Now()
		err := logging.Guard("runtime", func() error { return c.stop(ctx) })
		if err != nil {
			err = fmt.Errorf("%s: %w", c.name, err)
			errs = append(errs, err)
		}
		m.log.TimedEvent("component_stopped", cStart, map[string]any{"component": c.name}, err)
	}
	m.err = errors.Join(errs...)
	m.log.TimedEvent("shutdown_complete", start, map[string]any{"components": len(components)}, m.err)
}
