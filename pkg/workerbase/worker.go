package workerbase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/cuemby/telemetry-collector/internal/metrics"
	"github.com/cuemby/telemetry-collector/internal/telemetry/log"
)

// ProtocolHooks is the narrow contract a protocol implementation (Modbus,
// BACnet, MQTT) plugs into the shared lifecycle (§4.2).
type ProtocolHooks interface {
	// EstablishProtocolConnection opens the transport (TCP dial, serial
	// port open, UDP socket, MQTT connect) and does any handshake needed
	// before polling/subscribing can start.
	EstablishProtocolConnection(ctx context.Context) error

	// CloseProtocolConnection releases the transport.
	CloseProtocolConnection() error

	// CheckProtocolConnection reports whether the transport is still
	// believed healthy, without performing I/O beyond what's needed to
	// verify liveness (e.g. checking a last-seen timestamp).
	CheckProtocolConnection() bool

	// SendProtocolKeepAlive performs whatever the protocol needs to keep
	// the connection/session alive (a Modbus no-op read, a BACnet Who-Is,
	// an MQTT PING is handled by the client library itself so this may be
	// a no-op there).
	SendProtocolKeepAlive(ctx context.Context) error

	// RunProtocolLoop performs the protocol's actual work for one
	// iteration (a Modbus poll-group pass, a BACnet COV check, blocking
	// briefly is fine). It returns when the iteration is done; workerbase
	// calls it repeatedly while in StateRunning.
	RunProtocolLoop(ctx context.Context) error
}

// Config configures a Worker's reconnect and keep-alive policy.
type Config struct {
	DeviceID string

	KeepAliveInterval time.Duration // 0 disables keep-alives
	ReconnectInitialInterval time.Duration
	ReconnectMaxInterval     time.Duration
	ReconnectMaxElapsedTime  time.Duration // 0 = retry forever
}

func (c Config) withDefaults() Config {
	if c.ReconnectInitialInterval <= 0 {
		c.ReconnectInitialInterval = 500 * time.Millisecond
	}
	if c.ReconnectMaxInterval <= 0 {
		c.ReconnectMaxInterval = 30 * time.Second
	}
	return c
}

// Worker drives one field device's connection lifecycle (§4.2). It is
// embedded (by composition, not inheritance) into each protocol worker
// type, which supplies ProtocolHooks.
type Worker struct {
	cfg   Config
	hooks ProtocolHooks

	mu    sync.Mutex
	state State

	cancel context.CancelFunc
	doneCh chan struct{}

	logger zerolog.Logger
}

// New creates a Worker in StateCreated. Call Start to begin the lifecycle.
func New(cfg Config, hooks ProtocolHooks) *Worker {
	return &Worker{
		cfg:    cfg.withDefaults(),
		hooks:  hooks,
		state:  StateCreated,
		logger: log.WithDeviceID(cfg.DeviceID),
	}
}

// State returns the worker's current lifecycle state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Worker) setState(to State) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !CanTransition(w.state, to) {
		return &ErrIllegalTransition{From: w.state, To: to}
	}
	from := w.state
	w.state = to
	metrics.WorkerStatus.WithLabelValues(w.cfg.DeviceID, string(from)).Set(0)
	metrics.WorkerStatus.WithLabelValues(w.cfg.DeviceID, string(to)).Set(1)
	w.logger.Debug().Str("from", string(from)).Str("to", string(to)).Msg("worker state transition")
	return nil
}

// Start moves the worker from Created through Starting/Connecting and
// into Running, spawning the background loop. Idempotent: calling Start
// on an already-started worker is a no-op (§4.1's idempotent-control
// invariant, enforced here for the single-worker slice of it).
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.state != StateCreated && w.state != StateStopped {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.doneCh = make(chan struct{})

	if err := w.setState(StateStarting); err != nil {
		return err
	}

	go w.run(runCtx)
	return nil
}

// Stop transitions the worker to Stopping and blocks until its background
// loop exits and the protocol connection is closed.
func (w *Worker) Stop() error {
	w.mu.Lock()
	if w.state == StateStopped || w.state == StateCreated {
		w.mu.Unlock()
		return nil
	}
	done := w.doneCh
	w.mu.Unlock()

	if err := w.setState(StateStopping); err != nil {
		return err
	}
	if w.cancel != nil {
		w.cancel()
	}
	if done != nil {
		<-done
	}
	return nil
}

// Pause suspends RunProtocolLoop iterations without tearing down the
// connection; Resume restores them.
func (w *Worker) Pause() error {
	return w.setState(StatePaused)
}

func (w *Worker) Resume() error {
	return w.setState(StateRunning)
}

// run is the worker's single background goroutine: connect, then loop
// between RunProtocolLoop iterations and keep-alives until asked to stop,
// reconnecting with exponential backoff on any connection loss.
func (w *Worker) run(ctx context.Context) {
	defer close(w.doneCh)
	defer w.hooks.CloseProtocolConnection()
	defer w.setState(StateStopped)

	if err := w.connectWithBackoff(ctx); err != nil {
		w.logger.Error().Err(err).Msg("worker: giving up connecting")
		return
	}

	var lastKeepAlive time.Time
	ticker := time.NewTicker(pollTick(w.cfg.KeepAliveInterval))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.mu.Lock()
			state := w.state
			w.mu.Unlock()

			if state == StateStopping {
				return
			}

			if !w.hooks.CheckProtocolConnection() {
				w.logger.Warn().Msg("worker: connection check failed, reconnecting")
				if err := w.setState(StateReconnecting); err != nil {
					return
				}
				if err := w.connectWithBackoff(ctx); err != nil {
					w.logger.Error().Err(err).Msg("worker: giving up reconnecting")
					return
				}
				continue
			}

			if w.cfg.KeepAliveInterval > 0 && time.Since(lastKeepAlive) >= w.cfg.KeepAliveInterval {
				if err := w.hooks.SendProtocolKeepAlive(ctx); err != nil {
					w.logger.Warn().Err(err).Msg("worker: keep-alive failed")
				}
				lastKeepAlive = time.Now()
			}

			if state == StatePaused {
				continue
			}

			if err := w.hooks.RunProtocolLoop(ctx); err != nil {
				w.logger.Warn().Err(err).Msg("worker: protocol loop iteration failed")
			}
		}
	}
}

func pollTick(keepAlive time.Duration) time.Duration {
	if keepAlive <= 0 {
		return 100 * time.Millisecond
	}
	if keepAlive < 100*time.Millisecond {
		return keepAlive
	}
	return 100 * time.Millisecond
}

// connectWithBackoff drives Connecting -> Connected -> Running, retrying
// EstablishProtocolConnection with exponential backoff until it succeeds
// or the context is cancelled / max elapsed time is hit.
func (w *Worker) connectWithBackoff(ctx context.Context) error {
	if err := w.setState(StateConnecting); err != nil {
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.cfg.ReconnectInitialInterval
	b.MaxInterval = w.cfg.ReconnectMaxInterval
	b.MaxElapsedTime = w.cfg.ReconnectMaxElapsedTime

	op := func() error {
		return w.hooks.EstablishProtocolConnection(ctx)
	}

	notify := func(err error, wait time.Duration) {
		w.logger.Warn().Err(err).Dur("retry_in", wait).Msg("worker: connection attempt failed")
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		return fmt.Errorf("workerbase: connecting device %s: %w", w.cfg.DeviceID, err)
	}

	if err := w.setState(StateConnected); err != nil {
		return err
	}
	return w.setState(StateRunning)
}
