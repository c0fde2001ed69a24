// Package workermanager owns the device_id -> worker registry (§4.1): it
// starts, stops, pauses, resumes, and restarts each device's
// workerbase.Worker, and routes operator write requests to whichever
// concrete protocol worker backs a device, failing fast with
// errs.ErrNotConnected/errs.ErrUnknownDevice rather than blocking on a
// dead connection. Registration itself (building the right protocol
// worker for a device's config) is left to the caller, since only the
// process wiring (cmd/collector) knows which protocol package to
// construct for a given config.DeviceConfig.Protocol.
package workermanager

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/cuemby/telemetry-collector/internal/errs"
	"github.com/cuemby/telemetry-collector/internal/telemetry/log"
	"github.com/cuemby/telemetry-collector/pkg/model"
	"github.com/cuemby/telemetry-collector/pkg/workerbase"
	"github.com/rs/zerolog"
)

// Writable is implemented by protocol workers that support operator
// writes (currently Modbus TCP/RTU). A worker that doesn't implement it
// fails a write request with errs.ErrUnauthorisedWrite.
type Writable interface {
	WritePoint(ctx context.Context, pointID string, value model.Value) error
}

// Status summarises one registered device for the control surface (§6).
type Status struct {
	DeviceID string
	Protocol string
	State    workerbase.State
}

type entry struct {
	protocol string
	worker   *workerbase.Worker
	hooks    workerbase.ProtocolHooks
	cfg      workerbase.Config
}

// Manager is the device registry. Its lock is never held across a
// blocking call into a *workerbase.Worker: every registry method takes
// the lock only long enough to look up or record the entry, mirroring
// the teacher's registry-map-plus-RWMutex pattern (grounded on
// pkg/manager's node-registry lookups, which hold their lock only for
// the map access and never across the RPC/IO that follows).
type Manager struct {
	mu      sync.RWMutex
	entries map[string]*entry

	logger zerolog.Logger
}

// New creates an empty Manager.
func New() *Manager {
	return &Manager{
		entries: make(map[string]*entry),
		logger:  log.WithComponent("workermanager"),
	}
}

// Register adds a device to the registry in workerbase.StateCreated,
// built from its already-constructed ProtocolHooks implementation.
// Registering an id that's already present is an error; callers wanting
// to replace a device's wiring must Deregister first.
func (m *Manager) Register(protocol string, cfg workerbase.Config, hooks workerbase.ProtocolHooks) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.entries[cfg.DeviceID]; exists {
		return fmt.Errorf("workermanager: device %q already registered", cfg.DeviceID)
	}
	m.entries[cfg.DeviceID] = &entry{
		protocol: protocol,
		worker:   workerbase.New(cfg, hooks),
		hooks:    hooks,
		cfg:      cfg,
	}
	return nil
}

// Deregister stops (if running) and removes a device from the registry.
func (m *Manager) Deregister(deviceID string) error {
	e, err := m.lookup(deviceID)
	if err != nil {
		return err
	}
	if err := e.worker.Stop(); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.entries, deviceID)
	m.mu.Unlock()
	return nil
}

func (m *Manager) lookup(deviceID string) (*entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[deviceID]
	if !ok {
		return nil, fmt.Errorf("workermanager: device %q: %w", deviceID, errs.ErrUnknownDevice)
	}
	return e, nil
}

// Start is idempotent: starting an already-running device is a no-op
// (workerbase.Worker.Start already guarantees this; Start just forwards).
func (m *Manager) Start(ctx context.Context, deviceID string) error {
	e, err := m.lookup(deviceID)
	if err != nil {
		return err
	}
	return e.worker.Start(ctx)
}

// Stop is idempotent: stopping an already-stopped device is a no-op.
func (m *Manager) Stop(deviceID string) error {
	e, err := m.lookup(deviceID)
	if err != nil {
		return err
	}
	return e.worker.Stop()
}

func (m *Manager) Pause(deviceID string) error {
	e, err := m.lookup(deviceID)
	if err != nil {
		return err
	}
	return e.worker.Pause()
}

func (m *Manager) Resume(deviceID string) error {
	e, err := m.lookup(deviceID)
	if err != nil {
		return err
	}
	return e.worker.Resume()
}

// Restart stops and starts a device's worker. workerbase.Worker.Start
// accepts StateStopped as a valid starting point, so this reuses the same
// *workerbase.Worker instance rather than rebuilding it.
func (m *Manager) Restart(ctx context.Context, deviceID string) error {
	e, err := m.lookup(deviceID)
	if err != nil {
		return err
	}
	if err := e.worker.Stop(); err != nil {
		return err
	}
	return e.worker.Start(ctx)
}

// State returns a device's current lifecycle state.
func (m *Manager) State(deviceID string) (workerbase.State, error) {
	e, err := m.lookup(deviceID)
	if err != nil {
		return "", err
	}
	return e.worker.State(), nil
}

// List returns every registered device's status, sorted by device id for
// stable CLI/gRPC output.
func (m *Manager) List() []Status {
	m.mu.RLock()
	out := make([]Status, 0, len(m.entries))
	for id, e := range m.entries {
		out = append(out, Status{DeviceID: id, Protocol: e.protocol, State: e.worker.State()})
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

// StartAll starts every registered device, continuing past individual
// failures and returning the first error encountered (if any) after all
// devices have been attempted, so one misconfigured device doesn't block
// the rest of the fleet from coming up.
func (m *Manager) StartAll(ctx context.Context) error {
	var firstErr error
	for _, s := range m.List() {
		if err := m.Start(ctx, s.DeviceID); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// StopAll stops every registered device, same continue-past-failures
// policy as StartAll.
func (m *Manager) StopAll() error {
	var firstErr error
	for _, s := range m.List() {
		if err := m.Stop(s.DeviceID); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// WritePoint routes an operator write to the device's protocol worker if
// it is connected and write-capable, failing fast rather than blocking on
// a dead or read-only connection (§4.1, §6).
func (m *Manager) WritePoint(ctx context.Context, deviceID, pointID string, value model.Value) error {
	e, err := m.lookup(deviceID)
	if err != nil {
		return err
	}
	if e.worker.State() != workerbase.StateRunning && e.worker.State() != workerbase.StatePaused {
		return fmt.Errorf("workermanager: device %q: %w", deviceID, errs.ErrNotConnected)
	}
	writable, ok := e.hooks.(Writable)
	if !ok {
		return fmt.Errorf("workermanager: device %q protocol %q: %w", deviceID, e.protocol, errs.ErrUnauthorisedWrite)
	}
	return writable.WritePoint(ctx, pointID, value)
}
