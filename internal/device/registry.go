package device

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/rinnai-bridge/internal/identity"
	"github.com/nerrad567/rinnai-bridge/internal/units"
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Handler is the device-facing object bound to an active record.
type Handler interface {
	Close() error
}

// HandlerFactory creates the handler for a record that has none yet.
type HandlerFactory func(rec Record) (Handler, error)

// ReconcileResult lists what a reconciliation changed.
type ReconcileResult struct {
	Created []string
	Updated []string
	Removed []string
}

// Registry owns the identifier → record collection. Every mutation goes
// through its lock; every read returns a deep copy.
//
// All public methods are thread-safe.
type Registry struct {
	host Host
	pref units.Preference
	now  func() time.Time

	mu       sync.RWMutex
	records  map[string]*Record
	handlers map[string]Handler // nil value: handler being created

	factory HandlerFactory
	logger  Logger
}

// NewRegistry creates an empty registry persisting through host.
func NewRegistry(host Host, pref units.Preference) *Registry {
	return &Registry{
		host:     host,
		pref:     pref,
		now:      time.Now,
		records:  make(map[string]*Record),
		handlers: make(map[string]Handler),
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// SetHandlerFactory sets how handlers are created for active records.
// It must be called before the first Reconcile.
func (r *Registry) SetHandlerFactory(f HandlerFactory) {
	r.mu.Lock()
	r.factory = f
	r.mu.Unlock()
}

// Preference returns the unit preference records are derived with.
func (r *Registry) Preference() units.Preference {
	return r.pref
}

// Restore loads persisted records in the restored state. Restored records
// keyed under a deprecated scheme are dropped when the same device is also
// stored under the current scheme.
func (r *Registry) Restore(ctx context.Context) error {
	restored, err := r.host.LoadRestored(ctx)
	if err != nil {
		return fmt.Errorf("loading restored devices: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range restored {
		rec := restored[i].DeepCopy()
		rec.State = StateRestored
		if err := rec.Refresh(r.pref); err != nil {
			r.logger.Debug("restored device has no telemetry", "device_id", rec.ID)
		}
		r.records[rec.ID] = rec
	}

	var errs []error
	for id, rec := range r.records {
		current, err := identity.Resolve(rec.Attributes.IdentityFields(), identity.Current())
		if err != nil || current == id {
			continue
		}
		if _, ok := r.records[current]; !ok {
			continue
		}
		for _, old := range identity.ResolveDeprecated(rec.Attributes.IdentityFields()) {
			if old != id {
				continue
			}
			if err := r.host.Unregister(ctx, id); err != nil && !errors.Is(err, ErrDeviceNotFound) {
				errs = append(errs, fmt.Errorf("unregistering %s: %w", id, err))
				continue
			}
			delete(r.records, id)
			r.logger.Info("removed stale restored device", "device_id", id, "name", rec.Name())
		}
	}

	r.logger.Info("devices restored", "count", len(r.records))
	return errors.Join(errs...)
}

// Reconcile merges a freshly fetched device list into the registry.
//
// For each device the current-scheme identifier is computed. Records
// stored under any deprecated-scheme identifier of the same device are
// unregistered and their handlers closed. A record under the current
// identifier is updated in place, otherwise a new one is registered.
// Every active record ends up with exactly one handler.
//
// An empty list changes nothing. Host failures are logged and returned
// joined; the in-memory collection still reflects the fetched list.
// identity.ErrUnknownScheme aborts the reconciliation.
func (r *Registry) Reconcile(ctx context.Context, devices []Attributes) (ReconcileResult, error) {
	var res ReconcileResult
	if len(devices) == 0 {
		r.logger.Warn("reconcile called with no devices, leaving registry untouched")
		return res, nil
	}

	var (
		errs     []error
		teardown []Handler
		activate []Record
	)

	r.mu.Lock()
	now := r.now().UTC()
	for _, attrs := range devices {
		fields := attrs.IdentityFields()
		id, err := identity.Resolve(fields, identity.Current())
		if err != nil {
			if errors.Is(err, identity.ErrUnknownScheme) {
				r.mu.Unlock()
				return res, err
			}
			r.logger.Warn("skipping device without identity", "device_name", attrs.DeviceName, "error", err)
			continue
		}

		for _, oldID := range identity.ResolveDeprecated(fields) {
			old, ok := r.records[oldID]
			if !ok || oldID == id {
				continue
			}
			r.logger.Info("removing device superseded by new identity scheme",
				"old_id", oldID, "device_id", id, "name", old.Name())
			if err := r.host.Unregister(ctx, oldID); err != nil && !errors.Is(err, ErrDeviceNotFound) {
				errs = append(errs, fmt.Errorf("unregistering %s: %w", oldID, err))
			}
			old.State = StateRemoved
			delete(r.records, oldID)
			if h, ok := r.handlers[oldID]; ok {
				if h != nil {
					teardown = append(teardown, h)
				}
				delete(r.handlers, oldID)
			}
			res.Removed = append(res.Removed, oldID)
		}

		rec, exists := r.records[id]
		if exists {
			if rec.State == StateRestored {
				rec.SupportsRecirculation = attrs.SupportsRecirculation()
			}
			rec.Attributes = attrs.Clone()
			rec.State = StateActive
			rec.UpdatedAt = now
			r.refresh(rec)
			if err := r.host.Update(ctx, *rec.DeepCopy()); err != nil {
				errs = append(errs, fmt.Errorf("updating %s: %w", id, err))
			}
			res.Updated = append(res.Updated, id)
		} else {
			rec = &Record{
				ID:                    id,
				State:                 StateNew,
				Attributes:            attrs.Clone(),
				SupportsRecirculation: attrs.SupportsRecirculation(),
				CreatedAt:             now,
				UpdatedAt:             now,
			}
			r.refresh(rec)
			err := r.host.Register(ctx, *rec.DeepCopy())
			if errors.Is(err, ErrDeviceExists) {
				err = r.host.Update(ctx, *rec.DeepCopy())
			}
			if err != nil {
				errs = append(errs, fmt.Errorf("registering %s: %w", id, err))
			}
			rec.State = StateActive
			r.records[id] = rec
			res.Created = append(res.Created, id)
			r.logger.Info("registered new device", "device_id", id, "name", rec.Name())
		}

		if _, ok := r.handlers[id]; !ok && r.factory != nil {
			r.handlers[id] = nil
			activate = append(activate, *rec.DeepCopy())
		}
	}
	factory := r.factory
	r.mu.Unlock()

	for _, h := range teardown {
		if err := h.Close(); err != nil {
			r.logger.Warn("closing device handler", "error", err)
		}
	}
	for _, rec := range activate {
		r.activate(factory, rec)
	}

	return res, errors.Join(errs...)
}

// refresh recomputes derived state. Callers hold r.mu.
func (r *Registry) refresh(rec *Record) {
	if err := rec.Refresh(r.pref); err != nil {
		r.logger.Error("cannot derive device state", "device_id", rec.ID, "error", err)
	}
}

// activate creates a handler outside the lock and installs it unless the
// record was removed in the meantime.
func (r *Registry) activate(factory HandlerFactory, rec Record) {
	h, err := factory(rec)
	if err != nil {
		r.logger.Error("creating device handler", "device_id", rec.ID, "error", err)
		r.mu.Lock()
		if cur, ok := r.handlers[rec.ID]; ok && cur == nil {
			delete(r.handlers, rec.ID)
		}
		r.mu.Unlock()
		return
	}

	r.mu.Lock()
	_, stillActive := r.records[rec.ID]
	if stillActive {
		r.handlers[rec.ID] = h
	}
	r.mu.Unlock()

	if !stillActive {
		_ = h.Close() //nolint:errcheck // Record already gone
	}
}

// Get returns a copy of the record with id.
func (r *Registry) Get(id string) (Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[id]
	if !ok {
		return Record{}, ErrDeviceNotFound
	}
	return *rec.DeepCopy(), nil
}

// List returns copies of all records ordered by name.
func (r *Registry) List() []Record {
	r.mu.RLock()
	out := make([]Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, *rec.DeepCopy())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Name() != out[j].Name() {
			return out[i].Name() < out[j].Name()
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Count returns the number of records.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// Mutate applies fn to the record with id atomically and returns a copy of
// the result. fn must not call back into the registry.
func (r *Registry) Mutate(id string, fn func(*Record)) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return Record{}, ErrDeviceNotFound
	}
	fn(rec)
	rec.UpdatedAt = r.now().UTC()
	return *rec.DeepCopy(), nil
}

// HasHandler reports whether a handler is installed for id.
func (r *Registry) HasHandler(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[id]
	return ok && h != nil
}

// Handlers returns the installed handlers keyed by identifier.
func (r *Registry) Handlers() map[string]Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]Handler, len(r.handlers))
	for id, h := range r.handlers {
		if h != nil {
			out[id] = h
		}
	}
	return out
}

// Close tears down every handler. Records are kept.
func (r *Registry) Close() error {
	r.mu.Lock()
	handlers := r.handlers
	r.handlers = make(map[string]Handler)
	r.mu.Unlock()

	var errs []error
	for id, h := range handlers {
		if h == nil {
			continue
		}
		if err := h.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing handler %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// Stats returns registry statistics for monitoring.
type Stats struct {
	TotalDevices int           `json:"total_devices"`
	ByState      map[State]int `json:"by_state"`
	Running      int           `json:"running"`
	Handlers     int           `json:"handlers"`
}

// GetStats returns current registry statistics.
func (r *Registry) GetStats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Stats{
		TotalDevices: len(r.records),
		ByState:      make(map[State]int),
	}
	for _, rec := range r.records {
		stats.ByState[rec.State]++
		if rec.IsRunning {
			stats.Running++
		}
	}
	for _, h := range r.handlers {
		if h != nil {
			stats.Handlers++
		}
	}
	return stats
}
