// Package entry manages configured gas accounts ("entries") and the sensor
// entity that belongs to each of them.
//
// The manager is the only owner of entities: it builds them at Setup, fans a
// scheduler tick out to all of them, hands fresh snapshots to publishers and
// cancels in-flight work at Unload.
package entry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tejusbharadwaj/babelgas/internal/config"
	"github.com/tejusbharadwaj/babelgas/internal/models"
	"github.com/tejusbharadwaj/babelgas/internal/sensor"
)

var (
	ErrInvalidCredentials = errors.New("invalid account credentials")
	ErrAlreadyConfigured  = errors.New("account already configured")
	ErrEntryNotFound      = errors.New("entry not found")
	ErrEntityNotFound     = errors.New("entity not found")
)

// Publisher receives entity snapshots after every attempted update.
type Publisher interface {
	Publish(state models.EntityState)
	Remove(uniqueID string)
}

// Forgetter is implemented by recorders that keep per-entity series.
type Forgetter interface {
	Forget(uniqueID string)
}

// Options configure the entities built by a Manager.
type Options struct {
	MinInterval time.Duration
	Recorder    sensor.Recorder
	Clock       func() time.Time
}

// Entry is one configured account and its entity.
type Entry struct {
	ID     string
	Title  string
	Entity *sensor.Entity

	ctx    context.Context
	cancel context.CancelFunc
}

// Manager sets up and unloads entries.
type Manager struct {
	querier    sensor.Querier
	logger     *logrus.Logger
	opts       Options
	publishers []Publisher

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewManager creates a manager whose entities query through querier.
func NewManager(querier sensor.Querier, logger *logrus.Logger, opts Options, publishers ...Publisher) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		querier:    querier,
		logger:     logger,
		opts:       opts,
		publishers: publishers,
		ctx:        ctx,
		cancel:     cancel,
		entries:    make(map[string]*Entry),
	}
}

// Setup validates acct, builds its entity, runs the first update and
// registers the entry.
func (m *Manager) Setup(ctx context.Context, acct config.AccountConfig) (*Entry, error) {
	if err := acct.Normalize(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}

	uniqueID := sensor.UniqueIDFor(acct.MemberID)
	if _, ok := m.Entity(uniqueID); ok {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyConfigured, uniqueID)
	}

	ent := sensor.NewEntity(sensor.Config{
		Name: acct.Name,
		Credentials: models.Credentials{
			Token:    acct.Token,
			MemberID: acct.MemberID,
		},
		MinInterval: m.opts.MinInterval,
		Clock:       m.opts.Clock,
		Recorder:    m.opts.Recorder,
	}, m.querier, m.logger)

	entryCtx, cancel := context.WithCancel(m.ctx)
	e := &Entry{
		ID:     uuid.NewString(),
		Title:  acct.Name,
		Entity: ent,
		ctx:    entryCtx,
		cancel: cancel,
	}

	// The entity is added even when the first update fails; it then shows as
	// unavailable until a later tick succeeds.
	m.runUpdate(ctx, e)

	m.mu.Lock()
	if _, exists := m.byUniqueIDLocked(uniqueID); exists {
		m.mu.Unlock()
		cancel()
		return nil, fmt.Errorf("%w: %s", ErrAlreadyConfigured, uniqueID)
	}
	m.entries[e.ID] = e
	m.mu.Unlock()

	m.logger.WithFields(logrus.Fields{
		"entry_id":  e.ID,
		"unique_id": uniqueID,
	}).Info("entry set up")
	m.publish(e)

	return e, nil
}

// Unload cancels any in-flight update of the entry and removes it.
func (m *Manager) Unload(entryID string) error {
	m.mu.Lock()
	e, ok := m.entries[entryID]
	if ok {
		delete(m.entries, entryID)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrEntryNotFound, entryID)
	}

	e.cancel()
	uniqueID := e.Entity.UniqueID()
	for _, p := range m.publishers {
		p.Remove(uniqueID)
	}
	if f, ok := m.opts.Recorder.(Forgetter); ok {
		f.Forget(uniqueID)
	}

	m.logger.WithFields(logrus.Fields{
		"entry_id":  entryID,
		"unique_id": uniqueID,
	}).Info("entry unloaded")
	return nil
}

// UpdateAll runs one update per entity concurrently and waits for all of them.
func (m *Manager) UpdateAll(ctx context.Context) {
	entries := m.Entries()

	var wg sync.WaitGroup
	for _, e := range entries {
		wg.Add(1)
		go func(e *Entry) {
			defer wg.Done()
			m.runUpdate(ctx, e)
		}(e)
	}
	wg.Wait()
}

// Update refreshes the entity with uniqueID, subject to its throttle guard.
func (m *Manager) Update(ctx context.Context, uniqueID string) (sensor.Outcome, error) {
	m.mu.RLock()
	e, ok := m.byUniqueIDLocked(uniqueID)
	m.mu.RUnlock()
	if !ok {
		return sensor.OutcomeThrottled, fmt.Errorf("%w: %s", ErrEntityNotFound, uniqueID)
	}
	return m.runUpdate(ctx, e), nil
}

// runUpdate updates e under a context that ends with either ctx or the entry.
func (m *Manager) runUpdate(ctx context.Context, e *Entry) sensor.Outcome {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(e.ctx, cancel)
	defer stop()

	outcome := e.Entity.Update(ctx)
	if outcome == sensor.OutcomeUpdated || outcome == sensor.OutcomeFailed {
		if m.registered(e) {
			m.publish(e)
		}
	}
	return outcome
}

func (m *Manager) publish(e *Entry) {
	state := e.Entity.Snapshot()
	state.EntryID = e.ID
	for _, p := range m.publishers {
		p.Publish(state)
	}
}

func (m *Manager) registered(e *Entry) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.entries[e.ID] == e
}

func (m *Manager) byUniqueIDLocked(uniqueID string) (*Entry, bool) {
	for _, e := range m.entries {
		if e.Entity.UniqueID() == uniqueID {
			return e, true
		}
	}
	return nil, false
}

// Entries returns the registered entries ordered by unique id.
func (m *Manager) Entries() []*Entry {
	m.mu.RLock()
	out := make([]*Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Entity.UniqueID() < out[j].Entity.UniqueID()
	})
	return out
}

// Entities returns the entities of all registered entries.
func (m *Manager) Entities() []*sensor.Entity {
	entries := m.Entries()
	out := make([]*sensor.Entity, len(entries))
	for i, e := range entries {
		out[i] = e.Entity
	}
	return out
}

// Entity looks up an entity by unique id.
func (m *Manager) Entity(uniqueID string) (*sensor.Entity, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.byUniqueIDLocked(uniqueID)
	if !ok {
		return nil, false
	}
	return e.Entity, true
}

// Snapshot returns the state of the entity with uniqueID, tagged with its entry id.
func (m *Manager) Snapshot(uniqueID string) (models.EntityState, bool) {
	m.mu.RLock()
	e, ok := m.byUniqueIDLocked(uniqueID)
	m.mu.RUnlock()
	if !ok {
		return models.EntityState{}, false
	}
	state := e.Entity.Snapshot()
	state.EntryID = e.ID
	return state, true
}

// Snapshots returns the state of every entity ordered by unique id.
func (m *Manager) Snapshots() []models.EntityState {
	entries := m.Entries()
	out := make([]models.EntityState, len(entries))
	for i, e := range entries {
		out[i] = e.Entity.Snapshot()
		out[i].EntryID = e.ID
	}
	return out
}

// Close unloads every entry and cancels in-flight updates.
func (m *Manager) Close() {
	for _, e := range m.Entries() {
		m.Unload(e.ID)
	}
	m.cancel()
}
