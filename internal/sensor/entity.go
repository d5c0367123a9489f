//go:generate go run github.com/golang/mock/mockgen -destination=./mocks/querier.go -package=mocks . Querier

// Package sensor implements the Babel gas balance sensor entity.
//
// An Entity holds the last successfully parsed snapshot of one account
// (balance plus attributes) and an availability flag. Update performs one
// upstream query per call and is guarded by a minimum interval measured from
// the previous attempt, so overlapping or early ticks are no-ops.
//
// Example usage:
//
//	ent := sensor.NewEntity(sensor.Config{
//	    Name:        "Babel Gas",
//	    Credentials: models.Credentials{Token: token, MemberID: memberID},
//	    MinInterval: 30 * time.Minute,
//	}, client, logger)
//	ent.Update(ctx)
package sensor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tejusbharadwaj/babelgas/internal/api"
	"github.com/tejusbharadwaj/babelgas/internal/models"
)

const (
	DefaultName        = "Babel Gas"
	DefaultMinInterval = 30 * time.Minute

	// ClockSlack is the tolerance of the throttle guard. Interval schedulers
	// fire on whole seconds, so consecutive attempts can land up to a second
	// short of the interval.
	ClockSlack = time.Second

	Icon              = "mdi:fire"
	UnitOfMeasurement = "元"

	uniqueIDPrefix = "babel_gas_"
)

// Querier fetches account data for one set of credentials.
type Querier interface {
	QueryDept(ctx context.Context, creds models.Credentials) (*models.AccountData, error)
}

// Recorder receives update telemetry. All methods must be safe for concurrent use.
type Recorder interface {
	ObserveUpdate(uniqueID string, outcome Outcome, category string, duration time.Duration)
	SetBalance(uniqueID string, balance float64)
	SetAvailable(uniqueID string, available bool)
}

// Outcome describes what a call to Update did.
type Outcome int

const (
	// OutcomeThrottled means the guard interval had not elapsed or an update was in flight.
	OutcomeThrottled Outcome = iota
	// OutcomeUpdated means a fresh snapshot was stored.
	OutcomeUpdated
	// OutcomeFailed means the attempt failed and the entity is unavailable.
	OutcomeFailed
	// OutcomeAbandoned means the caller's context ended mid-flight; nothing was written.
	OutcomeAbandoned
)

func (o Outcome) String() string {
	switch o {
	case OutcomeThrottled:
		return "throttled"
	case OutcomeUpdated:
		return "updated"
	case OutcomeFailed:
		return "failed"
	case OutcomeAbandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

// Config holds the construction parameters of an Entity.
type Config struct {
	Name        string
	Credentials models.Credentials
	// MinInterval is the minimum time between two attempted updates.
	MinInterval time.Duration
	// Clock defaults to time.Now.
	Clock    func() time.Time
	Recorder Recorder
}

// Entity is one monitored gas account.
type Entity struct {
	name     string
	creds    models.Credentials
	querier  Querier
	logger   *logrus.Entry
	clock    func() time.Time
	interval time.Duration
	recorder Recorder

	mu          sync.RWMutex
	state       *float64
	attributes  *models.GasAttributes
	available   bool
	lastAttempt time.Time
	lastErr     error
	inFlight    bool
	version     uint64
}

// NewEntity creates an entity. A negative MinInterval disables the guard's
// time check; zero selects DefaultMinInterval.
func NewEntity(cfg Config, querier Querier, logger *logrus.Logger) *Entity {
	if cfg.Name == "" {
		cfg.Name = DefaultName
	}
	if cfg.MinInterval == 0 {
		cfg.MinInterval = DefaultMinInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Recorder == nil {
		cfg.Recorder = nopRecorder{}
	}
	if logger == nil {
		logger = logrus.New()
	}

	e := &Entity{
		name:      cfg.Name,
		creds:     cfg.Credentials,
		querier:   querier,
		clock:     cfg.Clock,
		interval:  cfg.MinInterval,
		recorder:  cfg.Recorder,
		available: true,
	}
	e.logger = logger.WithFields(logrus.Fields{
		"unique_id": e.UniqueID(),
		"name":      e.name,
	})
	return e
}

// UniqueIDFor derives the stable unique id of the account with memberID.
func UniqueIDFor(memberID string) string {
	return uniqueIDPrefix + memberID
}

func (e *Entity) Name() string { return e.name }

func (e *Entity) UniqueID() string { return UniqueIDFor(e.creds.MemberID) }

func (e *Entity) Icon() string { return Icon }

func (e *Entity) UnitOfMeasurement() string { return UnitOfMeasurement }

// State returns the balance and whether one has ever been stored.
func (e *Entity) State() (float64, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.state == nil {
		return 0, false
	}
	return *e.state, true
}

// ExtraStateAttributes returns a copy of the current attribute mapping.
func (e *Entity) ExtraStateAttributes() map[string]interface{} {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.attributes.Map()
}

func (e *Entity) Available() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.available
}

// LastAttempt is the time the last non-throttled update started.
func (e *Entity) LastAttempt() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastAttempt
}

// Snapshot returns a consistent copy of the observable state.
func (e *Entity) Snapshot() models.EntityState {
	e.mu.RLock()
	defer e.mu.RUnlock()

	s := models.EntityState{
		UniqueID:          e.UniqueID(),
		Name:              e.name,
		Attributes:        e.attributes.Map(),
		Icon:              Icon,
		UnitOfMeasurement: UnitOfMeasurement,
		Available:         e.available,
		LastAttempt:       e.lastAttempt,
		Version:           e.version,
	}
	if e.state != nil {
		v := *e.state
		s.State = &v
	}
	if e.lastErr != nil {
		s.LastError = e.lastErr.Error()
	}
	return s
}

// Update refreshes the entity from the upstream API. It never panics on
// upstream failures; every failure marks the entity unavailable and keeps the
// previous snapshot.
func (e *Entity) Update(ctx context.Context) Outcome {
	start := e.clock()
	if !e.begin(start) {
		e.logger.Debug("update skipped by throttle")
		e.recorder.ObserveUpdate(e.UniqueID(), OutcomeThrottled, "", 0)
		return OutcomeThrottled
	}
	defer e.finish()

	data, err := e.querier.QueryDept(ctx, e.creds)
	if err == nil && data == nil {
		err = &api.ShapeError{Detail: "empty response"}
	}
	elapsed := e.clock().Sub(start)

	// Only cancellation (unload, shutdown) abandons the attempt; a caller
	// deadline is an upstream timeout like any other.
	if errors.Is(ctx.Err(), context.Canceled) {
		e.logger.WithError(ctx.Err()).Info("update abandoned")
		e.recorder.ObserveUpdate(e.UniqueID(), OutcomeAbandoned, "", elapsed)
		return OutcomeAbandoned
	}

	if err != nil {
		category := api.Category(err)
		e.logFailure(category, err)

		e.mu.Lock()
		e.available = false
		e.lastErr = err
		e.version++
		e.mu.Unlock()

		e.recorder.ObserveUpdate(e.UniqueID(), OutcomeFailed, category, elapsed)
		e.recorder.SetAvailable(e.UniqueID(), false)
		return OutcomeFailed
	}

	balance := data.Presave
	attrs := models.NewGasAttributes(data, e.clock())

	e.mu.Lock()
	e.state = &balance
	e.attributes = attrs
	e.available = true
	e.lastErr = nil
	e.version++
	e.mu.Unlock()

	e.logger.WithField("balance", balance).Debug("update succeeded")
	e.recorder.ObserveUpdate(e.UniqueID(), OutcomeUpdated, "", elapsed)
	e.recorder.SetBalance(e.UniqueID(), balance)
	e.recorder.SetAvailable(e.UniqueID(), true)
	return OutcomeUpdated
}

// begin applies the throttle guard and records the attempt.
func (e *Entity) begin(now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.inFlight {
		return false
	}
	if !e.lastAttempt.IsZero() && now.Sub(e.lastAttempt) < e.threshold() {
		return false
	}
	e.lastAttempt = now
	e.inFlight = true
	return true
}

// threshold is the guard interval less ClockSlack, so a scheduler whose
// period equals the interval is not throttled by its own sub-second jitter.
func (e *Entity) threshold() time.Duration {
	if e.interval > ClockSlack {
		return e.interval - ClockSlack
	}
	return e.interval
}

func (e *Entity) finish() {
	e.mu.Lock()
	e.inFlight = false
	e.mu.Unlock()
}

func (e *Entity) logFailure(category string, err error) {
	entry := e.logger.WithFields(logrus.Fields{
		"category": category,
		"detail":   err.Error(),
	})

	switch category {
	case api.CategoryApplication:
		fields := logrus.Fields{}
		var apiErr *api.APIError
		if errors.As(err, &apiErr) {
			fields["code"] = apiErr.Code
			fields["msg"] = apiErr.Msg
		}
		entry.WithFields(fields).Error("babel api returned an error code")
	case api.CategoryProtocol:
		entry.Error("babel api returned an unexpected HTTP status")
	case api.CategoryTransport:
		entry.Error("babel api request failed")
	case api.CategoryShape:
		entry.Error("babel api response could not be parsed")
	default:
		entry.Error("babel gas update failed")
	}
}

type nopRecorder struct{}

func (nopRecorder) ObserveUpdate(string, Outcome, string, time.Duration) {}
func (nopRecorder) SetBalance(string, float64)                          {}
func (nopRecorder) SetAvailable(string, bool)                           {}
