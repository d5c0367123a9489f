package sensor_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tejusbharadwaj/babelgas/internal/api"
	"github.com/tejusbharadwaj/babelgas/internal/models"
	"github.com/tejusbharadwaj/babelgas/internal/sensor"
	"github.com/tejusbharadwaj/babelgas/internal/sensor/mocks"
)

var creds = models.Credentials{Token: "T1", MemberID: "M1"}

var accountData = &models.AccountData{
	Presave:   123.45,
	UserName:  "Zhang",
	UserAddr:  "Addr1",
	AllGasFee: 10,
	OwnTotal:  100,
	UserNo:    "U1",
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordedUpdate struct {
	outcome  sensor.Outcome
	category string
}

type fakeRecorder struct {
	mu        sync.Mutex
	updates   []recordedUpdate
	balance   float64
	available bool
}

func (r *fakeRecorder) ObserveUpdate(_ string, outcome sensor.Outcome, category string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, recordedUpdate{outcome, category})
}

func (r *fakeRecorder) SetBalance(_ string, balance float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.balance = balance
}

func (r *fakeRecorder) SetAvailable(_ string, available bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.available = available
}

func newEntity(t *testing.T, clock *fakeClock, rec sensor.Recorder) (*sensor.Entity, *mocks.MockQuerier, *test.Hook) {
	t.Helper()
	ctrl := gomock.NewController(t)
	querier := mocks.NewMockQuerier(ctrl)
	logger, hook := test.NewNullLogger()

	ent := sensor.NewEntity(sensor.Config{
		Name:        "Home Gas",
		Credentials: creds,
		MinInterval: 30 * time.Minute,
		Clock:       clock.Now,
		Recorder:    rec,
	}, querier, logger)
	return ent, querier, hook
}

func TestEntityContract(t *testing.T) {
	ent, _, _ := newEntity(t, newFakeClock(), nil)

	assert.Equal(t, "Home Gas", ent.Name())
	assert.Equal(t, "babel_gas_M1", ent.UniqueID())
	assert.Equal(t, "mdi:fire", ent.Icon())
	assert.Equal(t, "元", ent.UnitOfMeasurement())
	assert.True(t, ent.Available())

	_, ok := ent.State()
	assert.False(t, ok)
	assert.Empty(t, ent.ExtraStateAttributes())

	again, _, _ := newEntity(t, newFakeClock(), nil)
	assert.Equal(t, ent.UniqueID(), again.UniqueID())
}

func TestEntityDefaultName(t *testing.T) {
	ent := sensor.NewEntity(sensor.Config{Credentials: creds}, nil, logrus.New())
	assert.Equal(t, sensor.DefaultName, ent.Name())
}

func TestUpdateSuccessThenErrorCode(t *testing.T) {
	clock := newFakeClock()
	rec := &fakeRecorder{}
	ent, querier, _ := newEntity(t, clock, rec)

	querier.EXPECT().QueryDept(gomock.Any(), creds).Return(accountData, nil)
	assert.Equal(t, sensor.OutcomeUpdated, ent.Update(context.Background()))

	state, ok := ent.State()
	require.True(t, ok)
	assert.Equal(t, 123.45, state)
	assert.True(t, ent.Available())

	attrs := ent.ExtraStateAttributes()
	assert.Equal(t, "Zhang", attrs["user_name"])
	assert.Equal(t, "Addr1", attrs["user_addr"])
	assert.Equal(t, 10.0, attrs["all_gasfee"])
	assert.Equal(t, 100.0, attrs["own_total"])
	assert.Equal(t, 0.0, attrs["user_latefee"])
	assert.Equal(t, 0.0, attrs["other_fee"])
	assert.Equal(t, "U1", attrs["userno"])
	assert.Equal(t, "2024-01-02T03:04:05Z", attrs["last_update"])

	clock.Advance(30 * time.Minute)
	querier.EXPECT().QueryDept(gomock.Any(), creds).Return(nil, &api.APIError{Code: "1", Msg: "invalid token"})
	assert.Equal(t, sensor.OutcomeFailed, ent.Update(context.Background()))

	assert.False(t, ent.Available())
	state, ok = ent.State()
	require.True(t, ok)
	assert.Equal(t, 123.45, state)
	assert.Equal(t, attrs, ent.ExtraStateAttributes())

	assert.Equal(t, []recordedUpdate{
		{sensor.OutcomeUpdated, ""},
		{sensor.OutcomeFailed, api.CategoryApplication},
	}, rec.updates)
	assert.Equal(t, 123.45, rec.balance)
	assert.False(t, rec.available)
}

func TestUpdateFailureRetainsSnapshot(t *testing.T) {
	failures := []struct {
		name     string
		err      error
		category string
	}{
		{"http 500", &api.StatusError{StatusCode: 500}, api.CategoryProtocol},
		{"timeout", fmt.Errorf("%w: %v", api.ErrTransport, context.DeadlineExceeded), api.CategoryTransport},
		{"missing field", &api.ShapeError{Field: "data.user_presave", Detail: "missing"}, api.CategoryShape},
		{"error code", &api.APIError{Code: "1", Msg: "invalid token"}, api.CategoryApplication},
	}

	for _, tt := range failures {
		t.Run(tt.name, func(t *testing.T) {
			clock := newFakeClock()
			ent, querier, hook := newEntity(t, clock, nil)

			querier.EXPECT().QueryDept(gomock.Any(), creds).Return(accountData, nil)
			require.Equal(t, sensor.OutcomeUpdated, ent.Update(context.Background()))
			before := ent.Snapshot()

			clock.Advance(31 * time.Minute)
			querier.EXPECT().QueryDept(gomock.Any(), creds).Return(nil, tt.err)
			assert.NotPanics(t, func() {
				assert.Equal(t, sensor.OutcomeFailed, ent.Update(context.Background()))
			})

			after := ent.Snapshot()
			assert.False(t, after.Available)
			assert.Equal(t, before.State, after.State)
			assert.Equal(t, before.Attributes, after.Attributes)
			assert.Equal(t, tt.err.Error(), after.LastError)

			entry := hook.LastEntry()
			require.NotNil(t, entry)
			assert.Equal(t, logrus.ErrorLevel, entry.Level)
			assert.Equal(t, tt.category, entry.Data["category"])
		})
	}
}

func TestUpdateFailureBeforeFirstSuccess(t *testing.T) {
	ent, querier, _ := newEntity(t, newFakeClock(), nil)

	querier.EXPECT().QueryDept(gomock.Any(), creds).Return(nil, &api.StatusError{StatusCode: 500})
	assert.Equal(t, sensor.OutcomeFailed, ent.Update(context.Background()))

	assert.False(t, ent.Available())
	_, ok := ent.State()
	assert.False(t, ok)
	assert.Empty(t, ent.ExtraStateAttributes())
}

func TestUpdateRecoversOnNextTick(t *testing.T) {
	clock := newFakeClock()
	ent, querier, _ := newEntity(t, clock, nil)

	querier.EXPECT().QueryDept(gomock.Any(), creds).Return(nil, &api.StatusError{StatusCode: 503})
	ent.Update(context.Background())
	require.False(t, ent.Available())

	clock.Advance(30 * time.Minute)
	querier.EXPECT().QueryDept(gomock.Any(), creds).Return(accountData, nil)
	ent.Update(context.Background())
	assert.True(t, ent.Available())
	assert.Empty(t, ent.Snapshot().LastError)
}

func TestUpdateThrottle(t *testing.T) {
	clock := newFakeClock()
	ent, querier, _ := newEntity(t, clock, nil)

	querier.EXPECT().QueryDept(gomock.Any(), creds).Return(accountData, nil).Times(2)

	assert.Equal(t, sensor.OutcomeUpdated, ent.Update(context.Background()))
	attempt := ent.LastAttempt()

	clock.Advance(29 * time.Minute)
	assert.Equal(t, sensor.OutcomeThrottled, ent.Update(context.Background()))
	assert.Equal(t, attempt, ent.LastAttempt())

	clock.Advance(time.Minute)
	assert.Equal(t, sensor.OutcomeUpdated, ent.Update(context.Background()))
}

func TestUpdateThrottleToleratesTickJitter(t *testing.T) {
	clock := newFakeClock()
	ent, querier, _ := newEntity(t, clock, nil)

	querier.EXPECT().QueryDept(gomock.Any(), creds).Return(accountData, nil).Times(3)

	// Ticks of an interval equal to the guard arrive a fraction of a second
	// early or late relative to the recorded attempt.
	assert.Equal(t, sensor.OutcomeUpdated, ent.Update(context.Background()))
	clock.Advance(30*time.Minute - 700*time.Millisecond)
	assert.Equal(t, sensor.OutcomeUpdated, ent.Update(context.Background()))
	clock.Advance(30*time.Minute + 300*time.Millisecond)
	assert.Equal(t, sensor.OutcomeUpdated, ent.Update(context.Background()))

	clock.Advance(30*time.Minute - sensor.ClockSlack - time.Millisecond)
	assert.Equal(t, sensor.OutcomeThrottled, ent.Update(context.Background()))
}

func TestUpdateThrottleCountsFailedAttempts(t *testing.T) {
	clock := newFakeClock()
	ent, querier, _ := newEntity(t, clock, nil)

	querier.EXPECT().QueryDept(gomock.Any(), creds).Return(nil, &api.StatusError{StatusCode: 500}).Times(1)

	ent.Update(context.Background())
	clock.Advance(time.Minute)
	assert.Equal(t, sensor.OutcomeThrottled, ent.Update(context.Background()))
}

func TestUpdateSkipsWhileInFlight(t *testing.T) {
	ctrl := gomock.NewController(t)
	querier := mocks.NewMockQuerier(ctrl)
	logger, _ := test.NewNullLogger()
	ent := sensor.NewEntity(sensor.Config{Credentials: creds, MinInterval: -1}, querier, logger)

	entered := make(chan struct{})
	release := make(chan struct{})
	querier.EXPECT().QueryDept(gomock.Any(), creds).DoAndReturn(
		func(ctx context.Context, _ models.Credentials) (*models.AccountData, error) {
			close(entered)
			<-release
			return accountData, nil
		}).Times(1)

	done := make(chan sensor.Outcome)
	go func() { done <- ent.Update(context.Background()) }()

	<-entered
	assert.Equal(t, sensor.OutcomeThrottled, ent.Update(context.Background()))
	close(release)
	assert.Equal(t, sensor.OutcomeUpdated, <-done)
}

func TestUpdateAbandonedOnCancel(t *testing.T) {
	clock := newFakeClock()
	ent, querier, _ := newEntity(t, clock, nil)

	querier.EXPECT().QueryDept(gomock.Any(), creds).Return(accountData, nil)
	ent.Update(context.Background())
	before := ent.Snapshot()

	clock.Advance(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	querier.EXPECT().QueryDept(gomock.Any(), creds).DoAndReturn(
		func(ctx context.Context, _ models.Credentials) (*models.AccountData, error) {
			cancel()
			return nil, fmt.Errorf("%w: %v", api.ErrTransport, ctx.Err())
		})

	assert.Equal(t, sensor.OutcomeAbandoned, ent.Update(ctx))

	after := ent.Snapshot()
	assert.True(t, after.Available)
	assert.Equal(t, before.State, after.State)
	assert.Equal(t, before.Attributes, after.Attributes)
	assert.Equal(t, before.Version, after.Version)
}

func TestUpdateDeadlineMarksUnavailable(t *testing.T) {
	clock := newFakeClock()
	ent, querier, _ := newEntity(t, clock, nil)

	querier.EXPECT().QueryDept(gomock.Any(), creds).Return(accountData, nil)
	ent.Update(context.Background())

	clock.Advance(time.Hour)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	querier.EXPECT().QueryDept(gomock.Any(), creds).DoAndReturn(
		func(ctx context.Context, _ models.Credentials) (*models.AccountData, error) {
			<-ctx.Done()
			return nil, fmt.Errorf("%w: %v", api.ErrTransport, ctx.Err())
		})

	assert.Equal(t, sensor.OutcomeFailed, ent.Update(ctx))
	assert.False(t, ent.Available())
	assert.Contains(t, ent.Snapshot().LastError, "request failed")

	state, ok := ent.State()
	require.True(t, ok)
	assert.Equal(t, 123.45, state)
}

func TestUpdateTreatsEmptyResultAsShapeError(t *testing.T) {
	ent, querier, _ := newEntity(t, newFakeClock(), nil)

	querier.EXPECT().QueryDept(gomock.Any(), creds).Return(nil, nil)
	assert.Equal(t, sensor.OutcomeFailed, ent.Update(context.Background()))
	assert.Contains(t, ent.Snapshot().LastError, "unexpected shape")
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "throttled", sensor.OutcomeThrottled.String())
	assert.Equal(t, "updated", sensor.OutcomeUpdated.String())
	assert.Equal(t, "failed", sensor.OutcomeFailed.String())
	assert.Equal(t, "abandoned", sensor.OutcomeAbandoned.String())
}
