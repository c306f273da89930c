package usecase

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quietloop/shieldd/internal/domain"
)

type bonusFixture struct {
	state  *memState
	api    *fakeShieldAPI
	sched  *fakeScheduler
	shield *ShieldController
	bonus  *BonusPool
}

func newBonusFixture() *bonusFixture {
	logger := zap.NewNop()
	state := newMemState()
	api := &fakeShieldAPI{}
	sched := newFakeScheduler()
	shield := NewShieldController(api, state, logger)
	bonus := NewBonusPool(state, sched, shield, logger)
	now := time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC)
	bonus.now = func() time.Time { return now }
	shield.now = func() time.Time { return now }
	return &bonusFixture{state: state, api: api, sched: sched, shield: shield, bonus: bonus}
}

func activeLimit(id string, budget int, apps ...domain.Token) domain.TimeLimit {
	return domain.TimeLimit{
		ID:                 id,
		DisplayName:        id,
		Kind:               domain.LimitDaily,
		DailyBudgetMinutes: budget,
		IsActive:           true,
		AppTokens:          domain.NewTokenSet(apps...),
		CategoryTokens:     domain.NewTokenSet(),
	}
}

func TestAdd_SnapshotsBeforeReregistering(t *testing.T) {
	f := newBonusFixture()
	require.NoError(t, f.shield.Apply(domain.NewTokenSet("A", "B"), domain.NewTokenSet()))

	// The snapshot must already be durable when the scheduler is asked to
	// extend thresholds: re-registration changes what the per-event token
	// keys mean, so the pre-bonus picture would otherwise be lost.
	snapshotSeen := false
	f.sched.onRegister = func(activity string) {
		if _, ok := f.state.values[domain.KeyBonusSessionApps]; ok {
			snapshotSeen = true
		}
	}

	require.NoError(t, f.bonus.Add(10, []domain.TimeLimit{activeLimit("l1", 60, "A", "B")}))

	assert.True(t, snapshotSeen)
	snap, ok, err := f.state.GetTokenSet(domain.KeyBonusSessionApps)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, snap.Equal(domain.NewTokenSet("A", "B")))
}

func TestAdd_ExtendsThresholdsAndLiftsShield(t *testing.T) {
	f := newBonusFixture()
	require.NoError(t, f.shield.Apply(domain.NewTokenSet("A"), domain.NewTokenSet()))

	require.NoError(t, f.bonus.Add(10, []domain.TimeLimit{activeLimit("l1", 60, "A")}))

	assert.Equal(t, 10, f.bonus.Minutes())

	expiry, ok, err := f.state.GetTime(domain.KeyBonusExpiry)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 3, 10, 15, 10, 0, 0, time.UTC), expiry)

	// Budget extended by the pool total.
	daily := f.sched.regs[domain.ActivityDailyUsage]
	require.Len(t, daily, 1)
	assert.Equal(t, "limit_l1", daily[0].ID)
	assert.Equal(t, 70, daily[0].Minutes)

	session := f.sched.regs[domain.ActivityBonusSession]
	require.Len(t, session, 1)
	assert.Equal(t, domain.EventIDBonusReached, session[0].ID)

	// The bonus window starts unblocked.
	apps, _ := f.shield.CurrentlyBlocked()
	assert.True(t, apps.IsEmpty())
}

func TestAdd_Accumulates(t *testing.T) {
	f := newBonusFixture()
	limits := []domain.TimeLimit{activeLimit("l1", 60)}

	require.NoError(t, f.bonus.Add(10, limits))
	require.NoError(t, f.bonus.Add(5, limits))

	assert.Equal(t, 15, f.bonus.Minutes())
	assert.Equal(t, 75, f.sched.regs[domain.ActivityDailyUsage][0].Minutes)
}

func TestAdd_RejectsNonPositiveMinutes(t *testing.T) {
	f := newBonusFixture()
	assert.Error(t, f.bonus.Add(0, nil))
	assert.Error(t, f.bonus.Add(-3, nil))
}

func TestAddThenCollapse_SnapshotSurvivesForOneRestore(t *testing.T) {
	f := newBonusFixture()
	require.NoError(t, f.shield.Apply(domain.NewTokenSet("A", "B"), domain.NewTokenSet()))
	require.NoError(t, f.bonus.Add(10, []domain.TimeLimit{activeLimit("l1", 60, "A", "B")}))

	f.bonus.Collapse()

	assert.Zero(t, f.bonus.Minutes())
	_, ok, _ := f.state.GetTime(domain.KeyBonusExpiry)
	assert.False(t, ok)

	// The snapshot is untouched by the collapse and feeds exactly one restore.
	assert.True(t, f.bonus.RestoreSnapshot())
	apps, _ := f.shield.CurrentlyBlocked()
	assert.True(t, apps.Equal(domain.NewTokenSet("A", "B")))

	assert.False(t, f.bonus.RestoreSnapshot(), "second restore finds no snapshot")
}

func TestCollapse_OnZeroPool_OnlySetsSentinel(t *testing.T) {
	f := newBonusFixture()

	f.bonus.Collapse()

	assert.Zero(t, f.bonus.Minutes())
	collapsed, ok, err := f.state.GetBool(domain.KeyBonusCollapsed)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, collapsed)

	// Nothing else was written.
	assert.Len(t, f.state.values, 1)
}

func TestCollapse_IsIdempotent(t *testing.T) {
	f := newBonusFixture()
	require.NoError(t, f.state.SetInt(domain.KeyBonusMinutes, 12))

	f.bonus.Collapse()
	after := f.state.snapshot()
	f.bonus.Collapse()

	assert.Equal(t, after, f.state.snapshot())
}

func TestCheckExpiry_BeforeExpiry_NoOp(t *testing.T) {
	f := newBonusFixture()
	require.NoError(t, f.bonus.Add(10, []domain.TimeLimit{activeLimit("l1", 60)}))
	before := f.state.snapshot()

	f.bonus.CheckExpiry(time.Date(2025, 3, 10, 15, 5, 0, 0, time.UTC), nil)

	assert.Equal(t, before, f.state.snapshot())
}

func TestCheckExpiry_PastExpiry_RestoresAndCollapses(t *testing.T) {
	f := newBonusFixture()
	limits := []domain.TimeLimit{activeLimit("l1", 60, "A")}
	require.NoError(t, f.shield.Apply(domain.NewTokenSet("A"), domain.NewTokenSet()))
	require.NoError(t, f.bonus.Add(10, limits))

	// The clock passes the window with no usage threshold ever firing.
	f.bonus.CheckExpiry(time.Date(2025, 3, 10, 15, 30, 0, 0, time.UTC), limits)

	assert.Zero(t, f.bonus.Minutes())
	apps, _ := f.shield.CurrentlyBlocked()
	assert.True(t, apps.Equal(domain.NewTokenSet("A")), "pre-bonus shield restored")

	// Base thresholds back in place, bonus session gone.
	assert.Equal(t, 60, f.sched.regs[domain.ActivityDailyUsage][0].Minutes)
	_, hasSession := f.sched.regs[domain.ActivityBonusSession]
	assert.False(t, hasSession)
}

func TestCheckExpiry_NoBonus_NoOp(t *testing.T) {
	f := newBonusFixture()
	before := f.state.snapshot()

	f.bonus.CheckExpiry(time.Date(2025, 3, 10, 16, 0, 0, 0, time.UTC), nil)

	assert.Equal(t, before, f.state.snapshot())
	assert.Zero(t, f.api.calls)
}
