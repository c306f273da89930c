//go:build integration

package integration

import (
	"context"
	"crypto/rand"
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/quietloop/shieldd/internal/domain"
	"github.com/quietloop/shieldd/internal/infra"
	"github.com/quietloop/shieldd/internal/policy"
	"github.com/quietloop/shieldd/internal/usecase"
)

// recordingShield stands in for the process-kill backend so specs can
// observe the exact sets handed to the OS boundary.
type recordingShield struct {
	apps  domain.TokenSet
	cats  domain.TokenSet
	calls int
}

func (r *recordingShield) SetShielded(apps, cats domain.TokenSet) error {
	r.apps = apps
	r.cats = cats
	r.calls++
	return nil
}

var _ = Describe("Shield Transitions", func() {
	var (
		tmpDir      string
		db          *infra.Database
		state       *infra.KVStore
		scheduler   *infra.StoreScheduler
		limits      *policy.LimitStore
		shieldAPI   *recordingShield
		shield      *usecase.ShieldController
		bonus       *usecase.BonusPool
		handler     *usecase.CallbackHandler
		coordinator *usecase.Coordinator
		ctx         context.Context
	)

	newLimit := func(name string, budget int, apps ...domain.Token) domain.TimeLimit {
		return domain.TimeLimit{
			DisplayName:        name,
			Kind:               domain.LimitDaily,
			DailyBudgetMinutes: budget,
			IsActive:           true,
			AppTokens:          domain.NewTokenSet(apps...),
		}
	}

	// fireThreshold replays a monitor callback the way the background
	// process would receive it: a fresh handler per invocation.
	fireThreshold := func(eventID string) {
		h := usecase.NewCallbackHandler(state, shield, bonus, infra.NoopNotifier{}, zap.NewNop())
		h.Handle(domain.MonitorEvent{Kind: domain.EventThresholdReached, EventID: eventID})
	}

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "shieldd-integration-*")
		Expect(err).NotTo(HaveOccurred())

		key := make([]byte, 32)
		_, err = rand.Read(key)
		Expect(err).NotTo(HaveOccurred())

		db, err = infra.OpenDatabase(tmpDir, key)
		Expect(err).NotTo(HaveOccurred())

		logger := zap.NewNop()
		state = infra.NewKVStore(db)
		scheduler = infra.NewStoreScheduler(db)
		limits = policy.NewLimitStore(db)
		shieldAPI = &recordingShield{}
		shield = usecase.NewShieldController(shieldAPI, state, logger)
		bonus = usecase.NewBonusPool(state, scheduler, shield, logger)
		handler = usecase.NewCallbackHandler(state, shield, bonus, infra.NoopNotifier{}, logger)
		coordinator = usecase.NewCoordinator(state, limits, scheduler, shield, bonus, logger)
		ctx = context.Background()
	})

	AfterEach(func() {
		db.Close()
		os.RemoveAll(tmpDir)
	})

	Describe("Threshold enforcement", func() {
		Context("when a limit's threshold fires", func() {
			It("blocks the limit's tokens and mirrors them", func() {
				limit := newLimit("social", 30, "app.a", "app.b")
				Expect(limits.Create(ctx, &limit)).To(Succeed())
				Expect(coordinator.StartMonitoring(ctx)).To(Succeed())

				fireThreshold(limit.EventID())

				Expect(shieldAPI.apps.Equal(domain.NewTokenSet("app.a", "app.b"))).To(BeTrue())

				apps, cats := shield.CurrentlyBlocked()
				Expect(apps.Equal(domain.NewTokenSet("app.a", "app.b"))).To(BeTrue())
				Expect(cats.IsEmpty()).To(BeTrue())
			})

			It("survives a duplicate delivery of the same event", func() {
				limit := newLimit("social", 30, "app.a")
				Expect(limits.Create(ctx, &limit)).To(Succeed())
				Expect(coordinator.StartMonitoring(ctx)).To(Succeed())

				fireThreshold(limit.EventID())
				fireThreshold(limit.EventID())

				apps, _ := shield.CurrentlyBlocked()
				Expect(apps.Equal(domain.NewTokenSet("app.a"))).To(BeTrue())
			})

			It("accumulates blocks when a second limit fires the same day", func() {
				first := newLimit("social", 30, "app.a")
				second := newLimit("games", 60, "app.b")
				Expect(limits.Create(ctx, &first)).To(Succeed())
				Expect(limits.Create(ctx, &second)).To(Succeed())
				Expect(coordinator.StartMonitoring(ctx)).To(Succeed())

				fireThreshold(first.EventID())
				fireThreshold(second.EventID())

				apps, _ := shield.CurrentlyBlocked()
				Expect(apps.Equal(domain.NewTokenSet("app.a", "app.b"))).To(BeTrue())
			})
		})
	})

	Describe("Day rollover", func() {
		blockSomething := func() {
			limit := newLimit("social", 30, "app.a")
			Expect(limits.Create(ctx, &limit)).To(Succeed())
			Expect(coordinator.StartMonitoring(ctx)).To(Succeed())
			fireThreshold(limit.EventID())
		}

		Context("when monitoring restarts within the same day", func() {
			It("keeps existing shields", func() {
				blockSomething()
				today := time.Now().Format("2006-01-02")
				Expect(state.SetString(domain.KeyLastIntervalStartDay, today)).To(Succeed())

				handler.Handle(domain.MonitorEvent{
					Kind:     domain.EventIntervalStart,
					Activity: domain.ActivityDailyUsage,
				})

				apps, _ := shield.CurrentlyBlocked()
				Expect(apps.IsEmpty()).To(BeFalse())
			})
		})

		Context("when the stored day is behind the clock", func() {
			It("clears shields exactly once", func() {
				blockSomething()
				yesterday := time.Now().AddDate(0, 0, -1).Format("2006-01-02")
				Expect(state.SetString(domain.KeyLastIntervalStartDay, yesterday)).To(Succeed())

				handler.Handle(domain.MonitorEvent{
					Kind:     domain.EventIntervalStart,
					Activity: domain.ActivityDailyUsage,
				})

				apps, cats := shield.CurrentlyBlocked()
				Expect(apps.IsEmpty()).To(BeTrue())
				Expect(cats.IsEmpty()).To(BeTrue())

				day, ok, err := state.GetString(domain.KeyLastIntervalStartDay)
				Expect(err).NotTo(HaveOccurred())
				Expect(ok).To(BeTrue())
				Expect(day).To(Equal(time.Now().Format("2006-01-02")))
			})
		})
	})

	Describe("Bonus lifecycle", func() {
		var limit domain.TimeLimit

		BeforeEach(func() {
			limit = newLimit("social", 30, "app.a")
			Expect(limits.Create(ctx, &limit)).To(Succeed())
			Expect(coordinator.StartMonitoring(ctx)).To(Succeed())
			fireThreshold(limit.EventID())
		})

		Context("when bonus minutes are credited", func() {
			It("lifts the shield and snapshots the blocked sets", func() {
				Expect(coordinator.CreditBonus(ctx, 15)).To(Succeed())

				apps, _ := shield.CurrentlyBlocked()
				Expect(apps.IsEmpty()).To(BeTrue(), "shield lifted for the bonus window")

				snap, ok, err := state.GetTokenSet(domain.KeyBonusSessionApps)
				Expect(err).NotTo(HaveOccurred())
				Expect(ok).To(BeTrue())
				Expect(snap.Equal(domain.NewTokenSet("app.a"))).To(BeTrue())
			})

			It("registers extended thresholds plus the bonus session", func() {
				Expect(coordinator.CreditBonus(ctx, 15)).To(Succeed())

				regs, err := scheduler.List()
				Expect(err).NotTo(HaveOccurred())

				byActivity := map[string][]domain.ThresholdEvent{}
				for _, r := range regs {
					byActivity[r.Activity] = r.Events
				}
				Expect(byActivity[domain.ActivityDailyUsage]).To(Equal([]domain.ThresholdEvent{
					{ID: limit.EventID(), Minutes: 45},
				}))
				Expect(byActivity[domain.ActivityBonusSession]).To(Equal([]domain.ThresholdEvent{
					{ID: domain.EventIDBonusReached, Minutes: 15},
				}))
			})
		})

		Context("when the bonus threshold fires", func() {
			It("restores the pre-bonus shields and zeroes the pool", func() {
				Expect(coordinator.CreditBonus(ctx, 15)).To(Succeed())

				fireThreshold(domain.EventIDBonusReached)

				apps, _ := shield.CurrentlyBlocked()
				Expect(apps.Equal(domain.NewTokenSet("app.a"))).To(BeTrue())
				Expect(bonus.Minutes()).To(BeZero())

				// The snapshot is consumed by the restore.
				_, ok, err := state.GetTokenSet(domain.KeyBonusSessionApps)
				Expect(err).NotTo(HaveOccurred())
				Expect(ok).To(BeFalse())
			})

			It("is reported to the foreground on the next reconcile", func() {
				Expect(coordinator.CreditBonus(ctx, 15)).To(Succeed())
				fireThreshold(domain.EventIDBonusReached)

				ui, err := coordinator.Reconcile(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(ui.ShieldsActive).To(BeTrue())
				Expect(ui.BlockedAppsCount).To(Equal(1))
				Expect(ui.BonusMinutes).To(BeZero())

				// The collapse sentinel is consumed by the sweep.
				_, ok, err := state.GetBool(domain.KeyBonusCollapsed)
				Expect(err).NotTo(HaveOccurred())
				Expect(ok).To(BeFalse())
			})
		})

		Context("when the bonus window lapses by clock alone", func() {
			It("expires on reconcile and restores the shields", func() {
				Expect(coordinator.CreditBonus(ctx, 15)).To(Succeed())
				Expect(state.SetTime(domain.KeyBonusExpiry, time.Now().Add(-time.Minute))).To(Succeed())

				ui, err := coordinator.Reconcile(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(ui.BonusMinutes).To(BeZero())
				Expect(ui.ShieldsActive).To(BeTrue())

				regs, err := scheduler.List()
				Expect(err).NotTo(HaveOccurred())
				for _, r := range regs {
					Expect(r.Activity).NotTo(Equal(domain.ActivityBonusSession))
				}
			})
		})
	})
})
