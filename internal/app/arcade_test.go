package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	service "github.com/okian/bitgalaxy/internal/app"
	"github.com/okian/bitgalaxy/internal/domain/model"
	"github.com/okian/bitgalaxy/internal/domain/progression"
	. "github.com/smartystreets/goconvey/convey"
)

func complete(svc *service.Service, userID string, score int) (service.CompleteResult, error) {
	return svc.CompleteArcadeQuest(context.Background(), service.CompleteRequest{
		OrgID: testOrg, UserID: userID, QuestID: "lunchbox-run", Score: score,
	})
}

func TestCompleteArcadeQuest(t *testing.T) {
	Convey("Given an existing player and an arcade quest with a level table", t, func() {
		clock := newFakeClock()
		svc, store := newTestService(clock)
		ctx := context.Background()
		seedArcadeQuest(store, "lunchbox-run")
		_, err := svc.GetPlayer(ctx, testOrg, "u1")
		So(err, ShouldBeNil)

		Convey("When the first run reaches tier 2", func() {
			res, err := complete(svc, "u1", 250)
			So(err, ShouldBeNil)

			Convey("Then exactly the tier 2 amount is granted", func() {
				So(res.Tier, ShouldEqual, 2)
				So(res.PreviousTier, ShouldEqual, 0)
				So(res.XPAwarded, ShouldEqual, 120)
				So(res.XPGranted, ShouldBeTrue)
				So(res.WeekKey, ShouldEqual, "2026-W42")
				So(res.Player.Player.TotalXP, ShouldEqual, 120)
				So(res.Player.Player.WeeklyXP, ShouldEqual, 120)
				So(res.Player.Player.CompletedQuestIDs, ShouldResemble, []string{"lunchbox-run"})
			})

			Convey("And a later tier 3 run grants only the difference", func() {
				res, err := complete(svc, "u1", 320)
				So(err, ShouldBeNil)
				So(res.XPAwarded, ShouldEqual, 180)
				So(res.PreviousTier, ShouldEqual, 2)
				So(res.Player.Player.TotalXP, ShouldEqual, 300)
				So(res.Player.Player.CompletedQuestIDs, ShouldHaveLength, 1)
			})

			Convey("And the best-result record is stored under the event slug", func() {
				p, err := store.Get(ctx, testOrg, "u1")
				So(err, ShouldBeNil)
				best, ok, err := p.SpecialEvents.ArcadeBest("lunchboxRun")
				So(err, ShouldBeNil)
				So(ok, ShouldBeTrue)
				So(best.BestTier, ShouldEqual, 2)
				So(best.BestScore, ShouldEqual, 250)
				So(best.Runs, ShouldEqual, 1)
				So(best.LastResult.Score, ShouldEqual, 250)
			})

			Convey("And replaying the same tier is rejected without changes", func() {
				before, _ := store.Get(ctx, testOrg, "u1")
				_, err := complete(svc, "u1", 260)
				So(errors.Is(err, progression.ErrTierAlreadyRecorded), ShouldBeTrue)
				So(service.RejectionCode(err), ShouldEqual, "tier_already_recorded")
				after, _ := store.Get(ctx, testOrg, "u1")
				So(after, ShouldResemble, before)
			})

			Convey("And a lower tier is rejected", func() {
				_, err := complete(svc, "u1", 150)
				So(errors.Is(err, progression.ErrTierAlreadyRecorded), ShouldBeTrue)
			})

			Convey("And next week the tier counts from zero again", func() {
				clock.Advance(7 * 24 * time.Hour)
				res, err := complete(svc, "u1", 150)
				So(err, ShouldBeNil)
				So(res.WeekKey, ShouldEqual, "2026-W43")
				So(res.PreviousTier, ShouldEqual, 0)
				So(res.XPAwarded, ShouldEqual, 50)
				So(res.Player.Player.TotalXP, ShouldEqual, 170)
				So(res.Player.Player.WeeklyXP, ShouldEqual, 50)

				p, _ := store.Get(ctx, testOrg, "u1")
				best, _, _ := p.SpecialEvents.ArcadeBest("lunchboxRun")
				So(best.BestScore, ShouldEqual, 150)
				So(best.BestScoreAllTime, ShouldEqual, 250)
				So(best.Runs, ShouldEqual, 2)
			})
		})

		Convey("When a run scores below tier 1", func() {
			_, err := complete(svc, "u1", 99)

			Convey("Then it is rejected as too low", func() {
				So(errors.Is(err, progression.ErrScoreTooLow), ShouldBeTrue)
				So(errors.Is(err, progression.ErrRejected), ShouldBeTrue)
				So(service.RejectionCode(err), ShouldEqual, "score_too_low")
			})
		})

		Convey("When a negative score is submitted", func() {
			_, err := complete(svc, "u1", -500)

			Convey("Then it is clamped to zero and rejected as too low", func() {
				So(errors.Is(err, progression.ErrScoreTooLow), ShouldBeTrue)
			})
		})

		Convey("When the player has other special events", func() {
			_, err := store.Update(ctx, testOrg, "u1", func(p *model.Player) error {
				p.SpecialEvents["galaxyPaddle"] = []byte(`{"bestTier":1,"custom":true}`)
				return nil
			})
			So(err, ShouldBeNil)
			_, err = complete(svc, "u1", 150)
			So(err, ShouldBeNil)

			Convey("Then the sibling record is preserved", func() {
				p, _ := store.Get(ctx, testOrg, "u1")
				So(string(p.SpecialEvents["galaxyPaddle"]), ShouldEqual, `{"bestTier":1,"custom":true}`)
			})
		})

		Convey("When the player does not exist", func() {
			_, err := complete(svc, "ghost", 250)

			Convey("Then the completion fails without creating the player", func() {
				So(errors.Is(err, service.ErrPlayerNotFound), ShouldBeTrue)
				So(errors.Is(err, service.ErrNotFound), ShouldBeTrue)
				So(store.Count(), ShouldEqual, 1)
			})
		})

		Convey("When ids are missing", func() {
			_, err := svc.CompleteArcadeQuest(ctx, service.CompleteRequest{OrgID: testOrg, QuestID: "lunchbox-run"})
			So(errors.Is(err, service.ErrValidation), ShouldBeTrue)
		})
	})

	Convey("Given runs with explicit run ids", t, func() {
		svc, store := newTestService(newFakeClock())
		ctx := context.Background()
		seedArcadeQuest(store, "lunchbox-run")
		req := service.CompleteRequest{OrgID: testOrg, UserID: "u1", QuestID: "lunchbox-run", Score: 150, RunID: "run-1"}

		Convey("When the first attempt fails because the player is missing", func() {
			_, err := svc.CompleteArcadeQuest(ctx, req)
			So(errors.Is(err, service.ErrPlayerNotFound), ShouldBeTrue)

			Convey("Then the run id can be retried once the player exists", func() {
				_, _ = svc.GetPlayer(ctx, testOrg, "u1")
				res, err := svc.CompleteArcadeQuest(ctx, req)
				So(err, ShouldBeNil)
				So(res.Tier, ShouldEqual, 1)
			})
		})

		Convey("When the same run is submitted twice", func() {
			_, _ = svc.GetPlayer(ctx, testOrg, "u1")
			_, err := svc.CompleteArcadeQuest(ctx, req)
			So(err, ShouldBeNil)

			req.Score = 350
			_, err = svc.CompleteArcadeQuest(ctx, req)

			Convey("Then the replay is rejected as a duplicate", func() {
				So(errors.Is(err, service.ErrDuplicateRun), ShouldBeTrue)
				So(errors.Is(err, progression.ErrRejected), ShouldBeTrue)
				So(service.RejectionCode(err), ShouldEqual, "duplicate_run")
				p, _ := store.Get(ctx, testOrg, "u1")
				So(p.TotalXP, ShouldEqual, 50)
			})
		})
	})

	Convey("Given an arcade quest with no stored definition", t, func() {
		svc, store := newTestService(newFakeClock(), service.WithArcadeDefaults(service.ArcadeDefaults{
			BaseXP: 40,
			Quests: map[string]service.ArcadeQuest{
				"lunchbox-run": {Title: "Lunchbox Run", XP: 60, ScoreThresholds: []int{250, 900, 1800}},
			},
		}))
		ctx := context.Background()

		Convey("When many players complete it concurrently", func() {
			const players = 20
			for i := 0; i < players; i++ {
				_, err := svc.GetPlayer(ctx, testOrg, fmt.Sprintf("u%d", i))
				So(err, ShouldBeNil)
			}

			var wg sync.WaitGroup
			errs := make(chan error, players)
			for i := 0; i < players; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_, err := complete(svc, fmt.Sprintf("u%d", i), 1000)
					errs <- err
				}(i)
			}
			wg.Wait()
			close(errs)

			Convey("Then one definition is created from the defaults and every run scores against it", func() {
				for err := range errs {
					So(err, ShouldBeNil)
				}
				q, err := store.GetQuest(ctx, testOrg, "lunchbox-run")
				So(err, ShouldBeNil)
				So(q.Title, ShouldEqual, "Lunchbox Run")
				So(q.Type, ShouldEqual, model.QuestTypeArcade)
				So(q.Meta.ScoreThresholds, ShouldResemble, []int{250, 900, 1800})

				p, _ := store.Get(ctx, testOrg, "u3")
				So(p.TotalXP, ShouldEqual, 120)
			})
		})

		Convey("When an unconfigured arcade quest is completed", func() {
			_, _ = svc.GetPlayer(ctx, testOrg, "u1")
			res, err := svc.CompleteArcadeQuest(ctx, service.CompleteRequest{
				OrgID: testOrg, UserID: "u1", QuestID: "neon-memory", Score: 800,
			})

			Convey("Then default thresholds and the base XP apply", func() {
				So(err, ShouldBeNil)
				So(res.Tier, ShouldEqual, 1)
				So(res.XPAwarded, ShouldEqual, 40)
			})
		})
	})
}

func TestCompleteArcadeQuest_Concurrency(t *testing.T) {
	Convey("Given a player submitting tier 2 and tier 3 runs at the same time", t, func() {
		for round := 0; round < 20; round++ {
			svc, store := newTestService(newFakeClock())
			ctx := context.Background()
			seedArcadeQuest(store, "lunchbox-run")
			_, err := svc.GetPlayer(ctx, testOrg, "u1")
			So(err, ShouldBeNil)

			var wg sync.WaitGroup
			results := make([]error, 2)
			for i, score := range []int{250, 350} {
				wg.Add(1)
				go func(i, score int) {
					defer wg.Done()
					_, results[i] = complete(svc, "u1", score)
				}(i, score)
			}
			wg.Wait()

			So(results[1], ShouldBeNil)
			if results[0] != nil {
				So(errors.Is(results[0], progression.ErrTierAlreadyRecorded), ShouldBeTrue)
			}

			p, err := store.Get(ctx, testOrg, "u1")
			So(err, ShouldBeNil)
			best, _, _ := p.SpecialEvents.ArcadeBest("lunchboxRun")
			So(best.BestTier, ShouldEqual, 3)
			So(p.TotalXP, ShouldEqual, 300)
		}
	})
}

func TestSubmitArcadeRun(t *testing.T) {
	Convey("Given a service with a configured arcade quest", t, func() {
		svc, store := newTestService(newFakeClock(), service.WithArcadeDefaults(service.ArcadeDefaults{
			Quests: map[string]service.ArcadeQuest{
				"lunchbox-run": {ScoreThresholds: []int{250, 900, 1800}},
			},
		}))
		ctx := context.Background()

		Convey("When a guest submits a run", func() {
			res, err := svc.SubmitArcadeRun(ctx, service.RunSubmission{
				Guest:           true,
				CompleteRequest: service.CompleteRequest{QuestID: "lunchbox-run", Score: 1000},
			})

			Convey("Then only the display tier is computed", func() {
				So(err, ShouldBeNil)
				So(res.Mode, ShouldEqual, service.ModeGuest)
				So(res.Tier, ShouldEqual, 2)
				So(res.XPAwarded, ShouldEqual, 0)
				So(res.Player, ShouldBeNil)
				So(store.Count(), ShouldEqual, 0)
				_, err := store.GetQuest(ctx, testOrg, "lunchbox-run")
				So(err, ShouldNotBeNil)
			})
		})

		Convey("When a player submits a run", func() {
			_, _ = svc.GetPlayer(ctx, testOrg, "u1")
			res, err := svc.SubmitArcadeRun(ctx, service.RunSubmission{
				CompleteRequest: service.CompleteRequest{OrgID: testOrg, UserID: "u1", QuestID: "lunchbox-run", Score: 300},
			})

			Convey("Then it runs the completion transaction", func() {
				So(err, ShouldBeNil)
				So(res.Mode, ShouldEqual, service.ModePlayer)
				So(res.Tier, ShouldEqual, 1)
				So(res.XPAwarded, ShouldEqual, 50)
			})
		})

		Convey("When the org stores its own thresholds for the quest", func() {
			seedArcadeQuest(store, "lunchbox-run")
			res, err := svc.SubmitArcadeRun(ctx, service.RunSubmission{
				Guest:           true,
				CompleteRequest: service.CompleteRequest{OrgID: testOrg, QuestID: "lunchbox-run", Score: 250},
			})

			Convey("Then a guest sees the tier a player would get", func() {
				So(err, ShouldBeNil)
				So(res.Tier, ShouldEqual, 2)
			})
		})

		Convey("When a guest names an org without the quest", func() {
			res, err := svc.SubmitArcadeRun(ctx, service.RunSubmission{
				Guest:           true,
				CompleteRequest: service.CompleteRequest{OrgID: testOrg, QuestID: "lunchbox-run", Score: 1000},
			})

			Convey("Then the configured thresholds apply and nothing is created", func() {
				So(err, ShouldBeNil)
				So(res.Tier, ShouldEqual, 2)
				_, err := store.GetQuest(ctx, testOrg, "lunchbox-run")
				So(err, ShouldNotBeNil)
			})
		})

		Convey("When a guest uses a non-canonical quest id", func() {
			_, err := svc.SubmitArcadeRun(ctx, service.RunSubmission{
				Guest:           true,
				CompleteRequest: service.CompleteRequest{QuestID: "Lunchbox_Run", Score: 1000},
			})
			So(errors.Is(err, service.ErrValidation), ShouldBeTrue)
		})

		Convey("When a guest omits the quest", func() {
			_, err := svc.SubmitArcadeRun(ctx, service.RunSubmission{Guest: true})
			So(errors.Is(err, service.ErrValidation), ShouldBeTrue)
		})
	})
}
