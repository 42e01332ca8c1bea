package loadgen

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/bitgalaxy/internal/adapters/http/api"
	"github.com/okian/bitgalaxy/internal/adapters/repository"
	service "github.com/okian/bitgalaxy/internal/app"
	"github.com/okian/bitgalaxy/internal/domain/model"
)

const testOrg = "org-load"

func newTestServer(t *testing.T) (*httptest.Server, *repository.MemoryStore) {
	t.Helper()
	store := repository.NewMemoryStore()
	_, _, err := store.EnsureQuest(context.Background(), model.Quest{
		ID: "lunchbox-run", OrgID: testOrg, Type: model.QuestTypeArcade,
		Levels: []model.Level{{XP: 50}, {XP: 120}, {XP: 300}},
		Meta:   model.QuestMeta{ScoreThresholds: []int{100, 200, 300}},
	})
	if err != nil {
		t.Fatal(err)
	}
	svc := service.New(
		service.WithPlayers(store),
		service.WithCatalog(store),
		service.WithRetry(100, 0),
	)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	mux := http.NewServeMux()
	api.NewServer(svc, svc).Register(context.Background(), mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		srv.Close()
		svc.Stop()
	})
	return srv, store
}

func TestConfigValidate(t *testing.T) {
	convey.Convey("Given the default config", t, func() {
		cfg := DefaultConfig()
		convey.So(cfg.Validate(), convey.ShouldBeNil)

		convey.Convey("When a field is out of range", func() {
			bad := []func(*Config){
				func(c *Config) { c.BaseURL = "" },
				func(c *Config) { c.QuestID = "" },
				func(c *Config) { c.Players = 0 },
				func(c *Config) { c.Runs = -1 },
				func(c *Config) { c.Workers = 0 },
				func(c *Config) { c.ReplayRatio = 1 },
				func(c *Config) { c.MaxScore = 0 },
			}

			convey.Convey("Then validation fails", func() {
				for _, mutate := range bad {
					c := DefaultConfig()
					mutate(&c)
					convey.So(errors.Is(c.Validate(), ErrInvalidConfig), convey.ShouldBeTrue)
				}
			})
		})
	})
}

func TestGenerateRuns(t *testing.T) {
	convey.Convey("Given two players", t, func() {
		users := []string{"u1", "u2"}

		convey.Convey("When no replays are requested", func() {
			runs := generateRuns(users, 100, 0, 500)

			convey.Convey("Then every run id is unique", func() {
				seen := map[string]bool{}
				for _, r := range runs {
					convey.So(seen[r.RunID], convey.ShouldBeFalse)
					convey.So(r.Replay, convey.ShouldBeFalse)
					convey.So(r.Score, convey.ShouldBeBetweenOrEqual, 0, 500)
					seen[r.RunID] = true
				}
				convey.So(runs, convey.ShouldHaveLength, 100)
			})
		})

		convey.Convey("When replays are requested", func() {
			runs := generateRuns(users, 500, 0.5, 500)

			convey.Convey("Then each replay repeats an earlier run of the same player", func() {
				first := map[string]Run{}
				for _, r := range runs {
					if !r.Replay {
						first[r.RunID] = r
						continue
					}
					orig, ok := first[r.RunID]
					convey.So(ok, convey.ShouldBeTrue)
					convey.So(orig.UserID, convey.ShouldEqual, r.UserID)
					convey.So(orig.Score, convey.ShouldEqual, r.Score)
				}
			})
		})

		convey.Convey("When there are no players", func() {
			convey.So(generateRuns(nil, 10, 0, 10), convey.ShouldBeEmpty)
		})
	})
}

func TestRunner(t *testing.T) {
	convey.Convey("Given a running server", t, func() {
		srv, store := newTestServer(t)
		cfg := DefaultConfig()
		cfg.BaseURL = srv.URL
		cfg.OrgID = testOrg
		cfg.Players = 5
		cfg.Runs = 200
		cfg.Workers = 4
		cfg.ReplayRatio = 0.2
		cfg.MaxScore = 400

		convey.Convey("When a load run completes", func() {
			r, err := NewRunner(cfg, nil)
			convey.So(err, convey.ShouldBeNil)
			stats, err := r.Run(context.Background())

			convey.Convey("Then every player matches the accepted runs", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(stats.PlayersJoined, convey.ShouldEqual, 5)
				convey.So(stats.PlayersVerified, convey.ShouldEqual, 5)
				convey.So(stats.RunsSubmitted, convey.ShouldEqual, 200)
				convey.So(stats.RunsFailed, convey.ShouldEqual, 0)
				convey.So(stats.RunsAccepted+stats.Rejected(), convey.ShouldEqual, 200)
				convey.So(stats.RunsAccepted, convey.ShouldBeGreaterThan, 0)
				convey.So(store.Count(), convey.ShouldEqual, 5)
			})
		})

		convey.Convey("When no org is given", func() {
			cfg.OrgID = ""
			r, err := NewRunner(cfg, nil)

			convey.Convey("Then a fresh org is picked", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(r.OrgID(), convey.ShouldStartWith, "loadgen-")
			})
		})
	})

	convey.Convey("Given an unhealthy server", t, func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		cfg := DefaultConfig()
		cfg.BaseURL = srv.URL
		cfg.Timeout = time.Second
		r, err := NewRunner(cfg, nil)
		convey.So(err, convey.ShouldBeNil)

		convey.Convey("Then the run stops before joining players", func() {
			stats, err := r.Run(context.Background())
			convey.So(err, convey.ShouldNotBeNil)
			convey.So(stats.PlayersJoined, convey.ShouldEqual, 0)
		})
	})
}

func TestExpectations(t *testing.T) {
	convey.Convey("Given accepted and rejected outcomes", t, func() {
		outcomes := []outcome{
			{run: Run{UserID: "u1"}, accepted: &completeResponse{WeekKey: "2026-W42", Tier: 1, XPAwarded: 50, XPGranted: true}},
			{run: Run{UserID: "u1"}, accepted: &completeResponse{WeekKey: "2026-W42", Tier: 3, XPAwarded: 250, XPGranted: true}},
			{run: Run{UserID: "u1"}, code: "tier_already_recorded"},
			{run: Run{UserID: "u2"}, accepted: &completeResponse{WeekKey: "2026-W42", Tier: 2, XPAwarded: 120}},
			{run: Run{UserID: "u3"}, code: "score_too_low"},
		}

		convey.Convey("Then only granted XP counts toward the total", func() {
			want := expectations(outcomes)
			convey.So(want["u1"].xp, convey.ShouldEqual, 300)
			convey.So(want["u1"].bestTier, convey.ShouldEqual, 3)
			convey.So(want["u2"].xp, convey.ShouldEqual, 0)
			convey.So(want["u2"].bestTier, convey.ShouldEqual, 2)
			convey.So(want["u3"].weekKey, convey.ShouldEqual, "")
		})
	})
}
