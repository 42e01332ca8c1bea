package root

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/bitgalaxy/internal/config"
	"github.com/okian/bitgalaxy/pkg/logger"
)

func execute(args ...string) (string, error) {
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// touch reads a player, creating it.
func touch(app *application, path string) {
	w := httptest.NewRecorder()
	app.handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, http.NoBody))
	convey.So(w.Code, convey.ShouldEqual, http.StatusOK)
}

func TestRankCommand(t *testing.T) {
	convey.Convey("Given the rank command", t, func() {
		convey.Convey("When asked for 800 XP", func() {
			out, err := execute("rank", "800")

			convey.Convey("Then it prints rank, level and progress", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(out, convey.ShouldContainSubstring, "Rank:     Pilot")
				convey.So(out, convey.ShouldContainSubstring, "Level:    5")
				convey.So(out, convey.ShouldContainSubstring, "to Navigator")
			})
		})

		convey.Convey("When the XP is not a number", func() {
			_, err := execute("rank", "lots")
			convey.So(err, convey.ShouldNotBeNil)
		})

		convey.Convey("When no XP is given", func() {
			_, err := execute("rank")
			convey.So(err, convey.ShouldNotBeNil)
		})
	})
}

func TestTierCommand(t *testing.T) {
	convey.Convey("Given the tier command", t, func() {
		convey.Convey("When only a score is given", func() {
			out, err := execute("tier", "9999")

			convey.Convey("Then default thresholds apply", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(out, convey.ShouldEqual, "Tier: 3\n")
			})
		})

		convey.Convey("When thresholds are given", func() {
			out, err := execute("tier", "150", "100", "200", "300")

			convey.Convey("Then they are used", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(out, convey.ShouldEqual, "Tier: 1\n")
			})
		})

		convey.Convey("When too many thresholds are given", func() {
			_, err := execute("tier", "1", "2", "3", "4", "5")
			convey.So(err, convey.ShouldNotBeNil)
		})

		convey.Convey("When a threshold is not a number", func() {
			_, err := execute("tier", "150", "x")
			convey.So(err, convey.ShouldNotBeNil)
		})
	})
}

func TestVersion(t *testing.T) {
	convey.Convey("Given --version", t, func() {
		out, err := execute("--version")
		convey.So(err, convey.ShouldBeNil)
		convey.So(out, convey.ShouldEqual, "bitgalaxy v"+Version+"\n")
	})
}

func TestBuild(t *testing.T) {
	convey.Convey("Given the default config", t, func() {
		ctx := context.Background()
		cfg := config.New()

		convey.Convey("When the application is built on the memory store", func() {
			app, err := build(ctx, cfg, logger.NewNop())
			convey.So(err, convey.ShouldBeNil)
			defer func() { _ = app.close(ctx) }()

			convey.Convey("Then health, docs and player routes are served", func() {
				for _, path := range []string{"/healthz", "/openapi.yaml", "/v1/orgs/org-1/players/p-1"} {
					w := httptest.NewRecorder()
					app.handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, http.NoBody))
					convey.So(w.Code, convey.ShouldEqual, http.StatusOK)
				}
			})

			convey.Convey("And configured arcade defaults shape new quests", func() {
				touch(app, "/v1/orgs/org-1/players/p-1")
				w := httptest.NewRecorder()
				body := `{"orgId":"org-1","userId":"p-1","score":1000}`
				app.handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/arcade/lunchbox-run/complete", strings.NewReader(body)))
				convey.So(w.Code, convey.ShouldEqual, http.StatusOK)

				var res map[string]any
				convey.So(json.Unmarshal(w.Body.Bytes(), &res), convey.ShouldBeNil)
				// 1000 clears the configured 900 threshold.
				convey.So(res["tier"], convey.ShouldEqual, float64(2))
			})
		})

		convey.Convey("When sessions are enabled", func() {
			cfg.Session.Secret = "0123456789abcdef0123456789abcdef"
			app, err := build(ctx, cfg, logger.NewNop())
			convey.So(err, convey.ShouldBeNil)
			defer func() { _ = app.close(ctx) }()

			convey.Convey("Then join sets a session cookie", func() {
				w := httptest.NewRecorder()
				body := `{"orgId":"org-1","firstName":"Ada","lastName":"L","email":"ada@example.com"}`
				app.handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/players/join", strings.NewReader(body)))
				convey.So(w.Code, convey.ShouldEqual, http.StatusOK)
				convey.So(w.Header().Get("Set-Cookie"), convey.ShouldContainSubstring, "bitgalaxy_session=")
			})
		})

		convey.Convey("When the sqlite driver and a seed file are configured", func() {
			dir := t.TempDir()
			seed := filepath.Join(dir, "seed.yaml")
			raw := "orgs:\n  org-1:\n    - id: star-dash\n      type: arcade\n      xp: 40\n      meta:\n        score_thresholds: [10, 20, 30]\n"
			convey.So(os.WriteFile(seed, []byte(raw), 0o600), convey.ShouldBeNil)

			cfg.Storage.Driver = config.DriverSQLite
			cfg.Storage.Path = filepath.Join(dir, "bitgalaxy.db")
			cfg.Storage.SeedFile = seed
			cfg.Audit.Sink = config.AuditSinkStore

			app, err := build(ctx, cfg, logger.NewNop())
			convey.So(err, convey.ShouldBeNil)
			defer func() { _ = app.close(ctx) }()

			convey.Convey("Then seeded thresholds score runs", func() {
				touch(app, "/v1/orgs/org-1/players/p-1")
				w := httptest.NewRecorder()
				body := `{"orgId":"org-1","userId":"p-1","score":25}`
				app.handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/arcade/star-dash/complete", strings.NewReader(body)))
				convey.So(w.Code, convey.ShouldEqual, http.StatusOK)

				var res map[string]any
				convey.So(json.Unmarshal(w.Body.Bytes(), &res), convey.ShouldBeNil)
				convey.So(res["tier"], convey.ShouldEqual, float64(2))
				convey.So(res["xpAwarded"], convey.ShouldEqual, float64(80))
			})
		})

		convey.Convey("When the seed file is missing", func() {
			cfg.Storage.SeedFile = filepath.Join(t.TempDir(), "missing.yaml")
			_, err := build(ctx, cfg, logger.NewNop())
			convey.So(err, convey.ShouldNotBeNil)
		})
	})
}

func TestLoadgenCommand(t *testing.T) {
	convey.Convey("Given a wired application behind a test server", t, func() {
		ctx := context.Background()
		cfg := config.New()
		cfg.Retry.MaxAttempts = 100
		cfg.Retry.BaseBackoff = 0
		app, err := build(ctx, cfg, logger.NewNop())
		convey.So(err, convey.ShouldBeNil)
		convey.So(app.svc.Start(ctx), convey.ShouldBeNil)
		srv := httptest.NewServer(app.handler)
		defer func() {
			srv.Close()
			app.svc.Stop()
			_ = app.close(ctx)
		}()

		convey.Convey("When loadgen runs against it", func() {
			out, err := execute("loadgen", "--url", srv.URL, "--players", "3", "--runs", "60", "--workers", "3", "--max-score", "2000")

			convey.Convey("Then every player verifies", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(out, convey.ShouldContainSubstring, "3 joined, 3 verified")
				convey.So(out, convey.ShouldContainSubstring, "60 submitted")
			})
		})
	})
}
