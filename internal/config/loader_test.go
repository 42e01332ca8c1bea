package config_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/okian/bitgalaxy/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()
		clearConfigEnvVars()

		convey.Convey("When loading config with defaults only", func() {
			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldNotBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
				convey.So(cfg.Storage.Driver, convey.ShouldEqual, config.DriverMemory)
				convey.So(cfg.Audit.Sink, convey.ShouldEqual, config.AuditSinkLog)
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("BITGALAXY_ADDR", ":8080")
			_ = os.Setenv("BITGALAXY_DEDUPE_SIZE", "250000")
			_ = os.Setenv("BITGALAXY_STORAGE__DRIVER", "sqlite")
			_ = os.Setenv("BITGALAXY_STORAGE__PATH", "/tmp/bg.db")
			_ = os.Setenv("BITGALAXY_AUDIT__WORKERS", "16")
			_ = os.Setenv("BITGALAXY_SESSION__TTL", "2h")
			_ = os.Setenv("BITGALAXY_RETRY__BASE_BACKOFF", "20ms")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then nested keys are overridden", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.DedupeSize, convey.ShouldEqual, 250000)
				convey.So(cfg.Storage.Driver, convey.ShouldEqual, config.DriverSQLite)
				convey.So(cfg.Storage.Path, convey.ShouldEqual, "/tmp/bg.db")
				convey.So(cfg.Audit.Workers, convey.ShouldEqual, 16)
				convey.So(cfg.Session.TTL, convey.ShouldEqual, 2*time.Hour)
				convey.So(cfg.Retry.BaseBackoff, convey.ShouldEqual, 20*time.Millisecond)
			})
		})

		convey.Convey("When loading config with YAML file", func() {
			yamlContent := `
addr: ":9090"
log_format: json
audit:
  queue_size: 300
  sink: store
arcade:
  default_base_xp: 40
  quests:
    star-dash:
      title: Star Dash
      xp: 60
      score_thresholds: [100, 200, 300]
`
			tmpFile := createTempConfigFile(yamlContent)
			defer func() { _ = os.Remove(tmpFile) }()

			_ = os.Setenv("BITGALAXY_CONFIG", tmpFile)
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load from YAML file and keep other defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
				convey.So(cfg.LogFormat, convey.ShouldEqual, "json")
				convey.So(cfg.Audit.QueueSize, convey.ShouldEqual, 300)
				convey.So(cfg.Audit.Workers, convey.ShouldEqual, 4)
				convey.So(cfg.Audit.Sink, convey.ShouldEqual, config.AuditSinkStore)
				convey.So(cfg.Arcade.DefaultBaseXP, convey.ShouldEqual, 40)
				convey.So(cfg.Arcade.Quests["star-dash"].ScoreThresholds, convey.ShouldResemble, []int{100, 200, 300})
				convey.So(cfg.Arcade.Quests["lunchbox-run"].XP, convey.ShouldEqual, 50)
			})
		})

		convey.Convey("When loading config with both file and environment variables", func() {
			yamlContent := `
addr: ":9090"
dedupe_size: 600
`
			tmpFile := createTempConfigFile(yamlContent)
			defer func() { _ = os.Remove(tmpFile) }()

			_ = os.Setenv("BITGALAXY_CONFIG", tmpFile)
			_ = os.Setenv("BITGALAXY_ADDR", ":8080")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then environment variables should override file values", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.DedupeSize, convey.ShouldEqual, 600)
			})
		})

		convey.Convey("When loading config with invalid YAML file", func() {
			tmpFile := createTempConfigFile(`invalid: yaml: content: [`)
			defer func() { _ = os.Remove(tmpFile) }()

			_ = os.Setenv("BITGALAXY_CONFIG", tmpFile)
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a load error", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with non-existent file", func() {
			_ = os.Setenv("BITGALAXY_CONFIG", "/non/existent/file.yaml")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return an error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with empty addr", func() {
			_ = os.Setenv("BITGALAXY_ADDR", "")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a validation error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(err.Error(), convey.ShouldContainSubstring, "addr must not be empty")
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with invalid numeric environment variables", func() {
			_ = os.Setenv("BITGALAXY_DEDUPE_SIZE", "invalid")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return an error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When sqlite is selected without a path", func() {
			_ = os.Setenv("BITGALAXY_STORAGE__DRIVER", "sqlite")
			_ = os.Setenv("BITGALAXY_STORAGE__PATH", "")
			defer clearConfigEnvVars()

			_, err := config.Load(ctx)

			convey.Convey("Then validation fails", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		})
	})
}

// Helper functions.

func clearConfigEnvVars() {
	envVars := []string{
		"BITGALAXY_CONFIG",
		"BITGALAXY_ADDR",
		"BITGALAXY_DEDUPE_SIZE",
		"BITGALAXY_STORAGE__DRIVER",
		"BITGALAXY_STORAGE__PATH",
		"BITGALAXY_AUDIT__WORKERS",
		"BITGALAXY_SESSION__TTL",
		"BITGALAXY_RETRY__BASE_BACKOFF",
	}
	for _, envVar := range envVars {
		_ = os.Unsetenv(envVar)
	}
}

func createTempConfigFile(content string) string {
	tmpFile, err := os.CreateTemp("", "bitgalaxy-config-*.yaml")
	if err != nil {
		panic(err)
	}

	if _, err := tmpFile.WriteString(content); err != nil {
		panic(err)
	}

	if err := tmpFile.Close(); err != nil {
		panic(err)
	}

	return tmpFile.Name()
}
