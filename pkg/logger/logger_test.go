package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestLoggerInit(t *testing.T) {
	Convey("Given the global logger", t, func() {
		So(Init(), ShouldBeNil)
		So(Get(), ShouldNotBeNil)
		So(Named("test"), ShouldNotBeNil)
		So(Sync(), ShouldBeNil)

		Convey("JSON format is accepted", func() {
			So(InitWithFormat("json"), ShouldBeNil)
		})

		Convey("Unknown formats are rejected", func() {
			So(InitWithFormat("xml"), ShouldNotBeNil)
		})
	})
}

func TestLoggerOutput(t *testing.T) {
	ctx := context.Background()

	Convey("Given a JSON logger on a buffer", t, func() {
		var buf bytes.Buffer
		lv := new(slog.LevelVar)
		l := New(&buf, Options{Format: FormatJSON, Level: lv})

		Convey("Fields and With fields are emitted", func() {
			l.With(String("org", "o1")).Info(ctx, "granted", Int("xp", 120), Error(errors.New("boom")))

			var rec map[string]any
			So(json.Unmarshal(buf.Bytes(), &rec), ShouldBeNil)
			So(rec["msg"], ShouldEqual, "granted")
			So(rec["org"], ShouldEqual, "o1")
			So(rec["xp"], ShouldEqual, 120)
			So(rec["error"], ShouldEqual, "boom")
		})

		Convey("Named loggers group their fields", func() {
			l.Named("audit").Warn(ctx, "dropped", String("id", "a1"))
			So(buf.String(), ShouldContainSubstring, `"audit":{"id":"a1"}`)
		})

		Convey("Records below the level are skipped", func() {
			l.Debug(ctx, "hidden")
			So(buf.Len(), ShouldEqual, 0)

			lv.Set(slog.LevelDebug)
			l.Debug(ctx, "shown")
			So(strings.Contains(buf.String(), "shown"), ShouldBeTrue)
		})
	})

	Convey("Given a nop logger", t, func() {
		l := NewNop()
		l.Error(ctx, "ignored", String("k", "v"))
		So(l.Named("x").With(Bool("b", true)), ShouldNotBeNil)
	})
}

func TestParseLevel(t *testing.T) {
	Convey("Given level strings", t, func() {
		cases := map[string]slog.Level{
			"debug":   slog.LevelDebug,
			"INFO":    slog.LevelInfo,
			"":        slog.LevelInfo,
			"warning": slog.LevelWarn,
			" error ": slog.LevelError,
		}
		for in, want := range cases {
			got, err := ParseLevel(in)
			So(err, ShouldBeNil)
			So(got, ShouldEqual, want)
		}

		_, err := ParseLevel("loud")
		So(err, ShouldNotBeNil)
		So(SetLevelString("loud"), ShouldNotBeNil)
		So(SetLevelString("debug"), ShouldBeNil)
	})
}
