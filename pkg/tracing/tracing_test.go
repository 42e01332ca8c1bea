package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/smartystreets/goconvey/convey"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestSetup(t *testing.T) {
	convey.Convey("Given tracing setup", t, func() {
		ctx := context.Background()

		convey.Convey("When tracing is disabled", func() {
			shutdown, err := Setup(ctx, Config{Endpoint: "localhost:4318"})

			convey.Convey("Then a no-op shutdown is returned", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(shutdown(ctx), convey.ShouldBeNil)
			})
		})

		convey.Convey("When enabled without an endpoint", func() {
			_, err := Setup(ctx, Config{Enabled: true})

			convey.Convey("Then setup fails", func() {
				convey.So(errors.Is(err, ErrSetup), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When enabled against an unreachable collector", func() {
			// 192.0.2.0/24 is reserved for documentation; nothing answers.
			shutdown, err := Setup(ctx, Config{Enabled: true, Endpoint: "192.0.2.1:4318", Insecure: true, ServiceName: "bitgalaxy-test"})

			convey.Convey("Then the provider installs and shuts down cleanly", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(shutdown(ctx), convey.ShouldBeNil)
			})
		})
	})
}

func TestSampler(t *testing.T) {
	convey.Convey("Given sample ratios", t, func() {
		convey.So(sampler(0).Description(), convey.ShouldEqual, sdktrace.AlwaysSample().Description())
		convey.So(sampler(1).Description(), convey.ShouldEqual, sdktrace.AlwaysSample().Description())
		convey.So(sampler(0.25).Description(), convey.ShouldContainSubstring, "TraceIDRatioBased")
	})
}
