package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/railzwaylabs/deskbill/internal/observability/logger"
	"github.com/railzwaylabs/deskbill/internal/observability/metrics"
	"github.com/railzwaylabs/deskbill/internal/observability/tracing"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
)

var Module = fx.Module("observability",
	fx.Provide(
		logger.NewFromConfig,
		tracing.NewProvider,
		func() prometheus.Registerer { return prometheus.DefaultRegisterer },
		metrics.New,
	),
	fx.Invoke(ensureTracingProvider),
)

func ensureTracingProvider(_ *sdktrace.TracerProvider) {}
