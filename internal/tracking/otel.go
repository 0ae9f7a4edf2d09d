package tracking

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/anchorcast/anchorcast/internal/tracking"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}
