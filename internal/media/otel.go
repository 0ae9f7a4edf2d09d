package media

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/anchorcast/anchorcast/internal/media"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}
