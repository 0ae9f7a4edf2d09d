package assets

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/anchorcast/anchorcast/internal/assets"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}
