package out

import (
	"time"

	"github.com/bnema/pinup/internal/domain"
)

// MetricsRecorder collects run metrics.
type MetricsRecorder interface {
	RecordProject(report domain.ProjectReport, elapsed time.Duration)
	RecordResolution(registry string, ok bool)
	// Flush persists collected metrics. It is a no-op when no sink is set.
	Flush() error
}
