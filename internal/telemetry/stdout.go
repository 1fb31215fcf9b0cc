package telemetry

import (
	"github.com/rjboer/GoGNSS/internal/dsp"
	"github.com/rjboer/GoGNSS/internal/logging"
)

// StdoutReporter prints queue updates through the logger.
type StdoutReporter struct {
	logger logging.Logger
}

// NewStdoutReporter builds a stdout reporter with the provided logger.
func NewStdoutReporter(logger logging.Logger) StdoutReporter {
	if logger == nil {
		logger = logging.Default()
	}
	return StdoutReporter{logger: logger.With(logging.F("subsystem", "telemetry"))}
}

func (r StdoutReporter) Report(sample Sample) {
	fields := []logging.Field{
		{Key: "count", Value: sample.Count},
		{Key: "occupancy", Value: sample.Occupancy},
		{Key: "depth", Value: sample.Depth},
		{Key: "scale", Value: sample.Scale},
	}
	if sample.Overflows != 0 {
		fields = append(fields, logging.Field{Key: "overflows", Value: sample.Overflows})
	}
	if sample.Gaps != 0 {
		fields = append(fields,
			logging.Field{Key: "gaps", Value: sample.Gaps},
			logging.Field{Key: "lost_ms", Value: sample.Lost},
		)
	}
	r.logger.Info("fifo sample", fields...)
}

func (r StdoutReporter) ReportSpectrum(s dsp.Spectrum) {
	r.logger.Info("spectrum",
		logging.F("count", s.Count),
		logging.F("peak_hz", s.PeakHz),
		logging.F("peak_dbfs", s.PeakDBFS),
		logging.F("noise_floor_dbfs", s.NoiseFloorDBFS),
	)
}
