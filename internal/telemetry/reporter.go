package telemetry

import "github.com/rjboer/GoGNSS/internal/dsp"

// Reporter captures telemetry events.
type Reporter interface {
	Report(sample Sample)
	ReportSpectrum(s dsp.Spectrum)
}

// MultiReporter fans out telemetry to multiple destinations.
type MultiReporter []Reporter

// Report forwards telemetry to each configured reporter.
func (m MultiReporter) Report(sample Sample) {
	for _, r := range m {
		if r != nil {
			r.Report(sample)
		}
	}
}

// ReportSpectrum forwards a spectrum to each configured reporter.
func (m MultiReporter) ReportSpectrum(s dsp.Spectrum) {
	for _, r := range m {
		if r != nil {
			r.ReportSpectrum(s)
		}
	}
}
