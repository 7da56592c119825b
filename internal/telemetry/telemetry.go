// Package telemetry defines the two event kinds the core pipeline emits
// (process events and series events, spec.md §6) and a fire-and-forget
// Sink interface. The bookkeeper wire format itself is out of scope
// (spec.md §1); Sink is the named external-collaborator interface the core
// depends on, and this package ships a Prometheus-backed metrics sink plus
// a Graphite line-protocol bridge for the counters named in spec.md §6.
package telemetry

import (
	"github.com/google/uuid"

	"github.com/hermes-dicom/hermes/internal/hermeslog"
)

// ProcessEventKind enumerates the process-level event kinds from spec.md §6.
type ProcessEventKind string

const (
	EventBoot            ProcessEventKind = "BOOT"
	EventShutdownRequest ProcessEventKind = "SHUTDOWN_REQUEST"
	EventShutdown        ProcessEventKind = "SHUTDOWN"
	EventConfigUpdate    ProcessEventKind = "CONFIG_UPDATE"
	EventProcessing      ProcessEventKind = "PROCESSING"
)

// Severity enumerates the severities a process event may carry.
type Severity string

const (
	SeverityInfo    Severity = "INFO"
	SeverityWarning Severity = "WARNING"
	SeverityError   Severity = "ERROR"
)

// SeriesEventKind enumerates the series-level event kinds from spec.md §6.
type SeriesEventKind string

const (
	SeriesDispatch SeriesEventKind = "DISPATCH"
	SeriesClean    SeriesEventKind = "CLEAN"
	SeriesError    SeriesEventKind = "ERROR"
	SeriesSuspend  SeriesEventKind = "SUSPEND"
	SeriesMove     SeriesEventKind = "MOVE"
)

// ProcessEvent is a process-lifecycle telemetry event.
type ProcessEvent struct {
	ID       string
	Kind     ProcessEventKind
	Severity Severity
	Detail   string
}

// SeriesEvent is a per-series telemetry event.
type SeriesEvent struct {
	ID            string
	Kind          SeriesEventKind
	SeriesUID     string
	FileCount     int
	TargetOrPath  string
	Detail        string
}

// Sink is the bookkeeper collaborator interface (spec.md §6). Implementations
// must be fire-and-forget: a failure to emit must never block the pipeline
// (spec.md §7).
type Sink interface {
	SendProcessEvent(ev ProcessEvent)
	SendSeriesEvent(ev SeriesEvent)
}

// Monitor wraps a Sink plus the named-counter Metrics (spec.md §6),
// generating event IDs and swallowing any downstream error — emitting
// telemetry never returns an error to its caller.
type Monitor struct {
	service  string
	instance string
	sink     Sink
	metrics  *Metrics
	log      hermeslog.Logger
}

// NewMonitor builds a Monitor for one service instance. sink may be nil, in
// which case events are dropped without being forwarded or logged (the
// named counters still update) — useful for
// tests and for operators who haven't configured a bookkeeper endpoint.
func NewMonitor(service, instance string, sink Sink, metrics *Metrics, log hermeslog.Logger) *Monitor {
	return &Monitor{service: service, instance: instance, sink: sink, metrics: metrics, log: log}
}

func (m *Monitor) SendEvent(kind ProcessEventKind, sev Severity, detail string) {
	if metricName, ok := processCounterNames[kind]; ok {
		m.metrics.Inc(metricName)
	}
	if m.sink == nil {
		return
	}
	defer func() {
		// A panicking or misbehaving sink implementation must never bring
		// down the pipeline (spec.md §7: "Telemetry emit failure: Swallow").
		if r := recover(); r != nil {
			m.log.Warnf("telemetry sink panicked sending process event: %v", r)
		}
	}()
	m.sink.SendProcessEvent(ProcessEvent{
		ID:       uuid.NewString(),
		Kind:     kind,
		Severity: sev,
		Detail:   detail,
	})
}

func (m *Monitor) SendSeriesEvent(kind SeriesEventKind, seriesUID string, fileCount int, targetOrPath, detail string) {
	if m.sink == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.log.Warnf("telemetry sink panicked sending series event: %v", r)
		}
	}()
	m.sink.SendSeriesEvent(SeriesEvent{
		ID:           uuid.NewString(),
		Kind:         kind,
		SeriesUID:    seriesUID,
		FileCount:    fileCount,
		TargetOrPath: targetOrPath,
		Detail:       detail,
	})
}

// CountRun increments the events.run counter (spec.md §6), recorded on every
// scheduled task invocation.
func (m *Monitor) CountRun() {
	m.metrics.Inc("events.run")
}

// CountIncoming records the incoming.files / incoming.series gauges produced
// by every router scan (spec.md §6).
func (m *Monitor) CountIncoming(files, series int) {
	m.metrics.Set("incoming.files", float64(files))
	m.metrics.Set("incoming.series", float64(series))
}

var processCounterNames = map[ProcessEventKind]string{
	EventBoot:     "events.boot",
	EventShutdown: "events.shutdown",
}
