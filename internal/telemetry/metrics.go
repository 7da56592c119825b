package telemetry

import (
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hermes-dicom/hermes/internal/hermeslog"
)

// Metrics tracks the named counters listed in spec.md §6
// (events.run, events.boot, events.shutdown, incoming.files, incoming.series)
// as Prometheus gauges, and optionally mirrors every update to a Graphite
// carbon endpoint using the plaintext line protocol. The Graphite wire
// protocol is a tiny external collaborator (spec.md §1 excludes "the
// bookkeeper/telemetry sink wire format" from the core), so the bridge is a
// direct net.Conn writer per spec.md §7 ("telemetry emit failure: swallow,
// never block").
type Metrics struct {
	reg      *prometheus.Registry
	gauges   map[string]prometheus.Gauge
	mu       sync.Mutex
	graphite *graphiteClient
	prefix   string
}

// NewMetrics builds a Metrics instance registering one gauge per counter
// name. graphiteAddr may be empty to disable the Graphite bridge.
func NewMetrics(reg *prometheus.Registry, graphiteAddr, prefix string, log hermeslog.Logger) *Metrics {
	m := &Metrics{
		reg:    reg,
		gauges: make(map[string]prometheus.Gauge),
		prefix: prefix,
	}
	for _, name := range []string{"events.run", "events.boot", "events.shutdown", "incoming.files", "incoming.series"} {
		m.gauges[name] = m.register(name)
	}
	if graphiteAddr != "" {
		m.graphite = newGraphiteClient(graphiteAddr, prefix, log)
	}
	return m
}

func (m *Metrics) register(name string) prometheus.Gauge {
	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hermes_" + strings.ReplaceAll(name, ".", "_"),
		Help: fmt.Sprintf("Hermes counter %q (spec.md §6)", name),
	})
	if m.reg != nil {
		// A gauge may already be registered by a sibling Metrics instance
		// sharing the same registry in tests; ignore AlreadyRegisteredError.
		if err := m.reg.Register(g); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				return are.ExistingCollector.(prometheus.Gauge)
			}
		}
	}
	return g
}

// Inc increments the named counter by one.
func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

// Add adds delta to the named counter.
func (m *Metrics) Add(name string, delta float64) {
	m.mu.Lock()
	g, ok := m.gauges[name]
	m.mu.Unlock()
	if !ok {
		return
	}
	g.Add(delta)
	if m.graphite != nil {
		m.graphite.send(name, delta)
	}
}

// Set assigns the named counter's current value, used for gauges like
// incoming.files that represent a point-in-time count rather than a
// monotonic total.
func (m *Metrics) Set(name string, value float64) {
	m.mu.Lock()
	g, ok := m.gauges[name]
	m.mu.Unlock()
	if !ok {
		return
	}
	g.Set(value)
	if m.graphite != nil {
		m.graphite.send(name, value)
	}
}

type graphiteClient struct {
	addr   string
	prefix string
	log    hermeslog.Logger
}

func newGraphiteClient(addr, prefix string, log hermeslog.Logger) *graphiteClient {
	return &graphiteClient{addr: addr, prefix: prefix, log: log}
}

// send writes a single carbon plaintext metric line ("path value timestamp\n").
// Connection failures are logged at debug level and otherwise swallowed —
// the telemetry sink must never block or fail the pipeline (spec.md §7).
func (g *graphiteClient) send(name string, value float64) {
	conn, err := net.DialTimeout("tcp", g.addr, 2*time.Second)
	if err != nil {
		g.log.Debugf("graphite: dial %s failed: %v", g.addr, err)
		return
	}
	defer conn.Close()

	_ = conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	line := fmt.Sprintf("%s%s %v %d\n", g.prefix, name, value, time.Now().Unix())
	if _, err := conn.Write([]byte(line)); err != nil {
		g.log.Debugf("graphite: write failed: %v", err)
	}
}
