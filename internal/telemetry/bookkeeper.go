package telemetry

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/hermes-dicom/hermes/internal/hermeslog"
)

// BookkeeperSink posts events as JSON to the bookkeeper host:port named in
// spec.md §6. Its wire format is explicitly out of scope for this module
// (spec.md §1); this is a minimal, best-effort transport standing in for
// that external collaborator.
type BookkeeperSink struct {
	client  *http.Client
	baseURL string
	log     hermeslog.Logger
}

// NewBookkeeperSink builds a sink posting to http://<addr>/events and
// http://<addr>/series-events. addr is the "host:port" config value.
func NewBookkeeperSink(addr string, log hermeslog.Logger) *BookkeeperSink {
	return &BookkeeperSink{
		client:  &http.Client{Timeout: 3 * time.Second},
		baseURL: "http://" + addr,
		log:     log,
	}
}

func (b *BookkeeperSink) SendProcessEvent(ev ProcessEvent) {
	b.post("/events", ev)
}

func (b *BookkeeperSink) SendSeriesEvent(ev SeriesEvent) {
	b.post("/series-events", ev)
}

// post fires the request and ignores the response body entirely: a failed
// or slow bookkeeper must never hold up the pipeline (spec.md §7).
func (b *BookkeeperSink) post(path string, payload interface{}) {
	body, err := json.Marshal(payload)
	if err != nil {
		b.log.Debugf("bookkeeper: marshal failed: %v", err)
		return
	}
	resp, err := b.client.Post(b.baseURL+path, "application/json", bytes.NewReader(body))
	if err != nil {
		b.log.Debugf("bookkeeper: post %s failed: %v", path, err)
		return
	}
	resp.Body.Close()
}
