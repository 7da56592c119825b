// Package target implements the target.json descriptor (spec.md §3) written
// by the router and read/rewritten by the dispatcher's retry state machine.
package target

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"github.com/hermes-dicom/hermes/internal/series"
)

// Descriptor is the target.json schema (spec.md §3).
type Descriptor struct {
	TargetIP        string  `json:"target_ip"`
	TargetPort      int     `json:"target_port"`
	TargetAETTarget string  `json:"target_aet_target"`
	TargetAETSource string  `json:"target_aet_source,omitempty"`
	TargetName      string  `json:"target_name,omitempty"`
	SeriesUID       string  `json:"series_uid,omitempty"`
	Retries         int     `json:"retries"`
	NextRetryAt     float64 `json:"next_retry_at,omitempty"`
}

// Valid reports whether the three mandatory keys (spec.md §3) are present.
func (d Descriptor) Valid() bool {
	return d.TargetIP != "" && d.TargetPort != 0 && d.TargetAETTarget != ""
}

// ErrInvalid is returned by Load when target.json is absent, fails to parse,
// or is missing a mandatory key. Per spec.md §7 ("Malformed target.json:
// Treat directory as not-ready; no retry counter bump"), callers must treat
// this the same as "not ready", not as a delivery failure.
var ErrInvalid = errors.New("target: invalid or incomplete target.json")

// Load reads and parses dir/target.json, returning ErrInvalid if the file
// is absent, unparsable, or missing a mandatory key.
func Load(dir string) (Descriptor, error) {
	data, err := os.ReadFile(filepath.Join(dir, series.TargetFile))
	if err != nil {
		return Descriptor{}, ErrInvalid
	}
	var d Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return Descriptor{}, ErrInvalid
	}
	if !d.Valid() {
		return Descriptor{}, ErrInvalid
	}
	return d, nil
}

// Save writes the descriptor to dir/target.json, overwriting any existing
// file. Writes go through a temp file + rename so a reader never observes a
// half-written target.json.
func Save(dir string, d Descriptor) error {
	data, err := json.Marshal(d)
	if err != nil {
		return err
	}
	final := filepath.Join(dir, series.TargetFile)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, final)
}
