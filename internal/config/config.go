// Package config holds the typed configuration consumed by the Hermes
// services. Parsing the operator-facing configuration language is out of
// scope (spec.md §1); this package only decodes a YAML document into the
// Hermes struct and validates that the keys the core actually reads
// (spec.md §6) are present.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hermes-dicom/hermes/internal/herrors"
)

// Hermes carries every configuration key the core consumes, per spec.md §6.
type Hermes struct {
	IncomingFolder string `yaml:"incoming_folder"`
	OutgoingFolder string `yaml:"outgoing_folder"`
	SuccessFolder  string `yaml:"success_folder"`
	DiscardFolder  string `yaml:"discard_folder"`
	ErrorFolder    string `yaml:"error_folder"`

	SeriesCompleteTrigger int `yaml:"series_complete_trigger"`
	RouterScanInterval    int `yaml:"router_scan_interval"`
	CleanerScanInterval   int `yaml:"cleaner_scan_interval"`
	Retention             int `yaml:"retention"`

	OffpeakStart string `yaml:"offpeak_start"`
	OffpeakEnd   string `yaml:"offpeak_end"`

	Bookkeeper  string `yaml:"bookkeeper"`
	GraphiteIP  string `yaml:"graphite_ip"`
	GraphitePort int    `yaml:"graphite_port"`

	RetryMax   int `yaml:"retry_max"`
	RetryDelay int `yaml:"retry_delay"`

	MaxParallelism int `yaml:"max_parallelism"`

	// StaticTargets configures the default, minimal rule evaluator
	// (routing.StaticEvaluator): every complete series is routed to every
	// listed target. The rule-language evaluator itself is out of scope
	// (spec.md §1); this is a placeholder collaborator, not a replacement
	// for it (SPEC_FULL.md §D, routing.RuleEvaluator).
	StaticTargets []TargetConfig `yaml:"static_targets"`
}

// TargetConfig is the YAML shape of one static routing target.
type TargetConfig struct {
	Name            string `yaml:"name"`
	IP              string `yaml:"ip"`
	Port            int    `yaml:"port"`
	CalledAET       string `yaml:"called_aet"`
	CallingAET      string `yaml:"calling_aet"`
}

// SeriesCompleteTriggerDuration is series_complete_trigger as a Duration.
func (h Hermes) SeriesCompleteTriggerDuration() time.Duration {
	return time.Duration(h.SeriesCompleteTrigger) * time.Second
}

// RetentionDuration is retention as a Duration.
func (h Hermes) RetentionDuration() time.Duration {
	return time.Duration(h.Retention) * time.Second
}

// RetryDelayDuration is retry_delay as a Duration.
func (h Hermes) RetryDelayDuration() time.Duration {
	return time.Duration(h.RetryDelay) * time.Second
}

// Load reads and decodes a YAML configuration file and checks that the keys
// required for the core to function are present. Any failure here is always
// fatal to the caller (spec.md §6: "Service exits non-zero iff it cannot
// load configuration at startup"), so every returned error is marked via
// herrors.WithFatal; mid-run reload failures (spec.md §7) are the caller's
// concern, not this function's — Load itself never distinguishes boot from
// reload.
func Load(path string) (Hermes, error) {
	f, err := os.Open(path)
	if err != nil {
		return Hermes{}, herrors.WithFatal(fmt.Errorf("config: open %s: %w", path, err))
	}
	defer f.Close()

	var h Hermes
	dec := yaml.NewDecoder(f)
	dec.KnownFields(false)
	if err := dec.Decode(&h); err != nil {
		return Hermes{}, herrors.WithFatal(fmt.Errorf("config: parse %s: %w", path, err))
	}

	if err := h.validate(); err != nil {
		return Hermes{}, herrors.WithFatal(fmt.Errorf("config: %s: %w", path, err))
	}

	return h.withDefaults(), nil
}

func (h Hermes) validate() error {
	required := map[string]string{
		"incoming_folder": h.IncomingFolder,
		"outgoing_folder": h.OutgoingFolder,
		"success_folder":  h.SuccessFolder,
		"error_folder":    h.ErrorFolder,
		"offpeak_start":   h.OffpeakStart,
		"offpeak_end":     h.OffpeakEnd,
	}
	for key, val := range required {
		if val == "" {
			return fmt.Errorf("missing required key %q", key)
		}
	}
	if h.SeriesCompleteTrigger <= 0 {
		return fmt.Errorf("series_complete_trigger must be positive")
	}
	return nil
}

func (h Hermes) withDefaults() Hermes {
	if h.DiscardFolder == "" {
		h.DiscardFolder = h.SuccessFolder + "-discard"
	}
	if h.RouterScanInterval <= 0 {
		h.RouterScanInterval = 10
	}
	if h.CleanerScanInterval <= 0 {
		h.CleanerScanInterval = 3600
	}
	if h.RetryMax <= 0 {
		h.RetryMax = 5
	}
	if h.RetryDelay <= 0 {
		h.RetryDelay = 30
	}
	if h.MaxParallelism <= 0 {
		h.MaxParallelism = 4
	}
	return h
}
