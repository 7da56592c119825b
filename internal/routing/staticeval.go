package routing

import (
	"github.com/hermes-dicom/hermes/internal/config"
	"github.com/hermes-dicom/hermes/internal/target"
)

// StaticEvaluator is a minimal, config-driven RuleEvaluator: every complete
// series matches every configured target. It exists so the router binary
// is runnable without the full rule-language evaluator, which spec.md §1
// explicitly places out of scope. Operators wanting per-series routing
// logic plug in their own RuleEvaluator implementation instead.
type StaticEvaluator struct {
	Targets []config.TargetConfig
}

func (s StaticEvaluator) Evaluate(seriesUID string, tagsFiles []string) ([]target.Descriptor, error) {
	descriptors := make([]target.Descriptor, 0, len(s.Targets))
	for _, t := range s.Targets {
		descriptors = append(descriptors, target.Descriptor{
			TargetIP:        t.IP,
			TargetPort:      t.Port,
			TargetAETTarget: t.CalledAET,
			TargetAETSource: t.CallingAET,
			TargetName:      t.Name,
			SeriesUID:       seriesUID,
		})
	}
	return descriptors, nil
}
