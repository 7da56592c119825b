package routing

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hermes-dicom/hermes/internal/config"
)

func TestStaticEvaluatorMatchesEveryTarget(t *testing.T) {
	e := StaticEvaluator{Targets: []config.TargetConfig{
		{Name: "pacs-a", IP: "10.0.0.1", Port: 104, CalledAET: "PACSA", CallingAET: "HERMES"},
		{Name: "pacs-b", IP: "10.0.0.2", Port: 105, CalledAET: "PACSB", CallingAET: "HERMES"},
	}}

	descriptors, err := e.Evaluate("1.2.3", nil)
	require.NoError(t, err)
	require.Len(t, descriptors, 2)
	require.Equal(t, "1.2.3", descriptors[0].SeriesUID)
	require.Equal(t, "PACSA", descriptors[0].TargetAETTarget)
	require.Equal(t, "PACSB", descriptors[1].TargetAETTarget)
}

func TestStaticEvaluatorNoTargetsConfigured(t *testing.T) {
	e := StaticEvaluator{}
	descriptors, err := e.Evaluate("1.2.3", nil)
	require.NoError(t, err)
	require.Empty(t, descriptors)
}
