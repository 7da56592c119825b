// Package testutils holds small fixture helpers shared by the internal
// packages' test suites: a directory builder for staged series files and a
// fake rule evaluator standing in for the external rule-language
// collaborator (spec.md §1).
package testutils

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hermes-dicom/hermes/internal/target"
)

// WriteSeriesFile writes name into dir with the given content and mtime,
// creating dir if necessary.
func WriteSeriesFile(t *testing.T, dir, name, content string, mtime time.Time) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
	return path
}

// FakeEvaluator is a routing.RuleEvaluator stand-in that returns a fixed set
// of target descriptors for every series, recording which UIDs it was asked
// to evaluate.
type FakeEvaluator struct {
	Targets []target.Descriptor
	Err     error
	Calls   []string
}

func (f *FakeEvaluator) Evaluate(seriesUID string, tagsFiles []string) ([]target.Descriptor, error) {
	f.Calls = append(f.Calls, seriesUID)
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Targets, nil
}
