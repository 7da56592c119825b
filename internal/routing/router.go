// Package routing implements the router service's scan_and_route operation
// (spec.md §4.1).
package routing

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/hermes-dicom/hermes/internal/hermeslog"
	"github.com/hermes-dicom/hermes/internal/series"
	"github.com/hermes-dicom/hermes/internal/target"
	"github.com/hermes-dicom/hermes/internal/telemetry"
)

// routedSuffix names the per-target marker left in incoming/ once a target
// has been durably staged to outgoing/. It lets a retried series (one where
// a sibling target failed to stage) skip re-staging targets that already
// succeeded, avoiding a duplicate send to a target that may since have been
// dispatched and removed from outgoing/ entirely.
const routedSuffix = ".routed"

// RuleEvaluator is the external rule-language collaborator (spec.md §1, §9:
// "Deliberately out of scope; model as an external collaborator exposing
// evaluate(series_uid, tags_metadata) -> set<target_descriptor>").
type RuleEvaluator interface {
	Evaluate(seriesUID string, tagsFiles []string) ([]target.Descriptor, error)
}

// ErrorFileReprocessor handles ".error" files left in incoming/ by upstream
// producers (spec.md §4.1 step 5). Out of scope in detail (spec.md §1); the
// router only guarantees it is invoked once per scan when such files were
// observed.
type ErrorFileReprocessor interface {
	ReprocessErrorFiles(incomingDir string) error
}

// Router implements scan_and_route.
type Router struct {
	IncomingDir string
	OutgoingDir string

	CompleteTrigger time.Duration

	Evaluator   RuleEvaluator
	Reprocessor ErrorFileReprocessor // may be nil

	Monitor *telemetry.Monitor
	Log     hermeslog.Logger

	// IsTerminated is polled between series during a scan so shutdown never
	// interrupts a series mid-copy (spec.md §4.1: "If the shutdown flag
	// becomes set between UIDs, the scan returns after finishing the
	// in-flight UID").
	IsTerminated func() bool

	// Now is overridable for tests; defaults to time.Now.
	Now func() time.Time
}

func (r *Router) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// ScanAndRoute implements spec.md §4.1's scan_and_route().
func (r *Router) ScanAndRoute() error {
	entries, err := os.ReadDir(r.IncomingDir)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("routing: read incoming dir: %w", err)
		}
		// First boot before any modality has written anything yet: treated
		// identically to an empty incoming folder (SPEC_FULL.md §C.4),
		// including the CountIncoming(0, 0) telemetry an empty directory
		// would also publish below.
		entries = nil
	}

	latestMtime := make(map[string]time.Time)
	fileCount := 0
	errorFilesFound := false

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if hasSuffix(name, ".tags") {
			fileCount++
			uid, ok := series.UIDFromFilename(name)
			if !ok {
				continue
			}
			info, err := e.Info()
			if err != nil {
				continue
			}
			if cur, ok := latestMtime[uid]; !ok || info.ModTime().After(cur) {
				latestMtime[uid] = info.ModTime()
			}
		}
		if !errorFilesFound && hasSuffix(name, ".error") {
			errorFilesFound = true
		}
	}

	r.Monitor.CountIncoming(fileCount, len(latestMtime))

	now := r.now()
	var complete []string
	for uid, mtime := range latestMtime {
		if now.Sub(mtime) >= r.CompleteTrigger {
			complete = append(complete, uid)
		}
	}
	sort.Strings(complete)

	for _, uid := range complete {
		if err := r.processSeries(uid); err != nil {
			r.Log.Error("problems while processing series", err, map[string]interface{}{"series_uid": uid})
			r.Monitor.SendSeriesEvent(telemetry.SeriesError, uid, 0, "", "Exception while processing")
			r.Monitor.SendEvent(telemetry.EventProcessing, telemetry.SeverityError, "Exception while processing series")
		}
		if r.IsTerminated != nil && r.IsTerminated() {
			return nil
		}
	}

	if errorFilesFound && r.Reprocessor != nil {
		if err := r.Reprocessor.ReprocessErrorFiles(r.IncomingDir); err != nil {
			r.Log.Error("failed to reprocess error files", err, nil)
		}
	}

	return nil
}

func hasSuffix(name, suffix string) bool {
	return len(name) >= len(suffix) && name[len(name)-len(suffix):] == suffix
}

// processSeries evaluates routing rules for one series and splits it into
// one outgoing directory per matched target (spec.md §4.1 step 4).
func (r *Router) processSeries(uid string) error {
	prefix := uid + "#"
	allFiles, err := series.FilesWithPrefix(r.IncomingDir, prefix)
	if err != nil {
		return fmt.Errorf("list series files: %w", err)
	}

	// Separate the actual instance payload from .routed markers left behind
	// by a prior, partially-failed attempt at this series.
	var instanceFiles []string
	alreadyRouted := make(map[string]bool)
	for _, f := range allFiles {
		if hasSuffix(f, routedSuffix) {
			alreadyRouted[strings.TrimSuffix(f[len(prefix):], routedSuffix)] = true
			continue
		}
		instanceFiles = append(instanceFiles, f)
	}

	var tagsFiles []string
	for _, f := range instanceFiles {
		if hasSuffix(f, ".tags") {
			tagsFiles = append(tagsFiles, f)
		}
	}

	targets, err := r.Evaluator.Evaluate(uid, tagsFiles)
	if err != nil {
		return fmt.Errorf("rule evaluation: %w", err)
	}

	allStaged := true
	var markers []string
	for _, t := range targets {
		key := targetKey(t)
		marker := prefix + key + routedSuffix

		if alreadyRouted[key] {
			// Staged (and possibly already dispatched) on a prior attempt at
			// this series; re-staging would duplicate delivery to this
			// target.
			markers = append(markers, marker)
			continue
		}

		if err := r.stageTarget(uid, instanceFiles, t); err != nil {
			r.Log.Error("failed to stage target", err, map[string]interface{}{
				"series_uid": uid, "target": t.TargetName,
			})
			r.Monitor.SendSeriesEvent(telemetry.SeriesError, uid, 0, t.TargetName, "failed to stage target")
			allStaged = false
			continue
		}

		if err := series.CreateExclusive(r.IncomingDir, marker); err != nil && !os.IsExist(err) {
			r.Log.Warnf("failed to record routed marker for series %s target %s: %v", uid, key, err)
		}
		markers = append(markers, marker)
	}

	if !allStaged {
		// At least one target never got its durable copy (stuck behind its
		// own .lock). incoming/ — including the .routed markers for targets
		// that did succeed — is left untouched so the series is retried on
		// the next scan without re-staging (and duplicating delivery to)
		// the targets that already made it (spec.md §3: "no pipeline stage
		// ever discards user data on error").
		return nil
	}

	// Every matched target (or none, if the evaluator matched nothing) now
	// has a durable copy; remove the series and its .routed bookkeeping from
	// incoming/ so it is not re-evaluated on the next scan (spec.md §3:
	// "incoming/ — upstream-populated; router-read-only except for
	// pickup").
	for _, f := range instanceFiles {
		if err := os.Remove(filepath.Join(r.IncomingDir, f)); err != nil && !os.IsNotExist(err) {
			r.Log.Warnf("failed to remove picked-up file %s: %v", f, err)
		}
	}
	for _, m := range markers {
		if err := os.Remove(filepath.Join(r.IncomingDir, m)); err != nil && !os.IsNotExist(err) {
			r.Log.Warnf("failed to remove routed marker %s: %v", m, err)
		}
	}

	return nil
}

// targetKey is the stable per-target identifier used both for the
// outgoing/<uid>#<key> directory name and for this series' .routed markers.
func targetKey(t target.Descriptor) string {
	if t.TargetName != "" {
		return t.TargetName
	}
	return t.TargetAETTarget
}

func outgoingDirName(uid string, t target.Descriptor) string {
	return uid + "#" + targetKey(t)
}

// stageTarget creates outgoing/<uid>#<target>/, copies every instance file
// into it, writes target.json, and removes .lock only once every file is
// durably in place (spec.md §4.1 step 4: "The lock is removed after all
// payload plus target.json are durably placed").
func (r *Router) stageTarget(uid string, instanceFiles []string, t target.Descriptor) error {
	dirName := outgoingDirName(uid, t)
	dir := filepath.Join(r.OutgoingDir, dirName)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir outgoing dir: %w", err)
	}
	if err := series.CreateExclusive(dir, series.MarkerLock); err != nil && !os.IsExist(err) {
		return fmt.Errorf("create lock marker: %w", err)
	}

	for _, name := range instanceFiles {
		if err := copyFile(filepath.Join(r.IncomingDir, name), filepath.Join(dir, name)); err != nil {
			return fmt.Errorf("copy %s: %w", name, err)
		}
	}

	t.SeriesUID = uid
	if err := target.Save(dir, t); err != nil {
		return fmt.Errorf("write target.json: %w", err)
	}

	if err := series.RemoveMarker(dir, series.MarkerLock); err != nil {
		return fmt.Errorf("remove lock marker: %w", err)
	}

	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
