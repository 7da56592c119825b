// Package dispatch implements the dispatcher service's readiness predicate
// and delivery state machine (spec.md §4.2).
package dispatch

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hermes-dicom/hermes/internal/hermeslog"
	"github.com/hermes-dicom/hermes/internal/sender"
	"github.com/hermes-dicom/hermes/internal/series"
	"github.com/hermes-dicom/hermes/internal/target"
	"github.com/hermes-dicom/hermes/internal/telemetry"
)

// Dispatcher scans OutgoingDir and delivers ready directories.
type Dispatcher struct {
	OutgoingDir string
	SuccessDir  string
	ErrorDir    string

	RetryMax   int
	RetryDelay time.Duration

	Sender  *sender.Sender
	Monitor *telemetry.Monitor
	Log     hermeslog.Logger

	// MaxParallelism bounds how many distinct directories may be dispatched
	// concurrently (spec.md §5: "Multiple dispatcher workers... may process
	// distinct directories in parallel"). Defaults to 1 if <= 0.
	MaxParallelism int

	Now func() time.Time
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// IsReadyForSending implements spec.md §4.2's is_ready_for_sending
// predicate: the directory must carry no .lock/.error/.sending marker, at
// least one *.dcm file, and a valid target.json whose next_retry_at (if
// any) has elapsed.
func IsReadyForSending(dir string, now time.Time) (target.Descriptor, bool) {
	if series.HasMarker(dir, series.MarkerLock) ||
		series.HasMarker(dir, series.MarkerError) ||
		series.HasMarker(dir, series.MarkerSending) {
		return target.Descriptor{}, false
	}
	if series.CountGlob(dir, "*.dcm") == 0 {
		return target.Descriptor{}, false
	}
	t, err := target.Load(dir)
	if err != nil {
		return target.Descriptor{}, false
	}
	if t.NextRetryAt > 0 && float64(now.Unix()) < t.NextRetryAt {
		return target.Descriptor{}, false
	}
	return t, true
}

// ScanAndDispatch enumerates outgoing/ and attempts delivery for every ready
// directory, processing distinct directories concurrently up to
// MaxParallelism (spec.md §5).
func (d *Dispatcher) ScanAndDispatch(ctx context.Context) error {
	entries, err := os.ReadDir(d.OutgoingDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	limit := d.MaxParallelism
	if limit <= 0 {
		limit = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dirName := e.Name()
		dir := filepath.Join(d.OutgoingDir, dirName)

		t, ready := IsReadyForSending(dir, d.now())
		if !ready {
			continue
		}

		g.Go(func() error {
			d.execute(gctx, dirName, dir, t)
			return nil
		})
	}

	return g.Wait()
}

// execute implements spec.md §4.2's execute() state machine for one
// directory: claim, send, and either move-to-success or retry/suspend.
func (d *Dispatcher) execute(ctx context.Context, dirName, dir string, t target.Descriptor) {
	if err := series.CreateExclusive(dir, series.MarkerSending); err != nil {
		// Another worker already claimed it; nothing to do.
		return
	}

	result := d.Sender.Send(ctx, dir, t)
	if result.Success() {
		d.onSuccess(dirName, dir, t)
		return
	}
	d.onFailure(dirName, dir, t, result)
}

func (d *Dispatcher) onSuccess(dirName, dir string, t target.Descriptor) {
	fileCount := series.CountGlob(dir, "*.dcm")

	finalDir, err := moveWithCollisionRename(dir, d.SuccessDir, dirName, d.now())
	if err != nil {
		d.Log.Error("failed to move dispatched directory to success", err, map[string]interface{}{"dir": dir})
		d.Monitor.SendSeriesEvent(telemetry.SeriesError, t.SeriesUID, fileCount, dir, "failed to move to success")
		// Leave .sending in place; this requires operator attention, but we
		// must not silently drop the delivered-but-unmoved data.
		return
	}

	if err := series.RemoveMarker(finalDir, series.MarkerSending); err != nil {
		d.Log.Warnf("failed to remove .sending at %s: %v", finalDir, err)
	}

	d.Monitor.SendSeriesEvent(telemetry.SeriesDispatch, t.SeriesUID, fileCount, t.TargetName, "")
}

func (d *Dispatcher) onFailure(dirName, dir string, t target.Descriptor, result sender.Result) {
	d.Monitor.SendEvent(telemetry.EventProcessing, telemetry.SeverityError,
		"error sending "+seriesUIDOrSentinel(t)+" to "+targetNameOrSentinel(t))
	d.Monitor.SendSeriesEvent(telemetry.SeriesError, t.SeriesUID, 0, t.TargetName, result.Message)

	t.Retries++
	t.NextRetryAt = float64(d.now().Add(d.RetryDelay).Unix())

	if t.Retries < d.RetryMax {
		if err := target.Save(dir, t); err != nil {
			d.Log.Error("failed to persist retry state", err, map[string]interface{}{"dir": dir})
		}
		if err := series.RemoveMarker(dir, series.MarkerSending); err != nil {
			d.Log.Warnf("failed to remove .sending at %s: %v", dir, err)
		}
		return
	}

	finalDir, err := moveWithCollisionRename(dir, d.ErrorDir, dirName, d.now())
	if err != nil {
		d.Log.Error("failed to move suspended directory to error", err, map[string]interface{}{"dir": dir})
		return
	}
	if err := series.RemoveMarker(finalDir, series.MarkerSending); err != nil {
		d.Log.Warnf("failed to remove .sending at %s: %v", finalDir, err)
	}

	d.Monitor.SendSeriesEvent(telemetry.SeriesSuspend, t.SeriesUID, 0, t.TargetName, "max retries reached")
	d.Monitor.SendSeriesEvent(telemetry.SeriesMove, t.SeriesUID, 0, d.ErrorDir, "")
	d.Monitor.SendEvent(telemetry.EventProcessing, telemetry.SeverityError, "series suspended after reaching max retries")
}

func seriesUIDOrSentinel(t target.Descriptor) string {
	if t.SeriesUID == "" {
		return "series_uid-missing"
	}
	return t.SeriesUID
}

func targetNameOrSentinel(t target.Descriptor) string {
	if t.TargetName == "" {
		return "target_name-missing"
	}
	return t.TargetName
}

// moveWithCollisionRename moves src into destRoot/baseName, appending an
// ISO-8601 timestamp suffix if a directory of that name already exists
// (spec.md §4.2 step 4, §7: "Move collision: Append ISO-8601 timestamp
// suffix"). It returns the final directory path.
func moveWithCollisionRename(src, destRoot, baseName string, now time.Time) (string, error) {
	if err := os.MkdirAll(destRoot, 0o755); err != nil {
		return "", err
	}

	dest := filepath.Join(destRoot, baseName)
	if _, err := os.Stat(dest); err == nil {
		dest = filepath.Join(destRoot, baseName+"_"+now.Format("2006-01-02T15:04:05"))
	}

	if err := os.Rename(src, dest); err != nil {
		if !isCrossDevice(err) {
			return "", err
		}
		if err := copyTree(src, dest); err != nil {
			return "", err
		}
		if err := os.RemoveAll(src); err != nil {
			return "", err
		}
	}

	return dest, nil
}

func isCrossDevice(err error) bool {
	var linkErr *os.LinkError
	if errors.As(err, &linkErr) {
		return errors.Is(linkErr.Err, syscall.EXDEV)
	}
	return false
}

func copyTree(src, dest string) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}
	for _, e := range entries {
		srcPath := filepath.Join(src, e.Name())
		dstPath := filepath.Join(dest, e.Name())
		if e.IsDir() {
			if err := copyTree(srcPath, dstPath); err != nil {
				return err
			}
			continue
		}
		if err := copyFile(srcPath, dstPath); err != nil {
			return err
		}
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
	_, err = io.Copy(out, in)
	return err
}
