package dispatch

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hermes-dicom/hermes/internal/hermeslog"
	"github.com/hermes-dicom/hermes/internal/sender"
	"github.com/hermes-dicom/hermes/internal/series"
	"github.com/hermes-dicom/hermes/internal/target"
	"github.com/hermes-dicom/hermes/internal/telemetry"
)

func fakeDcmsend(t *testing.T, exitCode int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dcmsend")
	script := "#!/bin/sh\nexit " + itoa(exitCode) + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

func newTestDispatcher(t *testing.T, outgoing, success, errDir string, binary string, retryMax int) *Dispatcher {
	t.Helper()
	log := hermeslog.New("test", false)
	monitor := telemetry.NewMonitor("dispatcher", "test", nil, telemetry.NewMetrics(nil, "", "hermes.dispatcher.test.", log), log)
	return &Dispatcher{
		OutgoingDir:    outgoing,
		SuccessDir:     success,
		ErrorDir:       errDir,
		RetryMax:       retryMax,
		RetryDelay:     time.Minute,
		Sender:         &sender.Sender{Binary: binary},
		Monitor:        monitor,
		Log:            log,
		MaxParallelism: 2,
	}
}

func writeTargetDir(t *testing.T, root, name string, d target.Descriptor) string {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "0001.dcm"), []byte("x"), 0o644))
	require.NoError(t, target.Save(dir, d))
	return dir
}

func TestIsReadyForSending(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()

	// No target.json yet: not ready.
	_, ready := IsReadyForSending(dir, now)
	require.False(t, ready)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "0001.dcm"), []byte("x"), 0o644))
	require.NoError(t, target.Save(dir, target.Descriptor{TargetIP: "10.0.0.1", TargetPort: 104, TargetAETTarget: "PACS"}))

	_, ready = IsReadyForSending(dir, now)
	require.True(t, ready)

	require.NoError(t, series.CreateExclusive(dir, series.MarkerLock))
	_, ready = IsReadyForSending(dir, now)
	require.False(t, ready, "a .lock marker means the router hasn't finished staging yet")
	require.NoError(t, series.RemoveMarker(dir, series.MarkerLock))

	require.NoError(t, series.CreateExclusive(dir, series.MarkerSending))
	_, ready = IsReadyForSending(dir, now)
	require.False(t, ready)
	require.NoError(t, series.RemoveMarker(dir, series.MarkerSending))

	require.NoError(t, series.CreateExclusive(dir, series.MarkerError))
	_, ready = IsReadyForSending(dir, now)
	require.False(t, ready)
}

func TestIsReadyForSendingRespectsNextRetryAt(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "0001.dcm"), []byte("x"), 0o644))
	require.NoError(t, target.Save(dir, target.Descriptor{
		TargetIP: "10.0.0.1", TargetPort: 104, TargetAETTarget: "PACS",
		NextRetryAt: float64(now.Add(time.Hour).Unix()),
	}))

	_, ready := IsReadyForSending(dir, now)
	require.False(t, ready, "next_retry_at in the future must not be dispatched yet")

	_, ready = IsReadyForSending(dir, now.Add(2*time.Hour))
	require.True(t, ready)
}

func TestScanAndDispatchSuccessMovesToSuccessDir(t *testing.T) {
	outgoing, success, errDir := t.TempDir(), t.TempDir(), t.TempDir()
	d := newTestDispatcher(t, outgoing, success, errDir, fakeDcmsend(t, 0), 3)

	dir := writeTargetDir(t, outgoing, "1.2.3#pacs-main", target.Descriptor{
		TargetIP: "10.0.0.1", TargetPort: 104, TargetAETTarget: "PACS", SeriesUID: "1.2.3",
	})

	require.NoError(t, d.ScanAndDispatch(context.Background()))

	_, err := os.Stat(dir)
	require.True(t, os.IsNotExist(err), "directory must be gone from outgoing/")

	finalDir := filepath.Join(success, "1.2.3#pacs-main")
	require.False(t, series.HasMarker(finalDir, series.MarkerSending))
	_, err = os.Stat(filepath.Join(finalDir, "0001.dcm"))
	require.NoError(t, err)
}

func TestScanAndDispatchFailureRetriesInPlace(t *testing.T) {
	outgoing, success, errDir := t.TempDir(), t.TempDir(), t.TempDir()
	d := newTestDispatcher(t, outgoing, success, errDir, fakeDcmsend(t, 61), 3)

	dir := writeTargetDir(t, outgoing, "1.2.3#pacs-main", target.Descriptor{
		TargetIP: "10.0.0.1", TargetPort: 104, TargetAETTarget: "PACS", SeriesUID: "1.2.3",
	})

	require.NoError(t, d.ScanAndDispatch(context.Background()))

	// Directory stays in outgoing/, marker cleared so the next scan retries.
	require.False(t, series.HasMarker(dir, series.MarkerSending))

	data, err := os.ReadFile(filepath.Join(dir, "target.json"))
	require.NoError(t, err)
	var got target.Descriptor
	require.NoError(t, json.Unmarshal(data, &got))
	require.Equal(t, 1, got.Retries)
	require.Greater(t, got.NextRetryAt, float64(0))
}

func TestScanAndDispatchSuspendsAfterMaxRetries(t *testing.T) {
	outgoing, success, errDir := t.TempDir(), t.TempDir(), t.TempDir()
	d := newTestDispatcher(t, outgoing, success, errDir, fakeDcmsend(t, 61), 1)

	writeTargetDir(t, outgoing, "1.2.3#pacs-main", target.Descriptor{
		TargetIP: "10.0.0.1", TargetPort: 104, TargetAETTarget: "PACS", SeriesUID: "1.2.3",
		Retries: 0,
	})

	require.NoError(t, d.ScanAndDispatch(context.Background()))

	finalDir := filepath.Join(errDir, "1.2.3#pacs-main")
	_, err := os.Stat(finalDir)
	require.NoError(t, err, "directory must be suspended to error/ once RetryMax is reached")
	require.False(t, series.HasMarker(finalDir, series.MarkerSending))
}

func TestMoveWithCollisionRenameAppendsTimestamp(t *testing.T) {
	destRoot := t.TempDir()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	existing := filepath.Join(destRoot, "1.2.3#pacs-main")
	require.NoError(t, os.MkdirAll(existing, 0o755))

	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "0001.dcm"), []byte("x"), 0o644))

	final, err := moveWithCollisionRename(src, destRoot, "1.2.3#pacs-main", now)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(destRoot, "1.2.3#pacs-main_2026-01-02T03:04:05"), final)
}
