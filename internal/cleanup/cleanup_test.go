package cleanup

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hermes-dicom/hermes/internal/hermeslog"
	"github.com/hermes-dicom/hermes/internal/telemetry"
)

func TestIsOffpeakNonCrossingWindow(t *testing.T) {
	day := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)

	inside := day.Add(13 * time.Hour) // 13:00, within 12:00-14:00
	offpeak, err := IsOffpeak("12:00", "14:00", inside)
	require.NoError(t, err)
	require.True(t, offpeak)

	outside := day.Add(15 * time.Hour)
	offpeak, err = IsOffpeak("12:00", "14:00", outside)
	require.NoError(t, err)
	require.False(t, offpeak)
}

func TestIsOffpeakCrossesMidnight(t *testing.T) {
	day := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)

	lateNight := day.Add(23 * time.Hour) // 23:00, within 20:00-06:00
	offpeak, err := IsOffpeak("20:00", "06:00", lateNight)
	require.NoError(t, err)
	require.True(t, offpeak)

	earlyMorning := day.Add(3 * time.Hour) // 03:00
	offpeak, err = IsOffpeak("20:00", "06:00", earlyMorning)
	require.NoError(t, err)
	require.True(t, offpeak)

	midday := day.Add(12 * time.Hour)
	offpeak, err = IsOffpeak("20:00", "06:00", midday)
	require.NoError(t, err)
	require.False(t, offpeak)
}

func TestIsOffpeakMalformedTime(t *testing.T) {
	_, err := IsOffpeak("not-a-time", "06:00", time.Now())
	require.Error(t, err)
}

func newTestCleaner(t *testing.T, successDir, discardDir string, now time.Time) *Cleaner {
	t.Helper()
	log := hermeslog.New("test", false)
	monitor := telemetry.NewMonitor("cleaner", "test", nil, telemetry.NewMetrics(nil, "", "hermes.cleaner.test.", log), log)
	return &Cleaner{
		SuccessDir:   successDir,
		DiscardDir:   discardDir,
		OffpeakStart: "20:00",
		OffpeakEnd:   "06:00",
		Retention:    time.Hour,
		Monitor:      monitor,
		Log:          log,
		Now:          func() time.Time { return now },
	}
}

func mkAgedDir(t *testing.T, root, name string, age time.Duration, now time.Time) string {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	mtime := now.Add(-age)
	require.NoError(t, os.Chtimes(dir, mtime, mtime))
	return dir
}

func TestCleanSkipsDuringPeakHours(t *testing.T) {
	success := t.TempDir()
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC) // inside peak hours (not 20:00-06:00)
	aged := mkAgedDir(t, success, "1.2.3#pacs-main", 2*time.Hour, now)

	c := newTestCleaner(t, success, t.TempDir(), now)
	require.NoError(t, c.Clean())

	_, err := os.Stat(aged)
	require.NoError(t, err, "off-peak cleaner must not run during peak hours")
}

func TestCleanDeletesAgedOldestFirst(t *testing.T) {
	success := t.TempDir()
	now := time.Date(2026, 7, 30, 22, 0, 0, 0, time.UTC) // off-peak

	oldest := mkAgedDir(t, success, "1.1.1#pacs-main", 3*time.Hour, now)
	newer := mkAgedDir(t, success, "2.2.2#pacs-main", 2*time.Hour, now)
	tooFresh := mkAgedDir(t, success, "3.3.3#pacs-main", 30*time.Minute, now)

	c := newTestCleaner(t, success, t.TempDir(), now)
	rec := &cleanRecorder{}
	c.Monitor = telemetry.NewMonitor("cleaner", "test", rec, telemetry.NewMetrics(nil, "", "hermes.cleaner.test.", c.Log), c.Log)
	require.NoError(t, c.Clean())

	_, err := os.Stat(oldest)
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(newer)
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(tooFresh)
	require.NoError(t, err, "directories younger than retention must survive")
	require.Equal(t, []string{oldest, newer}, rec.paths, "aged directories must be deleted oldest first")
}

// cleanRecorder is a telemetry.Sink recording the path of every CLEAN series
// event, in the order they were emitted.
type cleanRecorder struct {
	paths []string
}

func (r *cleanRecorder) SendProcessEvent(telemetry.ProcessEvent) {}

func (r *cleanRecorder) SendSeriesEvent(ev telemetry.SeriesEvent) {
	if ev.Kind == telemetry.SeriesClean {
		r.paths = append(r.paths, ev.TargetOrPath)
	}
}

func TestCleanSweepsBothSuccessAndDiscard(t *testing.T) {
	success, discard := t.TempDir(), t.TempDir()
	now := time.Date(2026, 7, 30, 22, 0, 0, 0, time.UTC)

	s := mkAgedDir(t, success, "1.1.1#pacs-main", 2*time.Hour, now)
	d := mkAgedDir(t, discard, "2.2.2#pacs-main", 2*time.Hour, now)

	c := newTestCleaner(t, success, discard, now)
	require.NoError(t, c.Clean())

	_, err := os.Stat(s)
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(d)
	require.True(t, os.IsNotExist(err))
}

func TestCleanMissingDirsAreNotAnError(t *testing.T) {
	now := time.Date(2026, 7, 30, 22, 0, 0, 0, time.UTC)
	c := newTestCleaner(t, filepath.Join(t.TempDir(), "missing-success"), filepath.Join(t.TempDir(), "missing-discard"), now)
	require.NoError(t, c.Clean())
}
