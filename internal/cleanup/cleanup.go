// Package cleanup implements the cleaner service's off-peak predicate and
// age-ordered directory deletion (spec.md §4.3).
package cleanup

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/hermes-dicom/hermes/internal/hermeslog"
	"github.com/hermes-dicom/hermes/internal/series"
	"github.com/hermes-dicom/hermes/internal/telemetry"
)

const timeOfDayLayout = "15:04"

// IsOffpeak implements spec.md §4.3's off-peak predicate. start and end are
// "HH:MM" strings; a malformed value is a fatal configuration error for the
// tick (spec.md §4.3).
func IsOffpeak(start, end string, current time.Time) (bool, error) {
	startTime, err := time.Parse(timeOfDayLayout, start)
	if err != nil {
		return false, fmt.Errorf("cleanup: parse offpeak_start %q: %w", start, err)
	}
	endTime, err := time.Parse(timeOfDayLayout, end)
	if err != nil {
		return false, fmt.Errorf("cleanup: parse offpeak_end %q: %w", end, err)
	}

	cur := timeOfDay(current)
	s := timeOfDay(startTime)
	e := timeOfDay(endTime)

	if s < e {
		return cur >= s && cur <= e, nil
	}
	// Window crosses midnight.
	return cur >= s || cur <= e, nil
}

// timeOfDay reduces a time.Time to minutes-since-midnight for comparison,
// ignoring its date component.
func timeOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// Cleaner deletes aged terminal directories from success/ and discard/
// during off-peak windows.
type Cleaner struct {
	SuccessDir string
	DiscardDir string

	OffpeakStart string
	OffpeakEnd   string
	Retention    time.Duration

	Monitor *telemetry.Monitor
	Log     hermeslog.Logger

	Now func() time.Time
}

func (c *Cleaner) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// Clean runs one cleaner tick: if currently off-peak, sweeps both success/
// and discard/ (spec.md §4.3, §4.3 Scope: "Only success/ and discard/ are
// swept").
func (c *Cleaner) Clean() error {
	now := c.now()
	offpeak, err := IsOffpeak(c.OffpeakStart, c.OffpeakEnd, now)
	if err != nil {
		return err
	}
	if !offpeak {
		return nil
	}

	c.cleanDir(c.SuccessDir)
	c.cleanDir(c.DiscardDir)
	return nil
}

type candidate struct {
	path  string
	mtime time.Time
}

// cleanDir implements spec.md §4.3's clean_dir: enumerate immediate
// subdirectories aged past retention, process oldest-first (spec.md §9
// open question, resolved to oldest-first per the stated contract), and
// delete each, logging and continuing past any I/O failure.
func (c *Cleaner) cleanDir(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			c.Log.Warnf("cleanup: failed to list %s: %v", dir, err)
		}
		return
	}

	now := c.now()
	var candidates []candidate
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) > c.Retention {
			candidates = append(candidates, candidate{
				path:  filepath.Join(dir, e.Name()),
				mtime: info.ModTime(),
			})
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].mtime.Before(candidates[j].mtime)
	})

	for _, cand := range candidates {
		c.deleteFolder(cand.path)
	}
}

// deleteFolder removes one directory, emitting CLEAN on success or ERROR on
// failure, and recovering the series UID for telemetry purposes beforehand
// (spec.md §4.3: "Before deletion, attempt to discover the series UID").
func (c *Cleaner) deleteFolder(path string) {
	seriesUID := series.UIDFromDir(path)

	if err := os.RemoveAll(path); err != nil {
		c.Log.Error("unable to delete folder", err, map[string]interface{}{"dir": path})
		c.Monitor.SendSeriesEvent(telemetry.SeriesError, seriesUID, 0, path, "unable to delete folder")
		c.Monitor.SendEvent(telemetry.EventProcessing, telemetry.SeverityError, fmt.Sprintf("unable to delete folder %s", path))
		return
	}

	c.Log.Printf("deleted folder %s (series %s)", path, seriesUID)
	c.Monitor.SendSeriesEvent(telemetry.SeriesClean, seriesUID, 0, path, "deleted folder")
}
