package daemon

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gl7cryo/gl7ctl/pkg/sensor"
)

// SnapshotRecorder keeps the last N poller snapshots.
type SnapshotRecorder struct {
	MaxRecordCount int
	Snapshots      []sensor.Snapshot
	mu             *sync.Mutex
}

// NewSnapshotRecorder returns a new SnapshotRecorder.
func NewSnapshotRecorder(maxRecordCount int) *SnapshotRecorder {
	if maxRecordCount < 1 {
		maxRecordCount = 1
	}
	return &SnapshotRecorder{
		MaxRecordCount: maxRecordCount,
		Snapshots:      make([]sensor.Snapshot, 0),
		mu:             &sync.Mutex{},
	}
}

// AddRecord adds a snapshot, dropping the oldest when full.
func (r *SnapshotRecorder) AddRecord(s sensor.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Strip monotonic clock reading.
	s.Time = s.Time.Round(0)

	if len(r.Snapshots) >= r.MaxRecordCount {
		r.Snapshots = r.Snapshots[len(r.Snapshots)-r.MaxRecordCount+1:]
	}
	r.Snapshots = append(r.Snapshots, s)
}

// Resize changes the capacity, keeping the newest records.
func (r *SnapshotRecorder) Resize(maxRecordCount int) {
	if maxRecordCount < 1 {
		maxRecordCount = 1
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.MaxRecordCount = maxRecordCount
	if len(r.Snapshots) > maxRecordCount {
		r.Snapshots = r.Snapshots[len(r.Snapshots)-maxRecordCount:]
	}
}

// ClearRecords clears all records.
func (r *SnapshotRecorder) ClearRecords() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.Snapshots = make([]sensor.Snapshot, 0)
}

// GetRecords returns the newest n records, oldest first. n <= 0 means all.
func (r *SnapshotRecorder) GetRecords(n int) []sensor.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := 0
	if n > 0 && n < len(r.Snapshots) {
		start = len(r.Snapshots) - n
	}
	return append([]sensor.Snapshot(nil), r.Snapshots[start:]...)
}

// GetLastRecord returns the newest record.
func (r *SnapshotRecorder) GetLastRecord() (sensor.Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.Snapshots) == 0 {
		return sensor.Snapshot{}, false
	}
	return r.Snapshots[len(r.Snapshots)-1], true
}

// GetRecordsIn returns the number of continuous records in the last
// duration. Two adjacent records are continuous when they are less than
// interval+1s apart.
func (r *SnapshotRecorder) GetRecordsIn(last, interval time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.Snapshots)
	// The last record must be within the last interval.
	if n > 0 && time.Since(r.Snapshots[n-1].Time) >= interval+time.Second {
		return 0
	}

	count := 0
	for i := n - 1; i >= 0; i-- {
		record := r.Snapshots[i].Time
		if time.Since(record) > last {
			break
		}

		theRecordAfter := record
		if i+1 < n {
			theRecordAfter = r.Snapshots[i+1].Time
		}

		if theRecordAfter.Sub(record) >= interval+time.Second {
			break
		}
		count++
	}

	return count
}

// pollSnapshot reads every channel and heater once, records the snapshot
// and updates the metrics. It is run by the scheduler.
func pollSnapshot() error {
	snap, err := sensors.Snapshot()
	if err != nil {
		return err
	}
	history.AddRecord(snap)
	snapshotsTotal.Inc()
	observeSnapshot(snap)

	for _, h := range allHeaters() {
		observeHeater(h.QueryStatus())
	}

	fields := logrus.Fields{}
	for _, e := range snap.Entries {
		fields[e.Channel] = e.Reading.String()
	}
	logrus.WithFields(fields).Debug("snapshot recorded")

	checkMissedPolls()
	return nil
}

// checkMissedPolls logs when the recent history has gaps, e.g. because
// the serial link stalled.
func checkMissedPolls() bool {
	interval := pollInterval()
	if interval <= 0 {
		return false
	}
	window := 6 * interval
	count := history.GetRecordsIn(window, interval)
	expected := int(window / interval)
	if len(history.GetRecords(expected)) < expected {
		// Not enough history yet.
		return false
	}
	if count < expected-1 {
		logrus.WithFields(logrus.Fields{
			"pollCount":         count,
			"expectedPollCount": expected,
		}).Info("possibly missed snapshot polls")
		return true
	}
	return false
}
