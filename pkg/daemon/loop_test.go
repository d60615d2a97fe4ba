package daemon

import (
	"sync"
	"testing"
	"time"

	"github.com/gl7cryo/gl7ctl/pkg/sensor"
)

func snapshotsAt(offsets ...time.Duration) []sensor.Snapshot {
	ret := make([]sensor.Snapshot, 0, len(offsets))
	for _, o := range offsets {
		ret = append(ret, sensor.Snapshot{Time: time.Now().Add(-o).Add(-10 * time.Millisecond)})
	}
	return ret
}

func TestSnapshotRecorder_GetRecordsIn(t *testing.T) {
	type args struct {
		last     time.Duration
		interval time.Duration
	}
	tests := []struct {
		name      string
		snapshots []sensor.Snapshot
		args      args
		want      int
	}{
		{
			name:      "test noncontinuous records",
			snapshots: snapshotsAt(31*time.Second, 20*time.Second, 10*time.Second),
			args:      args{last: 40 * time.Second, interval: 10 * time.Second},
			want:      2,
		},
		{
			name: "test continuous records",
			snapshots: snapshotsAt(70*time.Second, 60*time.Second, 40*time.Second,
				30*time.Second, 20*time.Second, 10*time.Second),
			args: args{last: 50 * time.Second, interval: 10 * time.Second},
			want: 4,
		},
		{
			name: "test stale last record",
			snapshots: snapshotsAt(70*time.Second, 60*time.Second, 40*time.Second,
				30*time.Second, 20*time.Second, 15*time.Second),
			args: args{last: 50 * time.Second, interval: 10 * time.Second},
			want: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &SnapshotRecorder{
				MaxRecordCount: 10,
				Snapshots:      tt.snapshots,
				mu:             &sync.Mutex{},
			}
			if got := r.GetRecordsIn(tt.args.last, tt.args.interval); got != tt.want {
				t.Errorf("GetRecordsIn() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSnapshotRecorderCapacity(t *testing.T) {
	r := NewSnapshotRecorder(3)
	for i := 0; i < 5; i++ {
		r.AddRecord(sensor.Snapshot{Time: time.Unix(int64(i), 0)})
	}

	all := r.GetRecords(0)
	if len(all) != 3 {
		t.Fatalf("expected 3 records, got %d", len(all))
	}
	if all[0].Time.Unix() != 2 || all[2].Time.Unix() != 4 {
		t.Fatalf("unexpected records %v", all)
	}

	last := r.GetRecords(2)
	if len(last) != 2 || last[1].Time.Unix() != 4 {
		t.Fatalf("unexpected newest records %v", last)
	}

	r.Resize(1)
	rec, ok := r.GetLastRecord()
	if !ok || rec.Time.Unix() != 4 || len(r.GetRecords(0)) != 1 {
		t.Fatalf("resize should keep the newest record, got %v", r.GetRecords(0))
	}

	r.ClearRecords()
	if _, ok := r.GetLastRecord(); ok {
		t.Fatalf("expected no records after clear")
	}
}
