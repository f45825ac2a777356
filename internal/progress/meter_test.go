package progress

import (
	"testing"
	"time"
)

func TestMeter_SnapshotBasics(t *testing.T) {
	now := time.Unix(1000, 0)
	m := NewMeterWithNow(func() time.Time { return now })
	m.Start(1000, 0)

	now = now.Add(time.Second)
	m.Add(250)

	st := m.Snapshot()
	if st.BytesDone != 250 || st.Total != 1000 {
		t.Errorf("done/total = %d/%d", st.BytesDone, st.Total)
	}
	if st.Percent != 25 {
		t.Errorf("percent = %v, want 25", st.Percent)
	}
	if st.RateBps != 250 {
		t.Errorf("rate = %v, want 250 (first sample seeds the average)", st.RateBps)
	}
	if st.ETA != 3*time.Second {
		t.Errorf("eta = %v, want 3s", st.ETA)
	}
}

func TestMeter_RateSmoothing(t *testing.T) {
	now := time.Unix(0, 0)
	m := NewMeterWithNow(func() time.Time { return now })
	m.Start(10000, 0)

	now = now.Add(time.Second)
	m.Add(1000) // seeds rate at 1000

	now = now.Add(time.Second)
	m.Add(2000) // instantaneous 2000; EWMA: 0.2*2000 + 0.8*1000 = 1200

	st := m.Snapshot()
	if st.RateBps != 1200 {
		t.Errorf("rate = %v, want 1200", st.RateBps)
	}
}

func TestMeter_ResumedStartCountsExisting(t *testing.T) {
	m := NewMeter()
	m.Start(100, 40)
	st := m.Snapshot()
	if st.BytesDone != 40 || st.Percent != 40 {
		t.Errorf("done = %d percent = %v, want 40/40", st.BytesDone, st.Percent)
	}
}

func TestMeter_IgnoresNonPositiveAdd(t *testing.T) {
	m := NewMeter()
	m.Start(100, 0)
	m.Add(0)
	m.Add(-5)
	if st := m.Snapshot(); st.BytesDone != 0 {
		t.Errorf("done = %d, want 0", st.BytesDone)
	}
}

func TestMeter_NoETAWithoutRate(t *testing.T) {
	m := NewMeter()
	m.Start(100, 0)
	if st := m.Snapshot(); st.ETA != 0 {
		t.Errorf("eta = %v, want 0 when rate unknown", st.ETA)
	}
}
