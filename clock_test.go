package sensorcache

import (
	"testing"
	"time"
)

func TestMonotonicClock(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	steps := []time.Time{base, base.Add(-time.Hour), base.Add(time.Second)}
	i := 0
	clock := NewMonotonicClock(func() time.Time {
		now := steps[i]
		i++
		return now
	})

	want := []time.Time{base, base, base.Add(time.Second)}
	for j, w := range want {
		if got := clock.Now(); !got.Equal(w) {
			t.Errorf("call %d: got %v, want %v", j, got, w)
		}
	}
}

func TestMonotonicClock_UTC(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	clock := NewMonotonicClock(func() time.Time { return time.Date(2024, 1, 1, 12, 0, 0, 0, loc) })
	if got := clock.Now(); got.Location() != time.UTC {
		t.Errorf("expected UTC, got %v", got.Location())
	}
}
