package sensorcache

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestGenerateReadings(t *testing.T) {
	a := GenerateReadings(100)
	b := GenerateReadings(100)
	if len(a) != 100 {
		t.Fatalf("expected 100 readings, got %d", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("reading %d differs between calls", i)
		}
		if a[i].Temperature < 20 || a[i].Temperature > 25 {
			t.Errorf("temperature out of range: %f", a[i].Temperature)
		}
		if a[i].Humidity < 40 || a[i].Humidity > 60 {
			t.Errorf("humidity out of range: %f", a[i].Humidity)
		}
		if i > 0 && a[i].Timestamp-a[i-1].Timestamp != 60000 {
			t.Errorf("expected one minute between readings")
		}
	}

	var parsed []SensorReading
	if err := json.Unmarshal([]byte(SampleReadings(10)), &parsed); err != nil || len(parsed) != 10 {
		t.Errorf("SampleReadings is not a reading list: %v", err)
	}
}

func TestCache_Measure(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b Backend) {
		c := newTestCache(t, b)
		ctx := context.Background()

		sample := SampleReadings(1000)
		res, err := c.Measure(ctx, sample, 10)
		if err != nil {
			t.Fatalf("Measure failed: %v", err)
		}
		if res.OriginalSize != len(sample) || res.Iterations != 10 {
			t.Errorf("unexpected result %+v", res)
		}
		if res.CompressionRatio <= 0 || res.CompressedSize >= res.OriginalSize {
			t.Errorf("expected the sample to compress, got %+v", res)
		}
		if res.TotalLoadTime < 0 || res.TotalSaveTime < res.SaveTime {
			t.Errorf("inconsistent timings %+v", res)
		}

		tasks, err := c.ListTaskIDs(ctx)
		if err != nil {
			t.Fatalf("ListTaskIDs failed: %v", err)
		}
		for _, task := range tasks {
			if strings.HasPrefix(task, "measure-") {
				t.Errorf("scratch task %s was not removed", task)
			}
		}
	})
}

func TestCache_MeasureEmptySample(t *testing.T) {
	c := newTestCache(t, NewBlobBackend(NewMemoryBackend(), nil))
	if _, err := c.Measure(context.Background(), "", 1); KindOf(err) != KindCompression {
		t.Errorf("expected compression error, got %v", err)
	}
}
