package sensorcache

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"
)

// SensorReading is one sample of a climate sensor.
type SensorReading struct {
	Timestamp   int64   `json:"timestamp"` // Unix milliseconds
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
}

// GenerateReadings returns n readings one minute apart. The output is the same
// for every call with the same n.
func GenerateReadings(n int) []SensorReading {
	rng := rand.New(rand.NewSource(42))
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	readings := make([]SensorReading, n)
	for i := range readings {
		readings[i] = SensorReading{
			Timestamp:   start.Add(time.Duration(i) * time.Minute).UnixMilli(),
			Temperature: math.Round((20+rng.Float64()*5)*10) / 10,
			Humidity:    math.Round((40+rng.Float64()*20)*10) / 10,
		}
	}
	return readings
}

// SampleReadings returns GenerateReadings(n) as a JSON array.
func SampleReadings(n int) string {
	data, _ := json.Marshal(GenerateReadings(n))
	return string(data)
}

// MeasureResult reports the cost and benefit of compressing one sample. Per
// operation times are averages over all iterations.
type MeasureResult struct {
	OriginalSize     int     `json:"original_size"`
	CompressedSize   int     `json:"compressed_size"`
	CompressionRatio float64 `json:"compression_ratio"`

	// SaveTime includes encoding, LoadTime includes decoding.
	SaveTime  time.Duration `json:"save_time"`
	LoadTime  time.Duration `json:"load_time"`
	ParseTime time.Duration `json:"parse_time"`

	PlainSaveTime time.Duration `json:"plain_save_time"`
	PlainLoadTime time.Duration `json:"plain_load_time"`

	// TotalSaveTime and TotalLoadTime cover every compressed iteration; the load
	// total includes parsing.
	TotalSaveTime time.Duration `json:"total_save_time"`
	TotalLoadTime time.Duration `json:"total_load_time"`

	Iterations int `json:"iterations"`
}

// Measure writes and reads sample through the record store iterations times,
// once compressed and once plain, and reports sizes and latencies. It works in
// a scratch task that is dropped before returning. It is a diagnostic and costs
// two schema upgrades.
func (c *CompressionCache) Measure(ctx context.Context, sample string, iterations int) (*MeasureResult, error) {
	if sample == "" {
		return nil, newError(KindCompression, "measure", "", fmt.Errorf("empty sample"))
	}
	if iterations <= 0 {
		iterations = 1
	}

	encoded, err := c.codec.Encode(sample)
	if err != nil {
		return nil, err
	}

	taskID := "measure-" + uuid.NewString()
	defer func() {
		if err := c.records.DeleteAllForTask(context.WithoutCancel(ctx), taskID); err != nil {
			c.logger.Warn("failed to drop measurement namespace", "task", taskID, "error", err)
		}
	}()

	parseable := json.Valid([]byte(sample))
	result := &MeasureResult{
		OriginalSize:     len(sample),
		CompressedSize:   len(encoded),
		CompressionRatio: ratio(len(sample), len(encoded)),
		Iterations:       iterations,
	}

	var saveTotal, loadTotal, parseTotal, plainSaveTotal, plainLoadTotal time.Duration
	for i := 0; i < iterations; i++ {
		start := time.Now()
		if err := c.Put(ctx, taskID, "compressed", sample); err != nil {
			return nil, err
		}
		saveTotal += time.Since(start)

		start = time.Now()
		plain, ok, err := c.Get(ctx, taskID, "compressed")
		if err != nil {
			return nil, err
		}
		if !ok || plain != sample {
			return nil, fmt.Errorf("measure: compressed round trip mismatch")
		}
		loadTotal += time.Since(start)

		if parseable {
			start = time.Now()
			var v any
			if err := json.Unmarshal([]byte(plain), &v); err != nil {
				return nil, fmt.Errorf("measure: parse sample: %w", err)
			}
			parseTotal += time.Since(start)
		}

		start = time.Now()
		if err := c.records.Put(ctx, taskID, "plain", sample); err != nil {
			return nil, err
		}
		plainSaveTotal += time.Since(start)

		start = time.Now()
		if _, _, err := c.records.Get(ctx, taskID, "plain"); err != nil {
			return nil, err
		}
		plainLoadTotal += time.Since(start)
	}

	n := time.Duration(iterations)
	result.SaveTime = saveTotal / n
	result.LoadTime = loadTotal / n
	result.ParseTime = parseTotal / n
	result.PlainSaveTime = plainSaveTotal / n
	result.PlainLoadTime = plainLoadTotal / n
	result.TotalSaveTime = saveTotal
	result.TotalLoadTime = loadTotal + parseTotal

	c.logger.Info("measured compression",
		"original_bytes", result.OriginalSize,
		"compressed_bytes", result.CompressedSize,
		"ratio", result.CompressionRatio,
		"iterations", iterations)
	return result, nil
}
