package sensorcache

import (
	"fmt"
	"sort"

	"github.com/golang/snappy"
	"github.com/prometheus/prometheus/prompb"
)

// Series names of exported readings.
const (
	TemperatureMetric = "sensor_temperature_celsius"
	HumidityMetric    = "sensor_humidity_percent"
)

// BuildWriteRequest converts the readings of each device of taskID into a
// Prometheus remote-write request with one temperature and one humidity series
// per device.
func BuildWriteRequest(taskID string, devices map[string][]SensorReading) *prompb.WriteRequest {
	ids := make([]string, 0, len(devices))
	for id := range devices {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	req := &prompb.WriteRequest{}
	for _, id := range ids {
		readings := devices[id]
		if len(readings) == 0 {
			continue
		}
		temperature := make([]prompb.Sample, 0, len(readings))
		humidity := make([]prompb.Sample, 0, len(readings))
		for _, r := range readings {
			temperature = append(temperature, prompb.Sample{Timestamp: r.Timestamp, Value: r.Temperature})
			humidity = append(humidity, prompb.Sample{Timestamp: r.Timestamp, Value: r.Humidity})
		}
		req.Timeseries = append(req.Timeseries,
			prompb.TimeSeries{Labels: seriesLabels(TemperatureMetric, taskID, id), Samples: temperature},
			prompb.TimeSeries{Labels: seriesLabels(HumidityMetric, taskID, id), Samples: humidity},
		)
	}
	return req
}

// Labels are sorted by name.
func seriesLabels(metric, taskID, deviceID string) []prompb.Label {
	return []prompb.Label{
		{Name: "__name__", Value: metric},
		{Name: "device", Value: deviceID},
		{Name: "task", Value: taskID},
	}
}

// EncodeWriteRequest serializes req as a snappy-compressed remote-write body.
func EncodeWriteRequest(req *prompb.WriteRequest) ([]byte, error) {
	data, err := req.Marshal()
	if err != nil {
		return nil, fmt.Errorf("marshal write request: %w", err)
	}
	return snappy.Encode(nil, data), nil
}

// DecodeWriteRequest parses a body produced by EncodeWriteRequest.
func DecodeWriteRequest(body []byte) (*prompb.WriteRequest, error) {
	decoded, err := snappy.Decode(nil, body)
	if err != nil {
		return nil, fmt.Errorf("decode snappy: %w", err)
	}
	var req prompb.WriteRequest
	if err := req.Unmarshal(decoded); err != nil {
		return nil, fmt.Errorf("unmarshal write request: %w", err)
	}
	return &req, nil
}
