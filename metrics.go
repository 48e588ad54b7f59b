package sensorcache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Label values for sensorcache metrics.
const (
	metricFail = "fail"
	metricOk   = "ok"
)

var (
	schemaUpgradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sensorcache_schema_upgrades_total",
		Help: "Total number of schema upgrade transactions, by operation & result.",
	}, []string{"op", "result"})
	openTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sensorcache_open_total",
		Help: "Total number of database opens, by result.",
	}, []string{"result"})
	recordBytesWrittenTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sensorcache_record_bytes_written_total",
		Help: "Cumulative number of encoded record bytes written.",
	})
	recordBytesReadTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sensorcache_record_bytes_read_total",
		Help: "Cumulative number of encoded record bytes read.",
	})
	transactionErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sensorcache_transaction_errors_total",
		Help: "Total number of failed record transactions, by operation.",
	}, []string{"op"})
	compressionRatio = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sensorcache_compression_ratio",
		Help:    "Space saved by the value codec, in percent of the original size.",
		Buckets: prometheus.LinearBuckets(0, 10, 11),
	})
)

func resultLabel(err error) string {
	if err != nil {
		return metricFail
	}
	return metricOk
}
