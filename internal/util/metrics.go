package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SalesCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stall_sales_created_total",
		Help: "Total number of sales recorded, by kind",
	}, []string{"kind"})

	SalesDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stall_sales_deleted_total",
		Help: "Total number of sales deleted",
	})

	SalesRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stall_sales_rejected_total",
		Help: "Total number of sale drafts rejected",
	}, []string{"reason"})

	SalesUpdatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stall_sales_updated_total",
		Help: "Total number of sale flag updates",
	})

	StockSetTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stall_stock_set_total",
		Help: "Total number of explicit stock entries",
	})

	StockClampedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stall_stock_clamped_total",
		Help: "Total number of decrements floored at zero",
	}, []string{"product_id"})

	SyncWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stall_sync_writes_total",
		Help: "Total number of remote writes that succeeded",
	}, []string{"op"})

	SyncFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stall_sync_failures_total",
		Help: "Total number of remote writes or reads that failed",
	}, []string{"op"})

	SyncWriteLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stall_sync_write_latency_seconds",
		Help:    "Latency of remote writes",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	SyncQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stall_sync_queue_depth",
		Help: "Remote writes waiting to be sent",
	})

	SnapshotsAppliedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stall_snapshots_applied_total",
		Help: "Total number of remote snapshots applied, by trigger",
	}, []string{"trigger"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
