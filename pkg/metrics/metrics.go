package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "medgenix"

var (
	SearchesRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "searches_recorded_total",
		Help:      "Total number of medicine searches recorded",
	})

	BatchItemFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "batch_item_failures_total",
		Help:      "Total number of items that failed within batch stat updates",
	})

	TrendingCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "trending_cache_hits_total",
		Help:      "Total number of trending lookups served from cache",
	})

	TrendingCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "trending_cache_misses_total",
		Help:      "Total number of trending lookups that fell through to the database",
	})

	SearchEventPublishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "search_event_publish_failures_total",
		Help:      "Total number of search events that failed to publish",
	})

	PruneSweeps = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "prune_sweeps_total",
		Help:      "Total number of bucket prune sweeps executed",
	})

	PrunedBuckets = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pruned_buckets_total",
		Help:      "Total number of stat buckets removed by prune sweeps",
	}, []string{"granularity"})

	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route and status",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)
