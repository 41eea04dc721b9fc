package graphcrawler

import "github.com/prometheus/client_golang/prometheus"

// Task outcomes recorded by the scheduler.
const (
	outcomeFetched = "fetched"
	outcomeSkipped = "skipped"
	outcomeFailed  = "failed"
)

// Metrics holds the crawl counters.
type Metrics struct {
	Tasks          *prometheus.CounterVec
	EdgesInserted  prometheus.Counter
	EdgesDeleted   prometheus.Counter
	TasksEnqueued  prometheus.Counter
	MalformedLinks prometheus.Counter
	FetchDuration  prometheus.Histogram
}

// NewMetrics creates the crawl metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "revisit",
			Name:      "tasks_total",
			Help:      "Crawl tasks processed, by outcome.",
		}, []string{"outcome"}),
		EdgesInserted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "revisit",
			Name:      "edges_inserted_total",
			Help:      "Link edges added to the graph.",
		}),
		EdgesDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "revisit",
			Name:      "edges_deleted_total",
			Help:      "Link edges removed from the graph.",
		}),
		TasksEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "revisit",
			Name:      "tasks_enqueued_total",
			Help:      "Crawl tasks added for discovered links.",
		}),
		MalformedLinks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "revisit",
			Name:      "malformed_links_total",
			Help:      "Link values dropped because they could not be resolved.",
		}),
		FetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "revisit",
			Name:      "fetch_duration_seconds",
			Help:      "Time taken to fetch a page.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(m.Tasks, m.EdgesInserted, m.EdgesDeleted, m.TasksEnqueued, m.MalformedLinks, m.FetchDuration)
	return m
}
