package itemdb

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// schemaMetrics count schema cache activity of a Registry.
type schemaMetrics struct {
	slotBuilds  prometheus.Counter
	mixinHits   prometheus.Counter
	mixinMisses prometheus.Counter
}

func newSchemaMetrics() *schemaMetrics {
	return &schemaMetrics{
		slotBuilds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "itemdb", Subsystem: "schema", Name: "slot_table_builds_total",
			Help: "Attribute slot tables built after a schema change.",
		}),
		mixinHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "itemdb", Subsystem: "schema", Name: "mixin_hits_total",
			Help: "Mixin kind and implementation lookups answered from the memo.",
		}),
		mixinMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "itemdb", Subsystem: "schema", Name: "mixin_misses_total",
			Help: "Mixin kinds and implementations synthesized.",
		}),
	}
}

func (m *schemaMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{m.slotBuilds, m.mixinHits, m.mixinMisses}
}

// repoMetrics instrument a Repository.
type repoMetrics struct {
	commits        prometheus.Counter
	commitFailures *prometheus.CounterVec
	conflicts      *prometheus.CounterVec
	commitDuration prometheus.Histogram
	merges         prometheus.Counter
	itemLoads      prometheus.Counter
	valueCache     *prometheus.CounterVec
	version        prometheus.Gauge
	openViews      prometheus.Gauge
}

func newRepoMetrics() *repoMetrics {
	return &repoMetrics{
		commits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "itemdb", Name: "commits_total",
			Help: "Successful commits.",
		}),
		commitFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "itemdb", Name: "commit_failures_total",
			Help: "Failed commits by reason.",
		}, []string{"reason"}),
		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "itemdb", Name: "merge_conflicts_total",
			Help: "Merge conflicts detected, by category.",
		}, []string{"category"}),
		commitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "itemdb", Name: "commit_duration_seconds",
			Help:    "Commit latency including merge.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 4, 8),
		}),
		merges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "itemdb", Name: "merges_total",
			Help: "Views merged onto a newer version.",
		}),
		itemLoads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "itemdb", Name: "item_loads_total",
			Help: "Item records loaded from storage.",
		}),
		valueCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "itemdb", Name: "value_cache_lookups_total",
			Help: "Value record cache lookups by result.",
		}, []string{"result"}),
		version: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "itemdb", Name: "version",
			Help: "Latest committed version.",
		}),
		openViews: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "itemdb", Name: "open_views",
			Help: "Views not yet closed.",
		}),
	}
}

func (m *repoMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.commits, m.commitFailures, m.conflicts, m.commitDuration,
		m.merges, m.itemLoads, m.valueCache, m.version, m.openViews,
	}
}

func (m *repoMetrics) register(reg prometheus.Registerer, schema *schemaMetrics) error {
	for _, c := range append(m.collectors(), schema.collectors()...) {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}
