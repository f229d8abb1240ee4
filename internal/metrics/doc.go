/*
Package metrics exports artcache's Prometheus metrics.

# Overview

The Collector counts what the artwork pipeline does: lookups per cache level,
background fetch outcomes per task kind, remote provider lookups and breaker
state. It keeps a small per-kind summary in memory for the CLI and the debug
endpoint.

	┌─────────────┐
	│  Collector  │
	└──────┬──────┘
	       │
	   ┌───┴────────────────────────────┐
	   │                                │
	┌──▼───────────┐         ┌─────────▼──────┐
	│  Prometheus  │         │ HTTP Endpoints │
	│   Registry   │         │  /metrics      │
	│              │         │  /health       │
	│ - Counters   │         │  /debug/tasks  │
	│ - Histograms │         └────────────────┘
	│ - Gauges     │
	└──────────────┘

# Metrics

	artcache_cache_requests_total{level,result}    memory, disk and negative cache lookups
	artcache_cache_size_bytes{level}               resident bytes per level
	artcache_cache_evictions_total{level}          LRU evictions
	artcache_fetch_tasks_total{kind,outcome}       bound, empty, discarded, superseded, rejected
	artcache_fetch_task_duration_seconds{kind}     time from start to completion
	artcache_remote_lookups_total{provider,result} hit, miss, error
	artcache_remote_lookup_duration_seconds{provider}
	artcache_circuit_breaker_state{provider}       0 closed, 1 open, 2 half-open
	artcache_errors_total{operation,type}          type is the error category

# Usage

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   true,
		Port:      9310,
		Path:      "/metrics",
		Namespace: "artcache",
	}, logger)
	if err != nil {
		return err
	}
	collector.AddSampler(func(c *metrics.Collector) {
		c.UpdateCacheSize(metrics.LevelMemory, memory.Size())
	})
	if err := collector.Start(ctx); err != nil {
		return err
	}
	defer collector.Stop(context.Background())

A nil *Collector is valid and records nothing, so components take one
unconditionally.
*/
package metrics
