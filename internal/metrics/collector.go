package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/eleven/artcache/pkg/errors"
)

// Cache levels used as label values
const (
	LevelMemory   = "memory"
	LevelDisk     = "disk"
	LevelNegative = "negative"
)

// Collector records artwork pipeline metrics. A nil Collector, or one built
// from a disabled config, accepts every call and records nothing.
type Collector struct {
	mu       sync.RWMutex
	config   *Config
	registry *prometheus.Registry
	logger   *slog.Logger

	// Prometheus metrics
	cacheRequests  *prometheus.CounterVec
	cacheSize      *prometheus.GaugeVec
	cacheEvictions *prometheus.CounterVec
	taskCounter    *prometheus.CounterVec
	taskDuration   *prometheus.HistogramVec
	remoteLookups  *prometheus.CounterVec
	remoteDuration *prometheus.HistogramVec
	breakerState   *prometheus.GaugeVec
	errorCounter   *prometheus.CounterVec

	// Internal tracking
	tasks     map[string]*TaskMetrics
	inFlight  map[string]InFlightTask
	samplers  []func(*Collector)
	lastReset time.Time

	// HTTP server for metrics endpoint
	server *http.Server
}

// Config represents metrics configuration
type Config struct {
	Enabled        bool              `yaml:"enabled"`
	Port           int               `yaml:"port"`
	Path           string            `yaml:"path"`
	Labels         map[string]string `yaml:"labels"`
	Namespace      string            `yaml:"namespace"`
	Subsystem      string            `yaml:"subsystem"`
	UpdateInterval time.Duration     `yaml:"update_interval"`
}

// TaskMetrics tracks fetch outcomes for one task kind
type TaskMetrics struct {
	Count         int64            `json:"count"`
	Outcomes      map[string]int64 `json:"outcomes"`
	TotalDuration time.Duration    `json:"total_duration"`
	AvgDuration   time.Duration    `json:"avg_duration"`
	LastRun       time.Time        `json:"last_run"`
}

// InFlightTask describes a scheduled fetch that has not finished yet
type InFlightTask struct {
	ID      string    `json:"id"`
	Kind    string    `json:"kind"`
	Key     string    `json:"key"`
	Started time.Time `json:"started"`
}

// NewCollector creates a new metrics collector
func NewCollector(config *Config, logger *slog.Logger) (*Collector, error) {
	if config == nil {
		config = &Config{
			Enabled:        true,
			Port:           9310,
			Path:           "/metrics",
			Namespace:      "artcache",
			UpdateInterval: 15 * time.Second,
			Labels:         make(map[string]string),
		}
	}
	if logger == nil {
		logger = slog.Default()
	}

	if !config.Enabled {
		return &Collector{config: config, logger: logger}, nil
	}
	if config.UpdateInterval <= 0 {
		config.UpdateInterval = 15 * time.Second
	}
	if config.Path == "" {
		config.Path = "/metrics"
	}

	collector := &Collector{
		config:    config,
		registry:  prometheus.NewRegistry(),
		logger:    logger.With("component", "metrics"),
		tasks:     make(map[string]*TaskMetrics),
		inFlight:  make(map[string]InFlightTask),
		lastReset: time.Now(),
	}

	collector.initMetrics()
	if err := collector.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	return collector, nil
}

func (c *Collector) enabled() bool {
	return c != nil && c.config != nil && c.config.Enabled && c.registry != nil
}

// Registry returns the Prometheus registry, nil when disabled
func (c *Collector) Registry() *prometheus.Registry {
	if !c.enabled() {
		return nil
	}
	return c.registry
}

// Handler returns the HTTP handler serving the metrics endpoints
func (c *Collector) Handler() http.Handler {
	mux := http.NewServeMux()
	if !c.enabled() {
		mux.HandleFunc("/health", c.healthHandler)
		return mux
	}

	mux.Handle(c.config.Path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/health", c.healthHandler)
	mux.HandleFunc("/debug/tasks", c.debugTasksHandler)
	return mux
}

// Start serves the metrics endpoint and runs registered samplers until ctx ends
func (c *Collector) Start(ctx context.Context) error {
	if !c.enabled() {
		return nil
	}

	c.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", c.config.Port),
		Handler:           c.Handler(),
		ReadHeaderTimeout: 30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			c.logger.Error("Metrics server error", "error", err)
		}
	}()
	go c.updateLoop(ctx)

	c.logger.Info("Metrics endpoint started", "port", c.config.Port, "path", c.config.Path)
	return nil
}

// Stop stops the metrics server
func (c *Collector) Stop(ctx context.Context) error {
	if c == nil || c.server == nil {
		return nil
	}
	return c.server.Shutdown(ctx)
}

// AddSampler registers fn to refresh gauges on every update tick
func (c *Collector) AddSampler(fn func(*Collector)) {
	if !c.enabled() || fn == nil {
		return
	}
	c.mu.Lock()
	c.samplers = append(c.samplers, fn)
	c.mu.Unlock()
}

// Sample runs the registered samplers once
func (c *Collector) Sample() {
	if !c.enabled() {
		return
	}
	c.mu.RLock()
	samplers := append(([]func(*Collector))(nil), c.samplers...)
	c.mu.RUnlock()
	for _, fn := range samplers {
		fn(c)
	}
}

// RecordCacheHit records a hit at a cache level
func (c *Collector) RecordCacheHit(level string) {
	if !c.enabled() {
		return
	}
	c.cacheRequests.With(prometheus.Labels{"level": level, "result": "hit"}).Inc()
}

// RecordCacheMiss records a miss at a cache level
func (c *Collector) RecordCacheMiss(level string) {
	if !c.enabled() {
		return
	}
	c.cacheRequests.With(prometheus.Labels{"level": level, "result": "miss"}).Inc()
}

// RecordEviction records one entry evicted from a cache level
func (c *Collector) RecordEviction(level string) {
	if !c.enabled() {
		return
	}
	c.cacheEvictions.With(prometheus.Labels{"level": level}).Inc()
}

// UpdateCacheSize sets the byte size of a cache level
func (c *Collector) UpdateCacheSize(level string, size int64) {
	if !c.enabled() {
		return
	}
	c.cacheSize.With(prometheus.Labels{"level": level}).Set(float64(size))
}

// RecordTask records a finished fetch task
func (c *Collector) RecordTask(kind, outcome string, duration time.Duration) {
	if !c.enabled() {
		return
	}

	c.mu.Lock()
	m, ok := c.tasks[kind]
	if !ok {
		m = &TaskMetrics{Outcomes: make(map[string]int64)}
		c.tasks[kind] = m
	}
	m.Count++
	m.Outcomes[outcome]++
	m.TotalDuration += duration
	m.AvgDuration = time.Duration(int64(m.TotalDuration) / m.Count)
	m.LastRun = time.Now()
	c.mu.Unlock()

	c.taskCounter.With(prometheus.Labels{"kind": kind, "outcome": outcome}).Inc()
	if duration > 0 {
		c.taskDuration.With(prometheus.Labels{"kind": kind}).Observe(duration.Seconds())
	}
}

// TaskStarted tracks a scheduled task until TaskEnded is called with its id
func (c *Collector) TaskStarted(id, kind, key string) {
	if !c.enabled() || id == "" {
		return
	}
	c.mu.Lock()
	c.inFlight[id] = InFlightTask{ID: id, Kind: kind, Key: key, Started: time.Now()}
	c.mu.Unlock()
}

// TaskEnded stops tracking a task
func (c *Collector) TaskEnded(id string) {
	if !c.enabled() {
		return
	}
	c.mu.Lock()
	delete(c.inFlight, id)
	c.mu.Unlock()
}

// InFlight returns the tracked tasks, oldest first
func (c *Collector) InFlight() []InFlightTask {
	if !c.enabled() {
		return nil
	}
	c.mu.RLock()
	out := make([]InFlightTask, 0, len(c.inFlight))
	for _, t := range c.inFlight {
		out = append(out, t)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Started.Equal(out[j].Started) {
			return out[i].ID < out[j].ID
		}
		return out[i].Started.Before(out[j].Started)
	})
	return out
}

// ObserveLookup records one remote provider lookup
func (c *Collector) ObserveLookup(provider, result string, duration time.Duration) {
	if !c.enabled() {
		return
	}
	c.remoteLookups.With(prometheus.Labels{"provider": provider, "result": result}).Inc()
	c.remoteDuration.With(prometheus.Labels{"provider": provider}).Observe(duration.Seconds())
}

// SetBreakerState publishes a provider breaker state (0 closed, 1 half-open, 2 open)
func (c *Collector) SetBreakerState(provider string, state int) {
	if !c.enabled() {
		return
	}
	c.breakerState.With(prometheus.Labels{"provider": provider}).Set(float64(state))
}

// RecordError records an error
func (c *Collector) RecordError(operation string, err error) {
	if !c.enabled() || err == nil {
		return
	}
	c.errorCounter.With(prometheus.Labels{
		"operation": operation,
		"type":      classifyError(err),
	}).Inc()
}

// Tasks returns a copy of the per-kind task metrics
func (c *Collector) Tasks() map[string]TaskMetrics {
	out := make(map[string]TaskMetrics)
	if !c.enabled() {
		return out
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	for kind, m := range c.tasks {
		cp := *m
		cp.Outcomes = make(map[string]int64, len(m.Outcomes))
		for k, v := range m.Outcomes {
			cp.Outcomes[k] = v
		}
		out[kind] = cp
	}
	return out
}

// ResetMetrics clears the internal task tracking
func (c *Collector) ResetMetrics() {
	if !c.enabled() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tasks = make(map[string]*TaskMetrics)
	c.lastReset = time.Now()
}

func (c *Collector) initMetrics() {
	opts := func(name, help string) prometheus.Opts {
		return prometheus.Opts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: c.config.Labels,
		}
	}

	c.cacheRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts(opts("cache_requests_total", "Total number of artwork cache lookups")),
		[]string{"level", "result"},
	)
	c.cacheSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts(opts("cache_size_bytes", "Current cache size in bytes")),
		[]string{"level"},
	)
	c.cacheEvictions = prometheus.NewCounterVec(
		prometheus.CounterOpts(opts("cache_evictions_total", "Total number of evicted cache entries")),
		[]string{"level"},
	)
	c.taskCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts(opts("fetch_tasks_total", "Total number of finished fetch tasks")),
		[]string{"kind", "outcome"},
	)
	c.taskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "fetch_task_duration_seconds",
			Help:        "Duration of fetch tasks in seconds",
			ConstLabels: c.config.Labels,
			Buckets:     prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~32s
		},
		[]string{"kind"},
	)
	c.remoteLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts(opts("remote_lookups_total", "Total number of remote artwork lookups")),
		[]string{"provider", "result"},
	)
	c.remoteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "remote_lookup_duration_seconds",
			Help:        "Duration of remote artwork lookups in seconds",
			ConstLabels: c.config.Labels,
			Buckets:     prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"provider"},
	)
	c.breakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts(opts("circuit_breaker_state", "Breaker state per provider: 0 closed, 1 half-open, 2 open")),
		[]string{"provider"},
	)
	c.errorCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts(opts("errors_total", "Total number of errors")),
		[]string{"operation", "type"},
	)
}

func (c *Collector) registerMetrics() error {
	metrics := []prometheus.Collector{
		c.cacheRequests,
		c.cacheSize,
		c.cacheEvictions,
		c.taskCounter,
		c.taskDuration,
		c.remoteLookups,
		c.remoteDuration,
		c.breakerState,
		c.errorCounter,
	}

	for _, metric := range metrics {
		if err := c.registry.Register(metric); err != nil {
			return err
		}
	}
	return nil
}

// classifyError labels an error by the category of its code
func classifyError(err error) string {
	if errors.IsCanceled(err) {
		return "canceled"
	}
	if code := errors.CodeOf(err); code != "" {
		return string(errors.GetCategory(code))
	}
	return "other"
}

func (c *Collector) updateLoop(ctx context.Context) {
	ticker := time.NewTicker(c.config.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sample()
		}
	}
}

// HTTP handlers

func (c *Collector) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy","service":"artcache-metrics"}`))
}

func (c *Collector) debugTasksHandler(w http.ResponseWriter, r *http.Request) {
	tasks := c.Tasks()
	kinds := make([]string, 0, len(tasks))
	for kind := range tasks {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)

	c.mu.RLock()
	lastReset := c.lastReset
	c.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"uptime":     time.Since(lastReset).String(),
		"last_reset": lastReset,
		"kinds":      kinds,
		"tasks":      tasks,
		"in_flight":  c.InFlight(),
	})
}
