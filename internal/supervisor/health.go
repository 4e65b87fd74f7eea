package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zachshallbetter/Kinect-Node/internal/sensor"
)

// SensorHealthMetrics is one Sensor's lifecycle state and health counters, as
// reported on /readiness.
type SensorHealthMetrics struct {
	State        string `json:"state"`
	QueueDepth   int    `json:"queueDepth"`
	QueueDropped uint64 `json:"queueDropped"`
	MissedFrames uint64 `json:"missedFrames"`
	Restarts     uint64 `json:"restarts"`
}

// HealthStatus is the Supervisor's point-in-time health, reported on
// /readiness: "healthy" when every enabled Sensor is running and at least one
// subscriber is connected, "degraded" when running but either condition
// isn't met, "unhealthy" when the Supervisor itself isn't running.
type HealthStatus struct {
	Status          string                         `json:"status"`
	UptimeSeconds   int64                          `json:"uptimeSeconds"`
	SensorsUp       int                            `json:"sensorsUp"`
	SensorsTotal    int                            `json:"sensorsTotal"`
	SubscriberCount int                            `json:"subscriberCount"`
	Sensors         map[string]SensorHealthMetrics `json:"sensors"`
}

// HealthCheck snapshots every owned Sensor and the Broadcaster's subscriber
// count into a HealthStatus.
func (s *Supervisor) HealthCheck() HealthStatus {
	s.mu.Lock()
	running := s.running
	started := s.startedAt
	s.mu.Unlock()

	status := HealthStatus{
		SensorsTotal: len(s.kinds),
		Sensors:      make(map[string]SensorHealthMetrics, len(s.kinds)),
	}
	if !started.IsZero() {
		status.UptimeSeconds = int64(time.Since(started).Seconds())
	}

	if !running {
		status.Status = "unhealthy"
		return status
	}

	for _, kind := range s.kinds {
		st := s.sensors[kind].Status()
		status.Sensors[string(kind)] = SensorHealthMetrics{
			State:        st.State.String(),
			QueueDepth:   st.QueueDepth,
			QueueDropped: st.QueueDropped,
			MissedFrames: st.MissedFrames,
			Restarts:     st.Restarts,
		}
		if st.State == sensor.StateRunning {
			status.SensorsUp++
		}
	}
	status.SubscriberCount = s.bc.SubscriberCount()

	switch {
	case status.SensorsUp < status.SensorsTotal || status.SubscriberCount == 0:
		status.Status = "degraded"
	default:
		status.Status = "healthy"
	}
	return status
}

// LivenessHandler answers /health: 200 if the process can execute this
// handler at all, regardless of pipeline health.
func (s *Supervisor) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "alive"})
}

// ReadinessHandler answers /readiness with the full HealthStatus, returning
// 503 only when the Supervisor itself isn't running.
func (s *Supervisor) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	health := s.HealthCheck()

	statusCode := http.StatusOK
	if health.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(health)
}

// Prometheus descriptors for supervisorCollector. The sensor_* metrics carry
// a "kind" label (depth/infrared/color/body) rather than one series per
// sensor, following newDLQCounterVec/newDLQGaugeVec's labeled-vec shape in
// DrBlury-protoflow/internal/runtime/dlq_metrics.go.
var (
	uptimeDesc         = prometheus.NewDesc(prometheus.BuildFQName("kinectd", "", "uptime_seconds"), "Seconds since the supervisor started.", nil, nil)
	sensorsUpDesc      = prometheus.NewDesc(prometheus.BuildFQName("kinectd", "", "sensors_up"), "Number of sensors currently running.", nil, nil)
	sensorsTotalDesc   = prometheus.NewDesc(prometheus.BuildFQName("kinectd", "", "sensors_total"), "Number of enabled sensors.", nil, nil)
	subscriberCountDesc = prometheus.NewDesc(prometheus.BuildFQName("kinectd", "", "subscriber_count"), "Number of identified subscribers.", nil, nil)
	queueDepthDesc     = prometheus.NewDesc(prometheus.BuildFQName("kinectd", "sensor", "queue_depth"), "Current sensor queue depth.", []string{"kind"}, nil)
	queueDroppedDesc   = prometheus.NewDesc(prometheus.BuildFQName("kinectd", "sensor", "queue_dropped_total"), "Frames dropped from the sensor queue.", []string{"kind"}, nil)
	missedFramesDesc   = prometheus.NewDesc(prometheus.BuildFQName("kinectd", "sensor", "missed_frames_total"), "Frames missed due to worker timeouts.", []string{"kind"}, nil)
	restartsDesc       = prometheus.NewDesc(prometheus.BuildFQName("kinectd", "sensor", "restarts_total"), "Worker restarts.", []string{"kind"}, nil)
)

// supervisorCollector adapts HealthCheck's snapshot to prometheus.Collector.
// It computes fresh ConstMetrics on every scrape instead of mirroring the
// snapshot into Counter/Gauge state, since the underlying values are already
// cumulative counters tracked elsewhere (sensor.Status, Broadcaster) —
// repeatedly Add()-ing a cumulative delta into a prometheus.Counter on every
// scrape would double-count.
type supervisorCollector struct {
	s *Supervisor
}

func (c *supervisorCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- uptimeDesc
	ch <- sensorsUpDesc
	ch <- sensorsTotalDesc
	ch <- subscriberCountDesc
	ch <- queueDepthDesc
	ch <- queueDroppedDesc
	ch <- missedFramesDesc
	ch <- restartsDesc
}

func (c *supervisorCollector) Collect(ch chan<- prometheus.Metric) {
	health := c.s.HealthCheck()
	ch <- prometheus.MustNewConstMetric(uptimeDesc, prometheus.GaugeValue, float64(health.UptimeSeconds))
	ch <- prometheus.MustNewConstMetric(sensorsUpDesc, prometheus.GaugeValue, float64(health.SensorsUp))
	ch <- prometheus.MustNewConstMetric(sensorsTotalDesc, prometheus.GaugeValue, float64(health.SensorsTotal))
	ch <- prometheus.MustNewConstMetric(subscriberCountDesc, prometheus.GaugeValue, float64(health.SubscriberCount))
	for kind, m := range health.Sensors {
		ch <- prometheus.MustNewConstMetric(queueDepthDesc, prometheus.GaugeValue, float64(m.QueueDepth), kind)
		ch <- prometheus.MustNewConstMetric(queueDroppedDesc, prometheus.CounterValue, float64(m.QueueDropped), kind)
		ch <- prometheus.MustNewConstMetric(missedFramesDesc, prometheus.CounterValue, float64(m.MissedFrames), kind)
		ch <- prometheus.MustNewConstMetric(restartsDesc, prometheus.CounterValue, float64(m.Restarts), kind)
	}
}

// startHealthServer starts the HTTP health/metrics server on port. It runs in
// a background goroutine and does not block; stopHealthServer stops it.
func (s *Supervisor) startHealthServer(port int) {
	if port <= 0 {
		return
	}

	registry := prometheus.NewRegistry()
	if err := registry.Register(&supervisorCollector{s: s}); err != nil {
		s.logger.Warn("supervisor: failed to register metrics collector", "error", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.LivenessHandler)
	mux.HandleFunc("/readiness", s.ReadinessHandler)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.healthServer = server

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("supervisor: health server failed", "error", err)
		}
	}()

	s.logger.Info("supervisor: health server listening", "port", port,
		"endpoints", []string{"/health", "/readiness", "/metrics"})
}

// stopHealthServer shuts down the health server, if one was started. It is
// safe to call even when startHealthServer never ran (port <= 0).
func (s *Supervisor) stopHealthServer() {
	if s.healthServer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.healthServer.Shutdown(ctx); err != nil {
		s.logger.Warn("supervisor: health server shutdown failed", "error", err)
	}
	s.healthServer = nil
}
