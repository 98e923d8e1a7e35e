package metrics

import "github.com/prometheus/client_golang/prometheus"

// IntakeMetrics exposes counters/histograms for the message intake flow.
type IntakeMetrics struct {
	inboundTotal   *prometheus.CounterVec
	processedTotal *prometheus.CounterVec
	approvalsTotal *prometheus.CounterVec
	webhookLatency *prometheus.HistogramVec
	fileTasksTotal *prometheus.CounterVec
	delayedReplies *prometheus.CounterVec
}

func NewIntakeMetrics(reg prometheus.Registerer) *IntakeMetrics {
	m := &IntakeMetrics{
		inboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aisecretary",
			Subsystem: "intake",
			Name:      "inbound_webhook_total",
			Help:      "Total inbound LINE webhook events",
		}, []string{"event_type", "status"}),
		processedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aisecretary",
			Subsystem: "intake",
			Name:      "processed_total",
			Help:      "Messages that passed the trigger filter, by resolved flow",
		}, []string{"flow"}),
		approvalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aisecretary",
			Subsystem: "approval",
			Name:      "commands_total",
			Help:      "Operator approval commands",
		}, []string{"command", "status"}),
		webhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "aisecretary",
			Subsystem: "intake",
			Name:      "webhook_latency_seconds",
			Help:      "Latency of LINE webhook processing",
			Buckets:   prometheus.DefBuckets,
		}, []string{"event_type"}),
		fileTasksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aisecretary",
			Subsystem: "enrichment",
			Name:      "file_tasks_total",
			Help:      "Queued file-processing task outcomes",
		}, []string{"task_type", "status"}),
		delayedReplies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aisecretary",
			Subsystem: "delayed",
			Name:      "replies_total",
			Help:      "Delayed reply outcomes",
		}, []string{"status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.inboundTotal, m.processedTotal, m.approvalsTotal, m.webhookLatency, m.fileTasksTotal, m.delayedReplies)
	return m
}

func (m *IntakeMetrics) ObserveInbound(eventType, status string) {
	if m == nil {
		return
	}
	m.inboundTotal.WithLabelValues(eventType, status).Inc()
}

func (m *IntakeMetrics) ObserveProcessed(flow string) {
	if m == nil {
		return
	}
	m.processedTotal.WithLabelValues(flow).Inc()
}

func (m *IntakeMetrics) ObserveApprovalCommand(command, status string) {
	if m == nil {
		return
	}
	m.approvalsTotal.WithLabelValues(command, status).Inc()
}

func (m *IntakeMetrics) ObserveWebhookLatency(eventType string, seconds float64) {
	if m == nil {
		return
	}
	m.webhookLatency.WithLabelValues(eventType).Observe(seconds)
}

func (m *IntakeMetrics) ObserveFileTask(taskType, status string) {
	if m == nil {
		return
	}
	m.fileTasksTotal.WithLabelValues(taskType, status).Inc()
}

func (m *IntakeMetrics) ObserveDelayedReply(status string) {
	if m == nil {
		return
	}
	m.delayedReplies.WithLabelValues(status).Inc()
}
