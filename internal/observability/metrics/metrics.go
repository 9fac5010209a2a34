package metrics

import "github.com/prometheus/client_golang/prometheus"

// ChatbotMetrics exposes counters/histograms for the conversation engine.
type ChatbotMetrics struct {
	turnsTotal           *prometheus.CounterVec
	turnLatency          *prometheus.HistogramVec
	escalationsTotal     *prometheus.CounterVec
	llmAttemptsTotal     *prometheus.CounterVec
	llmRetriesTotal      *prometheus.CounterVec
	emptyRecommendations prometheus.Counter
	storeErrorsTotal     *prometheus.CounterVec
	feedbackDropped      prometheus.Counter
}

func NewChatbotMetrics(reg prometheus.Registerer) *ChatbotMetrics {
	m := &ChatbotMetrics{
		turnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "restaurant",
			Subsystem: "chatbot",
			Name:      "turns_total",
			Help:      "Processed conversation turns by intent and response method",
		}, []string{"intent", "method"}),
		turnLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "restaurant",
			Subsystem: "chatbot",
			Name:      "turn_latency_seconds",
			Help:      "End-to-end latency of a conversation turn",
			Buckets:   prometheus.DefBuckets,
		}, []string{"intent"}),
		escalationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "restaurant",
			Subsystem: "chatbot",
			Name:      "escalations_total",
			Help:      "Conversations handed off to staff",
		}, []string{"reason"}),
		llmAttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "restaurant",
			Subsystem: "llm",
			Name:      "attempts_total",
			Help:      "Language model attempts by outcome",
		}, []string{"outcome"}),
		llmRetriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "restaurant",
			Subsystem: "llm",
			Name:      "retries_total",
			Help:      "Language model retries by error kind",
		}, []string{"kind"}),
		emptyRecommendations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "restaurant",
			Subsystem: "chatbot",
			Name:      "empty_recommendations_total",
			Help:      "Recommendation requests where every candidate was filtered out",
		}),
		storeErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "restaurant",
			Subsystem: "context_store",
			Name:      "errors_total",
			Help:      "Context store failures that degraded to in-memory defaults",
		}, []string{"op"}),
		feedbackDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "restaurant",
			Subsystem: "feedback",
			Name:      "dropped_total",
			Help:      "Analytics events dropped because the dispatch queue was full",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.turnsTotal,
		m.turnLatency,
		m.escalationsTotal,
		m.llmAttemptsTotal,
		m.llmRetriesTotal,
		m.emptyRecommendations,
		m.storeErrorsTotal,
		m.feedbackDropped,
	)
	return m
}

func (m *ChatbotMetrics) ObserveTurn(intent, method string, seconds float64) {
	if m == nil {
		return
	}
	m.turnsTotal.WithLabelValues(intent, method).Inc()
	m.turnLatency.WithLabelValues(intent).Observe(seconds)
}

func (m *ChatbotMetrics) ObserveEscalation(reason string) {
	if m == nil {
		return
	}
	m.escalationsTotal.WithLabelValues(reason).Inc()
}

func (m *ChatbotMetrics) ObserveLLMAttempt(outcome string) {
	if m == nil {
		return
	}
	m.llmAttemptsTotal.WithLabelValues(outcome).Inc()
}

func (m *ChatbotMetrics) ObserveLLMRetry(kind string) {
	if m == nil {
		return
	}
	m.llmRetriesTotal.WithLabelValues(kind).Inc()
}

func (m *ChatbotMetrics) ObserveEmptyRecommendation() {
	if m == nil {
		return
	}
	m.emptyRecommendations.Inc()
}

func (m *ChatbotMetrics) ObserveStoreError(op string) {
	if m == nil {
		return
	}
	m.storeErrorsTotal.WithLabelValues(op).Inc()
}

func (m *ChatbotMetrics) ObserveFeedbackDropped() {
	if m == nil {
		return
	}
	m.feedbackDropped.Inc()
}
