package pipeline

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"
)

// IngressAPI exposes the HTTP endpoints for submitting events. The ingress
// reports failure only when the synchronous, durability-critical queue send
// fails; asynchronous downstream failures are observable via metrics and the
// DLQ, not here.
type IngressAPI struct {
	publisher *Publisher
	sink      MetricSink
	service   string
	logger    *zap.Logger
}

// NewIngressAPI creates the ingress handler set. sink backs the ad-hoc
// metric-publish endpoint and may be nil when that endpoint is not wired.
func NewIngressAPI(publisher *Publisher, sink MetricSink, serviceName string, logger *zap.Logger) *IngressAPI {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IngressAPI{
		publisher: publisher,
		sink:      sink,
		service:   serviceName,
		logger:    logger,
	}
}

// Routes registers the ingress endpoints on a mux.
func (a *IngressAPI) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/events", a.submitEvent)
	mux.HandleFunc("POST /api/events/batch", a.submitBatch)
	mux.HandleFunc("GET /api/events/health", a.health)
	mux.HandleFunc("POST /api/monitoring/metrics", a.publishMetric)
}

func (a *IngressAPI) submitEvent(w http.ResponseWriter, r *http.Request) {
	var event Event
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"status": "FAILED",
			"error":  "invalid request body: " + err.Error(),
		})
		return
	}

	a.logger.Info("Received event submission", zap.String("event_id", event.ID))

	if err := a.publisher.Publish(r.Context(), &event); err != nil {
		a.logger.Error("Failed to publish submitted event",
			zap.String("event_id", event.ID),
			zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"eventId": event.ID,
			"status":  "FAILED",
			"error":   err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"eventId":   event.ID,
		"status":    "ACCEPTED",
		"message":   "Event submitted successfully",
		"timestamp": event.Timestamp,
	})
}

func (a *IngressAPI) submitBatch(w http.ResponseWriter, r *http.Request) {
	var events []Event
	if err := json.NewDecoder(r.Body).Decode(&events); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"status": "FAILED",
			"error":  "invalid request body: " + err.Error(),
		})
		return
	}

	a.logger.Info("Received batch submission", zap.Int("count", len(events)))

	successCount := 0
	failureCount := 0
	for i := range events {
		if err := a.publisher.Publish(r.Context(), &events[i]); err != nil {
			a.logger.Error("Failed to publish event in batch",
				zap.String("event_id", events[i].ID),
				zap.Error(err))
			failureCount++
			continue
		}
		successCount++
	}

	status := "SUCCESS"
	if failureCount > 0 {
		status = "PARTIAL_SUCCESS"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"totalEvents":  len(events),
		"successCount": successCount,
		"failureCount": failureCount,
		"status":       status,
	})
}

// publishMetric pushes one ad-hoc data point through the metric sink. Params:
// metricName, value, and an optional unit (defaults to Count).
func (a *IngressAPI) publishMetric(w http.ResponseWriter, r *http.Request) {
	if a.sink == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "FAILED",
			"error":  "metric sink not configured",
		})
		return
	}

	name := r.URL.Query().Get("metricName")
	if name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"status": "FAILED",
			"error":  "metricName is required",
		})
		return
	}

	value, err := strconv.ParseFloat(r.URL.Query().Get("value"), 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"status": "FAILED",
			"error":  "value must be a number",
		})
		return
	}

	unit := r.URL.Query().Get("unit")
	if unit == "" {
		unit = UnitCount
	}

	if err := a.sink.PublishMetric(r.Context(), name, value, unit); err != nil {
		a.logger.Error("Failed to publish ad-hoc metric",
			zap.String("metric", name),
			zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"status": "FAILED",
			"error":  err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "SUCCESS",
		"message": "Metric published successfully",
	})
}

func (a *IngressAPI) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "UP",
		"service": a.service,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
