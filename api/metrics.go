package api

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	notifyTracerName  = "kanban-api/api"
	notifySpanName    = "api.notifications.create"
	notifyEventName   = "notifications.create"
	notifyEventDomain = "kanban"
	notifyRoute       = "/api/notifications"
)

// createRequestMetrics collects per-request timings for the notification
// create path and emits them as one structured observability event plus an
// OpenTelemetry span.
type createRequestMetrics struct {
	logger         *log.Logger
	span           trace.Span
	start          time.Time
	authDuration   time.Duration
	createDuration time.Duration
	encodeDuration time.Duration
	created        bool
	unread         int
	errorStage     string
}

func newCreateRequestMetrics(ctx context.Context, logger *log.Logger) (*createRequestMetrics, context.Context) {
	spanCtx, span := otel.Tracer(notifyTracerName).Start(ctx, notifySpanName)
	m := &createRequestMetrics{
		logger: logger,
		span:   span,
		start:  time.Now(),
	}
	return m, spanCtx
}

func (m *createRequestMetrics) ObserveAuth(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.authDuration = duration
}

func (m *createRequestMetrics) ObserveCreate(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.createDuration = duration
}

func (m *createRequestMetrics) ObserveEncode(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.encodeDuration = duration
}

func (m *createRequestMetrics) SetCreated(created bool) {
	m.created = created
}

func (m *createRequestMetrics) SetUnread(count int) {
	if count < 0 {
		count = 0
	}
	m.unread = count
}

func (m *createRequestMetrics) SetErrorStage(stage string) {
	if stage == "" {
		return
	}
	m.errorStage = stage
}

// Log finishes the span and emits the observability event. Call exactly once.
func (m *createRequestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}

	totalMs := durationToMillis(time.Since(m.start))
	severityText, severityNumber := severityForStatus(status, err)

	attrs := []attribute.KeyValue{
		attribute.String("http.route", notifyRoute),
		attribute.Int("http.status_code", status),
		attribute.Float64("kanban.notifications.total_ms", totalMs),
		attribute.Bool("kanban.notifications.created", m.created),
		attribute.Int("kanban.notifications.unread", m.unread),
	}
	if m.authDuration > 0 {
		attrs = append(attrs, attribute.Float64("kanban.notifications.auth_ms", durationToMillis(m.authDuration)))
	}
	if m.createDuration > 0 {
		attrs = append(attrs, attribute.Float64("kanban.notifications.create_ms", durationToMillis(m.createDuration)))
	}
	if m.encodeDuration > 0 {
		attrs = append(attrs, attribute.Float64("kanban.notifications.encode_ms", durationToMillis(m.encodeDuration)))
	}
	if m.errorStage != "" {
		attrs = append(attrs, attribute.String("kanban.notifications.error_stage", m.errorStage))
	}
	if err != nil {
		attrs = append(attrs, attribute.String("error.message", err.Error()))
	}

	eventAttrs := append([]attribute.KeyValue{
		attribute.String("event.name", notifyEventName),
		attribute.String("event.domain", notifyEventDomain),
		attribute.String("severity_text", severityText),
		attribute.Int("severity_number", severityNumber),
	}, attrs...)

	if m.span != nil {
		m.span.SetAttributes(attrs...)
		m.span.AddEvent("observability.event", trace.WithAttributes(eventAttrs...))
		if err != nil || status >= 500 {
			desc := "request failed"
			if err != nil {
				desc = err.Error()
			}
			m.span.SetStatus(codes.Error, desc)
		} else {
			m.span.SetStatus(codes.Ok, "")
		}
		m.span.End()
	}

	if m.logger == nil {
		return
	}

	attrMap := make(map[string]any, len(attrs))
	for _, kv := range attrs {
		attrMap[string(kv.Key)] = kv.Value.AsInterface()
	}

	fields := log.Fields{
		"event.name":      notifyEventName,
		"event.domain":    notifyEventDomain,
		"severity_text":   severityText,
		"severity_number": severityNumber,
		"attributes":      attrMap,
	}
	if m.span != nil {
		if sc := m.span.SpanContext(); sc.HasTraceID() {
			fields["trace_id"] = sc.TraceID().String()
			fields["span_id"] = sc.SpanID().String()
		}
	}

	m.logger.WithFields(fields).Info("observability.event")
}

func severityForStatus(status int, err error) (string, int) {
	switch {
	case err != nil || status >= 500:
		return "ERROR", 17
	case status >= 400:
		return "WARN", 13
	default:
		return "INFO", 9
	}
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
