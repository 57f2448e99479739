package events

import "go.uber.org/zap"

// AttachZapSink subscribes a zap-backed writer to the journal so every event
// also lands in the structured log stream. The returned func unsubscribes.
func AttachZapSink(journal Journal, log *zap.Logger) func() {
	if journal == nil || log == nil {
		return func() {}
	}
	return journal.Subscribe(func(e Event) {
		fields := []zap.Field{
			zap.String("event_id", e.ID),
			zap.Time("at", e.Timestamp),
		}
		if e.UserID != "" {
			fields = append(fields, zap.String("user_id", e.UserID))
		}
		if e.Level > 0 {
			fields = append(fields, zap.Int("level", e.Level))
		}
		if e.CurrencyKind != "" {
			fields = append(fields, zap.String("currency_kind", e.CurrencyKind))
		}
		if e.Amount != 0 {
			fields = append(fields, zap.Int64("amount", e.Amount))
		}
		if e.Message != "" {
			fields = append(fields, zap.String("message", e.Message))
		}
		if e.Error != "" {
			fields = append(fields, zap.String("error", e.Error))
		}
		if e.TraceID != "" {
			fields = append(fields, zap.String("trace_id", e.TraceID))
		}
		if e.RequestID != "" {
			fields = append(fields, zap.String("request_id", e.RequestID))
		}

		switch e.Severity {
		case SeverityError:
			log.Error(string(e.Type), fields...)
		case SeverityWarning:
			log.Warn(string(e.Type), fields...)
		default:
			log.Info(string(e.Type), fields...)
		}
	})
}

// NewJournalLogger builds a production zap logger for the journal sink. An
// empty path keeps zap's default stderr output.
func NewJournalLogger(path string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if path != "" {
		cfg.OutputPaths = []string{path}
		cfg.ErrorOutputPaths = []string{path}
	}
	return cfg.Build()
}
