package license

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/wabdesk/wabdesk/internal/metrics"
	"github.com/wabdesk/wabdesk/internal/models"
)

const auditWriteTimeout = 5 * time.Second

// Auditor records audit entries. Write failures are logged and counted but
// never returned to the caller.
type Auditor struct {
	sink    AuditSink
	metrics *metrics.PrometheusMetrics
	logger  zerolog.Logger
}

// NewAuditor creates an Auditor. A nil sink disables persistence.
func NewAuditor(sink AuditSink, m *metrics.PrometheusMetrics, logger zerolog.Logger) *Auditor {
	return &Auditor{
		sink:    sink,
		metrics: m,
		logger:  logger.With().Str("component", "audit").Logger(),
	}
}

// Record writes entry. The caller's cancellation does not abort the write.
func (a *Auditor) Record(ctx context.Context, entry *models.AuditLog) {
	if a == nil || a.sink == nil {
		return
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditWriteTimeout)
	defer cancel()

	if err := a.sink.CreateAuditLog(writeCtx, entry); err != nil {
		a.metrics.RecordAuditFailure()
		a.logger.Error().Err(err).
			Str("action", string(entry.Action)).
			Str("target_type", entry.TargetType).
			Msg("failed to write audit log")
	}
}
