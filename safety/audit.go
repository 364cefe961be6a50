package safety

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
)

// AuditEntry is one line of the audit trail.
type AuditEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Kind      string    `json:"kind"`
	Input     string    `json:"input"`
	Allowed   bool      `json:"allowed"`
	Reason    string    `json:"reason,omitempty"`
}

// AuditLogger records every policy decision. Decisions are always logged
// through zap; an optional sink additionally receives JSON lines. Sink
// write failures are swallowed: auditing must never block a decision.
type AuditLogger struct {
	logger *zap.Logger

	mu   sync.Mutex
	sink io.Writer
}

// NewAuditLogger creates an audit logger backed by the given zap logger.
func NewAuditLogger(logger *zap.Logger) *AuditLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditLogger{
		logger: logger.With(zap.String("component", "safety_audit")),
	}
}

// WithSink attaches a JSONL sink, typically an append-only audit file.
func (a *AuditLogger) WithSink(w io.Writer) *AuditLogger {
	a.mu.Lock()
	a.sink = w
	a.mu.Unlock()
	return a
}

// Record writes one decision to the audit trail.
func (a *AuditLogger) Record(kind, input string, d Decision) {
	if d.Allowed {
		a.logger.Info("decision",
			zap.String("kind", kind),
			zap.String("input", input),
			zap.Bool("allowed", true),
		)
	} else {
		a.logger.Warn("decision",
			zap.String("kind", kind),
			zap.String("input", input),
			zap.Bool("allowed", false),
			zap.String("reason", d.Reason),
		)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sink == nil {
		return
	}
	entry := AuditEntry{
		Timestamp: time.Now().UTC(),
		Kind:      kind,
		Input:     input,
		Allowed:   d.Allowed,
		Reason:    d.Reason,
	}
	line, err := json.Marshal(entry)
	if err != nil {
		a.logger.Error("audit entry marshal failed", zap.Error(err))
		return
	}
	if _, err := a.sink.Write(append(line, '\n')); err != nil {
		a.logger.Error("audit sink write failed", zap.Error(err))
	}
}
