package store

import (
	"context"
	"sync"

	"duel-settlement-go/internal/models"
)

// PendingAudit is an admin action waiting to be written. A store that finds
// one on the context writes it inside the first transaction it commits, so
// the audit row and the change it describes land together.
type PendingAudit struct {
	Action models.AdminAction

	mu      sync.Mutex
	written bool
}

type auditContextKey struct{}

func WithAudit(ctx context.Context, audit *PendingAudit) context.Context {
	return context.WithValue(ctx, auditContextKey{}, audit)
}

// AuditFrom returns the pending audit on ctx, or nil.
func AuditFrom(ctx context.Context) *PendingAudit {
	audit, _ := ctx.Value(auditContextKey{}).(*PendingAudit)
	return audit
}

func (a *PendingAudit) Written() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.written
}

func (a *PendingAudit) MarkWritten() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.written = true
}
