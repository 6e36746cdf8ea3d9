package api

import "context"

type contextKey string

const (
	ctxKeyRequestID contextKey = "request_id"
	ctxKeyDecision  contextKey = "decision"
	ctxKeyIdentity  contextKey = "identity"
)

// decision is filled in by handlers so the audit middleware can record the
// outcome after the response is written.
type decision struct {
	IdentityHash string
	Outcome      string
}

func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, id)
}

func requestIDFromCtx(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID).(string)
	return id
}

func withDecision(ctx context.Context, d *decision) context.Context {
	return context.WithValue(ctx, ctxKeyDecision, d)
}

func decisionFromCtx(ctx context.Context) *decision {
	d, _ := ctx.Value(ctxKeyDecision).(*decision)
	return d
}

func withIdentity(ctx context.Context, identity string) context.Context {
	return context.WithValue(ctx, ctxKeyIdentity, identity)
}

func identityFromCtx(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyIdentity).(string)
	return id
}
