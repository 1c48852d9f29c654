// Package audit emits structured audit events for security-relevant
// actions: logins, refreshes, logouts and two-factor transitions.
package audit

import (
	"context"
	"errors"
	"strings"

	"gamegate.org/internal/auth"
	"gamegate.org/internal/obs"
)

type ctxKey struct{}

// WithRequestID attaches the request identifier to the context for audit
// events emitted further down the call chain.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, requestID)
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxKey{}).(string); ok {
		return v
	}
	return ""
}

// Event names emitted by the gateway.
const (
	EventLogin             = "auth.login"
	EventLoginFailed       = "auth.login_failed"
	EventStepUpChallenged  = "auth.step_up_challenged"
	EventStepUpCompleted   = "auth.step_up_completed"
	EventRefresh           = "auth.refresh"
	EventLogout            = "auth.logout"
	EventRegister          = "auth.register"
	EventPasswordChanged   = "auth.password_changed"
	EventTwoFactorEnabled  = "auth.2fa_enabled"
	EventTwoFactorDisabled = "auth.2fa_disabled"
)

// LogEvent writes one audit entry enriched with the request id and the
// authenticated account when present in the context.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	evt := obs.Logger().Info().
		Str("type", "audit").
		Str("event", event)
	if rid := requestIDFromContext(ctx); rid != "" {
		evt = evt.Str("request_id", rid)
	}
	if account := auth.AccountFromContext(ctx); account != nil {
		evt = evt.Str("account_id", account.ID).Str("account_email", account.Email)
	}
	for k, v := range fields {
		evt = evt.Interface(k, v)
	}
	evt.Msg(event)
	return nil
}
