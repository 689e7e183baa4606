package audit

import (
	"context"
	"errors"
	"strings"
	"time"

	"civicai.org/internal/auth"
	"civicai.org/internal/obs"
)

// Event names emitted by the API.
const (
	EventRegistered        = "auth.registered"
	EventLogin             = "auth.login"
	EventAdminLogin        = "auth.admin_login"
	EventFederatedLogin    = "auth.federated_login"
	EventProfileUpdated    = "user.profile_updated"
	EventDeactivated       = "user.deactivated"
	EventRoleChanged       = "admin.role_changed"
	EventActiveToggled     = "admin.active_toggled"
	EventAuthorityVerified = "admin.authority_verified"
	EventAccessDenied      = "authz.denied"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext returns the request id attached by WithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit log entry enriched with request and caller context.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	entry := map[string]any{
		"ts":    time.Now().UTC().Format(time.RFC3339Nano),
		"type":  "audit",
		"event": event,
	}
	if rid := RequestIDFromContext(ctx); rid != "" {
		entry["request_id"] = rid
	}
	if id, ok := auth.IdentityFromContext(ctx); ok {
		entry["user_id"] = id.ID()
		entry["role"] = string(id.Role())
		entry["auth_scheme"] = id.Claims.Scheme.String()
	}
	copyFields := make(map[string]any, len(fields))
	for k, v := range fields {
		copyFields[k] = v
	}
	entry["fields"] = copyFields

	obs.LogRequest(entry)
	return nil
}
