// Package audit records security events and user activity. Security events
// are written as structured JSON to a dedicated logger namespace so a SIEM can
// filter them; activity is persisted and mirrored to the log.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/datasaki/datasaki-engine/pkg/adapters/connector"
	"github.com/datasaki/datasaki-engine/pkg/auth"
	"github.com/datasaki/datasaki-engine/pkg/logging"
)

// SecurityEventType categorizes security-relevant events for filtering and alerting.
type SecurityEventType string

const (
	// EventSQLInjectionAttempt is logged when libinjection flags a table or column name.
	EventSQLInjectionAttempt SecurityEventType = "sql_injection_attempt"
	// EventAccessDenied is logged when a user reaches for a resource owned by someone else.
	EventAccessDenied SecurityEventType = "access_denied"
)

// SecurityEvent is one auditable event.
type SecurityEvent struct {
	Timestamp   time.Time         `json:"timestamp"`
	EventType   SecurityEventType `json:"event_type"`
	ConnectorID string            `json:"connector_id,omitempty"`
	UserID      string            `json:"user_id,omitempty"`
	ClientIP    string            `json:"client_ip,omitempty"`
	Details     any               `json:"details"`
	Severity    string            `json:"severity"` // info, warning, critical
}

// InjectionDetails describes a name rejected by the injection screen.
type InjectionDetails struct {
	Operation   string `json:"operation"`
	Field       string `json:"field"`
	Value       string `json:"value"`
	Fingerprint string `json:"fingerprint"` // libinjection fingerprint for pattern analysis
}

// AccessDetails describes a denied ownership check.
type AccessDetails struct {
	Resource   string `json:"resource"`
	ResourceID string `json:"resource_id"`
	Operation  string `json:"operation"`
}

// SecurityAuditor logs security events for SIEM consumption.
type SecurityAuditor struct {
	logger *zap.Logger
}

// NewSecurityAuditor creates an auditor logging under the "security_audit" namespace.
func NewSecurityAuditor(logger *zap.Logger) *SecurityAuditor {
	return &SecurityAuditor{logger: logger.Named("security_audit")}
}

// LogInjectionAttempt records a rejected identifier at ERROR level with
// critical severity. The value is truncated before logging.
//
// Example usage:
//
//	var inj *connector.InjectionError
//	if errors.As(err, &inj) {
//	    auditor.LogInjectionAttempt(ctx, connectorID, "write", inj, clientIP)
//	}
func (a *SecurityAuditor) LogInjectionAttempt(
	ctx context.Context,
	connectorID, operation string,
	inj *connector.InjectionError,
	clientIP string,
) {
	if inj == nil {
		return
	}
	userID := userFromContext(ctx)
	details := InjectionDetails{
		Operation:   operation,
		Field:       inj.Field,
		Value:       logging.Truncate(inj.Value, 200),
		Fingerprint: inj.Fingerprint,
	}

	event := SecurityEvent{
		Timestamp:   time.Now().UTC(),
		EventType:   EventSQLInjectionAttempt,
		ConnectorID: connectorID,
		UserID:      userID,
		ClientIP:    clientIP,
		Details:     details,
		Severity:    "critical",
	}
	// Marshaling these types cannot fail.
	eventJSON, _ := json.Marshal(event)

	a.logger.Error("SQL injection attempt detected",
		zap.String("event_json", string(eventJSON)),
		zap.String("connector_id", connectorID),
		zap.String("operation", operation),
		zap.String("field", inj.Field),
		zap.String("fingerprint", inj.Fingerprint),
		zap.String("client_ip", clientIP),
		zap.String("user_id", userID),
		zap.String("severity", "critical"),
	)
}

// LogAccessDenied records an ownership violation at WARN level.
func (a *SecurityAuditor) LogAccessDenied(ctx context.Context, details AccessDetails) {
	userID := userFromContext(ctx)

	event := SecurityEvent{
		Timestamp: time.Now().UTC(),
		EventType: EventAccessDenied,
		UserID:    userID,
		Details:   details,
		ClientIP:  ClientIPFromContext(ctx),
		Severity:  "warning",
	}
	if details.Resource == "connector" {
		event.ConnectorID = details.ResourceID
	}
	eventJSON, _ := json.Marshal(event)

	a.logger.Warn("Access denied",
		zap.String("event_json", string(eventJSON)),
		zap.String("resource", details.Resource),
		zap.String("resource_id", details.ResourceID),
		zap.String("operation", details.Operation),
		zap.String("user_id", userID),
		zap.String("severity", "warning"),
	)
}

func userFromContext(ctx context.Context) string {
	if claims, ok := auth.GetClaims(ctx); ok {
		return claims.Subject
	}
	return ""
}

type clientIPKey struct{}

// WithClientIP stores the caller's address for events raised deeper in the stack.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey{}, ip)
}

// ClientIPFromContext returns the address stored by WithClientIP, or "".
func ClientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}
