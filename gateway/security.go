package gateway

import (
	"encoding/json"

	"go.uber.org/zap"

	"gomint/storage"
)

// Security event types.
const (
	SecurityAuthFailed     = "auth_failed"
	SecurityConnRateLimit  = "connection_rate_limited"
	SecurityEventRateLimit = "event_rate_limited"
	SecuritySlowConsumer   = "slow_consumer"
	// SecurityServiceAuth is a rejected call to an internal endpoint.
	SecurityServiceAuth = "internal_auth_failed"
)

// SecurityLog persists security-relevant events.
type SecurityLog interface {
	LogSecurityEvent(event storage.SecurityEvent) error
}

// SecurityRecorder writes security events and never fails the caller.
type SecurityRecorder struct {
	log    SecurityLog
	logger *zap.Logger
}

func NewSecurityRecorder(log SecurityLog, logger *zap.Logger) *SecurityRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SecurityRecorder{log: log, logger: logger.Named("security")}
}

// Record stores one event. identity and remote may be empty.
func (r *SecurityRecorder) Record(eventType, severity, identity, remote string, details map[string]string) {
	if r == nil {
		return
	}
	r.logger.Warn("security event",
		zap.String("event_type", eventType),
		zap.String("identity", identity),
		zap.String("remote", remote),
	)
	if r.log == nil {
		return
	}

	encoded := "{}"
	if len(details) > 0 {
		if raw, err := json.Marshal(details); err == nil {
			encoded = string(raw)
		}
	}
	event := storage.SecurityEvent{
		EventType: eventType,
		Details:   encoded,
		Severity:  severity,
	}
	if identity != "" {
		event.Identity = &identity
	}
	if remote != "" {
		event.Remote = &remote
	}
	if err := r.log.LogSecurityEvent(event); err != nil {
		r.logger.Warn("persist security event failed", zap.String("event_type", eventType), zap.Error(err))
	}
}

// AuthFailed records a rejected handshake.
func (r *SecurityRecorder) AuthFailed(remote string, err error) {
	reason := ""
	if err != nil {
		reason = err.Error()
	}
	r.Record(SecurityAuthFailed, storage.SecuritySeverityWarning, "", remote, map[string]string{"reason": reason})
}

// ConnectionRateLimited records a connection refused by the per-IP limiter.
func (r *SecurityRecorder) ConnectionRateLimited(remote string) {
	r.Record(SecurityConnRateLimit, storage.SecuritySeverityWarning, "", remote, nil)
}
