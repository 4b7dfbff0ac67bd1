// Package dto provides data transfer objects for audit log HTTP responses.
package dto

import (
	"time"

	auditDomain "github.com/fieldops/resilience/internal/audit/domain"
)

// AuditLogResponse represents an audit log entry in API responses.
type AuditLogResponse struct {
	ID        string         `json:"id"`
	RequestID string         `json:"request_id,omitempty"`
	Actor     string         `json:"actor"`
	Action    string         `json:"action"`
	Resource  string         `json:"resource"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// MapAuditLogToResponse converts a domain audit log to an API response.
func MapAuditLogToResponse(auditLog *auditDomain.AuditLog) AuditLogResponse {
	return AuditLogResponse{
		ID:        auditLog.ID.String(),
		RequestID: auditLog.RequestID,
		Actor:     auditLog.Actor,
		Action:    string(auditLog.Action),
		Resource:  auditLog.Resource,
		Metadata:  auditLog.Metadata,
		CreatedAt: auditLog.CreatedAt,
	}
}

// ListAuditLogsResponse represents a paginated list of audit logs.
type ListAuditLogsResponse struct {
	Data []AuditLogResponse `json:"data"`
}

// MapAuditLogsToListResponse converts domain audit logs to a list API response.
func MapAuditLogsToListResponse(auditLogs []*auditDomain.AuditLog) ListAuditLogsResponse {
	responses := make([]AuditLogResponse, 0, len(auditLogs))
	for _, auditLog := range auditLogs {
		responses = append(responses, MapAuditLogToResponse(auditLog))
	}
	return ListAuditLogsResponse{Data: responses}
}
