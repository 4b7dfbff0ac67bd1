package dto

import (
	"encoding/json"

	fallbackDomain "github.com/fieldops/resilience/internal/fallback/domain"
)

// OutcomeResponse reports what happened to an action.
type OutcomeResponse struct {
	Status         string          `json:"status"`
	IdempotencyKey string          `json:"idempotency_key"`
	Result         json.RawMessage `json:"result,omitempty"`
	Replayed       bool            `json:"replayed"`
	FallbackResult json.RawMessage `json:"fallback_result,omitempty"`
	JobID          string          `json:"job_id,omitempty"`
	ServiceState   string          `json:"service_state"`
}

// MapOutcomeToResponse converts an outcome to its API representation. Results that
// are not valid JSON are encoded as JSON strings.
func MapOutcomeToResponse(o fallbackDomain.Outcome) OutcomeResponse {
	resp := OutcomeResponse{
		Status:         string(o.Status),
		IdempotencyKey: o.IdempotencyKey,
		Result:         rawJSON(o.Result),
		Replayed:       o.Replayed,
		FallbackResult: rawJSON(o.FallbackResult),
		ServiceState:   o.ServiceState,
	}
	if o.JobID != nil {
		resp.JobID = o.JobID.String()
	}
	return resp
}

func rawJSON(b []byte) json.RawMessage {
	if len(b) == 0 {
		return nil
	}
	if json.Valid(b) {
		return json.RawMessage(b)
	}
	quoted, _ := json.Marshal(string(b))
	return quoted
}
