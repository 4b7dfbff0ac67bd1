// Package dto provides data transfer objects for the queue operator endpoints.
package dto

import (
	"time"

	queueDomain "github.com/fieldops/resilience/internal/queue/domain"
)

// JobResponse is the API view of a job. The payload is never exposed.
type JobResponse struct {
	ID             string     `json:"id"`
	Queue          string     `json:"queue"`
	JobType        string     `json:"job_type"`
	Service        string     `json:"service"`
	IdempotencyKey string     `json:"idempotency_key"`
	Priority       int        `json:"priority"`
	Status         string     `json:"status"`
	Attempts       int        `json:"attempts"`
	MaxAttempts    int        `json:"max_attempts"`
	NextAttemptAt  time.Time  `json:"next_attempt_at"`
	LastError      string     `json:"last_error,omitempty"`
	LockedBy       string     `json:"locked_by,omitempty"`
	DeadLetteredAt *time.Time `json:"dead_lettered_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// ListJobsResponse wraps a page of jobs.
type ListJobsResponse struct {
	Data []JobResponse `json:"data"`
}

// MapJobToResponse converts a job to its API representation.
func MapJobToResponse(job *queueDomain.Job) JobResponse {
	resp := JobResponse{
		ID:             job.ID.String(),
		Queue:          job.QueueName,
		JobType:        job.JobType,
		Service:        job.Service,
		IdempotencyKey: job.IdempotencyKey,
		Priority:       job.Priority,
		Status:         string(job.Status),
		Attempts:       job.Attempts,
		MaxAttempts:    job.MaxAttempts,
		NextAttemptAt:  job.NextAttemptAt,
		DeadLetteredAt: job.DeadLetteredAt,
		CreatedAt:      job.CreatedAt,
		UpdatedAt:      job.UpdatedAt,
	}
	if job.LastError != nil {
		resp.LastError = *job.LastError
	}
	if job.LockedBy != nil {
		resp.LockedBy = *job.LockedBy
	}
	return resp
}

// MapJobsToListResponse converts a page of jobs.
func MapJobsToListResponse(jobs []*queueDomain.Job) ListJobsResponse {
	data := make([]JobResponse, 0, len(jobs))
	for _, job := range jobs {
		data = append(data, MapJobToResponse(job))
	}
	return ListJobsResponse{Data: data}
}
