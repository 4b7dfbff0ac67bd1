package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github.com/fieldops/resilience/internal/errors"
	fallbackDomain "github.com/fieldops/resilience/internal/fallback/domain"
	"github.com/fieldops/resilience/internal/fallback/http/dto"
	queueUseCase "github.com/fieldops/resilience/internal/queue/usecase"
)

type mockRouter struct {
	mock.Mock
}

func (m *mockRouter) Perform(
	ctx context.Context,
	action fallbackDomain.Action,
	fallback fallbackDomain.Fallback,
) (fallbackDomain.Outcome, error) {
	args := m.Called(ctx, action, fallback)
	return args.Get(0).(fallbackDomain.Outcome), args.Error(1)
}

func (m *mockRouter) JobHandler(kind string) queueUseCase.Handler {
	return nil
}

func (m *mockRouter) Handlers() map[string]queueUseCase.Handler {
	return nil
}

func post(router *mockRouter, body string, header map[string]string) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.POST("/v1/actions", NewActionHandler(router, slog.New(slog.NewTextHandler(io.Discard, nil))).PerformHandler)

	req := httptest.NewRequest(http.MethodPost, "/v1/actions", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func TestActionHandler_Perform(t *testing.T) {
	t.Run("Completed_200", func(t *testing.T) {
		r := &mockRouter{}
		r.On("Perform", mock.Anything, fallbackDomain.Action{
			Kind:           "tax.stamp_invoice",
			Payload:        []byte(`{"invoice_id":"inv-1"}`),
			IdempotencyKey: "invoice:inv-1",
		}, mock.Anything).Return(fallbackDomain.Outcome{
			Status:         fallbackDomain.OutcomeCompleted,
			IdempotencyKey: "invoice:inv-1",
			Result:         []byte(`{"cae":"7412"}`),
			ServiceState:   "normal",
		}, nil).Once()

		w := post(r, `{"kind":"tax.stamp_invoice","payload":{"invoice_id":"inv-1"}}`,
			map[string]string{IdempotencyKeyHeader: "invoice:inv-1"})

		require.Equal(t, http.StatusOK, w.Code)
		var resp dto.OutcomeResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "completed", resp.Status)
		assert.JSONEq(t, `{"cae":"7412"}`, string(resp.Result))
		assert.Equal(t, "invoice:inv-1", w.Header().Get(IdempotencyKeyHeader))
		r.AssertExpectations(t)
	})

	t.Run("Fallback_202", func(t *testing.T) {
		r := &mockRouter{}
		jobID := uuid.Must(uuid.NewV7())
		r.On("Perform", mock.Anything, mock.Anything, mock.Anything).Return(fallbackDomain.Outcome{
			Status:         fallbackDomain.OutcomeFallback,
			IdempotencyKey: "tax.stamp_invoice:abc",
			FallbackResult: []byte("draft-42"),
			JobID:          &jobID,
			ServiceState:   "panic",
		}, nil).Once()

		w := post(r, `{"kind":"tax.stamp_invoice","payload":{}}`, nil)

		require.Equal(t, http.StatusAccepted, w.Code)
		var resp dto.OutcomeResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "fallback", resp.Status)
		assert.Equal(t, jobID.String(), resp.JobID)
		assert.Equal(t, `"draft-42"`, string(resp.FallbackResult))
		assert.Nil(t, resp.Result)
	})

	t.Run("BodyKeyWinsOverHeader", func(t *testing.T) {
		r := &mockRouter{}
		r.On("Perform", mock.Anything, mock.MatchedBy(func(a fallbackDomain.Action) bool {
			return a.IdempotencyKey == "from-body"
		}), mock.Anything).Return(fallbackDomain.Outcome{Status: fallbackDomain.OutcomeAccepted}, nil).Once()

		w := post(r, `{"kind":"messaging.send","idempotency_key":"from-body"}`,
			map[string]string{IdempotencyKeyHeader: "from-header"})

		assert.Equal(t, http.StatusAccepted, w.Code)
		r.AssertExpectations(t)
	})

	t.Run("Error_Validation", func(t *testing.T) {
		r := &mockRouter{}

		w := post(r, `{"kind":"","priority":500}`, nil)

		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		r.AssertNotCalled(t, "Perform", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Error_MalformedJSON", func(t *testing.T) {
		w := post(&mockRouter{}, `{"kind":`, nil)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	t.Run("Error_Permanent_422", func(t *testing.T) {
		r := &mockRouter{}
		r.On("Perform", mock.Anything, mock.Anything, mock.Anything).
			Return(fallbackDomain.Outcome{}, apperrors.Permanent(errors.New("invalid tax id"))).Once()

		w := post(r, `{"kind":"tax.stamp_invoice"}`, nil)

		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.Contains(t, w.Body.String(), "rejected_by_provider")
	})

	t.Run("Error_QueueOverflow_503", func(t *testing.T) {
		r := &mockRouter{}
		r.On("Perform", mock.Anything, mock.Anything, mock.Anything).
			Return(fallbackDomain.Outcome{}, apperrors.ErrQueueOverflow).Once()

		w := post(r, `{"kind":"messaging.send"}`, nil)

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}
