package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/trialsift/trialsift-engine/pkg/apperrors"
	"github.com/trialsift/trialsift-engine/pkg/models"
	"github.com/trialsift/trialsift-engine/pkg/services"
)

type mockScreeningService struct {
	result *models.StateTransitionResult
	work   *models.ProjectWork
	err    error

	gotInput services.ProcessDecisionInput
}

func (m *mockScreeningService) ProcessDecision(_ context.Context, input services.ProcessDecisionInput) (*models.StateTransitionResult, error) {
	m.gotInput = input
	return m.result, m.err
}

func (m *mockScreeningService) GetWork(_ context.Context, _ uuid.UUID) (*models.ProjectWork, error) {
	return m.work, m.err
}

type mockConflictService struct {
	result *models.StateTransitionResult
	open   []*models.Conflict
	err    error
}

func (m *mockConflictService) ResolveConflict(_ context.Context, _ services.ResolveConflictInput) (*models.StateTransitionResult, error) {
	return m.result, m.err
}

func (m *mockConflictService) ListOpen(_ context.Context, _ uuid.UUID) ([]*models.Conflict, error) {
	return m.open, m.err
}

type mockPhaseService struct {
	result *services.AdvanceResult
	err    error
}

func (m *mockPhaseService) AdvancePhase(_ context.Context, _ uuid.UUID, _ models.Phase, _ uuid.UUID) (*services.AdvanceResult, error) {
	return m.result, m.err
}

func (m *mockPhaseService) RepairPending(_ context.Context, _ uuid.UUID, _ models.Phase) (services.RepairOutcome, error) {
	return services.RepairOutcome{}, m.err
}

func passthroughScope(next http.HandlerFunc) http.HandlerFunc { return next }

func newTestMux(screening services.ScreeningService, conflicts services.ConflictService, phases services.PhaseService) *http.ServeMux {
	mux := http.NewServeMux()
	h := NewScreeningHandler(screening, conflicts, phases, zap.NewNop())
	h.RegisterRoutes(mux, passthroughScope)
	return mux
}

func TestSubmitDecision(t *testing.T) {
	screening := &mockScreeningService{
		result: &models.StateTransitionResult{
			NewStatus: models.StatusScreening,
			NewPhase:  models.PhaseTitleAbstract,
		},
	}
	mux := newTestMux(screening, &mockConflictService{}, &mockPhaseService{})

	workID := uuid.New()
	reviewerID := uuid.New()
	body, _ := json.Marshal(map[string]any{
		"reviewer_id": reviewerID,
		"decision":    "include",
	})
	url := fmt.Sprintf("/api/projects/%s/works/%s/decisions", uuid.New(), workID)
	req := httptest.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	rec := httptest.NewRecorder()

	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if screening.gotInput.ProjectWorkID != workID {
		t.Error("work ID not taken from path")
	}
	if screening.gotInput.ReviewerID != reviewerID {
		t.Error("reviewer ID not taken from body")
	}

	var result models.StateTransitionResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if result.NewStatus != models.StatusScreening {
		t.Errorf("expected screening in response, got %s", result.NewStatus)
	}
}

func TestSubmitDecision_MissingReviewer(t *testing.T) {
	mux := newTestMux(&mockScreeningService{}, &mockConflictService{}, &mockPhaseService{})

	url := fmt.Sprintf("/api/projects/%s/works/%s/decisions", uuid.New(), uuid.New())
	req := httptest.NewRequest(http.MethodPost, url, bytes.NewReader([]byte(`{"decision":"include"}`)))
	rec := httptest.NewRecorder()

	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestServiceErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"not found", fmt.Errorf("work: %w", apperrors.ErrNotFound), http.StatusNotFound},
		{"validation", fmt.Errorf("duplicate: %w", apperrors.ErrValidation), http.StatusBadRequest},
		{"internal", fmt.Errorf("connection refused"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := newTestMux(&mockScreeningService{err: tt.err}, &mockConflictService{}, &mockPhaseService{})

			url := fmt.Sprintf("/api/projects/%s/works/%s/decisions", uuid.New(), uuid.New())
			body := fmt.Sprintf(`{"reviewer_id":%q,"decision":"include"}`, uuid.New())
			req := httptest.NewRequest(http.MethodPost, url, bytes.NewReader([]byte(body)))
			rec := httptest.NewRecorder()

			mux.ServeHTTP(rec, req)

			if rec.Code != tt.status {
				t.Errorf("expected %d, got %d", tt.status, rec.Code)
			}
		})
	}
}

func TestResolveConflict_AlreadyResolvedMapsTo409(t *testing.T) {
	conflicts := &mockConflictService{err: fmt.Errorf("conflict: %w", apperrors.ErrAlreadyResolved)}
	mux := newTestMux(&mockScreeningService{}, conflicts, &mockPhaseService{})

	url := fmt.Sprintf("/api/projects/%s/conflicts/%s/resolve", uuid.New(), uuid.New())
	body := fmt.Sprintf(`{"resolver_id":%q,"final_decision":"include"}`, uuid.New())
	req := httptest.NewRequest(http.MethodPost, url, bytes.NewReader([]byte(body)))
	rec := httptest.NewRecorder()

	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", rec.Code)
	}
}

func TestAdvancePhase_PrerequisiteMapsTo409WithCount(t *testing.T) {
	phases := &mockPhaseService{err: &apperrors.PrerequisiteError{BlockingCount: 4, TargetPhase: "full_text"}}
	mux := newTestMux(&mockScreeningService{}, &mockConflictService{}, phases)

	url := fmt.Sprintf("/api/projects/%s/phases/advance", uuid.New())
	req := httptest.NewRequest(http.MethodPost, url, bytes.NewReader([]byte(`{"current_phase":"title_abstract"}`)))
	rec := httptest.NewRecorder()

	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}

	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got, _ := resp["blocking_count"].(float64); int(got) != 4 {
		t.Errorf("expected blocking_count 4, got %v", resp["blocking_count"])
	}
}

func TestListConflicts(t *testing.T) {
	conflicts := &mockConflictService{open: []*models.Conflict{
		{ID: uuid.New(), Phase: models.PhaseTitleAbstract, Status: models.ConflictStatusPending},
	}}
	mux := newTestMux(&mockScreeningService{}, conflicts, &mockPhaseService{})

	url := fmt.Sprintf("/api/projects/%s/conflicts", uuid.New())
	req := httptest.NewRequest(http.MethodGet, url, nil)
	rec := httptest.NewRecorder()

	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Conflicts []*models.Conflict `json:"conflicts"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Conflicts) != 1 {
		t.Errorf("expected 1 conflict, got %d", len(resp.Conflicts))
	}
}

func TestAdvancePhase_InvalidPhase(t *testing.T) {
	mux := newTestMux(&mockScreeningService{}, &mockConflictService{}, &mockPhaseService{})

	url := fmt.Sprintf("/api/projects/%s/phases/advance", uuid.New())
	req := httptest.NewRequest(http.MethodPost, url, bytes.NewReader([]byte(`{"current_phase":"extraction"}`)))
	rec := httptest.NewRecorder()

	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}
