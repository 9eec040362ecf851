package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/trialsift/trialsift-engine/pkg/apperrors"
	"github.com/trialsift/trialsift-engine/pkg/models"
	"github.com/trialsift/trialsift-engine/pkg/services"
)

// ProjectScopeMiddleware wraps a handler with a project-scoped database
// connection derived from the {pid} path value.
type ProjectScopeMiddleware func(http.HandlerFunc) http.HandlerFunc

// ScreeningHandler handles screening-related HTTP requests.
type ScreeningHandler struct {
	screening services.ScreeningService
	conflicts services.ConflictService
	phases    services.PhaseService
	logger    *zap.Logger
}

// NewScreeningHandler creates a new screening handler.
func NewScreeningHandler(
	screening services.ScreeningService,
	conflicts services.ConflictService,
	phases services.PhaseService,
	logger *zap.Logger,
) *ScreeningHandler {
	return &ScreeningHandler{
		screening: screening,
		conflicts: conflicts,
		phases:    phases,
		logger:    logger,
	}
}

// RegisterRoutes registers the screening handler's routes on the given mux.
func (h *ScreeningHandler) RegisterRoutes(mux *http.ServeMux, scoped ProjectScopeMiddleware) {
	mux.HandleFunc("POST /api/projects/{pid}/works/{wid}/decisions", scoped(h.SubmitDecision))
	mux.HandleFunc("GET /api/projects/{pid}/works/{wid}", scoped(h.GetWork))
	mux.HandleFunc("GET /api/projects/{pid}/conflicts", scoped(h.ListConflicts))
	mux.HandleFunc("POST /api/projects/{pid}/conflicts/{cid}/resolve", scoped(h.ResolveConflict))
	mux.HandleFunc("POST /api/projects/{pid}/phases/advance", scoped(h.AdvancePhase))
}

type submitDecisionRequest struct {
	ReviewerID uuid.UUID       `json:"reviewer_id"`
	Decision   models.Decision `json:"decision"`
	Reasoning  *string         `json:"reasoning,omitempty"`
}

// SubmitDecision handles POST /api/projects/{pid}/works/{wid}/decisions
func (h *ScreeningHandler) SubmitDecision(w http.ResponseWriter, r *http.Request) {
	workID, err := uuid.Parse(r.PathValue("wid"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_work_id", "Invalid work ID format")
		return
	}

	var req submitDecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_body", "Invalid JSON body")
		return
	}
	if req.ReviewerID == uuid.Nil {
		h.writeError(w, http.StatusBadRequest, "missing_reviewer_id", "reviewer_id is required")
		return
	}

	result, err := h.screening.ProcessDecision(r.Context(), services.ProcessDecisionInput{
		ProjectWorkID: workID,
		ReviewerID:    req.ReviewerID,
		Decision:      req.Decision,
		Reasoning:     req.Reasoning,
	})
	if err != nil {
		h.writeServiceError(w, err, "Failed to process decision")
		return
	}

	if err := WriteJSON(w, http.StatusOK, result); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// GetWork handles GET /api/projects/{pid}/works/{wid}
func (h *ScreeningHandler) GetWork(w http.ResponseWriter, r *http.Request) {
	workID, err := uuid.Parse(r.PathValue("wid"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_work_id", "Invalid work ID format")
		return
	}

	work, err := h.screening.GetWork(r.Context(), workID)
	if err != nil {
		h.writeServiceError(w, err, "Failed to get work")
		return
	}

	if err := WriteJSON(w, http.StatusOK, work); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// ListConflicts handles GET /api/projects/{pid}/conflicts
func (h *ScreeningHandler) ListConflicts(w http.ResponseWriter, r *http.Request) {
	projectID, err := uuid.Parse(r.PathValue("pid"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_project_id", "Invalid project ID format")
		return
	}

	conflicts, err := h.conflicts.ListOpen(r.Context(), projectID)
	if err != nil {
		h.writeServiceError(w, err, "Failed to list conflicts")
		return
	}

	if err := WriteJSON(w, http.StatusOK, map[string]any{"conflicts": conflicts}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

type resolveConflictRequest struct {
	ResolverID    uuid.UUID       `json:"resolver_id"`
	FinalDecision models.Decision `json:"final_decision"`
	Reasoning     *string         `json:"reasoning,omitempty"`
}

// ResolveConflict handles POST /api/projects/{pid}/conflicts/{cid}/resolve
func (h *ScreeningHandler) ResolveConflict(w http.ResponseWriter, r *http.Request) {
	conflictID, err := uuid.Parse(r.PathValue("cid"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_conflict_id", "Invalid conflict ID format")
		return
	}

	var req resolveConflictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_body", "Invalid JSON body")
		return
	}
	if req.ResolverID == uuid.Nil {
		h.writeError(w, http.StatusBadRequest, "missing_resolver_id", "resolver_id is required")
		return
	}

	result, err := h.conflicts.ResolveConflict(r.Context(), services.ResolveConflictInput{
		ConflictID:    conflictID,
		ResolverID:    req.ResolverID,
		FinalDecision: req.FinalDecision,
		Reasoning:     req.Reasoning,
	})
	if err != nil {
		h.writeServiceError(w, err, "Failed to resolve conflict")
		return
	}

	if err := WriteJSON(w, http.StatusOK, result); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

type advancePhaseRequest struct {
	CurrentPhase models.Phase `json:"current_phase"`
	ActorID      uuid.UUID    `json:"actor_id"`
}

// AdvancePhase handles POST /api/projects/{pid}/phases/advance
func (h *ScreeningHandler) AdvancePhase(w http.ResponseWriter, r *http.Request) {
	projectID, err := uuid.Parse(r.PathValue("pid"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_project_id", "Invalid project ID format")
		return
	}

	var req advancePhaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_body", "Invalid JSON body")
		return
	}
	if !req.CurrentPhase.Valid() {
		h.writeError(w, http.StatusBadRequest, "invalid_phase", "Unknown screening phase")
		return
	}

	result, err := h.phases.AdvancePhase(r.Context(), projectID, req.CurrentPhase, req.ActorID)
	if err != nil {
		h.writeServiceError(w, err, "Failed to advance phase")
		return
	}

	if err := WriteJSON(w, http.StatusOK, result); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

func (h *ScreeningHandler) writeServiceError(w http.ResponseWriter, err error, internalMsg string) {
	var prereq *apperrors.PrerequisiteError

	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, apperrors.ErrValidation):
		h.writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
	case errors.Is(err, apperrors.ErrAlreadyResolved):
		h.writeError(w, http.StatusConflict, "already_resolved", err.Error())
	case errors.As(err, &prereq):
		if werr := WriteJSON(w, http.StatusConflict, map[string]any{
			"error":          "prerequisite_not_met",
			"message":        prereq.Error(),
			"blocking_count": prereq.BlockingCount,
		}); werr != nil {
			h.logger.Error("Failed to write error response", zap.Error(werr))
		}
	default:
		h.logger.Error(internalMsg, zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal_error", internalMsg)
	}
}

func (h *ScreeningHandler) writeError(w http.ResponseWriter, status int, code, message string) {
	if err := ErrorResponse(w, status, code, message); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}

// NewProjectScopeMiddleware builds the middleware that attaches a
// project-scoped database connection for the {pid} path value.
func NewProjectScopeMiddleware(provider scopeProvider, logger *zap.Logger) ProjectScopeMiddleware {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			projectID, err := uuid.Parse(r.PathValue("pid"))
			if err != nil {
				if werr := ErrorResponse(w, http.StatusBadRequest, "invalid_project_id", "Invalid project ID format"); werr != nil {
					logger.Error("Failed to write error response", zap.Error(werr))
				}
				return
			}

			ctx, cleanup, err := provider.WithProjectScope(r.Context(), projectID)
			if err != nil {
				logger.Error("Failed to acquire project scope",
					zap.String("project_id", projectID.String()),
					zap.Error(err))
				if werr := ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Failed to acquire database connection"); werr != nil {
					logger.Error("Failed to write error response", zap.Error(werr))
				}
				return
			}
			defer cleanup()

			next(w, r.WithContext(ctx))
		}
	}
}

// scopeProvider matches database.ScopeProvider via Go's implicit interfaces,
// keeping the handler package testable without a live pool.
type scopeProvider interface {
	WithProjectScope(ctx context.Context, projectID uuid.UUID) (context.Context, func(), error)
}
