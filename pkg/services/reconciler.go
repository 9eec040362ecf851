package services

import (
	"context"

	"go.uber.org/zap"

	"github.com/trialsift/trialsift-engine/pkg/database"
	"github.com/trialsift/trialsift-engine/pkg/models"
	"github.com/trialsift/trialsift-engine/pkg/repositories"
)

// Reconciler periodically re-runs the repair rule over every project. It
// closes the crash window between a committed decision and its state update:
// a study left in pending/screening with a full vote quota is finalized the
// same way the live path would have.
type Reconciler struct {
	provider *database.ScopeProvider
	projects repositories.ProjectRepository
	phases   PhaseService
	logger   *zap.Logger
}

// NewReconciler creates a new Reconciler.
func NewReconciler(provider *database.ScopeProvider, projects repositories.ProjectRepository, phases PhaseService, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		provider: provider,
		projects: projects,
		phases:   phases,
		logger:   logger.Named("reconciler"),
	}
}

// Sweep repairs all projects across all phases. Per-project failures are
// logged and skipped so one broken project cannot starve the rest.
func (r *Reconciler) Sweep(ctx context.Context) {
	globalCtx, cleanup, err := r.provider.WithGlobalScope(ctx)
	if err != nil {
		r.logger.Error("Failed to acquire connection for sweep", zap.Error(err))
		return
	}
	projectIDs, err := r.projects.ListIDs(globalCtx)
	cleanup()
	if err != nil {
		r.logger.Error("Failed to list projects", zap.Error(err))
		return
	}

	var finalized, conflicts int
	for _, projectID := range projectIDs {
		projectCtx, cleanup, err := r.provider.WithProjectScope(ctx, projectID)
		if err != nil {
			r.logger.Error("Failed to scope project", zap.String("project_id", projectID.String()), zap.Error(err))
			continue
		}

		for _, phase := range []models.Phase{models.PhaseTitleAbstract, models.PhaseFullText, models.PhaseFinal} {
			outcome, err := r.phases.RepairPending(projectCtx, projectID, phase)
			if err != nil {
				r.logger.Error("Repair pass failed",
					zap.String("project_id", projectID.String()),
					zap.String("phase", string(phase)),
					zap.Error(err))
				continue
			}
			finalized += outcome.Finalized
			conflicts += outcome.Conflicts
		}
		cleanup()
	}

	if finalized > 0 || conflicts > 0 {
		r.logger.Info("Reconciliation sweep repaired state",
			zap.Int("finalized", finalized),
			zap.Int("conflicts", conflicts))
	}
}
