package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/trialsift/trialsift-engine/pkg/events"
	"github.com/trialsift/trialsift-engine/pkg/ingestion"
	"github.com/trialsift/trialsift-engine/pkg/models"
	"github.com/trialsift/trialsift-engine/pkg/repositories"
)

type mockWorkRepo struct {
	works map[uuid.UUID]*models.ProjectWork

	updateCalls    []repositories.StateUpdate
	updateIDs      []uuid.UUID
	updateErr      error
	ingestionCalls []models.IngestionStatus

	listed       []*models.ProjectWork
	blockedCount int
	advancedN    int
	advanceCalls int
}

func newMockWorkRepo(works ...*models.ProjectWork) *mockWorkRepo {
	m := &mockWorkRepo{works: map[uuid.UUID]*models.ProjectWork{}}
	for _, w := range works {
		m.works[w.ID] = w
	}
	return m
}

func (m *mockWorkRepo) GetByID(_ context.Context, id uuid.UUID) (*models.ProjectWork, error) {
	return m.works[id], nil
}

func (m *mockWorkRepo) UpdateState(_ context.Context, id uuid.UUID, update repositories.StateUpdate) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	m.updateIDs = append(m.updateIDs, id)
	m.updateCalls = append(m.updateCalls, update)
	return nil
}

func (m *mockWorkRepo) SetIngestionStatus(_ context.Context, _ uuid.UUID, status models.IngestionStatus) error {
	m.ingestionCalls = append(m.ingestionCalls, status)
	return nil
}

func (m *mockWorkRepo) ListByStatuses(_ context.Context, _ uuid.UUID, _ models.Phase, _ []models.WorkStatus) ([]*models.ProjectWork, error) {
	return m.listed, nil
}

func (m *mockWorkRepo) CountIncludedWithoutDocument(_ context.Context, _ uuid.UUID, _ models.Phase) (int, error) {
	return m.blockedCount, nil
}

func (m *mockWorkRepo) AdvanceIncluded(_ context.Context, _ uuid.UUID, _, _ models.Phase) (int, error) {
	m.advanceCalls++
	return m.advancedN, nil
}

var _ repositories.WorkRepository = (*mockWorkRepo)(nil)

type mockDecisionRepo struct {
	existing  []*models.DecisionRecord
	created   []*models.DecisionRecord
	createErr error
}

func (m *mockDecisionRepo) Create(_ context.Context, decision *models.DecisionRecord) error {
	if m.createErr != nil {
		return m.createErr
	}
	decision.ID = uuid.New()
	m.created = append(m.created, decision)
	return nil
}

func (m *mockDecisionRepo) ListByWorkPhase(_ context.Context, _ uuid.UUID, _ models.Phase) ([]*models.DecisionRecord, error) {
	return m.existing, nil
}

var _ repositories.DecisionRepository = (*mockDecisionRepo)(nil)

type mockConflictRepo struct {
	byID     map[uuid.UUID]*models.Conflict
	open     []*models.Conflict
	upserted []*models.Conflict
	resolved []*models.ConflictResolution

	resolveErr error
}

func newMockConflictRepo(conflicts ...*models.Conflict) *mockConflictRepo {
	m := &mockConflictRepo{byID: map[uuid.UUID]*models.Conflict{}}
	for _, c := range conflicts {
		m.byID[c.ID] = c
	}
	return m
}

func (m *mockConflictRepo) Upsert(_ context.Context, conflict *models.Conflict) error {
	m.upserted = append(m.upserted, conflict)
	return nil
}

func (m *mockConflictRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Conflict, error) {
	return m.byID[id], nil
}

func (m *mockConflictRepo) ListOpenByProject(_ context.Context, _ uuid.UUID) ([]*models.Conflict, error) {
	return m.open, nil
}

func (m *mockConflictRepo) Resolve(_ context.Context, resolution *models.ConflictResolution) error {
	if m.resolveErr != nil {
		return m.resolveErr
	}
	m.resolved = append(m.resolved, resolution)
	return nil
}

var _ repositories.ConflictRepository = (*mockConflictRepo)(nil)

type mockProjectRepo struct {
	cfg      models.ScreeningConfig
	found    bool
	projects []uuid.UUID
}

func (m *mockProjectRepo) GetScreeningConfig(_ context.Context, _ uuid.UUID) (models.ScreeningConfig, bool, error) {
	return m.cfg, m.found, nil
}

func (m *mockProjectRepo) ListIDs(_ context.Context) ([]uuid.UUID, error) {
	return m.projects, nil
}

var _ repositories.ProjectRepository = (*mockProjectRepo)(nil)

type mockQueue struct {
	requests   []ingestion.Request
	enqueueErr error
}

func (m *mockQueue) Enqueue(_ context.Context, req ingestion.Request) error {
	if m.enqueueErr != nil {
		return m.enqueueErr
	}
	m.requests = append(m.requests, req)
	return nil
}

var _ ingestion.Queue = (*mockQueue)(nil)

type mockPublisher struct {
	published []events.Event
}

func (m *mockPublisher) Publish(event events.Event) {
	m.published = append(m.published, event)
}

func (m *mockPublisher) byName(name string) []events.Event {
	var out []events.Event
	for _, e := range m.published {
		if e.EventName() == name {
			out = append(out, e)
		}
	}
	return out
}

var _ events.Publisher = (*mockPublisher)(nil)
