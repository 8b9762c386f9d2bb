package flow

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/DermaBridge/IntakeFlow/internal/models"
	"github.com/DermaBridge/IntakeFlow/internal/util"
)

type mockStore struct {
	mu        sync.Mutex
	createN   int
	createErr error
	patches   []mockPatch
	statuses  map[string]models.ConsultationStatus
	records   map[string]models.ConsultationFields
}

type mockPatch struct {
	id     string
	fields models.ConsultationFields
}

func newMockStore() *mockStore {
	return &mockStore{
		statuses: make(map[string]models.ConsultationStatus),
		records:  make(map[string]models.ConsultationFields),
	}
}

func (m *mockStore) CreateConsultation(_ context.Context, fields models.ConsultationFields) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createN++
	if m.createErr != nil {
		return "", m.createErr
	}
	id := util.GenerateConsultationID()
	m.records[id] = fields.Clone()
	m.statuses[id] = models.ConsultationStatusOpen
	return id, nil
}

func (m *mockStore) PatchConsultation(_ context.Context, id string, fields models.ConsultationFields) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return errors.New("no such consultation")
	}
	m.patches = append(m.patches, mockPatch{id: id, fields: fields.Clone()})
	for k, v := range fields {
		rec[k] = v
	}
	return nil
}

func (m *mockStore) SetConsultationStatus(_ context.Context, id string, status models.ConsultationStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[id] = status
	return nil
}

type mockAnalyzer struct {
	result *models.AnalysisResult
	err    error
	delay  time.Duration
	calls  int
}

func (m *mockAnalyzer) AnalyzeImage(ctx context.Context, _ string) (*models.AnalysisResult, error) {
	m.calls++
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

type mockPortal struct {
	forwarded []string
	fields    models.ConsultationFields
	err       error
}

func (m *mockPortal) Forward(_ context.Context, consultationID string, fields models.ConsultationFields) error {
	m.forwarded = append(m.forwarded, consultationID)
	m.fields = fields
	return m.err
}

type mockNotifier struct {
	notified []string
	fields   models.ConsultationFields
}

func (m *mockNotifier) NotifyConsultation(_ context.Context, consultationID string, fields models.ConsultationFields) error {
	m.notified = append(m.notified, consultationID)
	m.fields = fields
	return nil
}

// noSleep disables entry delays in tests.
func noSleep(time.Duration) {}
