// Package store provides storage backends for consultation records.
//
// Consultations are created and patched progressively while an intake
// conversation runs; the record is the durable artifact of a session.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/DermaBridge/IntakeFlow/internal/models"
	"github.com/DermaBridge/IntakeFlow/internal/util"
)

// Store is the persistence interface for consultation records.
type Store interface {
	// CreateConsultation inserts a new open record and returns its id.
	CreateConsultation(ctx context.Context, fields models.ConsultationFields) (string, error)
	// PatchConsultation merges fields into an existing record. Later values
	// win per field; fields absent from the patch are untouched.
	PatchConsultation(ctx context.Context, id string, fields models.ConsultationFields) error
	// SetConsultationStatus updates the record's lifecycle status.
	SetConsultationStatus(ctx context.Context, id string, status models.ConsultationStatus) error
	// GetConsultation fetches one record, or models.ErrNoConsultation.
	GetConsultation(ctx context.Context, id string) (*models.Consultation, error)
	// ListConsultations returns all records, newest first.
	ListConsultations(ctx context.Context) ([]models.Consultation, error)
	// Close releases the backing resources.
	Close() error
}

// InMemoryStore keeps consultations in a map. It backs tests and mock mode.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]*models.Consultation
	clock   func() time.Time
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		records: make(map[string]*models.Consultation),
		clock:   time.Now,
	}
}

func (s *InMemoryStore) CreateConsultation(_ context.Context, fields models.ConsultationFields) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock()
	id := util.GenerateConsultationID()
	s.records[id] = &models.Consultation{
		ID:        id,
		Status:    models.ConsultationStatusOpen,
		Fields:    fields.Clone(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	return id, nil
}

func (s *InMemoryStore) PatchConsultation(_ context.Context, id string, fields models.ConsultationFields) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return models.ErrNoConsultation
	}
	if rec.Fields == nil {
		rec.Fields = make(models.ConsultationFields)
	}
	for k, v := range fields {
		rec.Fields[k] = v
	}
	rec.UpdatedAt = s.clock()
	return nil
}

func (s *InMemoryStore) SetConsultationStatus(_ context.Context, id string, status models.ConsultationStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return models.ErrNoConsultation
	}
	rec.Status = status
	rec.UpdatedAt = s.clock()
	return nil
}

func (s *InMemoryStore) GetConsultation(_ context.Context, id string) (*models.Consultation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, models.ErrNoConsultation
	}
	out := *rec
	out.Fields = rec.Fields.Clone()
	return &out, nil
}

func (s *InMemoryStore) ListConsultations(_ context.Context) ([]models.Consultation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Consultation, 0, len(s.records))
	for _, rec := range s.records {
		c := *rec
		c.Fields = rec.Fields.Clone()
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }
