package entity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/exp/slog"
)

// Servicer defines the backend operations exposed over REST
type Servicer interface {
	List(ctx context.Context, kind Kind, filter string) ([]Document, error)
	Get(ctx context.Context, kind Kind, id int64) (Document, error)
	Create(ctx context.Context, kind Kind, data json.RawMessage, idempotencyKey string) (Document, error)
	Update(ctx context.Context, kind Kind, id int64, data json.RawMessage, idempotencyKey string) (Document, error)
	Delete(ctx context.Context, kind Kind, id int64, idempotencyKey string) error
}

// Service implements entity CRUD on top of Repository
type Service struct {
	repo Repository
	log  *slog.Logger
	now  func() time.Time
}

// NewService creates a new entity service
func NewService(repo Repository, log *slog.Logger) *Service {
	return &Service{
		repo: repo,
		log:  log.With("component", "entity_service"),
		now:  time.Now,
	}
}

// List returns documents of a kind matching the filter
func (s *Service) List(ctx context.Context, kind Kind, filter string) ([]Document, error) {
	if err := kind.Validate(); err != nil {
		return nil, err
	}

	f, err := ParseFilter(filter)
	if err != nil {
		return nil, err
	}

	docs, err := s.repo.List(ctx, kind, f)
	if err != nil {
		s.log.Error("failed to list entities", "kind", kind, "filter", filter, "error", err)
		return nil, fmt.Errorf("list %s: %w", kind, err)
	}

	return docs, nil
}

// Get returns a single document
func (s *Service) Get(ctx context.Context, kind Kind, id int64) (Document, error) {
	if err := kind.Validate(); err != nil {
		return Document{}, err
	}

	doc, err := s.repo.Get(ctx, kind, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Document{}, ErrNotFound
		}
		s.log.Error("failed to get entity", "kind", kind, "id", id, "error", err)
		return Document{}, fmt.Errorf("get %s: %w", kind, err)
	}

	return doc, nil
}

// Create stores a new document; a repeated idempotency key returns the first result
func (s *Service) Create(ctx context.Context, kind Kind, data json.RawMessage, idempotencyKey string) (Document, error) {
	if err := kind.Validate(); err != nil {
		return Document{}, err
	}

	normalized, err := s.normalize(kind, data, true)
	if err != nil {
		return Document{}, err
	}

	doc, err := s.repo.Create(ctx, kind, normalized, idempotencyKey)
	if err != nil {
		s.log.Error("failed to create entity", "kind", kind, "error", err)
		return Document{}, fmt.Errorf("create %s: %w", kind, err)
	}

	s.log.Info("entity created", "kind", kind, "id", doc.ID, "idempotency_key", idempotencyKey)

	return doc, nil
}

// Update replaces the document data
func (s *Service) Update(ctx context.Context, kind Kind, id int64, data json.RawMessage, idempotencyKey string) (Document, error) {
	if err := kind.Validate(); err != nil {
		return Document{}, err
	}

	normalized, err := s.normalize(kind, data, false)
	if err != nil {
		return Document{}, err
	}

	doc, err := s.repo.Update(ctx, kind, id, normalized, idempotencyKey)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Document{}, ErrNotFound
		}
		s.log.Error("failed to update entity", "kind", kind, "id", id, "error", err)
		return Document{}, fmt.Errorf("update %s: %w", kind, err)
	}

	s.log.Info("entity updated", "kind", kind, "id", id)

	return doc, nil
}

// Delete removes the document
func (s *Service) Delete(ctx context.Context, kind Kind, id int64, idempotencyKey string) error {
	if err := kind.Validate(); err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, kind, id, idempotencyKey); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		s.log.Error("failed to delete entity", "kind", kind, "id", id, "error", err)
		return fmt.Errorf("delete %s: %w", kind, err)
	}

	s.log.Info("entity deleted", "kind", kind, "id", id)

	return nil
}

// normalize drops server-owned fields and stamps server-assigned ones
func (s *Service) normalize(kind Kind, data json.RawMessage, creating bool) (json.RawMessage, error) {
	fields, err := decodeObject(data)
	if err != nil || fields == nil {
		return nil, fmt.Errorf("%w: body must be a JSON object", ErrInvalidData)
	}

	delete(fields, "id")
	delete(fields, "updated_at")

	if kind == KindMessage && creating {
		if sent, _ := fields["sent_at"].(string); sent == "" || sent == (time.Time{}).Format(time.RFC3339) {
			fields["sent_at"] = s.now().UTC().Format(time.RFC3339Nano)
		}
	}

	out, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}

	return out, nil
}
