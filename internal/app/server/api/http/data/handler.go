// Package data - REST доступ к сущностям: /api/v1/data/{kind}
package data

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/danielgtaylor/huma/v2"
	"golang.org/x/exp/slog"

	"edusync/internal/domain/entity"
)

type Handler struct {
	service    entity.Servicer
	log        *slog.Logger
	middleware huma.Middlewares
}

func NewHandler(service entity.Servicer, log *slog.Logger, mws huma.Middlewares) *Handler {
	return &Handler{
		service:    service,
		log:        log.With("component", "data_handler"),
		middleware: mws,
	}
}

func (h *Handler) SetupRoutes(api huma.API) {
	huma.Register(api, h.listOp(), h.list)
	huma.Register(api, h.findOp(), h.find)
	huma.Register(api, h.createOp(), h.create)
	huma.Register(api, h.updateOp(), h.update)
	huma.Register(api, h.deleteOp(), h.delete)
}

func (h *Handler) list(ctx context.Context, input *listInput) (*listOutput, error) {
	docs, err := h.service.List(ctx, input.Kind, input.Filter)
	if err != nil {
		return nil, h.problem(err)
	}

	items := make([]map[string]any, 0, len(docs))
	for _, d := range docs {
		flat, err := d.Flatten()
		if err != nil {
			h.log.Error("stored entity is not an object", "kind", d.Kind, "id", d.ID, "error", err)
			continue
		}
		items = append(items, flat)
	}

	return &listOutput{Body: listResponse{Items: items}}, nil
}

func (h *Handler) find(ctx context.Context, input *findInput) (*entityOutput, error) {
	doc, err := h.service.Get(ctx, input.Kind, input.ID)
	if err != nil {
		return nil, h.problem(err)
	}
	return h.output(doc)
}

// тело уходит сервису без разбора, числа сохраняются как в запросе
func (h *Handler) create(ctx context.Context, input *createInput) (*entityOutput, error) {
	doc, err := h.service.Create(ctx, input.Kind, json.RawMessage(input.RawBody), input.IdempotencyKey)
	if err != nil {
		return nil, h.problem(err)
	}
	return h.output(doc)
}

func (h *Handler) update(ctx context.Context, input *updateInput) (*entityOutput, error) {
	doc, err := h.service.Update(ctx, input.Kind, input.ID, json.RawMessage(input.RawBody), input.IdempotencyKey)
	if err != nil {
		return nil, h.problem(err)
	}
	return h.output(doc)
}

func (h *Handler) delete(ctx context.Context, input *deleteInput) (*struct{}, error) {
	if err := h.service.Delete(ctx, input.Kind, input.ID, input.IdempotencyKey); err != nil {
		return nil, h.problem(err)
	}
	return nil, nil
}

func (h *Handler) output(doc entity.Document) (*entityOutput, error) {
	flat, err := doc.Flatten()
	if err != nil {
		h.log.Error("stored entity is not an object", "kind", doc.Kind, "id", doc.ID, "error", err)
		return nil, huma.Error500InternalServerError("corrupted entity")
	}
	return &entityOutput{Body: flat}, nil
}

// problem переводит доменные ошибки в HTTP статусы.
// Клиент читает 4xx как окончательный отказ, 5xx как повод повторить.
func (h *Handler) problem(err error) error {
	switch {
	case errors.Is(err, entity.ErrUnknownKind), errors.Is(err, entity.ErrNotFound):
		return huma.Error404NotFound(err.Error())
	case errors.Is(err, entity.ErrInvalidData), errors.Is(err, entity.ErrInvalidFilter):
		return huma.Error422UnprocessableEntity(err.Error())
	default:
		return huma.Error500InternalServerError("internal error")
	}
}
