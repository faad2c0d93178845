package data

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

const basePath = "/api/v1/data/{kind}"

func (h *Handler) listOp() huma.Operation {
	return huma.Operation{
		OperationID: "data-list",
		Method:      http.MethodGet,
		Path:        basePath,
		Summary:     "Список сущностей семейства",
		Tags:        []string{"data"},
		Security:    []map[string][]string{{"bearer": {}}},
		Middlewares: h.middleware,
	}
}

func (h *Handler) findOp() huma.Operation {
	return huma.Operation{
		OperationID: "data-find",
		Method:      http.MethodGet,
		Path:        basePath + "/{id}",
		Summary:     "Получить сущность",
		Tags:        []string{"data"},
		Security:    []map[string][]string{{"bearer": {}}},
		Middlewares: h.middleware,
	}
}

func (h *Handler) createOp() huma.Operation {
	return huma.Operation{
		OperationID:   "data-create",
		Method:        http.MethodPost,
		Path:          basePath,
		Summary:       "Создать сущность",
		Description:   "id и updated_at назначает сервер. Повтор с тем же Idempotency-Key возвращает сущность, созданную первым запросом.",
		Tags:          []string{"data"},
		DefaultStatus: http.StatusCreated,
		Security:      []map[string][]string{{"bearer": {}}},
		Middlewares:   h.middleware,
	}
}

func (h *Handler) updateOp() huma.Operation {
	return huma.Operation{
		OperationID: "data-update",
		Method:      http.MethodPut,
		Path:        basePath + "/{id}",
		Summary:     "Заменить данные сущности",
		Tags:        []string{"data"},
		Security:    []map[string][]string{{"bearer": {}}},
		Middlewares: h.middleware,
	}
}

func (h *Handler) deleteOp() huma.Operation {
	return huma.Operation{
		OperationID:   "data-delete",
		Method:        http.MethodDelete,
		Path:          basePath + "/{id}",
		Summary:       "Удалить сущность",
		Tags:          []string{"data"},
		DefaultStatus: http.StatusNoContent,
		Security:      []map[string][]string{{"bearer": {}}},
		Middlewares:   h.middleware,
	}
}
