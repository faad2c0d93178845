package data

import "edusync/internal/domain/entity"

type listInput struct {
	Kind   entity.Kind `path:"kind" doc:"Семейство сущностей"`
	Filter string      `query:"filter" example:"course_id=3" doc:"Фильтр вида field=value[,field=value]"`
}

type listOutput struct {
	Body listResponse
}

type listResponse struct {
	Items []map[string]any `json:"items" doc:"Сущности в плоском виде: поля данных, id и updated_at"`
}

type findInput struct {
	Kind entity.Kind `path:"kind" doc:"Семейство сущностей"`
	ID   int64       `path:"id" example:"1" doc:"ID сущности"`
}

type createInput struct {
	Kind           entity.Kind `path:"kind" doc:"Семейство сущностей"`
	IdempotencyKey string      `header:"Idempotency-Key" doc:"Повтор с тем же ключом не создает вторую сущность"`
	RawBody        []byte      `contentType:"application/json"`
}

type updateInput struct {
	Kind           entity.Kind `path:"kind" doc:"Семейство сущностей"`
	ID             int64       `path:"id" example:"1" doc:"ID сущности"`
	IdempotencyKey string      `header:"Idempotency-Key"`
	RawBody        []byte      `contentType:"application/json"`
}

type deleteInput struct {
	Kind           entity.Kind `path:"kind" doc:"Семейство сущностей"`
	ID             int64       `path:"id" example:"1" doc:"ID сущности"`
	IdempotencyKey string      `header:"Idempotency-Key"`
}

type entityOutput struct {
	Body map[string]any
}
