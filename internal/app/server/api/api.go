//GET    /api/v1/health               # Проверка доступности (публичный)
//POST   /api/v1/auth/login           # Вход (публичный)
//GET    /api/v1/data/{kind}          # Список сущностей, ?filter=field=value (auth)
//POST   /api/v1/data/{kind}          # Создать, Idempotency-Key (auth)
//GET    /api/v1/data/{kind}/{id}     # Получить (auth)
//PUT    /api/v1/data/{kind}/{id}     # Заменить, Idempotency-Key (auth)
//DELETE /api/v1/data/{kind}/{id}     # Удалить, Idempotency-Key (auth)

package api

import (
	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"golang.org/x/exp/slog"

	dataAPI "edusync/internal/app/server/api/http/data"
	healthAPI "edusync/internal/app/server/api/http/health"
	"edusync/internal/app/server/api/http/middleware"
	"edusync/internal/app/server/api/http/middleware/auth"
	"edusync/internal/app/server/api/http/middleware/logger"
	sessionAPI "edusync/internal/app/server/api/http/session"
	"edusync/internal/domain/entity"
	"edusync/internal/domain/session"
)

// Deps - сервисы, которые нужны обработчикам
type Deps struct {
	Entities entity.Servicer
	Sessions session.Servicer
	DB       healthAPI.Pinger
}

type Handlers struct {
	Health  *healthAPI.Handler
	Session *sessionAPI.Handler
	Data    *dataAPI.Handler
}

// New создает *chi.Mux со всеми операциями через huma.Register
func New(deps Deps, log *slog.Logger) *chi.Mux {
	mux := chi.NewMux()

	config := huma.DefaultConfig("EduSync API", "1.0.0")
	config.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"bearer": {Type: "http", Scheme: "bearer"},
	}

	API := humachi.New(mux, config)

	h := handlers(deps, log)
	h.Health.SetupRoutes(API)
	h.Session.SetupRoutes(API)
	h.Data.SetupRoutes(API)

	return mux
}

func handlers(deps Deps, log *slog.Logger) *Handlers {
	authMW := auth.New(deps.Sessions, log)
	loggerMW := logger.New(log)
	middlewares := middleware.NewContainer()

	middlewares.Add(loggerMW.Middleware())
	healthHandler := healthAPI.NewHandler(deps.DB, log, middlewares.GetAllAndClear())

	middlewares.Add(loggerMW.Middleware())
	sessionHandler := sessionAPI.NewHandler(deps.Sessions, log, middlewares.GetAllAndClear())

	middlewares.Add(loggerMW.Middleware())
	middlewares.Add(authMW.Middleware())
	dataHandler := dataAPI.NewHandler(deps.Entities, log, middlewares.GetAllAndClear())

	return &Handlers{
		Health:  healthHandler,
		Session: sessionHandler,
		Data:    dataHandler,
	}
}
