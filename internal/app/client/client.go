package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	gosync "sync"
	"syscall"
	"time"

	"golang.org/x/exp/slog"

	"edusync/internal/app/client/config"
	"edusync/internal/app/client/gateway"
	"edusync/internal/app/client/repository"
	"edusync/internal/app/client/store"
	"edusync/internal/app/client/syncqueue"
	"edusync/internal/domain/entity"
)

var ErrNotAuthenticated = errors.New("not authenticated")

type App struct {
	config  *config.Config
	log     *slog.Logger
	gateway *gateway.HTTP
	store   store.Store
	queue   *syncqueue.Queue
	state   *AppState

	Users    *repository.Repository[entity.User]
	Courses  *repository.Repository[entity.Course]
	Quizzes  *repository.Repository[entity.Quiz]
	Messages *repository.Repository[entity.Message]

	collections map[entity.Kind]Collection

	authenticated bool
	authRequired  bool
	wg            gosync.WaitGroup
	cancel        context.CancelFunc
	mu            gosync.RWMutex
}

// AppState хранит состояние клиента между запусками
type AppState struct {
	UserLogin string    `json:"user_login"`
	LastLogin time.Time `json:"last_login"`
}

func New(cfg *config.Config, log *slog.Logger) (*App, error) {
	state, err := loadAppState(cfg)
	if err != nil {
		log.Warn("failed to load client state", "error", err)
		state = &AppState{}
	}

	gw := gateway.NewHTTP(gateway.BaseURL(cfg.ServerAddress, cfg.EnableTLS), cfg.RequestTimeout, log)

	var st store.Store
	sqlite, err := store.NewSQLite(cfg.DataPath, log)
	if err != nil {
		log.Warn("failed to open sqlite store, falling back to memory", "path", cfg.DataPath, "error", err)
		st = store.NewMemory(log)
	} else {
		st = sqlite
	}

	app := NewWithDeps(cfg, log, gw, st)
	app.state = state

	if token, err := app.GetToken(); err == nil && token != "" {
		gw.SetToken(token)
		app.authenticated = true
		log.Debug("token loaded from file")
	}

	return app, nil
}

// NewWithDeps собирает клиент поверх готовых хранилища и Gateway
func NewWithDeps(cfg *config.Config, log *slog.Logger, gw *gateway.HTTP, st store.Store) *App {
	app := &App{
		config:      cfg,
		log:         log,
		gateway:     gw,
		store:       st,
		state:       &AppState{},
		collections: make(map[entity.Kind]Collection),
	}

	opts := []repository.Option{
		repository.WithStaleness(cfg.Staleness),
		repository.WithCallTimeout(cfg.RequestTimeout),
		repository.WithBackoff(cfg.Retry),
		repository.WithAuthHandler(app.onAuthRequired),
		repository.WithPrefetch(app.prefetch),
	}

	app.Users = repository.New[entity.User](entity.Users, st, gw, log, opts...)
	app.Courses = repository.New[entity.Course](entity.Courses, st, gw, log, opts...)
	app.Quizzes = repository.New[entity.Quiz](entity.Quizzes, st, gw, log, opts...)
	app.Messages = repository.New[entity.Message](entity.Messages, st, gw, log, opts...)

	app.register(newCollection(entity.Users, app.Users))
	app.register(newCollection(entity.Courses, app.Courses))
	app.register(newCollection(entity.Quizzes, app.Quizzes))
	app.register(newCollection(entity.Messages, app.Messages))

	app.queue = syncqueue.New(log,
		[]syncqueue.Replayer{app.Users, app.Courses, app.Quizzes, app.Messages},
		syncqueue.WithInterval(cfg.SyncInterval),
		syncqueue.WithWorkers(cfg.SyncWorkers),
	)

	return app
}

func (a *App) register(c Collection) {
	a.collections[c.Kind()] = c
}

// Collection возвращает репозиторий семейства для нетипизированного доступа
func (a *App) Collection(kind entity.Kind) (Collection, error) {
	c, ok := a.collections[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", entity.ErrUnknownKind, string(kind))
	}
	return c, nil
}

func (a *App) Queue() *syncqueue.Queue {
	return a.queue
}

func (a *App) Config() *config.Config {
	return a.config
}

// prefetch загружает зависимые данные сущности, отмеченной для офлайн режима
func (a *App) prefetch(ctx context.Context, dep entity.Dependency) error {
	c, err := a.Collection(dep.Kind)
	if err != nil {
		return err
	}
	return c.Prefetch(ctx, dep.Filter)
}

func (a *App) onAuthRequired(kind entity.Kind, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.authRequired {
		a.log.Warn("server requires re-authentication", "kind", kind, "error", err)
	}
	a.authRequired = true
}

// AuthRequired - сервер отверг токен, нужен повторный вход
func (a *App) AuthRequired() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.authRequired
}

func loadAppState(cfg *config.Config) (*AppState, error) {
	statePath := filepath.Join(cfg.ConfigDir, "state.json")

	if _, err := os.Stat(statePath); os.IsNotExist(err) {
		return &AppState{}, nil
	}

	data, err := os.ReadFile(statePath)
	if err != nil {
		return nil, err
	}

	var state AppState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}

	return &state, nil
}

func (a *App) saveAppState() error {
	statePath := filepath.Join(a.config.ConfigDir, "state.json")
	data, err := json.MarshalIndent(a.state, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(statePath, data, 0600)
}

// Run запускает очередь синхронизации и периодическую очистку кэша
// до сигнала завершения
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	go a.handleSignals()

	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		a.queue.Run(ctx)
	}()
	go func() {
		defer a.wg.Done()
		a.evictLoop(ctx)
	}()

	a.log.Info("client started",
		"server", a.config.ServerAddress,
		"env", a.config.Env,
	)

	a.wg.Wait()
	return nil
}

func (a *App) evictLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		a.Evict(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Evict удаляет устаревшие строки из всех таблиц
func (a *App) Evict(ctx context.Context) int {
	if a.config.EvictAfter <= 0 {
		return 0
	}

	total := 0
	evictors := []interface {
		Evict(context.Context, time.Duration) (int, error)
	}{a.Users, a.Courses, a.Quizzes, a.Messages}

	for _, e := range evictors {
		n, err := e.Evict(ctx, a.config.EvictAfter)
		if err != nil {
			a.log.Warn("eviction failed", "error", err)
			continue
		}
		total += n
	}
	return total
}

// SyncOnce - один проход очереди синхронизации
func (a *App) SyncOnce(ctx context.Context) (syncqueue.Result, error) {
	return a.queue.RunOnce(ctx)
}

func (a *App) handleSignals() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	sig := <-sigChan
	a.log.Info("shutdown signal received", "signal", sig.String())

	if a.cancel != nil {
		a.cancel()
	}
}

// Shutdown останавливает фоновые задачи
func (a *App) Shutdown() {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
}

// Close освобождает хранилище
func (a *App) Close() error {
	return a.store.Close()
}

// CheckConnection проверяет соединение с сервером
func (a *App) CheckConnection(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, a.config.RequestTimeout)
	defer cancel()

	return a.gateway.Health(ctx)
}

func (a *App) IsAuthenticated() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.authenticated && !a.authRequired
}

func (a *App) GetToken() (string, error) {
	tokenBytes, err := os.ReadFile(a.config.TokenPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: run edusync auth login", ErrNotAuthenticated)
		}
		return "", fmt.Errorf("read token: %w", err)
	}
	return string(tokenBytes), nil
}

func (a *App) SaveToken(token string) error {
	if err := os.WriteFile(a.config.TokenPath, []byte(token), 0600); err != nil {
		return fmt.Errorf("save token: %w", err)
	}

	a.gateway.SetToken(token)

	a.mu.Lock()
	a.authenticated = true
	a.authRequired = false
	a.mu.Unlock()

	return nil
}

func (a *App) ClearToken() error {
	a.gateway.SetToken("")

	a.mu.Lock()
	a.authenticated = false
	a.mu.Unlock()

	if err := os.Remove(a.config.TokenPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove token: %w", err)
	}
	return nil
}

// Login получает токен сервера и сохраняет его; после входа очередь
// сразу пробует отправить отложенные операции
func (a *App) Login(ctx context.Context, login, password string) error {
	token, err := a.gateway.Login(ctx, login, password)
	if err != nil {
		return err
	}

	if err := a.SaveToken(token); err != nil {
		return err
	}

	a.mu.Lock()
	a.state.UserLogin = login
	a.state.LastLogin = time.Now()
	if err := a.saveAppState(); err != nil {
		a.log.Warn("failed to save client state", "error", err)
	}
	a.mu.Unlock()

	a.queue.Kick()
	a.log.Info("logged in", "login", login)
	return nil
}

func (a *App) UserLogin() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state.UserLogin
}
