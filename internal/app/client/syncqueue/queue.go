// Package syncqueue - фоновая отправка неподтвержденных операций.
// Очередь не хранит собственного состояния: строки с PendingOp != none
// в таблицах хранилища и есть очередь.
package syncqueue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/exp/slog"
	"golang.org/x/sync/errgroup"

	"edusync/internal/app/client/repository"
	"edusync/internal/domain/entity"
)

var ErrUnknownKind = errors.New("no replayer registered for kind")

// Replayer - сторона репозитория, с которой работает очередь
type Replayer interface {
	Kind() entity.Kind
	Due(ctx context.Context, now time.Time) ([]int64, error)
	Replay(ctx context.Context, id int64) (repository.Outcome, error)
	Retry(ctx context.Context, id int64) error
	Discard(ctx context.Context, id int64) error
	Entries(ctx context.Context) ([]repository.Entry, error)
}

// Event - итог попытки отправки, для подписчиков
type Event struct {
	Kind    entity.Kind
	ID      int64
	Outcome repository.Outcome
	Err     error
	At      time.Time
}

// Result результат одного прохода
type Result struct {
	Attempted  int           `json:"attempted"`
	Cleared    int           `json:"cleared"`
	Retrying   int           `json:"retrying"`
	Failed     int           `json:"failed"`
	AuthNeeded int           `json:"auth_needed"`
	Errors     []error       `json:"-"`
	StartTime  time.Time     `json:"start_time"`
	Duration   time.Duration `json:"duration"`
}

// Stats накопленная статистика очереди
type Stats struct {
	Passes      int
	Cleared     int
	Failed      int
	Errors      int
	LastPass    time.Time
	LastCleared time.Time
}

type Option func(*Queue)

// WithInterval - период сканирования
func WithInterval(d time.Duration) Option {
	return func(q *Queue) { q.interval = d }
}

// WithWorkers - сколько отправок идет одновременно
func WithWorkers(n int) Option {
	return func(q *Queue) { q.workers = n }
}

func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

type Queue struct {
	log       *slog.Logger
	replayers map[entity.Kind]Replayer
	kinds     []entity.Kind
	interval  time.Duration
	workers   int
	now       func() time.Time
	kick      chan struct{}

	mu      sync.Mutex
	running bool
	stats   Stats
	subs    map[int]chan Event
	nextSub int
}

func New(log *slog.Logger, replayers []Replayer, opts ...Option) *Queue {
	q := &Queue{
		log:       log.With("component", "sync_queue"),
		replayers: make(map[entity.Kind]Replayer, len(replayers)),
		interval:  5 * time.Second,
		workers:   4,
		now:       time.Now,
		kick:      make(chan struct{}, 1),
		subs:      make(map[int]chan Event),
	}
	for _, r := range replayers {
		q.replayers[r.Kind()] = r
		q.kinds = append(q.kinds, r.Kind())
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.workers < 1 {
		q.workers = 1
	}
	return q
}

// Run сканирует очередь по таймеру и по Kick, пока не отменят ctx
func (q *Queue) Run(ctx context.Context) {
	q.log.Info("sync queue started", "interval", q.interval, "workers", q.workers)

	ticker := time.NewTicker(q.interval)
	defer ticker.Stop()

	for {
		if _, err := q.RunOnce(ctx); err != nil && ctx.Err() == nil {
			q.log.Error("sync pass finished with errors", "error", err)
		}

		select {
		case <-ctx.Done():
			q.log.Info("sync queue stopped")
			return
		case <-ticker.C:
		case <-q.kick:
		}
	}
}

// Kick запускает внеочередной проход
func (q *Queue) Kick() {
	select {
	case q.kick <- struct{}{}:
	default:
	}
}

type job struct {
	replayer Replayer
	id       int64
}

// RunOnce - один проход: отправляет все строки, которым подошло время.
// Параллельный вызов не ждет текущий проход и возвращает пустой результат.
func (q *Queue) RunOnce(ctx context.Context) (Result, error) {
	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return Result{}, nil
	}
	q.running = true
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.running = false
		q.mu.Unlock()
	}()

	start := q.now()
	result := Result{StartTime: start}

	var jobs []job
	for _, kind := range q.kinds {
		r := q.replayers[kind]
		ids, err := r.Due(ctx, start)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("scan %s: %w", kind, err))
			continue
		}
		for _, id := range ids {
			jobs = append(jobs, job{replayer: r, id: id})
		}
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(q.workers)

	for _, j := range jobs {
		g.Go(func() error {
			outcome, err := j.replayer.Replay(gctx, j.id)

			mu.Lock()
			defer mu.Unlock()
			q.count(&result, outcome, err, j)
			return nil
		})
	}
	_ = g.Wait()

	result.Duration = q.now().Sub(start)
	q.record(result)

	if result.Attempted > 0 {
		q.log.Debug("sync pass done",
			"attempted", result.Attempted,
			"cleared", result.Cleared,
			"retrying", result.Retrying,
			"failed", result.Failed,
		)
	}

	return result, errors.Join(result.Errors...)
}

func (q *Queue) count(result *Result, outcome repository.Outcome, err error, j job) {
	kind := j.replayer.Kind()

	if err != nil {
		result.Errors = append(result.Errors, fmt.Errorf("replay %s %d: %w", kind, j.id, err))
		q.publish(Event{Kind: kind, ID: j.id, Outcome: outcome, Err: err, At: q.now()})
		return
	}

	switch outcome {
	case repository.OutcomeSkipped:
		return
	case repository.OutcomeCleared:
		result.Cleared++
	case repository.OutcomeRetrying:
		result.Retrying++
	case repository.OutcomeFailed:
		result.Failed++
	case repository.OutcomeAuthRequired:
		result.AuthNeeded++
	case repository.OutcomeSuperseded:
		// новое состояние уйдет следующим проходом
		q.Kick()
	}
	result.Attempted++
	q.publish(Event{Kind: kind, ID: j.id, Outcome: outcome, At: q.now()})
}

func (q *Queue) record(result Result) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.stats.Passes++
	q.stats.Cleared += result.Cleared
	q.stats.Failed += result.Failed
	q.stats.Errors += len(result.Errors)
	q.stats.LastPass = result.StartTime
	if result.Cleared > 0 {
		q.stats.LastCleared = result.StartTime
	}
}

// Stats возвращает копию статистики
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats
}

// Subscribe - поток событий очереди до отмены ctx. Медленный подписчик
// теряет события, очередь его не ждет.
func (q *Queue) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, 16)

	q.mu.Lock()
	id := q.nextSub
	q.nextSub++
	q.subs[id] = ch
	q.mu.Unlock()

	go func() {
		<-ctx.Done()
		q.mu.Lock()
		delete(q.subs, id)
		q.mu.Unlock()
		close(ch)
	}()

	return ch
}

func (q *Queue) publish(ev Event) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, ch := range q.subs {
		select {
		case ch <- ev:
		default:
			q.log.Debug("dropping queue event for slow subscriber", "kind", ev.Kind, "id", ev.ID)
		}
	}
}

// Entries - все неподтвержденные операции, старые первыми
func (q *Queue) Entries(ctx context.Context) ([]repository.Entry, error) {
	var out []repository.Entry
	for _, kind := range q.kinds {
		entries, err := q.replayers[kind].Entries(ctx)
		if err != nil {
			return nil, fmt.Errorf("entries %s: %w", kind, err)
		}
		out = append(out, entries...)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UpdatedAt.Before(out[j].UpdatedAt)
	})
	return out, nil
}

// Retry возвращает операцию из Failed в очередь и сразу запускает проход
func (q *Queue) Retry(ctx context.Context, kind entity.Kind, id int64) error {
	r, ok := q.replayers[kind]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	if err := r.Retry(ctx, id); err != nil {
		return err
	}
	q.log.Info("manual retry scheduled", "kind", kind, "id", id)
	q.Kick()
	return nil
}

func (q *Queue) Discard(ctx context.Context, kind entity.Kind, id int64) error {
	r, ok := q.replayers[kind]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	if err := r.Discard(ctx, id); err != nil {
		return err
	}
	q.log.Info("pending operation discarded", "kind", kind, "id", id)
	return nil
}
