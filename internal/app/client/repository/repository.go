// Package repository - ядро согласования локального кэша с сервером:
// один обобщенный репозиторий на семейство сущностей.
package repository

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/slog"

	"edusync/internal/app/client/backoff"
	"edusync/internal/app/client/gateway"
	"edusync/internal/app/client/store"
	"edusync/internal/domain/entity"
)

var (
	ErrNotPending = errors.New("entry is not pending")
	ErrBusy       = errors.New("operation is in flight")
	ErrDiscarded  = errors.New("pending operation discarded")
)

const (
	defaultStaleness   = time.Minute
	defaultCallTimeout = 10 * time.Second
	lockStripes        = 64
)

// Record - сущность вместе с состоянием синхронизации, как ее видят потребители
type Record[T any] struct {
	Entity           T
	ID               int64
	LastSyncAt       time.Time
	PendingOp        store.PendingOp
	Status           store.Status
	RetryCount       int
	LastError        string
	OfflineAvailable bool
}

// Age - давность последней синхронизации; 0 для еще не синхронизированных
func (r Record[T]) Age(now time.Time) time.Duration {
	if r.LastSyncAt.IsZero() {
		return 0
	}
	return now.Sub(r.LastSyncAt)
}

func (r Record[T]) IsPending() bool {
	return r.PendingOp != store.OpNone && r.PendingOp != ""
}

// AuthHandler вызывается, когда сервер требует повторной аутентификации
type AuthHandler func(kind entity.Kind, err error)

// PrefetchFunc загружает зависимые данные для офлайн режима
type PrefetchFunc func(ctx context.Context, dep entity.Dependency) error

type Option func(*options)

type options struct {
	staleness   time.Duration
	callTimeout time.Duration
	policy      backoff.Policy
	now         func() time.Time
	onAuth      AuthHandler
	prefetch    PrefetchFunc
}

// WithStaleness - сколько кэш считается свежим для Refresh без force
func WithStaleness(d time.Duration) Option {
	return func(o *options) { o.staleness = d }
}

// WithCallTimeout - таймаут каждого вызова Gateway
func WithCallTimeout(d time.Duration) Option {
	return func(o *options) { o.callTimeout = d }
}

func WithBackoff(p backoff.Policy) Option {
	return func(o *options) { o.policy = p }
}

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func WithAuthHandler(h AuthHandler) Option {
	return func(o *options) { o.onAuth = h }
}

func WithPrefetch(f PrefetchFunc) Option {
	return func(o *options) { o.prefetch = f }
}

// Repository владеет записью в таблицу своего семейства.
// Локальные записи одной строки выполняются по очереди (полосатые блокировки),
// блокировка не удерживается во время вызова Gateway.
type Repository[T any] struct {
	cap   entity.Capability[T]
	table store.Table
	gw    gateway.Gateway
	log   *slog.Logger
	opts  options

	locks [lockStripes]sync.Mutex

	mu       sync.Mutex
	inflight map[int64]struct{}
	// временный id -> id сервера после подтверждения создания
	aliases map[int64]int64
}

func New[T any](c entity.Capability[T], st store.Store, gw gateway.Gateway, log *slog.Logger, opts ...Option) *Repository[T] {
	o := options{
		staleness:   defaultStaleness,
		callTimeout: defaultCallTimeout,
		policy:      backoff.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &Repository[T]{
		cap:      c,
		table:    st.Table(c.Kind()),
		gw:       gw,
		log:      log.With("component", "repository", "kind", c.Kind()),
		opts:     o,
		inflight: make(map[int64]struct{}),
		aliases:  make(map[int64]int64),
	}
}

func (r *Repository[T]) Kind() entity.Kind {
	return r.cap.Kind()
}

func (r *Repository[T]) now() time.Time {
	return r.opts.now()
}

func (r *Repository[T]) stripe(id int64) int {
	return int(uint64(id) % lockStripes)
}

func (r *Repository[T]) lock(id int64) func() {
	m := &r.locks[r.stripe(id)]
	m.Lock()
	return m.Unlock
}

// lockPair берет блокировки двух строк в фиксированном порядке
func (r *Repository[T]) lockPair(a, b int64) func() {
	sa, sb := r.stripe(a), r.stripe(b)
	if sa == sb {
		return r.lock(a)
	}
	if sa > sb {
		sa, sb = sb, sa
	}
	r.locks[sa].Lock()
	r.locks[sb].Lock()
	return func() {
		r.locks[sb].Unlock()
		r.locks[sa].Unlock()
	}
}

func (r *Repository[T]) resolve(id int64) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := 0; i < 4; i++ {
		next, ok := r.aliases[id]
		if !ok {
			break
		}
		id = next
	}
	return id
}

func (r *Repository[T]) setAlias(from, to int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aliases[from] = to
}

func (r *Repository[T]) dropAlias(from int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.aliases, from)
}

func (r *Repository[T]) acquire(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, busy := r.inflight[id]; busy {
		return false
	}
	r.inflight[id] = struct{}{}
	return true
}

func (r *Repository[T]) release(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inflight, id)
}

func (r *Repository[T]) isInflight(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.inflight[id]
	return ok
}

func (r *Repository[T]) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.opts.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.opts.callTimeout)
}

func (r *Repository[T]) record(row store.Row) (Record[T], error) {
	v, err := r.cap.Decode(row.Data)
	if err != nil {
		return Record[T]{}, err
	}
	return Record[T]{
		Entity:           v,
		ID:               row.ID,
		LastSyncAt:       store.Time(row.LastSyncAt),
		PendingOp:        row.PendingOp,
		Status:           row.Status,
		RetryCount:       row.RetryCount,
		LastError:        row.LastError,
		OfflineAvailable: row.OfflineAvailable,
	}, nil
}

// records пропускает строки, которые не удалось разобрать
func (r *Repository[T]) records(rows []store.Row) []Record[T] {
	out := make([]Record[T], 0, len(rows))
	for _, row := range rows {
		rec, err := r.record(row)
		if err != nil {
			r.log.Warn("skipping undecodable row", "id", row.ID, "error", err)
			continue
		}
		out = append(out, rec)
	}
	return out
}

// visible - строка видна потребителям, пока у нее нет неподтвержденного удаления
func visible(row store.Row) bool {
	return row.PendingOp != store.OpDelete
}

func newKey() string {
	return uuid.NewString()
}

// tempID - отрицательный локальный id до подтверждения сервером
func tempID() int64 {
	u := uuid.New()
	return -int64(binary.BigEndian.Uint64(u[:8])>>2) - 1
}

func (r *Repository[T]) notifyAuth(err error) {
	if r.opts.onAuth != nil {
		r.opts.onAuth(r.Kind(), err)
	}
}
