package repository

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"edusync/internal/app/client/backoff"
	"edusync/internal/app/client/gateway"
	"edusync/internal/app/client/gateway/gatewaytest"
	"edusync/internal/app/client/store"
	"edusync/internal/domain/entity"
	"edusync/internal/resource"
	"edusync/internal/utils/logger"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var testPolicy = backoff.Policy{Initial: time.Second, Factor: 2, Max: 10 * time.Second, MaxRetries: 5}

type testEnv struct {
	repo  *Repository[entity.Quiz]
	gw    *gatewaytest.MockGateway
	clock *fakeClock
	table store.Table
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()

	st := store.NewMemory(logger.Discard())
	gw := &gatewaytest.MockGateway{}
	clock := newFakeClock()

	opts = append([]Option{WithClock(clock.Now), WithBackoff(testPolicy), WithCallTimeout(time.Second)}, opts...)
	repo := New[entity.Quiz](entity.Quizzes, st, gw, logger.Discard(), opts...)

	return &testEnv{repo: repo, gw: gw, clock: clock, table: st.Table(entity.KindQuiz)}
}

func quizJSON(t *testing.T, q entity.Quiz) []byte {
	t.Helper()
	data, err := json.Marshal(q)
	require.NoError(t, err)
	return data
}

func (e *testEnv) seedSynced(t *testing.T, age time.Duration, quizzes ...entity.Quiz) {
	t.Helper()
	at := store.Millis(e.clock.Now().Add(-age))
	for _, q := range quizzes {
		require.NoError(t, e.table.Upsert(context.Background(), store.Row{
			ID:         q.ID,
			Data:       quizJSON(t, q),
			Snapshot:   quizJSON(t, q),
			LastSyncAt: at,
			UpdatedAt:  at,
		}))
	}
}

func (e *testEnv) row(t *testing.T, id int64) store.Row {
	t.Helper()
	row, err := e.table.Get(context.Background(), id)
	require.NoError(t, err)
	return row
}

func drain[T any](t *testing.T, stream <-chan resource.Resource[T]) []resource.Resource[T] {
	t.Helper()

	var out []resource.Resource[T]
	timeout := time.After(2 * time.Second)
	for {
		select {
		case r, ok := <-stream:
			if !ok {
				return out
			}
			out = append(out, r)
		case <-timeout:
			t.Fatalf("stream did not finish, got %d states", len(out))
			return out
		}
	}
}

func next[T any](t *testing.T, stream <-chan resource.Resource[T]) resource.Resource[T] {
	t.Helper()
	select {
	case r, ok := <-stream:
		require.True(t, ok, "stream closed")
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("no state received")
		return resource.Resource[T]{}
	}
}

func TestRepository_RefreshServesFreshCache(t *testing.T) {
	env := newTestEnv(t)
	env.seedSynced(t, 10*time.Second,
		entity.Quiz{ID: 1, CourseID: 4, Title: "a"},
		entity.Quiz{ID: 2, CourseID: 4, Title: "b"},
	)

	states := drain(t, env.repo.Refresh(context.Background(), "course_id=4", false))
	require.Len(t, states, 2)
	assert.True(t, states[0].IsLoading())
	require.True(t, states[1].IsSuccess())
	assert.False(t, states[1].Stale)
	assert.Len(t, states[1].Data, 2)

	env.gw.AssertNotCalled(t, "FetchCollection", mock.Anything, mock.Anything, mock.Anything)
}

func TestRepository_RefreshFetchesStaleCache(t *testing.T) {
	env := newTestEnv(t)
	env.seedSynced(t, 2*time.Minute, entity.Quiz{ID: 1, CourseID: 4, Title: "old"})

	env.gw.On("FetchCollection", mock.Anything, entity.KindQuiz, "course_id=4").
		Return(gatewaytest.Items(`{"id":1,"course_id":4,"title":"new"}`, `{"id":7,"course_id":4,"title":"added"}`), nil).
		Once()

	states := drain(t, env.repo.Refresh(context.Background(), "course_id=4", false))
	last := states[len(states)-1]
	require.True(t, last.IsSuccess())
	require.Len(t, last.Data, 2)
	assert.Equal(t, "new", last.Data[0].Entity.Title)
	assert.Equal(t, int64(7), last.Data[1].ID)
	assert.Equal(t, env.clock.Now(), last.Data[0].LastSyncAt)

	env.gw.AssertExpectations(t)
}

func TestRepository_RefreshErrorServesStaleCache(t *testing.T) {
	env := newTestEnv(t)
	env.seedSynced(t, 30*time.Second,
		entity.Quiz{ID: 1, Title: "a"},
		entity.Quiz{ID: 2, Title: "b"},
		entity.Quiz{ID: 3, Title: "c"},
	)

	env.gw.On("FetchCollection", mock.Anything, entity.KindQuiz, "").
		Return(nil, gateway.StatusError(http.StatusBadRequest, "bad")).
		Once()

	states := drain(t, env.repo.Refresh(context.Background(), "", true))
	last := states[len(states)-1]
	require.True(t, last.IsSuccess())
	assert.True(t, last.Stale)
	assert.Len(t, last.Data, 3)
	assert.Equal(t, env.clock.Now().Add(-30*time.Second), last.SyncedAt)
}

func TestRepository_RefreshErrorWithoutCache(t *testing.T) {
	env := newTestEnv(t)
	env.gw.On("FetchCollection", mock.Anything, entity.KindQuiz, "").
		Return(nil, gateway.NetworkError(errors.New("connection refused"))).
		Once()

	states := drain(t, env.repo.Refresh(context.Background(), "", false))
	last := states[len(states)-1]
	require.True(t, last.IsError())
	assert.True(t, gateway.IsTransient(last.Err))
}

func TestRepository_RefreshKeepsPendingLocalChange(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.table.Upsert(context.Background(), store.Row{
		ID:             1,
		Data:           quizJSON(t, entity.Quiz{ID: 1, Title: "local"}),
		Snapshot:       quizJSON(t, entity.Quiz{ID: 1, Title: "base"}),
		PendingOp:      store.OpUpdate,
		Status:         store.StatusPending,
		IdempotencyKey: "k",
	}))

	env.gw.On("FetchCollection", mock.Anything, entity.KindQuiz, "").
		Return(gatewaytest.Items(`{"id":1,"title":"remote"}`), nil).
		Once()

	states := drain(t, env.repo.Refresh(context.Background(), "", true))
	last := states[len(states)-1]
	require.True(t, last.IsSuccess())
	require.Len(t, last.Data, 1)
	assert.Equal(t, "local", last.Data[0].Entity.Title)
	assert.Equal(t, store.OpUpdate, last.Data[0].PendingOp)
}

func TestRepository_CreateAcknowledged(t *testing.T) {
	env := newTestEnv(t)

	var key string
	env.gw.On("Create", mock.Anything, entity.KindQuiz, mock.Anything, mock.AnythingOfType("string")).
		Run(func(args mock.Arguments) {
			key = args.String(3)
			var q entity.Quiz
			require.NoError(t, json.Unmarshal(args.Get(2).(json.RawMessage), &q))
			assert.Equal(t, "Quiz X", q.Title)
			assert.Less(t, q.ID, int64(0))
		}).
		Return(gatewaytest.JSON(`{"id":42,"course_id":4,"title":"Quiz X"}`), nil).
		Once()

	states := drain(t, env.repo.Create(context.Background(), entity.Quiz{CourseID: 4, Title: "Quiz X"}))
	require.Len(t, states, 3)
	assert.True(t, states[0].IsLoading())

	optimistic := states[1]
	require.True(t, optimistic.IsSuccess())
	tempID := optimistic.Data.ID
	assert.Less(t, tempID, int64(0))
	assert.Equal(t, store.OpCreate, optimistic.Data.PendingOp)

	acked := states[2]
	require.True(t, acked.IsSuccess())
	assert.Equal(t, int64(42), acked.Data.ID)
	assert.Equal(t, store.StatusSynced, acked.Data.Status)
	assert.NotEmpty(t, key)

	rec, err := env.repo.Get(context.Background(), tempID)
	require.NoError(t, err)
	assert.Equal(t, int64(42), rec.ID)
	assert.Equal(t, "Quiz X", rec.Entity.Title)

	_, err = env.table.Get(context.Background(), tempID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRepository_CreateRejectedIsReverted(t *testing.T) {
	env := newTestEnv(t)
	env.gw.On("Create", mock.Anything, entity.KindQuiz, mock.Anything, mock.Anything).
		Return(nil, gateway.StatusError(http.StatusUnprocessableEntity, "title is required")).
		Once()

	states := drain(t, env.repo.Create(context.Background(), entity.Quiz{}))
	require.Len(t, states, 3)
	last := states[2]
	require.True(t, last.IsError())
	assert.Contains(t, last.Message, "title is required")

	rows, err := env.repo.List(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestRepository_UpdateRejectedRestoresSnapshot(t *testing.T) {
	env := newTestEnv(t)
	env.seedSynced(t, time.Second, entity.Quiz{ID: 5, Title: "before"})
	env.gw.On("Update", mock.Anything, entity.KindQuiz, int64(5), mock.Anything, mock.Anything).
		Return(nil, gateway.StatusError(http.StatusConflict, "")).
		Once()

	states := drain(t, env.repo.Update(context.Background(), entity.Quiz{ID: 5, Title: "after"}))
	require.True(t, states[len(states)-1].IsError())

	rec, err := env.repo.Get(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, "before", rec.Entity.Title)
	assert.False(t, rec.IsPending())
}

func TestRepository_TransientFailureThenReplay(t *testing.T) {
	env := newTestEnv(t)

	var keys []string
	capture := func(args mock.Arguments) { keys = append(keys, args.String(3)) }
	env.gw.On("Create", mock.Anything, entity.KindQuiz, mock.Anything, mock.Anything).
		Run(capture).
		Return(nil, gateway.NetworkError(errors.New("offline"))).
		Once()
	env.gw.On("Create", mock.Anything, entity.KindQuiz, mock.Anything, mock.Anything).
		Run(capture).
		Return(gatewaytest.JSON(`{"id":9,"title":"q"}`), nil).
		Once()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream := env.repo.Create(ctx, entity.Quiz{Title: "q"})

	assert.True(t, next(t, stream).IsLoading())
	optimistic := next(t, stream)
	require.True(t, optimistic.IsSuccess())
	tempID := optimistic.Data.ID

	require.Eventually(t, func() bool {
		row, err := env.table.Get(context.Background(), tempID)
		return err == nil && row.RetryCount == 1
	}, time.Second, 5*time.Millisecond)

	row := env.row(t, tempID)
	assert.Equal(t, store.StatusPending, row.Status)
	assert.Equal(t, store.Millis(env.clock.Now().Add(time.Second)), row.NextAttemptAt)
	assert.Contains(t, row.LastError, "offline")

	due, err := env.repo.Due(context.Background(), env.clock.Now())
	require.NoError(t, err)
	assert.Empty(t, due)

	env.clock.Advance(time.Second)
	due, err = env.repo.Due(context.Background(), env.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, []int64{tempID}, due)

	outcome, err := env.repo.Replay(context.Background(), tempID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCleared, outcome)

	final := next(t, stream)
	require.True(t, final.IsSuccess())
	assert.Equal(t, int64(9), final.Data.ID)

	require.Len(t, keys, 2)
	assert.Equal(t, keys[0], keys[1])
}

func TestRepository_UpdateFoldsIntoPendingCreate(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.table.Upsert(context.Background(), store.Row{
		ID:             -5,
		Data:           quizJSON(t, entity.Quiz{ID: -5, Title: "draft"}),
		PendingOp:      store.OpCreate,
		Status:         store.StatusPending,
		IdempotencyKey: "create-key",
		RetryCount:     2,
	}))

	env.gw.On("Create", mock.Anything, entity.KindQuiz, mock.MatchedBy(func(p json.RawMessage) bool {
		var q entity.Quiz
		return json.Unmarshal(p, &q) == nil && q.Title == "final"
	}), "create-key").
		Return(gatewaytest.JSON(`{"id":11,"title":"final"}`), nil).
		Once()

	states := drain(t, env.repo.Update(context.Background(), entity.Quiz{ID: -5, Title: "final"}))
	last := states[len(states)-1]
	require.True(t, last.IsSuccess())
	assert.Equal(t, int64(11), last.Data.ID)
	env.gw.AssertExpectations(t)
}

func TestRepository_DeletePendingCreateStaysLocal(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.table.Upsert(context.Background(), store.Row{
		ID:             -5,
		Data:           quizJSON(t, entity.Quiz{ID: -5, Title: "draft"}),
		PendingOp:      store.OpCreate,
		Status:         store.StatusPending,
		IdempotencyKey: "k",
	}))

	states := drain(t, env.repo.Delete(context.Background(), -5))
	require.Len(t, states, 2)
	assert.True(t, states[1].IsSuccess())

	_, err := env.table.Get(context.Background(), -5)
	assert.ErrorIs(t, err, store.ErrNotFound)
	env.gw.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	env.gw.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRepository_DeleteAcknowledged(t *testing.T) {
	env := newTestEnv(t)
	env.seedSynced(t, time.Second, entity.Quiz{ID: 3, Title: "gone"})
	env.gw.On("Delete", mock.Anything, entity.KindQuiz, int64(3), mock.AnythingOfType("string")).
		Return(nil).
		Once()

	states := drain(t, env.repo.Delete(context.Background(), 3))
	require.True(t, states[len(states)-1].IsSuccess())

	_, err := env.repo.Get(context.Background(), 3)
	assert.ErrorIs(t, err, entity.ErrNotFound)
	_, err = env.table.Get(context.Background(), 3)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRepository_UpdateMissing(t *testing.T) {
	env := newTestEnv(t)
	states := drain(t, env.repo.Update(context.Background(), entity.Quiz{ID: 100}))
	require.Len(t, states, 2)
	assert.ErrorIs(t, states[1].Err, entity.ErrNotFound)
}

func TestRepository_UnauthorizedKeepsPending(t *testing.T) {
	var (
		mu    sync.Mutex
		kinds []entity.Kind
	)
	env := newTestEnv(t, WithAuthHandler(func(kind entity.Kind, err error) {
		mu.Lock()
		defer mu.Unlock()
		kinds = append(kinds, kind)
	}))
	env.seedSynced(t, time.Second, entity.Quiz{ID: 5, Title: "before"})
	env.gw.On("Update", mock.Anything, entity.KindQuiz, int64(5), mock.Anything, mock.Anything).
		Return(nil, gateway.StatusError(http.StatusUnauthorized, "token expired")).
		Once()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream := env.repo.Update(ctx, entity.Quiz{ID: 5, Title: "after"})
	next(t, stream)
	next(t, stream)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(kinds) == 1
	}, time.Second, 5*time.Millisecond)

	row := env.row(t, 5)
	assert.Equal(t, store.StatusPending, row.Status)
	assert.Equal(t, 0, row.RetryCount)
	assert.Equal(t, store.OpUpdate, row.PendingOp)
	assert.Equal(t, entity.KindQuiz, kinds[0])
}

func TestRepository_UpdateDuringInflightCreate(t *testing.T) {
	env := newTestEnv(t)

	started := make(chan struct{})
	release := make(chan struct{})
	env.gw.On("Create", mock.Anything, entity.KindQuiz, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			close(started)
			<-release
		}).
		Return(gatewaytest.JSON(`{"id":21,"title":"v1"}`), nil).
		Once()
	env.gw.On("Update", mock.Anything, entity.KindQuiz, int64(21), mock.MatchedBy(func(p json.RawMessage) bool {
		var q entity.Quiz
		return json.Unmarshal(p, &q) == nil && q.Title == "v2" && q.ID == 21
	}), mock.Anything).
		Return(gatewaytest.JSON(`{"id":21,"title":"v2"}`), nil).
		Once()

	create := env.repo.Create(context.Background(), entity.Quiz{Title: "v1"})
	next(t, create)
	tempID := next(t, create).Data.ID
	<-started

	update := env.repo.Update(context.Background(), entity.Quiz{ID: tempID, Title: "v2"})
	next(t, update)
	require.True(t, next(t, update).IsSuccess())
	close(release)

	createStates := drain(t, create)
	require.True(t, createStates[len(createStates)-1].IsSuccess())
	updateStates := drain(t, update)
	last := updateStates[len(updateStates)-1]
	require.True(t, last.IsSuccess())
	assert.Equal(t, int64(21), last.Data.ID)

	rec, err := env.repo.Get(context.Background(), tempID)
	require.NoError(t, err)
	assert.Equal(t, "v2", rec.Entity.Title)
	assert.False(t, rec.IsPending())
	env.gw.AssertExpectations(t)
}

func TestRepository_WorkerPermanentFailureMarksFailed(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.table.Upsert(context.Background(), store.Row{
		ID:             5,
		Data:           quizJSON(t, entity.Quiz{ID: 5, Title: "after"}),
		Snapshot:       quizJSON(t, entity.Quiz{ID: 5, Title: "before"}),
		PendingOp:      store.OpUpdate,
		Status:         store.StatusPending,
		IdempotencyKey: "k",
	}))
	env.gw.On("Update", mock.Anything, entity.KindQuiz, int64(5), mock.Anything, "k").
		Return(nil, gateway.StatusError(http.StatusBadRequest, "invalid")).
		Once()

	outcome, err := env.repo.Replay(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome)

	row := env.row(t, 5)
	assert.Equal(t, store.StatusFailed, row.Status)

	outcome, err = env.repo.Replay(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, outcome)
	env.gw.AssertNumberOfCalls(t, "Update", 1)
}

func TestRepository_RetryAndDiscard(t *testing.T) {
	env := newTestEnv(t)
	env.seedSynced(t, time.Second, entity.Quiz{ID: 1, Title: "synced"})
	require.NoError(t, env.table.Upsert(context.Background(), store.Row{
		ID:             2,
		Data:           quizJSON(t, entity.Quiz{ID: 2, Title: "after"}),
		Snapshot:       quizJSON(t, entity.Quiz{ID: 2, Title: "before"}),
		PendingOp:      store.OpUpdate,
		Status:         store.StatusFailed,
		RetryCount:     5,
		LastError:      "boom",
		IdempotencyKey: "k",
	}))

	assert.ErrorIs(t, env.repo.Retry(context.Background(), 1), ErrNotPending)
	assert.ErrorIs(t, env.repo.Retry(context.Background(), 99), entity.ErrNotFound)

	require.NoError(t, env.repo.Retry(context.Background(), 2))
	row := env.row(t, 2)
	assert.Equal(t, store.StatusPending, row.Status)
	assert.Zero(t, row.RetryCount)
	assert.Empty(t, row.LastError)
	assert.Equal(t, "k", row.IdempotencyKey)

	entries, err := env.repo.Entries(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(2), entries[0].ID)
	assert.Equal(t, entity.KindQuiz, entries[0].Kind)

	require.NoError(t, env.repo.Discard(context.Background(), 2))
	rec, err := env.repo.Get(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, "before", rec.Entity.Title)
	assert.False(t, rec.IsPending())

	assert.ErrorIs(t, env.repo.Discard(context.Background(), 2), ErrNotPending)
}

func TestRepository_SetOfflineAvailablePrefetchesDependencies(t *testing.T) {
	st := store.NewMemory(logger.Discard())
	gw := &gatewaytest.MockGateway{}
	clock := newFakeClock()

	var deps []entity.Dependency
	repo := New[entity.Course](entity.Courses, st, gw, logger.Discard(),
		WithClock(clock.Now),
		WithPrefetch(func(ctx context.Context, dep entity.Dependency) error {
			deps = append(deps, dep)
			return nil
		}),
	)

	table := st.Table(entity.KindCourse)
	require.NoError(t, table.Upsert(context.Background(), store.Row{
		ID:         3,
		Data:       []byte(`{"id":3,"title":"Go"}`),
		LastSyncAt: store.Millis(clock.Now().Add(-time.Hour)),
	}))
	gw.On("FetchOne", mock.Anything, entity.KindCourse, int64(3)).
		Return(gatewaytest.JSON(`{"id":3,"title":"Go 2"}`), nil).
		Once()

	require.NoError(t, repo.SetOfflineAvailable(context.Background(), 3, true))

	rec, err := repo.Get(context.Background(), 3)
	require.NoError(t, err)
	assert.True(t, rec.OfflineAvailable)
	assert.Equal(t, "Go 2", rec.Entity.Title)
	assert.Equal(t, []entity.Dependency{{Kind: entity.KindQuiz, Filter: "course_id=3"}}, deps)

	n, err := repo.Evict(context.Background(), time.Minute)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, repo.SetOfflineAvailable(context.Background(), 3, false))
	clock.Advance(2 * time.Minute)
	n, err = repo.Evict(context.Background(), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRepository_Prefetch(t *testing.T) {
	env := newTestEnv(t)
	env.gw.On("FetchCollection", mock.Anything, entity.KindQuiz, "course_id=4").
		Return(gatewaytest.Items(`{"id":1,"course_id":4}`, `{"id":2,"course_id":4}`), nil).
		Once()

	require.NoError(t, env.repo.Prefetch(context.Background(), "course_id=4"))
	assert.True(t, env.row(t, 1).OfflineAvailable)
	assert.True(t, env.row(t, 2).OfflineAvailable)
}

func TestRepository_Observe(t *testing.T) {
	env := newTestEnv(t)
	env.seedSynced(t, time.Second, entity.Quiz{ID: 1, CourseID: 4, Title: "a"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, err := env.repo.Observe(ctx, "course_id=4")
	require.NoError(t, err)

	first := <-stream
	require.Len(t, first, 1)

	env.seedSynced(t, time.Second, entity.Quiz{ID: 2, CourseID: 4, Title: "b"})
	select {
	case got := <-stream:
		assert.Len(t, got, 2)
	case <-time.After(time.Second):
		t.Fatal("no update observed")
	}

	_, err = env.repo.Observe(ctx, "weird")
	assert.ErrorIs(t, err, entity.ErrInvalidFilter)
}

func TestRepository_DeleteWhileCreateIsAcknowledged(t *testing.T) {
	var (
		env        *testEnv
		armed      atomic.Bool
		tempID     atomic.Int64
		discardErr = make(chan error, 1)
		deleted    = make(chan (<-chan resource.Resource[Record[entity.Quiz]]), 1)
	)

	// первое чтение часов после ответа сервера приходится на подтверждение создания
	env = newTestEnv(t, WithClock(func() time.Time {
		if armed.CompareAndSwap(true, false) {
			discardErr <- env.repo.Discard(context.Background(), tempID.Load())

			del := env.repo.Delete(context.Background(), tempID.Load())
			<-del
			<-del
			deleted <- del
		}
		return env.clock.Now()
	}))

	env.gw.On("Create", mock.Anything, entity.KindQuiz, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			var q entity.Quiz
			if json.Unmarshal(args.Get(2).(json.RawMessage), &q) == nil {
				tempID.Store(q.ID)
			}
			armed.Store(true)
		}).
		Return(gatewaytest.JSON(`{"id":77,"title":"draft"}`), nil).
		Once()
	env.gw.On("Delete", mock.Anything, entity.KindQuiz, int64(77), mock.AnythingOfType("string")).
		Return(nil).
		Once()

	createStates := drain(t, env.repo.Create(context.Background(), entity.Quiz{Title: "draft"}))
	require.True(t, createStates[len(createStates)-1].IsSuccess())

	assert.ErrorIs(t, <-discardErr, ErrBusy)

	deleteStates := drain(t, <-deleted)
	require.True(t, deleteStates[len(deleteStates)-1].IsSuccess())

	rows, err := env.table.GetAll(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, rows)

	_, err = env.repo.Get(context.Background(), tempID.Load())
	assert.ErrorIs(t, err, entity.ErrNotFound)
	env.gw.AssertExpectations(t)
}

func TestRepository_MutateSurvivesCallerCancel(t *testing.T) {
	env := newTestEnv(t)
	env.seedSynced(t, time.Second, entity.Quiz{ID: 3, Title: "v1"})

	started := make(chan struct{})
	unblock := make(chan struct{})
	callErr := make(chan error, 1)
	env.gw.On("Update", mock.Anything, entity.KindQuiz, int64(3), mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			close(started)
			<-unblock
			callErr <- args.Get(0).(context.Context).Err()
		}).
		Return(gatewaytest.JSON(`{"id":3,"title":"v2"}`), nil).
		Once()

	ctx, cancel := context.WithCancel(context.Background())
	stream := env.repo.Update(ctx, entity.Quiz{ID: 3, Title: "v2"})
	next(t, stream)
	require.True(t, next(t, stream).IsSuccess())

	<-started
	cancel()
	close(unblock)

	require.NoError(t, <-callErr)
	drain(t, stream)

	require.Eventually(t, func() bool {
		row, err := env.table.Get(context.Background(), 3)
		return err == nil && !row.IsPending()
	}, 2*time.Second, 10*time.Millisecond)

	rec, err := env.repo.Get(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, "v2", rec.Entity.Title)
	assert.Equal(t, store.StatusSynced, rec.Status)
	env.gw.AssertExpectations(t)
}

func TestRepository_RefreshCancelKeepsMutateInFlight(t *testing.T) {
	env := newTestEnv(t)
	env.seedSynced(t, 2*time.Minute, entity.Quiz{ID: 3, CourseID: 4, Title: "v1"})

	updating := make(chan struct{})
	unblock := make(chan struct{})
	env.gw.On("Update", mock.Anything, entity.KindQuiz, int64(3), mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			close(updating)
			<-unblock
		}).
		Return(gatewaytest.JSON(`{"id":3,"course_id":4,"title":"v2"}`), nil).
		Once()

	fetching := make(chan struct{})
	env.gw.On("FetchCollection", mock.Anything, entity.KindQuiz, "course_id=4").
		Run(func(args mock.Arguments) {
			close(fetching)
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, gateway.NetworkError(context.Canceled)).
		Once()

	update := env.repo.Update(context.Background(), entity.Quiz{ID: 3, CourseID: 4, Title: "v2"})
	next(t, update)
	require.True(t, next(t, update).IsSuccess())
	<-updating

	ctx, cancel := context.WithCancel(context.Background())
	refresh := env.repo.Refresh(ctx, "course_id=4", false)
	<-fetching
	cancel()
	drain(t, refresh)

	close(unblock)
	states := drain(t, update)
	last := states[len(states)-1]
	require.True(t, last.IsSuccess())
	assert.Equal(t, "v2", last.Data.Entity.Title)
	assert.Equal(t, store.StatusSynced, last.Data.Status)

	var stored entity.Quiz
	row := env.row(t, 3)
	assert.False(t, row.IsPending())
	require.NoError(t, json.Unmarshal(row.Data, &stored))
	assert.Equal(t, "v2", stored.Title)
	env.gw.AssertExpectations(t)
}

func TestRepository_ListByTemporaryParentID(t *testing.T) {
	env := newTestEnv(t)

	courseID := tempID()
	quizID := tempID()
	require.NoError(t, env.table.Upsert(context.Background(), store.Row{
		ID:             quizID,
		Data:           quizJSON(t, entity.Quiz{ID: quizID, CourseID: courseID, Title: "offline"}),
		PendingOp:      store.OpCreate,
		Status:         store.StatusPending,
		IdempotencyKey: "k",
	}))

	filter := "course_id=" + strconv.FormatInt(courseID, 10)

	recs, err := env.repo.List(context.Background(), filter)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, quizID, recs[0].ID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream, err := env.repo.Observe(ctx, filter)
	require.NoError(t, err)
	select {
	case batch := <-stream:
		require.Len(t, batch, 1)
		assert.Equal(t, courseID, batch[0].Entity.CourseID)
	case <-time.After(2 * time.Second):
		t.Fatal("no state received")
	}

	recs, err = env.repo.List(context.Background(), "course_id="+strconv.FormatInt(courseID+1, 10))
	require.NoError(t, err)
	assert.Empty(t, recs)
}
