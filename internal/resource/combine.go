package resource

import (
	"context"
	"sync"
)

// CombineLatest сводит состояния в одно: первая по порядку ошибка побеждает,
// иначе Loading, если он есть, иначе Success со всеми данными.
func CombineLatest[T any](states ...Resource[T]) Resource[[]T] {
	loading := false
	for _, s := range states {
		switch s.Status {
		case StatusError:
			return Resource[[]T]{Status: StatusError, Message: s.Message, Err: s.Err}
		case StatusLoading:
			loading = true
		}
	}
	if loading {
		return Loading[[]T]()
	}

	combined := Resource[[]T]{Status: StatusSuccess, Data: make([]T, len(states))}
	for i, s := range states {
		combined.Data[i] = s.Data
		if s.Stale {
			combined.Stale = true
			if combined.SyncedAt.IsZero() || (!s.SyncedAt.IsZero() && s.SyncedAt.Before(combined.SyncedAt)) {
				combined.SyncedAt = s.SyncedAt
			}
		}
	}

	return combined
}

type indexed[T any] struct {
	idx int
	res Resource[T]
}

// Combine объединяет потоки. Входы, еще ничего не приславшие, считаются Loading.
// Выходной поток закрывается, когда закрыты все входы или отменен ctx.
func Combine[T any](ctx context.Context, streams ...<-chan Resource[T]) <-chan Resource[[]T] {
	out := make(chan Resource[[]T], 1)

	if len(streams) == 0 {
		out <- Success([]T{})
		close(out)
		return out
	}

	updates := make(chan indexed[T])
	var wg sync.WaitGroup
	for i, s := range streams {
		wg.Add(1)
		go func(i int, s <-chan Resource[T]) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case r, ok := <-s:
					if !ok {
						return
					}
					select {
					case updates <- indexed[T]{idx: i, res: r}:
					case <-ctx.Done():
						return
					}
				}
			}
		}(i, s)
	}
	go func() {
		wg.Wait()
		close(updates)
	}()

	go func() {
		defer close(out)

		latest := make([]Resource[T], len(streams))
		for i := range latest {
			latest[i] = Loading[T]()
		}

		emit := func(r Resource[[]T]) {
			select {
			case out <- r:
			case <-ctx.Done():
			}
		}

		emit(CombineLatest(latest...))
		for u := range updates {
			latest[u.idx] = u.res
			emit(CombineLatest(latest...))
		}
	}()

	return out
}
