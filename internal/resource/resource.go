// Package resource содержит трехвариантный конверт асинхронного результата
// (Loading / Success / Error) и операции над ним.
package resource

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type Status int

const (
	StatusLoading Status = iota
	StatusSuccess
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusLoading:
		return "loading"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

var (
	ErrUnknown     = errors.New("unknown error")
	ErrPanic       = errors.New("recovered panic")
	ErrEmptyStream = errors.New("stream closed without result")
)

// Resource - ровно одно из трех состояний. Data заполнено только для Success.
// Stale и SyncedAt описывают возраст данных, когда Success отдан из кэша
// вместо ответа сервера.
type Resource[T any] struct {
	Status   Status
	Data     T
	Message  string
	Err      error
	Stale    bool
	SyncedAt time.Time
}

func Loading[T any]() Resource[T] {
	return Resource[T]{Status: StatusLoading}
}

func Success[T any](v T) Resource[T] {
	return Resource[T]{Status: StatusSuccess, Data: v}
}

// StaleSuccess - данные из кэша, которые не удалось обновить
func StaleSuccess[T any](v T, syncedAt time.Time) Resource[T] {
	return Resource[T]{Status: StatusSuccess, Data: v, Stale: true, SyncedAt: syncedAt}
}

func Error[T any](err error) Resource[T] {
	if err == nil {
		err = ErrUnknown
	}
	return Resource[T]{Status: StatusError, Message: err.Error(), Err: err}
}

func Errorf[T any](format string, args ...any) Resource[T] {
	return Error[T](fmt.Errorf(format, args...))
}

func (r Resource[T]) IsLoading() bool { return r.Status == StatusLoading }
func (r Resource[T]) IsSuccess() bool { return r.Status == StatusSuccess }
func (r Resource[T]) IsError() bool   { return r.Status == StatusError }

// IsTerminal - Success или Error завершают запрос, Loading нет
func (r Resource[T]) IsTerminal() bool { return r.Status != StatusLoading }

// Age возвращает возраст устаревших данных; для свежих 0
func (r Resource[T]) Age(now time.Time) time.Duration {
	if !r.Stale || r.SyncedAt.IsZero() {
		return 0
	}
	return now.Sub(r.SyncedAt)
}

// Map преобразует полезную нагрузку Success, остальные состояния переносятся как есть.
// Паника в f превращается в Error.
func Map[T, U any](r Resource[T], f func(T) U) Resource[U] {
	switch r.Status {
	case StatusSuccess:
		return Guard(func() Resource[U] {
			return Resource[U]{Status: StatusSuccess, Data: f(r.Data), Stale: r.Stale, SyncedAt: r.SyncedAt}
		})
	case StatusError:
		return Resource[U]{Status: StatusError, Message: r.Message, Err: r.Err}
	default:
		return Loading[U]()
	}
}

// FlatMapSuccess продолжает цепочку только для Success
func FlatMapSuccess[T, U any](r Resource[T], f func(T) Resource[U]) Resource[U] {
	switch r.Status {
	case StatusSuccess:
		return Guard(func() Resource[U] { return f(r.Data) })
	case StatusError:
		return Resource[U]{Status: StatusError, Message: r.Message, Err: r.Err}
	default:
		return Loading[U]()
	}
}

// Guard выполняет f и превращает панику в Error
func Guard[T any](f func() Resource[T]) (res Resource[T]) {
	defer func() {
		if p := recover(); p != nil {
			res = Error[T](fmt.Errorf("%w: %v", ErrPanic, p))
		}
	}()
	return f()
}

// Handlers - обработчики для Collect. OnError обязателен по смыслу:
// если он не задан, Collect вернет ошибку последнего Error вызывающему.
type Handlers[T any] struct {
	OnLoading func()
	OnSuccess func(data T)
	OnError   func(err error)
}

// Collect читает поток до закрытия и вызывает обработчик на каждое состояние
func Collect[T any](ctx context.Context, stream <-chan Resource[T], h Handlers[T]) error {
	var unhandled error
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case r, ok := <-stream:
			if !ok {
				return unhandled
			}
			switch r.Status {
			case StatusLoading:
				if h.OnLoading != nil {
					h.OnLoading()
				}
			case StatusSuccess:
				unhandled = nil
				if h.OnSuccess != nil {
					h.OnSuccess(r.Data)
				}
			case StatusError:
				if h.OnError != nil {
					h.OnError(r.Err)
				} else {
					unhandled = r.Err
				}
			}
		}
	}
}

// Last дочитывает поток и возвращает последнее завершающее состояние
func Last[T any](ctx context.Context, stream <-chan Resource[T]) Resource[T] {
	last := Error[T](ErrEmptyStream)
	for {
		select {
		case <-ctx.Done():
			return Error[T](ctx.Err())
		case r, ok := <-stream:
			if !ok {
				return last
			}
			if r.IsTerminal() {
				last = r
			}
		}
	}
}

// MapStream применяет Map к каждому элементу потока
func MapStream[T, U any](ctx context.Context, in <-chan Resource[T], f func(T) U) <-chan Resource[U] {
	out := make(chan Resource[U], 1)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case r, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- Map(r, f):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
