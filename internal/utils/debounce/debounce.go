// Package debounce схлопывает серии событий в одно последнее.
package debounce

import (
	"context"
	"time"
)

// Channel пропускает последнее значение каждой серии после window тишины.
// При закрытии in отложенное значение отдается сразу, затем выход закрывается.
func Channel[T any](ctx context.Context, in <-chan T, window time.Duration) <-chan T {
	out := make(chan T)

	go func() {
		defer close(out)

		var (
			pending T
			has     bool
			timer   *time.Timer
			fire    <-chan time.Time
		)

		stop := func() {
			if timer != nil {
				timer.Stop()
			}
			fire = nil
		}
		defer stop()

		send := func(v T) bool {
			select {
			case out <- v:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case v, ok := <-in:
				if !ok {
					if has {
						send(pending)
					}
					return
				}
				pending, has = v, true
				stop()
				timer = time.NewTimer(window)
				fire = timer.C
			case <-fire:
				fire = nil
				if has {
					has = false
					if !send(pending) {
						return
					}
				}
			}
		}
	}()

	return out
}
