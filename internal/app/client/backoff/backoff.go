// Package backoff считает задержки повторов по номеру неудачной попытки.
// Состояния нет: номер попытки хранится в строке очереди синхронизации.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

type Policy struct {
	Initial    time.Duration
	Factor     float64
	Max        time.Duration
	MaxRetries int
	// Jitter - доля случайного отклонения, 0.2 значит ±20%. 0 - точные задержки.
	Jitter float64
	// Rand для тестов; по умолчанию math/rand
	Rand func() float64
}

func Default() Policy {
	return Policy{
		Initial:    time.Second,
		Factor:     2,
		Max:        10 * time.Second,
		MaxRetries: 5,
		Jitter:     0.2,
	}
}

// Delay - пауза после n-й подряд неудачной попытки (n >= 1):
// min(Initial * Factor^(n-1), Max) с учетом Jitter.
func (p Policy) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}

	factor := p.Factor
	if factor < 1 {
		factor = 1
	}

	d := float64(p.Initial) * math.Pow(factor, float64(n-1))
	if p.Max > 0 && d > float64(p.Max) {
		d = float64(p.Max)
	}

	if p.Jitter > 0 {
		r := rand.Float64
		if p.Rand != nil {
			r = p.Rand
		}
		d += d * p.Jitter * (2*r() - 1)
	}

	if d < 0 {
		return 0
	}
	return time.Duration(d)
}

// Exhausted - после n неудач повторять больше нельзя
func (p Policy) Exhausted(n int) bool {
	return p.MaxRetries > 0 && n >= p.MaxRetries
}
