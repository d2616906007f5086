package retry

import (
	"context"
	"time"
)

// Policy — ограниченный повтор с фиксированной паузой. Применяется на
// границах сессии и выборок вместо разрозненных повторов на месте.
type Policy struct {
	Attempts int
	Backoff  time.Duration
}

// Default — три попытки с паузой две секунды.
var Default = Policy{Attempts: 3, Backoff: 2 * time.Second}

// Do выполняет fn до первого успеха. Повторы прекращаются, когда попытки
// исчерпаны, контекст отменён или классификатор признал ошибку безнадёжной.
func (p Policy) Do(ctx context.Context, retryable func(error) bool, fn func() error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = fn()
		if err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.Backoff):
		}
	}
	return err
}
