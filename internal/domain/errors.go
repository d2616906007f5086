package domain

import (
	"context"
	"errors"
	"fmt"
)

// Классы ошибок портала и доставки. Конкретные сбои заворачиваются в один
// из этих сентинелов через %w, проверка — errors.Is.
var (
	// ErrAuth — вход отклонён или сессия не восстановилась после повторных попыток.
	ErrAuth = errors.New("portal: authentication failed")
	// ErrTransient — временный сетевой сбой, имеет смысл повторить.
	ErrTransient = errors.New("portal: transient network failure")
	// ErrMalformed — ответ портала не соответствует ожидаемой структуре.
	ErrMalformed = errors.New("portal: malformed response")
	// ErrDelivery — канал уведомлений не принял сообщение.
	ErrDelivery = errors.New("notifier: delivery failed")
)

// AuthErrorf заворачивает ошибку входа.
func AuthErrorf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrAuth)...)
}

// TransientErrorf заворачивает временный сетевой сбой.
func TransientErrorf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrTransient)...)
}

// MalformedErrorf заворачивает ошибку разбора ответа.
func MalformedErrorf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrMalformed)...)
}

// DeliveryErrorf заворачивает отказ канала уведомлений.
func DeliveryErrorf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrDelivery)...)
}

// IsRetryable сообщает, имеет ли смысл повторять операцию на месте.
// Ошибки авторизации и разбора повтором не лечатся, отмена контекста тоже.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrAuth) || errors.Is(err, ErrMalformed) {
		return false
	}
	return true
}
