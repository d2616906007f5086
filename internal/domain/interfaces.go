package domain

import (
	"context"
	"time"
)

// PortalClient — доступ к удалённому порталу приёма SMS. Сессия клиента
// не рассчитана на конкурентное использование: все вызовы идут из одного
// цикла опроса, параллельным потребителям нужен отдельный клиент.
type PortalClient interface {
	// EnsureSession гарантирует живую сессию, при необходимости выполняя
	// полный вход. Возвращает ErrAuth после исчерпания попыток.
	EnsureSession(ctx context.Context) error
	// InvalidateSession сбрасывает сессию, следующий EnsureSession войдёт заново.
	InvalidateSession()
	// SessionAge возвращает время с момента последнего успешного входа.
	SessionAge() time.Duration

	FetchRangeSummaries(ctx context.Context, window DateWindow) ([]RangeSummary, error)
	FetchNumbers(ctx context.Context, window DateWindow, rangeName string) ([]NumberRecord, error)
	FetchMessages(ctx context.Context, window DateWindow, number, rangeName string) ([]MessageRecord, error)
}

// RangeProvisioner — операции управления диапазонами панели. Используется
// воркером команд с собственной сессией, отдельной от цикла опроса.
type RangeProvisioner interface {
	EnsureSession(ctx context.Context) error
	InvalidateSession()
	PanelOverview(ctx context.Context) (PanelOverview, error)
	SearchRange(ctx context.Context, rangeName string) ([]RangeMatch, error)
	ClaimRange(ctx context.Context, terminationID string) ([]NumberRecord, error)
	SearchNumbers(ctx context.Context, rangeName string) ([]NumberRecord, error)
	ReleaseNumbers(ctx context.Context, numberIDs []string) error
	ReleaseAllNumbers(ctx context.Context) error
}

// Notifier доставляет готовый текст в канал уведомлений. Реализация сама
// режет длинные сообщения и повторяет временные сбои отправки.
type Notifier interface {
	Send(ctx context.Context, text string) error
}

// StateStore хранит снимок состояния между циклами опроса. Обе операции
// работают целым снимком, без инкрементальных патчей.
type StateStore interface {
	// Load возвращает пустое состояние (не ошибку), если хранилища ещё нет.
	Load() (RangeState, NumberState, error)
	Save(ranges RangeState, numbers NumberState) error
}

// AccessRepo управляет списками доступа операторов.
type AccessRepo interface {
	ListUserIDs(ctx context.Context, role AccessRole) ([]int64, error)
	AddUser(ctx context.Context, userID int64, role AccessRole) error
	RemoveUser(ctx context.Context, userID int64, role AccessRole) error
}

// AssignmentRepo управляет реестром занятых диапазонов.
type AssignmentRepo interface {
	ListAssignments(ctx context.Context) ([]RangeAssignment, error)
	UserAssignment(ctx context.Context, userID int64) (RangeAssignment, bool, error)
	CreateAssignment(ctx context.Context, a RangeAssignment) error
	DeleteAssignment(ctx context.Context, userID int64, rangeName string) error
	DeleteAllAssignments(ctx context.Context) error
}

// Cache используется для простых TTL-хранилищ.
type Cache interface {
	Once(key string, ttl time.Duration, fn func() error) error
	Set(key string, value []byte, ttl time.Duration) error
	Get(key string) ([]byte, error)
	Invalidate(key string) error
}
