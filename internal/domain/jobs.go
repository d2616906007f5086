package domain

import (
	"context"
	"time"
)

// RangeJobAction описывает операцию воркера над панелью.
type RangeJobAction string

const (
	// RangeJobClaim — занять диапазон и отчитаться списком номеров.
	RangeJobClaim RangeJobAction = "claim"
	// RangeJobRelease — освободить диапазон.
	RangeJobRelease RangeJobAction = "release"
	// RangeJobReleaseAll — освободить все диапазоны панели.
	RangeJobReleaseAll RangeJobAction = "release_all"
)

// RangeJob — задача на изменение панели, поставленная из бота.
type RangeJob struct {
	ID          string         `json:"job_id"`
	Action      RangeJobAction `json:"action"`
	UserTGID    int64          `json:"user_tg_id"`
	ChatID      int64          `json:"chat_id"`
	RangeName   string         `json:"range_name,omitempty"`
	RequestedAt time.Time      `json:"requested_at"`
}

// RangeAckFunc подтверждает обработку задачи или возвращает её в очередь.
type RangeAckFunc func(success bool) error

// RangeQueue — очередь задач на изменение панели.
type RangeQueue interface {
	Enqueue(ctx context.Context, job RangeJob) error
	Receive(ctx context.Context) (RangeJob, RangeAckFunc, error)
}
