package ranges

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"sms-range-relay/internal/domain"
)

const (
	accessCacheKey = "access:set"
	accessCacheTTL = 30 * time.Second

	// Телеграм повторяет вебхук при медленном ответе, и одна команда может
	// прилететь дважды. Повтор в пределах окна молча схлопывается.
	enqueueOnceTTL = 10 * time.Second
)

// Service — команды управления диапазонами: проверяет доступ и лимиты,
// отдаёт задачи на изменение панели воркеру через очередь. Читающие
// операции ходят на портал напрямую, собственной сессией, отдельной от
// цикла опроса.
type Service struct {
	access      domain.AccessRepo
	assignments domain.AssignmentRepo
	provisioner domain.RangeProvisioner
	queue       domain.RangeQueue
	cache       domain.Cache
	log         zerolog.Logger
}

// NewService создаёт сервис команд.
func NewService(
	access domain.AccessRepo,
	assignments domain.AssignmentRepo,
	provisioner domain.RangeProvisioner,
	queue domain.RangeQueue,
	cache domain.Cache,
	logger zerolog.Logger,
) *Service {
	return &Service{
		access:      access,
		assignments: assignments,
		provisioner: provisioner,
		queue:       queue,
		cache:       cache,
		log:         logger,
	}
}

type cachedAccess struct {
	Admins   []int64 `json:"admins"`
	Approved []int64 `json:"approved"`
	Banned   []int64 `json:"banned"`
}

// AccessSet возвращает списки доступа, накоротко кэшируя их целиком:
// проверка прав идёт на каждое сообщение бота, БД дёргать каждый раз
// незачем.
func (s *Service) AccessSet(ctx context.Context) (domain.AccessSet, error) {
	if raw, err := s.cache.Get(accessCacheKey); err == nil && len(raw) > 0 {
		var cached cachedAccess
		if err := json.Unmarshal(raw, &cached); err == nil {
			return toAccessSet(cached), nil
		}
	}

	var cached cachedAccess
	var err error
	if cached.Admins, err = s.access.ListUserIDs(ctx, domain.RoleAdmin); err != nil {
		return domain.AccessSet{}, fmt.Errorf("список админов: %w", err)
	}
	if cached.Approved, err = s.access.ListUserIDs(ctx, domain.RoleApproved); err != nil {
		return domain.AccessSet{}, fmt.Errorf("список допущенных: %w", err)
	}
	if cached.Banned, err = s.access.ListUserIDs(ctx, domain.RoleBanned); err != nil {
		return domain.AccessSet{}, fmt.Errorf("список забаненных: %w", err)
	}

	if raw, err := json.Marshal(cached); err == nil {
		if err := s.cache.Set(accessCacheKey, raw, accessCacheTTL); err != nil {
			s.log.Warn().Err(err).Msg("ranges: кэш доступа не обновился")
		}
	}
	return toAccessSet(cached), nil
}

func toAccessSet(cached cachedAccess) domain.AccessSet {
	set := domain.AccessSet{
		Admins:   make(map[int64]struct{}, len(cached.Admins)),
		Approved: make(map[int64]struct{}, len(cached.Approved)),
		Banned:   make(map[int64]struct{}, len(cached.Banned)),
	}
	for _, id := range cached.Admins {
		set.Admins[id] = struct{}{}
	}
	for _, id := range cached.Approved {
		set.Approved[id] = struct{}{}
	}
	for _, id := range cached.Banned {
		set.Banned[id] = struct{}{}
	}
	return set
}

// Grant добавляет пользователя в роль и сбрасывает кэш доступа.
func (s *Service) Grant(ctx context.Context, userID int64, role domain.AccessRole) error {
	if err := s.access.AddUser(ctx, userID, role); err != nil {
		return err
	}
	return s.cache.Invalidate(accessCacheKey)
}

// Revoke убирает пользователя из роли и сбрасывает кэш доступа.
func (s *Service) Revoke(ctx context.Context, userID int64, role domain.AccessRole) error {
	if err := s.access.RemoveUser(ctx, userID, role); err != nil {
		return err
	}
	return s.cache.Invalidate(accessCacheKey)
}

// ClaimDecision — результат запроса на занятие диапазона.
type ClaimDecision struct {
	// JobID задачи, если запрос поставлен в очередь.
	JobID string
	// Existing — текущая запись пользователя, если сначала нужно
	// подтвердить замену диапазона.
	Existing *domain.RangeAssignment
}

// RequestClaim ставит задачу на занятие диапазона. У не-админа может быть
// только один активный диапазон: при попытке взять второй возвращается
// текущая запись, и вызывающая сторона должна запросить подтверждение
// замены.
func (s *Service) RequestClaim(ctx context.Context, userID, chatID int64, rangeName string, isAdmin bool) (ClaimDecision, error) {
	if !isAdmin {
		existing, ok, err := s.assignments.UserAssignment(ctx, userID)
		if err != nil {
			return ClaimDecision{}, fmt.Errorf("проверка реестра: %w", err)
		}
		if ok {
			return ClaimDecision{Existing: &existing}, nil
		}
	}
	jobID, err := s.enqueue(ctx, domain.RangeJobClaim, userID, chatID, rangeName)
	if err != nil {
		return ClaimDecision{}, err
	}
	return ClaimDecision{JobID: jobID}, nil
}

// ConfirmReplace освобождает старый диапазон пользователя и ставит задачу
// на занятие нового. Порядок задач важен: очередь обрабатывается одним
// воркером по одной, освобождение уйдёт первым.
func (s *Service) ConfirmReplace(ctx context.Context, userID, chatID int64, oldRange, newRange string) error {
	if _, err := s.enqueue(ctx, domain.RangeJobRelease, userID, chatID, oldRange); err != nil {
		return err
	}
	_, err := s.enqueue(ctx, domain.RangeJobClaim, userID, chatID, newRange)
	return err
}

// ErrForeignRange возвращается, когда не-админ пытается освободить чужой
// диапазон.
var ErrForeignRange = fmt.Errorf("range is not assigned to this user")

// RequestRelease ставит задачу на освобождение диапазона. Не-админ может
// освободить только свой.
func (s *Service) RequestRelease(ctx context.Context, userID, chatID int64, rangeName string, isAdmin bool) (string, error) {
	if !isAdmin {
		existing, ok, err := s.assignments.UserAssignment(ctx, userID)
		if err != nil {
			return "", fmt.Errorf("проверка реестра: %w", err)
		}
		if !ok || !strings.EqualFold(existing.RangeName, rangeName) {
			return "", ErrForeignRange
		}
	}
	return s.enqueue(ctx, domain.RangeJobRelease, userID, chatID, rangeName)
}

// RequestReleaseAll ставит задачу на освобождение всех диапазонов панели.
func (s *Service) RequestReleaseAll(ctx context.Context, userID, chatID int64) (string, error) {
	return s.enqueue(ctx, domain.RangeJobReleaseAll, userID, chatID, "")
}

func (s *Service) enqueue(ctx context.Context, action domain.RangeJobAction, userID, chatID int64, rangeName string) (string, error) {
	job := domain.RangeJob{
		ID:          uuid.NewString(),
		Action:      action,
		UserTGID:    userID,
		ChatID:      chatID,
		RangeName:   rangeName,
		RequestedAt: time.Now().UTC(),
	}
	onceKey := fmt.Sprintf("job:once:%s:%d:%s", action, userID, strings.ToLower(rangeName))
	err := s.cache.Once(onceKey, enqueueOnceTTL, func() error {
		return s.queue.Enqueue(ctx, job)
	})
	if err != nil {
		return "", fmt.Errorf("постановка задачи %s: %w", action, err)
	}
	s.log.Info().
		Str("job_id", job.ID).
		Str("action", string(action)).
		Int64("user", userID).
		Str("range", rangeName).
		Msg("ranges: задача поставлена в очередь")
	return job.ID, nil
}

// ViewNumbers возвращает номера диапазона по его имени.
func (s *Service) ViewNumbers(ctx context.Context, rangeName string) ([]domain.NumberRecord, error) {
	if err := s.provisioner.EnsureSession(ctx); err != nil {
		return nil, err
	}
	return s.provisioner.SearchNumbers(ctx, rangeName)
}

// ActiveOverview возвращает сводку занятых диапазонов панели.
func (s *Service) ActiveOverview(ctx context.Context) (domain.PanelOverview, error) {
	if err := s.provisioner.EnsureSession(ctx); err != nil {
		return domain.PanelOverview{}, err
	}
	return s.provisioner.PanelOverview(ctx)
}

// UserAssignment возвращает активную запись пользователя из реестра.
func (s *Service) UserAssignment(ctx context.Context, userID int64) (domain.RangeAssignment, bool, error) {
	return s.assignments.UserAssignment(ctx, userID)
}

// ListAssignments возвращает реестр целиком.
func (s *Service) ListAssignments(ctx context.Context) ([]domain.RangeAssignment, error) {
	return s.assignments.ListAssignments(ctx)
}
