package domain

// AccessRole — уровень доступа оператора к командам бота.
type AccessRole string

const (
	// RoleAdmin может управлять любыми диапазонами и списками доступа.
	RoleAdmin AccessRole = "admin"
	// RoleApproved может занимать один диапазон и смотреть свои номера.
	RoleApproved AccessRole = "approved"
	// RoleBanned полностью отрезан от бота.
	RoleBanned AccessRole = "banned"
)

// AccessSet — списки доступа одним значением, чтобы кэшировать их целиком.
type AccessSet struct {
	Admins   map[int64]struct{}
	Approved map[int64]struct{}
	Banned   map[int64]struct{}
}

// IsAdmin сообщает, является ли пользователь администратором.
func (s AccessSet) IsAdmin(userID int64) bool {
	_, ok := s.Admins[userID]
	return ok
}

// IsBanned сообщает, забанен ли пользователь.
func (s AccessSet) IsBanned(userID int64) bool {
	_, ok := s.Banned[userID]
	return ok
}

// MayUse сообщает, допущен ли пользователь к командам: бан сильнее
// любых других списков, админы допущены всегда.
func (s AccessSet) MayUse(userID int64) bool {
	if s.IsBanned(userID) {
		return false
	}
	if s.IsAdmin(userID) {
		return true
	}
	_, ok := s.Approved[userID]
	return ok
}
