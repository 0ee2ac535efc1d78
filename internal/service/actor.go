package service

import "errors"

// Ошибки проверки пользователя.
var (
	ErrForbidden    = errors.New("admin role required")
	ErrInvalidActor = errors.New("invalid actor")
)

// Роль пользователя в системе. Аутентификация внешняя, сюда приходит уже проверенная роль.
type Role string

const (
	RoleClient Role = "client"
	RoleAdmin  Role = "admin"
)

// Actor: тот, кто выполняет операцию. ID пишется в журнал событий.
type Actor struct {
	ID   string
	Role Role
}

func Admin(id string) Actor {
	return Actor{ID: id, Role: RoleAdmin}
}

func Client(id string) Actor {
	return Actor{ID: id, Role: RoleClient}
}

// System: фоновые задачи (истечение оплаты).
var System = Actor{ID: "system", Role: RoleAdmin}

// requireAdmin:
//   - проверяет, что идентификатор задан;
//   - проверяет роль.
func requireAdmin(a Actor) error {
	if a.ID == "" {
		return ErrInvalidActor
	}
	if a.Role != RoleAdmin {
		return ErrForbidden
	}
	return nil
}
