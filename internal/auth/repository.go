package auth

import "errors"

// UserRepository хранилище учётных записей. Реализации: in-memory для
// тестов и одиночных серверов, MariaDB и MongoDB для постоянного
// хранения.
type UserRepository interface {
	// GetUserByUsername ищет запись по имени без учёта регистра.
	// Отсутствие записи — ErrUserNotFound.
	GetUserByUsername(username string) (*User, error)

	// CreateUser создаёт запись с уже захешированным паролем.
	// Конфликт имён — ErrUserExists.
	CreateUser(username, passwordHash string, isAdmin bool) (*User, error)

	// ValidateCredentials проверяет пару имя/пароль и обновляет время
	// последнего входа. Неверная пара — ErrBadCredentials.
	ValidateCredentials(username, password string) (*User, error)
}

var (
	ErrUserNotFound   = errors.New("пользователь не найден")
	ErrUserExists     = errors.New("пользователь уже существует")
	ErrBadCredentials = errors.New("неверные учётные данные")
)
