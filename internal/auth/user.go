// Package auth отвечает за учётные записи и токены доступа: bcrypt для
// паролей, JWT (HS256) для сессий. Идентификатором игрока в движке
// служит имя учётной записи.
package auth

import "time"

// User учётная запись игрока или администратора
type User struct {
	ID           uint64    // Неизменяемый числовой идентификатор
	Username     string    // Уникальное имя (хранится в нижнем регистре)
	PasswordHash string    // bcrypt хеш пароля
	CreatedAt    time.Time // Время создания записи
	LastLogin    time.Time // Последний успешный вход
	IsAdmin      bool      // Доступ к административному API
}

// Role строковая роль для клеймов токена
func (u *User) Role() string {
	if u.IsAdmin {
		return "admin"
	}
	return "player"
}
