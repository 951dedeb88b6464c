package auth

import (
	"strings"
	"sync"
	"time"
)

// MemoryUserRepo потокобезопасное хранилище в памяти. Подходит для
// тестов и серверов без внешней БД; идентификаторы выдаёт сам с
// единицы.
type MemoryUserRepo struct {
	mu     sync.RWMutex
	users  map[string]*User // ключ: имя в нижнем регистре
	nextID uint64
}

// NewMemoryUserRepo создаёт хранилище с двумя предустановленными
// учётными записями: test/test и admin/admin.
func NewMemoryUserRepo() (*MemoryUserRepo, error) {
	repo := &MemoryUserRepo{
		users:  make(map[string]*User),
		nextID: 1,
	}

	testHash, err := HashPassword("test")
	if err != nil {
		return nil, err
	}
	if _, err := repo.CreateUser("test", testHash, false); err != nil {
		return nil, err
	}

	adminHash, err := HashPassword("admin")
	if err != nil {
		return nil, err
	}
	if _, err := repo.CreateUser("admin", adminHash, true); err != nil {
		return nil, err
	}

	return repo, nil
}

// GetUserByUsername ищет запись по имени без учёта регистра
func (r *MemoryUserRepo) GetUserByUsername(username string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.users[normalize(username)]
	if !ok {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// CreateUser добавляет запись, если имя свободно
func (r *MemoryUserRepo) CreateUser(username, passwordHash string, isAdmin bool) (*User, error) {
	key := normalize(username)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.users[key]; exists {
		return nil, ErrUserExists
	}

	user := &User{
		ID:           r.nextID,
		Username:     key,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now(),
		LastLogin:    time.Now(),
		IsAdmin:      isAdmin,
	}
	r.nextID++
	r.users[key] = user
	return user, nil
}

// ValidateCredentials сверяет пароль и отмечает время входа
func (r *MemoryUserRepo) ValidateCredentials(username, password string) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[normalize(username)]
	if !ok {
		return nil, ErrBadCredentials
	}
	if !CheckPassword(user.PasswordHash, password) {
		return nil, ErrBadCredentials
	}
	user.LastLogin = time.Now()
	return user, nil
}

func normalize(username string) string {
	return strings.ToLower(username)
}
