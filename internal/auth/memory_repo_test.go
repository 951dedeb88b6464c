package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMemoryRepoSeededUsers проверяет встроенные учётки test и admin
func TestMemoryRepoSeededUsers(t *testing.T) {
	repo, err := NewMemoryUserRepo()
	require.NoError(t, err)

	user, err := repo.GetUserByUsername("test")
	require.NoError(t, err)
	assert.False(t, user.IsAdmin)
	assert.Equal(t, "player", user.Role())

	admin, err := repo.GetUserByUsername("admin")
	require.NoError(t, err)
	assert.True(t, admin.IsAdmin)
	assert.Equal(t, "admin", admin.Role())

	assert.NotEqual(t, user.ID, admin.ID, "идентификаторы учёток должны отличаться")
}

// TestMemoryRepoCreateUser проверяет регистрацию новой учётки
func TestMemoryRepoCreateUser(t *testing.T) {
	repo, err := NewMemoryUserRepo()
	require.NoError(t, err)

	hash, err := HashPassword("s3cret")
	require.NoError(t, err)

	created, err := repo.CreateUser("Newcomer", hash, false)
	require.NoError(t, err)
	assert.Equal(t, "newcomer", created.Username, "имя нормализуется к нижнему регистру")

	found, err := repo.GetUserByUsername("NEWCOMER")
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)
}

// TestMemoryRepoDuplicateUser проверяет отказ на повторной регистрации
func TestMemoryRepoDuplicateUser(t *testing.T) {
	repo, err := NewMemoryUserRepo()
	require.NoError(t, err)

	hash, err := HashPassword("s3cret")
	require.NoError(t, err)

	_, err = repo.CreateUser("dup", hash, false)
	require.NoError(t, err)

	_, err = repo.CreateUser("DUP", hash, false)
	assert.ErrorIs(t, err, ErrUserExists, "регистр имени не обходит уникальность")
}

// TestMemoryRepoUnknownUser проверяет ошибку на неизвестном имени
func TestMemoryRepoUnknownUser(t *testing.T) {
	repo, err := NewMemoryUserRepo()
	require.NoError(t, err)

	_, err = repo.GetUserByUsername("ghost")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

// TestMemoryRepoValidateCredentials проверяет вход по паролю
func TestMemoryRepoValidateCredentials(t *testing.T) {
	repo, err := NewMemoryUserRepo()
	require.NoError(t, err)

	user, err := repo.ValidateCredentials("test", "test")
	require.NoError(t, err)
	assert.Equal(t, "test", user.Username)
	assert.False(t, user.LastLogin.IsZero(), "успешный вход обновляет отметку времени")

	_, err = repo.ValidateCredentials("test", "nope")
	assert.ErrorIs(t, err, ErrBadCredentials)
}

// TestPasswordHashing проверяет пару HashPassword и CheckPassword
func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("пароль")
	require.NoError(t, err)
	assert.NotEqual(t, "пароль", hash, "хеш не должен совпадать с паролем")

	assert.True(t, CheckPassword(hash, "пароль"))
	assert.False(t, CheckPassword(hash, "не тот"))
}
