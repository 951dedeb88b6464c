package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLoginIssuesToken проверяет выдачу токена по учётным данным
func TestLoginIssuesToken(t *testing.T) {
	auth := NewAuthenticator(NewMemoryUserRepo(), nil)

	token, user, err := auth.Login("test", "test")
	require.NoError(t, err, "вход со встроенной учёткой должен проходить")
	require.NotNil(t, user)

	assert.Equal(t, "test", user.Username)
	assert.False(t, user.IsAdmin)
	assert.Equal(t, 2, strings.Count(token, "."), "токен должен состоять из трёх частей")
}

// TestLoginRejectsBadPassword проверяет отказ при неверном пароле
func TestLoginRejectsBadPassword(t *testing.T) {
	auth := NewAuthenticator(NewMemoryUserRepo(), nil)

	_, _, err := auth.Login("test", "wrong")
	assert.ErrorIs(t, err, ErrBadCredentials)

	_, _, err = auth.Login("nobody", "test")
	assert.ErrorIs(t, err, ErrBadCredentials, "несуществующий пользователь не раскрывается отдельной ошибкой")
}

// TestTokenRoundTrip проверяет, что выданный токен проходит проверку
// и несёт исходные клеймы
func TestTokenRoundTrip(t *testing.T) {
	auth := NewAuthenticator(NewMemoryUserRepo(), nil)

	token, user, err := auth.Login("admin", "admin")
	require.NoError(t, err)

	claims, err := auth.ValidateToken(token)
	require.NoError(t, err, "свежий токен должен быть действителен")

	assert.Equal(t, user.ID, claims.UserID)
	assert.Equal(t, "admin", claims.Username)
	assert.Equal(t, "admin", claims.Role)
	assert.Equal(t, "rift-server", claims.Issuer)
	assert.True(t, claims.ExpiresAt.After(time.Now()), "срок действия должен быть в будущем")
}

// TestValidateRejectsGarbage проверяет отказ на мусорных токенах
func TestValidateRejectsGarbage(t *testing.T) {
	auth := NewAuthenticator(NewMemoryUserRepo(), nil)

	for _, bad := range []string{
		"",
		"not.a.jwt",
		"invalid.token.here",
		"eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9.invalid.signature",
	} {
		_, err := auth.ValidateToken(bad)
		assert.Error(t, err, "мусорный токен %q не должен проходить проверку", bad)
	}
}

// TestValidateRejectsForeignSecret проверяет, что токен под чужим
// секретом отклоняется
func TestValidateRejectsForeignSecret(t *testing.T) {
	repo := NewMemoryUserRepo()
	issuer := NewAuthenticator(repo, []byte("secret-one-secret-one-secret-one"))
	verifier := NewAuthenticator(repo, []byte("secret-two-secret-two-secret-two"))

	token, _, err := issuer.Login("test", "test")
	require.NoError(t, err)

	_, err = verifier.ValidateToken(token)
	assert.Error(t, err, "подпись чужим секретом должна отклоняться")
}

// TestValidateRejectsExpired проверяет отказ на просроченном токене
func TestValidateRejectsExpired(t *testing.T) {
	auth := NewAuthenticator(NewMemoryUserRepo(), nil)
	auth.tokenExpiry = -time.Minute

	user, err := auth.repo.GetUserByUsername("test")
	require.NoError(t, err)

	token, err := auth.Issue(user)
	require.NoError(t, err)

	_, err = auth.ValidateToken(token)
	assert.Error(t, err, "просроченный токен должен отклоняться")
}

// TestValidateRejectsNoneAlgorithm проверяет отказ на токене без подписи
func TestValidateRejectsNoneAlgorithm(t *testing.T) {
	auth := NewAuthenticator(NewMemoryUserRepo(), nil)

	claims := &Claims{Username: "test"}
	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, claims)
	token, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = auth.ValidateToken(token)
	assert.Error(t, err, "алгоритм none должен отклоняться")
}

// TestPlayerValidator проверяет адаптер для игрового рукопожатия
func TestPlayerValidator(t *testing.T) {
	auth := NewAuthenticator(NewMemoryUserRepo(), nil)
	validate := auth.PlayerValidator()

	token, _, err := auth.Login("test", "test")
	require.NoError(t, err)

	playerID, err := validate(token)
	require.NoError(t, err)
	assert.Equal(t, "test", playerID, "идентификатором игрока служит имя учётной записи")

	_, err = validate("forged")
	assert.Error(t, err)
}

// TestGenerateSecureSecret проверяет генерацию секрета
func TestGenerateSecureSecret(t *testing.T) {
	first, err := GenerateSecureSecret()
	require.NoError(t, err)

	second, err := GenerateSecureSecret()
	require.NoError(t, err)

	assert.NotEqual(t, first, second, "последовательные секреты должны отличаться")
	assert.GreaterOrEqual(t, len(first), 40, "base64 от 32 байт не короче 40 символов")
}

// TestDecodeSecret проверяет разбор секрета из конфигурации
func TestDecodeSecret(t *testing.T) {
	encoded, err := GenerateSecureSecret()
	require.NoError(t, err)

	decoded, err := DecodeSecret(encoded)
	require.NoError(t, err)
	assert.Len(t, decoded, 32)

	for _, bad := range []string{"too-short", "invalid-base64-@#$%", ""} {
		_, err := DecodeSecret(bad)
		assert.Error(t, err, "секрет %q должен отклоняться", bad)
	}
}
