package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const defaultTokenExpiry = 24 * time.Hour

// Claims полезная нагрузка токена доступа
type Claims struct {
	UserID   uint64 `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// Authenticator выдаёт и проверяет токены доступа поверх хранилища
// учётных записей. Имя учётной записи из клеймов служит
// идентификатором игрока в движке.
type Authenticator struct {
	repo        UserRepository
	jwtSecret   []byte
	tokenExpiry time.Duration
}

// NewAuthenticator создаёт аутентификатор. Пустой секрет заменяется
// случайным: токены переживут только текущий процесс.
func NewAuthenticator(repo UserRepository, jwtSecret []byte) *Authenticator {
	if len(jwtSecret) == 0 {
		jwtSecret = make([]byte, 32)
		if _, err := rand.Read(jwtSecret); err != nil {
			panic(fmt.Sprintf("генерация JWT секрета: %v", err))
		}
	}
	return &Authenticator{
		repo:        repo,
		jwtSecret:   jwtSecret,
		tokenExpiry: defaultTokenExpiry,
	}
}

// SetTokenExpiry переопределяет время жизни выдаваемых токенов
func (a *Authenticator) SetTokenExpiry(d time.Duration) {
	if d > 0 {
		a.tokenExpiry = d
	}
}

// Login проверяет учётные данные и выдаёт токен
func (a *Authenticator) Login(username, password string) (string, *User, error) {
	user, err := a.repo.ValidateCredentials(username, password)
	if err != nil {
		return "", nil, err
	}

	token, err := a.Issue(user)
	if err != nil {
		return "", nil, err
	}
	return token, user, nil
}

// Issue подписывает токен для учётной записи
func (a *Authenticator) Issue(user *User) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID:   user.ID,
		Username: user.Username,
		Role:     user.Role(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(a.tokenExpiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    "rift-server",
			Subject:   user.Username,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("подпись токена: %w", err)
	}
	return signed, nil
}

// ValidateToken разбирает и проверяет токен
func (a *Authenticator) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("неожиданный алгоритм подписи: %v", token.Header["alg"])
		}
		return a.jwtSecret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("токен недействителен")
	}
	return claims, nil
}

// PlayerValidator адаптер для рукопожатия игрового сервера: из токена
// извлекается идентификатор игрока
func (a *Authenticator) PlayerValidator() func(token string) (string, error) {
	return func(token string) (string, error) {
		claims, err := a.ValidateToken(token)
		if err != nil {
			return "", err
		}
		return claims.Username, nil
	}
}

// GenerateSecureSecret возвращает свежий случайный секрет в base64
func GenerateSecureSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// DecodeSecret разбирает base64 секрет и проверяет его длину
func DecodeSecret(secret string) ([]byte, error) {
	decoded, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return nil, err
	}
	if len(decoded) < 32 {
		return nil, errors.New("секрет короче 32 байт")
	}
	return decoded, nil
}
