package auth

import "golang.org/x/crypto/bcrypt"

// HashPassword хеширует пароль bcrypt со стоимостью по умолчанию
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

// CheckPassword сверяет пароль с bcrypt хешем
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
