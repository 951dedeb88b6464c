package auth

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MariaConfig настройки подключения к MariaDB
type MariaConfig struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string
}

// MariaUserRepo реализует UserRepository поверх MariaDB
type MariaUserRepo struct {
	db *sql.DB
}

// NewMariaUserRepo подключается к базе и готовит схему
func NewMariaUserRepo(cfg MariaConfig) (*MariaUserRepo, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 3306
	}
	if cfg.Database == "" {
		cfg.Database = "rift"
	}

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("открытие подключения к MariaDB: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("проверка подключения к MariaDB: %w", err)
	}

	repo := &MariaUserRepo{db: db}
	if err := repo.ensureSchema(); err != nil {
		return nil, fmt.Errorf("подготовка схемы: %w", err)
	}
	return repo, nil
}

func (m *MariaUserRepo) ensureSchema() error {
	createUsers := `
	CREATE TABLE IF NOT EXISTS users (
		id BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		username VARCHAR(50) NOT NULL UNIQUE,
		password_hash VARCHAR(255) NOT NULL,
		is_admin BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		last_login TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		INDEX idx_username (username)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;`

	if _, err := m.db.Exec(createUsers); err != nil {
		return fmt.Errorf("создание таблицы users: %w", err)
	}
	return nil
}

// GetUserByUsername ищет запись по имени
func (m *MariaUserRepo) GetUserByUsername(username string) (*User, error) {
	query := `SELECT id, username, password_hash, is_admin, created_at, last_login
			  FROM users WHERE username = ?`

	var user User
	err := m.db.QueryRow(query, normalize(username)).Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.IsAdmin,
		&user.CreatedAt,
		&user.LastLogin,
	)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("чтение пользователя: %w", err)
	}
	return &user, nil
}

// CreateUser вставляет новую запись
func (m *MariaUserRepo) CreateUser(username, passwordHash string, isAdmin bool) (*User, error) {
	lower := normalize(username)
	now := time.Now()

	query := `INSERT INTO users (username, password_hash, is_admin, created_at, last_login)
			  VALUES (?, ?, ?, ?, ?)`

	result, err := m.db.Exec(query, lower, passwordHash, isAdmin, now, now)
	if err != nil {
		if strings.Contains(err.Error(), "Duplicate entry") {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("создание пользователя: %w", err)
	}

	userID, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("получение id пользователя: %w", err)
	}

	return &User{
		ID:           uint64(userID),
		Username:     lower,
		PasswordHash: passwordHash,
		IsAdmin:      isAdmin,
		CreatedAt:    now,
		LastLogin:    now,
	}, nil
}

// ValidateCredentials сверяет пароль и отмечает время входа
func (m *MariaUserRepo) ValidateCredentials(username, password string) (*User, error) {
	user, err := m.GetUserByUsername(username)
	if err == ErrUserNotFound {
		return nil, ErrBadCredentials
	}
	if err != nil {
		return nil, err
	}
	if !CheckPassword(user.PasswordHash, password) {
		return nil, ErrBadCredentials
	}

	if _, err := m.db.Exec(`UPDATE users SET last_login = CURRENT_TIMESTAMP WHERE id = ?`, user.ID); err != nil {
		return nil, fmt.Errorf("обновление времени входа: %w", err)
	}
	return user, nil
}

// UserStats агрегаты по учётным записям для административного API
func (m *MariaUserRepo) UserStats() (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var total int
	if err := m.db.QueryRow("SELECT COUNT(*) FROM users").Scan(&total); err != nil {
		return nil, fmt.Errorf("подсчёт пользователей: %w", err)
	}
	stats["total_users"] = total

	var admins int
	if err := m.db.QueryRow("SELECT COUNT(*) FROM users WHERE is_admin = TRUE").Scan(&admins); err != nil {
		return nil, fmt.Errorf("подсчёт администраторов: %w", err)
	}
	stats["total_admins"] = admins

	var recent int
	if err := m.db.QueryRow("SELECT COUNT(*) FROM users WHERE last_login > DATE_SUB(NOW(), INTERVAL 24 HOUR)").Scan(&recent); err != nil {
		return nil, fmt.Errorf("подсчёт недавних входов: %w", err)
	}
	stats["recent_users_24h"] = recent

	return stats, nil
}

// Close закрывает подключение к базе
func (m *MariaUserRepo) Close() error {
	return m.db.Close()
}
