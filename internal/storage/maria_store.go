package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"

	"github.com/annel0/rift-server/internal/logging"
)

// MariaStore реализует KVStore поверх MariaDB/MySQL.
// Использует таблицу rift_saves для хранения снимков.
type MariaStore struct {
	db *sql.DB
}

// NewMariaStore подключается к базе и создаёт таблицу, если её нет.
//
// Параметры:
//
//	dsn - строка подключения к базе данных (user:pass@tcp(host:port)/dbname)
func NewMariaStore(dsn string) (*MariaStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("не удалось подключиться к MariaDB: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("не удалось проверить соединение с MariaDB: %w", err)
	}

	store := &MariaStore{db: db}
	if err := store.createTable(); err != nil {
		db.Close()
		return nil, fmt.Errorf("не удалось создать таблицу: %w", err)
	}

	logging.Info("🗄️ Подключение к MariaDB установлено")
	return store, nil
}

// createTable создаёт таблицу rift_saves, если она не существует.
// VARCHAR(191) укладывает ключ в лимит индекса utf8mb4.
func (s *MariaStore) createTable() error {
	query := `
		CREATE TABLE IF NOT EXISTS rift_saves (
			save_key   VARCHAR(191) PRIMARY KEY,
			payload    MEDIUMBLOB   NOT NULL,
			updated_at TIMESTAMP    DEFAULT CURRENT_TIMESTAMP
			           ON UPDATE    CURRENT_TIMESTAMP
		) ENGINE=InnoDB
	`

	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("ошибка создания таблицы rift_saves: %w", err)
	}
	return nil
}

// Get читает значение по ключу
func (s *MariaStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	query := `SELECT payload FROM rift_saves WHERE save_key = ?`

	var payload []byte
	err := s.db.QueryRowContext(ctx, query, key).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("ошибка загрузки снимка %s: %w", key, err)
	}
	return payload, true, nil
}

// Set записывает значение по ключу
func (s *MariaStore) Set(ctx context.Context, key string, value []byte) error {
	query := `
		INSERT INTO rift_saves (save_key, payload)
		VALUES (?, ?)
		ON DUPLICATE KEY UPDATE
			payload = VALUES(payload),
			updated_at = CURRENT_TIMESTAMP
	`

	if _, err := s.db.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("ошибка сохранения снимка %s: %w", key, err)
	}
	return nil
}

// Delete удаляет ключ
func (s *MariaStore) Delete(ctx context.Context, key string) error {
	query := `DELETE FROM rift_saves WHERE save_key = ?`

	if _, err := s.db.ExecContext(ctx, query, key); err != nil {
		return fmt.Errorf("ошибка удаления снимка %s: %w", key, err)
	}
	return nil
}

// Close закрывает соединение с базой данных
func (s *MariaStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
