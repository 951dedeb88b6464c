package storage

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/annel0/rift-server/internal/logging"
)

// RedisStore реализует KVStore поверх Redis. Годится для нескольких
// инстансов сервера над общим миром; снимки живут без TTL.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore подключается к Redis и проверяет соединение
func NewRedisStore(addr string, db int) (*RedisStore, error) {
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("не удалось подключиться к Redis: %w", err)
	}

	logging.Info("🔴 Подключение к Redis: %s", addr)
	return &RedisStore{client: client}, nil
}

// Get читает значение по ключу
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("ошибка чтения из Redis: %w", err)
	}
	return data, true, nil
}

// Set записывает значение по ключу без TTL
func (s *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("ошибка записи в Redis: %w", err)
	}
	return nil
}

// Delete удаляет ключ
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("ошибка удаления из Redis: %w", err)
	}
	return nil
}

// Close закрывает соединение
func (s *RedisStore) Close() error {
	return s.client.Close()
}
