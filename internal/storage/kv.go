package storage

import (
	"context"
	"fmt"
	"time"
)

// connectTimeout общий лимит на установку соединения с внешним бэкендом
const connectTimeout = 10 * time.Second

// KVStore абстракция над хранилищем снимков. Кодек сохранений не знает,
// куда ложатся байты: бэкенд выбирается конфигурацией при старте.
// Возвращаемый из Get срез принадлежит вызывающему.
type KVStore interface {
	// Get читает значение по ключу. Второй результат false, если ключа нет.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set записывает значение по ключу, затирая прежнее.
	Set(ctx context.Context, key string, value []byte) error

	// Delete удаляет ключ. Отсутствующий ключ не ошибка.
	Delete(ctx context.Context, key string) error

	// Close освобождает ресурсы бэкенда.
	Close() error
}

// Options параметры подключения бэкендов. Заполняется из конфигурации
// сервером и инструментами.
type Options struct {
	Backend    string // memory | badger | redis | mongo | maria
	BadgerPath string
	RedisAddr  string
	RedisDB    int
	MongoURI   string
	MariaDSN   string
}

// Open создаёт хранилище выбранного бэкенда. Неизвестное имя — ошибка,
// а не тихий fallback: опечатка в конфигурации не должна молча ронять
// сохранения в память.
func Open(opts Options) (KVStore, error) {
	switch opts.Backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "badger":
		return NewBadgerStore(opts.BadgerPath)
	case "redis":
		return NewRedisStore(opts.RedisAddr, opts.RedisDB)
	case "mongo":
		return NewMongoStore(opts.MongoURI)
	case "maria":
		return NewMariaStore(opts.MariaDSN)
	default:
		return nil, fmt.Errorf("неизвестный бэкенд хранилища: %s", opts.Backend)
	}
}
