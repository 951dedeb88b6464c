package storage

import (
	"context"
	"sync"
)

// MemoryStore реализует KVStore в памяти.
// Используется как fallback, когда внешняя БД недоступна,
// или для CI/локальной разработки без БД.
// ВНИМАНИЕ: Данные теряются при перезапуске сервера!
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryStore создаёт пустое хранилище в памяти
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string][]byte),
	}
}

// Get читает значение по ключу
func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	default:
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.data[key]
	if !ok {
		return nil, false, nil
	}
	// Копия: вызывающий может мутировать срез
	return append([]byte{}, value...), true, nil
}

// Set записывает значение по ключу
func (s *MemoryStore) Set(ctx context.Context, key string, value []byte) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[key] = append([]byte{}, value...)
	return nil
}

// Delete удаляет ключ
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, key)
	return nil
}

// Close ничего не освобождает
func (s *MemoryStore) Close() error {
	return nil
}

// Count возвращает число записей (для отладки и тестов)
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Clear очищает все записи (для тестов)
func (s *MemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[string][]byte)
}
