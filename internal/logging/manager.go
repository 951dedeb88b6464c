package logging

import (
	"fmt"
	"sync"
)

// LoggerManager управляет логгерами по компонентам
type LoggerManager struct {
	loggers map[string]*Logger
	mu      sync.RWMutex
}

var (
	globalManager *LoggerManager
	managerOnce   sync.Once
)

// GetLoggerManager возвращает глобальный менеджер логгеров
func GetLoggerManager() *LoggerManager {
	managerOnce.Do(func() {
		globalManager = &LoggerManager{
			loggers: make(map[string]*Logger),
		}
	})
	return globalManager
}

// GetLogger возвращает логгер для компонента, создавая его при необходимости
func (lm *LoggerManager) GetLogger(component string) (*Logger, error) {
	lm.mu.RLock()
	if logger, exists := lm.loggers[component]; exists {
		lm.mu.RUnlock()
		return logger, nil
	}
	lm.mu.RUnlock()

	lm.mu.Lock()
	defer lm.mu.Unlock()

	// Повторная проверка после захвата write-блокировки
	if logger, exists := lm.loggers[component]; exists {
		return logger, nil
	}

	logger, err := NewLogger(component)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания логгера для компонента %s: %w", component, err)
	}

	lm.loggers[component] = logger
	return logger, nil
}

// MustGetLogger возвращает логгер или глобальный логгер при ошибке
func (lm *LoggerManager) MustGetLogger(component string) *Logger {
	logger, err := lm.GetLogger(component)
	if err != nil {
		Error("Не удалось создать логгер для %s: %v", component, err)
		return getDefault()
	}
	return logger
}

// CloseAll закрывает все логгеры компонентов
func (lm *LoggerManager) CloseAll() {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	for component, logger := range lm.loggers {
		if err := logger.Close(); err != nil {
			fmt.Printf("Ошибка закрытия логгера %s: %v\n", component, err)
		}
	}
	lm.loggers = make(map[string]*Logger)
}

// GetComponentLogger возвращает логгер компонента через глобальный менеджер
func GetComponentLogger(component string) *Logger {
	return GetLoggerManager().MustGetLogger(component)
}

// GetNetworkLogger возвращает логгер сетевого слоя
func GetNetworkLogger() *Logger {
	return GetComponentLogger("network")
}

// GetWorldLogger возвращает логгер графа регионов
func GetWorldLogger() *Logger {
	return GetComponentLogger("world")
}

// GetTransitionLogger возвращает логгер координатора переходов
func GetTransitionLogger() *Logger {
	return GetComponentLogger("transition")
}

// GetStorageLogger возвращает логгер хранилища
func GetStorageLogger() *Logger {
	return GetComponentLogger("storage")
}

// GetEventBusLogger возвращает логгер шины событий
func GetEventBusLogger() *Logger {
	return GetComponentLogger("eventbus")
}

// GetAPILogger возвращает логгер REST API
func GetAPILogger() *Logger {
	return GetComponentLogger("api")
}
