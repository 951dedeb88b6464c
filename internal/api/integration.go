package api

import (
	"fmt"

	"github.com/annel0/rift-server/internal/auth"
	"github.com/annel0/rift-server/internal/logging"
)

// RepoConfig выбирает бэкенд учётных записей
type RepoConfig struct {
	Backend string // memory | maria | mongo
	Maria   auth.MariaConfig
	Mongo   auth.MongoConfig
}

// BuildUserRepository создаёт репозиторий учётных записей по конфигу.
// Пустой или неизвестный бэкенд падает в память: это режим разработки,
// учётки живут до перезапуска.
func BuildUserRepository(cfg RepoConfig) (auth.UserRepository, error) {
	switch cfg.Backend {
	case "maria":
		repo, err := auth.NewMariaUserRepo(cfg.Maria)
		if err != nil {
			return nil, fmt.Errorf("подключение MariaDB: %w", err)
		}
		logging.Info("✅ Учётные записи в MariaDB (%s:%d/%s)", cfg.Maria.Host, cfg.Maria.Port, cfg.Maria.Database)
		return repo, nil

	case "mongo":
		repo, err := auth.NewMongoUserRepo(cfg.Mongo)
		if err != nil {
			return nil, fmt.Errorf("подключение MongoDB: %w", err)
		}
		logging.Info("✅ Учётные записи в MongoDB (%s)", cfg.Mongo.Database)
		return repo, nil

	case "", "memory":
		logging.Warn("⚠️ Учётные записи в памяти: встроенные test/test и admin/admin")
		return auth.NewMemoryUserRepo()

	default:
		logging.Warn("⚠️ Неизвестный бэкенд учёток %q, используется память", cfg.Backend)
		return auth.NewMemoryUserRepo()
	}
}

// CloseRepository закрывает репозиторий, если бэкенд держит соединение
func CloseRepository(repo auth.UserRepository) {
	if closer, ok := repo.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logging.Error("Закрытие репозитория учёток: %v", err)
		}
	}
}
