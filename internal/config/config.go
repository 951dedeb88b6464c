package config

import (
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config корневая структура конфигурации сервера.
// Любая секция может отсутствовать — тогда действуют дефолты.

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	World      WorldConfig      `yaml:"world"`
	Transition TransitionConfig `yaml:"transition"`
	Storage    StorageConfig    `yaml:"storage"`
	EventBus   EventBusConfig   `yaml:"eventbus"`
	Auth       AuthConfig       `yaml:"auth"`
}

type ServerConfig struct {
	TCPPort     int `yaml:"tcp_port"`
	UDPPort     int `yaml:"udp_port"`
	RESTPort    int `yaml:"rest_port"`
	MetricsPort int `yaml:"metrics_port"`
}

// WorldConfig задаёт параметры роста графа регионов. Нулевые веса
// ветвления заменяются дефолтами классификатора.
type WorldConfig struct {
	Seed             int64  `yaml:"seed"`
	HubInterval      int    `yaml:"hub_interval"`
	HubPadMin        int    `yaml:"hub_pad_min"`
	HubPadMax        int    `yaml:"hub_pad_max"`
	SpurChance       int    `yaml:"spur_chance"`
	HubCorridorBound int    `yaml:"hub_corridor_bound"`
	CorridorChance   int    `yaml:"corridor_chance"`
	Scope            string `yaml:"scope"` // shared | per_player
}

// TransitionConfig задаёт тайминги протокола перехода.
type TransitionConfig struct {
	PadDebounceMs    int `yaml:"pad_debounce_ms"`
	FadeInTimeoutSec int `yaml:"fade_in_timeout_seconds"`
}

// StorageConfig выбирает бэкенд сохранений и его адреса.
type StorageConfig struct {
	Backend    string `yaml:"backend"` // memory | badger | redis | mongo | maria
	BadgerPath string `yaml:"badger_path"`
	RedisAddr  string `yaml:"redis_addr"`
	MongoURI   string `yaml:"mongo_uri"`
	MariaDSN   string `yaml:"maria_dsn"`
}

type EventBusConfig struct {
	URL       string `yaml:"url"`
	Stream    string `yaml:"stream"`
	Retention int    `yaml:"retention_hours"`
}

type AuthConfig struct {
	JWTSecret   string         `yaml:"jwt_secret"`
	TokenTTLMin int            `yaml:"token_ttl_minutes"`
	Accounts    AccountsConfig `yaml:"accounts"`
}

// AccountsConfig выбирает хранилище учётных записей. Отдельно от
// StorageConfig: сохранения мира и учётки могут жить в разных базах.
type AccountsConfig struct {
	Backend       string `yaml:"backend"` // memory | maria | mongo
	MariaHost     string `yaml:"maria_host"`
	MariaPort     int    `yaml:"maria_port"`
	MariaDatabase string `yaml:"maria_database"`
	MariaUsername string `yaml:"maria_username"`
	MariaPassword string `yaml:"maria_password"`
	MongoURI      string `yaml:"mongo_uri"`
}

// GetTCPPort возвращает TCP порт с поддержкой fallback значений
func (s *ServerConfig) GetTCPPort() int {
	return getPortWithEnvFallback(s.TCPPort, "RIFT_TCP_PORT", 7777)
}

// GetUDPPort возвращает UDP (KCP) порт с поддержкой fallback значений
func (s *ServerConfig) GetUDPPort() int {
	return getPortWithEnvFallback(s.UDPPort, "RIFT_UDP_PORT", 7778)
}

// GetRESTPort возвращает REST API порт с поддержкой fallback значений
func (s *ServerConfig) GetRESTPort() int {
	return getPortWithEnvFallback(s.RESTPort, "RIFT_REST_PORT", 8088)
}

// GetMetricsPort возвращает Prometheus метрики порт с поддержкой fallback значений
func (s *ServerConfig) GetMetricsPort() int {
	return getPortWithEnvFallback(s.MetricsPort, "RIFT_METRICS_PORT", 2112)
}

// GetSeed возвращает зерно мира: config -> env -> 0 (случайное при старте)
func (w *WorldConfig) GetSeed() int64 {
	if w.Seed != 0 {
		return w.Seed
	}
	if envVal := os.Getenv("RIFT_WORLD_SEED"); envVal != "" {
		if seed, err := strconv.ParseInt(envVal, 10, 64); err == nil {
			return seed
		}
	}
	return 0
}

// GetHubInterval возвращает период появления хабов (каждый N-й регион)
func (w *WorldConfig) GetHubInterval() int {
	if w.HubInterval > 0 {
		return w.HubInterval
	}
	return 4
}

// GetScope возвращает область графа: shared или per_player
func (w *WorldConfig) GetScope() string {
	if w.Scope != "" {
		return w.Scope
	}
	if envVal := os.Getenv("RIFT_WORLD_SCOPE"); envVal != "" {
		return envVal
	}
	return "shared"
}

// GetPadDebounceMs возвращает окно дебаунса выхода с пада в миллисекундах
func (t *TransitionConfig) GetPadDebounceMs() int {
	if t.PadDebounceMs > 0 {
		return t.PadDebounceMs
	}
	return 1500
}

// GetFadeInTimeoutSec возвращает максимум ожидания подтверждения fade-in
func (t *TransitionConfig) GetFadeInTimeoutSec() int {
	if t.FadeInTimeoutSec > 0 {
		return t.FadeInTimeoutSec
	}
	return 10
}

// GetBackend возвращает бэкенд хранилища: config -> env -> memory
func (s *StorageConfig) GetBackend() string {
	if s.Backend != "" {
		return s.Backend
	}
	if envVal := os.Getenv("RIFT_STORAGE_BACKEND"); envVal != "" {
		return envVal
	}
	return "memory"
}

// GetBadgerPath возвращает путь каталога BadgerDB
func (s *StorageConfig) GetBadgerPath() string {
	if s.BadgerPath != "" {
		return s.BadgerPath
	}
	return "data/saves"
}

// GetRedisAddr возвращает адрес Redis
func (s *StorageConfig) GetRedisAddr() string {
	if s.RedisAddr != "" {
		return s.RedisAddr
	}
	if envVal := os.Getenv("RIFT_REDIS_ADDR"); envVal != "" {
		return envVal
	}
	return "localhost:6379"
}

// GetMongoURI возвращает строку подключения MongoDB
func (s *StorageConfig) GetMongoURI() string {
	if s.MongoURI != "" {
		return s.MongoURI
	}
	if envVal := os.Getenv("RIFT_MONGO_URI"); envVal != "" {
		return envVal
	}
	return "mongodb://localhost:27017"
}

// GetMariaDSN возвращает DSN MariaDB/MySQL
func (s *StorageConfig) GetMariaDSN() string {
	if s.MariaDSN != "" {
		return s.MariaDSN
	}
	return os.Getenv("RIFT_MARIA_DSN")
}

// GetJWTSecret возвращает секрет подписи токенов: config -> env -> dev-значение
func (a *AuthConfig) GetJWTSecret() string {
	if a.JWTSecret != "" {
		return a.JWTSecret
	}
	if envVal := os.Getenv("RIFT_JWT_SECRET"); envVal != "" {
		return envVal
	}
	return "dev-secret-change-me"
}

// GetTokenTTLMin возвращает время жизни токена в минутах
func (a *AuthConfig) GetTokenTTLMin() int {
	if a.TokenTTLMin > 0 {
		return a.TokenTTLMin
	}
	return 60
}

// GetBackend возвращает бэкенд учётных записей: config -> env -> memory
func (ac *AccountsConfig) GetBackend() string {
	if ac.Backend != "" {
		return ac.Backend
	}
	if envVal := os.Getenv("RIFT_ACCOUNTS_BACKEND"); envVal != "" {
		return envVal
	}
	return "memory"
}

// GetMariaHost возвращает хост MariaDB для учёток
func (ac *AccountsConfig) GetMariaHost() string {
	if ac.MariaHost != "" {
		return ac.MariaHost
	}
	return "localhost"
}

// GetMariaPort возвращает порт MariaDB для учёток
func (ac *AccountsConfig) GetMariaPort() int {
	if ac.MariaPort > 0 {
		return ac.MariaPort
	}
	return 3306
}

// GetMongoURI возвращает строку подключения MongoDB для учёток
func (ac *AccountsConfig) GetMongoURI() string {
	if ac.MongoURI != "" {
		return ac.MongoURI
	}
	if envVal := os.Getenv("RIFT_MONGO_URI"); envVal != "" {
		return envVal
	}
	return "mongodb://localhost:27017"
}

// getPortWithEnvFallback возвращает порт с приоритетом: config -> env -> default
func getPortWithEnvFallback(configPort int, envVar string, defaultPort int) int {
	// Если порт задан в конфиге и больше 0, используем его
	if configPort > 0 {
		return configPort
	}

	// Пробуем прочитать из environment variable
	if envVal := os.Getenv(envVar); envVal != "" {
		if port, err := strconv.Atoi(envVal); err == nil && port > 0 {
			return port
		}
	}

	// Используем дефолтное значение
	return defaultPort
}

// Load читает YAML файл конфигурации.
// Если path == "", пытается прочитать из ENV RIFT_CONFIG или возвращает nil, nil.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("RIFT_CONFIG")
		if path == "" {
			return nil, nil // конфиг не задан — использовать дефолты
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
