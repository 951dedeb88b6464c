package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/annel0/rift-server/internal/auth"
	"github.com/annel0/rift-server/internal/game"
	"github.com/annel0/rift-server/internal/logging"
	"github.com/annel0/rift-server/internal/middleware"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

const serverVersion = "v0.4.1"

// RestServer административный REST API движка: вход по JWT, обзор
// графа регионов, сессии игроков, управление сохранениями.
type RestServer struct {
	router  *gin.Engine
	authn   *auth.Authenticator
	users   auth.UserRepository
	game    *game.RiftService
	port    string
	metrics *ServerMetrics
	httpSrv *http.Server
}

// Config содержит зависимости REST сервера
type Config struct {
	Port          string // например ":8088"
	Authenticator *auth.Authenticator
	UserRepo      auth.UserRepository
	Game          *game.RiftService
}

// NewRestServer создает REST сервер с наблюдаемостью поверх Gin
func NewRestServer(config Config) *RestServer {
	if config.Port == "" {
		config.Port = ":8088"
	}

	gin.SetMode(gin.ReleaseMode)

	router := gin.New()        // без стандартного logger/recovery
	router.Use(gin.Recovery()) // добавим только recovery

	// === Observability middleware ===
	loggerMw := middleware.NewRequestLogger()
	router.Use(loggerMw.Handler())

	router.Use(otelgin.Middleware("rift_api"))

	promMw := middleware.NewPrometheusMiddleware("rift_api")
	router.Use(promMw.Handler())
	promMw.RegisterMetricsEndpoint(router)

	server := &RestServer{
		router:  router,
		authn:   config.Authenticator,
		users:   config.UserRepo,
		game:    config.Game,
		port:    config.Port,
		metrics: NewServerMetrics(),
	}

	server.setupRoutes()
	return server
}

// setupRoutes настраивает маршруты REST API
func (rs *RestServer) setupRoutes() {
	// Middleware для CORS
	rs.router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	api := rs.router.Group("/api")

	// Вход без JWT защиты
	authGroup := api.Group("/auth")
	{
		authGroup.POST("/login", rs.handleLogin)
	}

	// Защищенные эндпоинты (требуют JWT)
	protected := api.Group("/")
	protected.Use(rs.jwtMiddleware())
	{
		protected.GET("/stats", rs.handleStats)
		protected.GET("/server", rs.handleServerInfo)
		protected.GET("/graph", rs.handleGraph)
		protected.GET("/players", rs.handlePlayers)
		protected.GET("/players/:id/session", rs.handlePlayerSession)

		// Разрушающие операции только для админов
		protected.DELETE("/players/:id/save", rs.adminMiddleware(), rs.handleClearPlayerSave)
		protected.DELETE("/world/save", rs.adminMiddleware(), rs.handleClearWorldSave)

		admin := protected.Group("/admin")
		admin.Use(rs.adminMiddleware())
		{
			admin.POST("/register", rs.handleAdminRegister)
		}
	}

	// Health check
	rs.router.GET("/health", rs.handleHealth)
}

// LoginRequest представляет запрос на вход
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse представляет ответ на вход
type LoginResponse struct {
	Success bool   `json:"success"`
	Token   string `json:"token,omitempty"`
	Message string `json:"message"`
	UserID  uint64 `json:"user_id,omitempty"`
	IsAdmin bool   `json:"is_admin,omitempty"`
}

// RegisterRequest представляет запрос на регистрацию
type RegisterRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
	IsAdmin  bool   `json:"is_admin"`
}

// GenericResponse представляет общий ответ API
type GenericResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// handleLogin обрабатывает запрос на вход
func (rs *RestServer) handleLogin(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, LoginResponse{
			Success: false,
			Message: "Неверный формат запроса",
		})
		return
	}

	token, user, err := rs.authn.Login(req.Username, req.Password)
	if err == auth.ErrBadCredentials || err == auth.ErrUserNotFound {
		c.JSON(http.StatusUnauthorized, LoginResponse{
			Success: false,
			Message: "Неверное имя пользователя или пароль",
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, LoginResponse{
			Success: false,
			Message: "Внутренняя ошибка сервера",
		})
		return
	}

	c.JSON(http.StatusOK, LoginResponse{
		Success: true,
		Token:   token,
		Message: "Успешная авторизация",
		UserID:  user.ID,
		IsAdmin: user.IsAdmin,
	})
}

// handleAdminRegister регистрирует нового пользователя (только админы)
func (rs *RestServer) handleAdminRegister(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{
			Success: false,
			Message: "Неверный формат запроса",
		})
		return
	}

	if len(req.Username) < 3 || len(req.Username) > 30 {
		c.JSON(http.StatusBadRequest, GenericResponse{
			Success: false,
			Message: "Имя пользователя должно быть от 3 до 30 символов",
		})
		return
	}

	if len(req.Password) < 6 {
		c.JSON(http.StatusBadRequest, GenericResponse{
			Success: false,
			Message: "Пароль должен быть минимум 6 символов",
		})
		return
	}

	passwordHash, err := auth.HashPassword(req.Password)
	if err != nil {
		c.JSON(http.StatusInternalServerError, GenericResponse{
			Success: false,
			Message: "Ошибка обработки пароля",
		})
		return
	}

	user, err := rs.users.CreateUser(req.Username, passwordHash, req.IsAdmin)
	if err == auth.ErrUserExists {
		c.JSON(http.StatusConflict, GenericResponse{
			Success: false,
			Message: "Пользователь уже существует",
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, GenericResponse{
			Success: false,
			Message: "Ошибка создания пользователя",
		})
		return
	}

	c.JSON(http.StatusCreated, GenericResponse{
		Success: true,
		Message: "Пользователь успешно создан",
		Data: map[string]interface{}{
			"user_id":  user.ID,
			"username": user.Username,
			"is_admin": user.IsAdmin,
		},
	})
}

// handleStats возвращает статистику движка и процесса
func (rs *RestServer) handleStats(c *gin.Context) {
	stats := make(map[string]interface{})

	stats["engine"] = rs.game.Stats()

	// Статистика учёток, если бэкенд её умеет
	if withStats, ok := rs.users.(interface {
		UserStats() (map[string]interface{}, error)
	}); ok {
		if userStats, err := withStats.UserStats(); err == nil {
			stats["users"] = userStats
		}
	}

	memoryMB, _ := rs.metrics.GetMemoryUsage()
	cpuPercent, _ := rs.metrics.GetCPUUsage()
	systemCPU, _ := rs.metrics.GetSystemCPUUsage()

	stats["server"] = map[string]interface{}{
		"uptime":      rs.metrics.GetUptime(),
		"memory_mb":   fmt.Sprintf("%.2f", memoryMB),
		"cpu_percent": fmt.Sprintf("%.2f", cpuPercent),
		"system_cpu":  fmt.Sprintf("%.2f", systemCPU),
		"server_time": time.Now().Unix(),
	}

	stats["memory_details"] = rs.metrics.GetDetailedMemoryStats()

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Статистика получена",
		Data:    stats,
	})
}

// handleServerInfo возвращает краткую информацию о сервере
func (rs *RestServer) handleServerInfo(c *gin.Context) {
	memoryMB, _ := rs.metrics.GetMemoryUsage()
	cpuPercent, _ := rs.metrics.GetCPUUsage()

	info := map[string]interface{}{
		"version":     serverVersion,
		"name":        "Rift Server",
		"status":      "running",
		"uptime":      rs.metrics.GetUptime(),
		"memory_mb":   fmt.Sprintf("%.1f", memoryMB),
		"cpu_percent": fmt.Sprintf("%.1f", cpuPercent),
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Информация о сервере",
		Data:    info,
	})
}

// handleGraph возвращает обзор графа регионов. В личных мирах граф
// выбирается параметром ?player=<id>.
func (rs *RestServer) handleGraph(c *gin.Context) {
	player := c.Query("player")

	regions, ok := rs.game.GraphOverview(player)
	if !ok {
		c.JSON(http.StatusNotFound, GenericResponse{
			Success: false,
			Message: "Граф для указанного игрока ещё не создан",
		})
		return
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Обзор графа регионов",
		Data: map[string]interface{}{
			"regions": regions,
			"total":   len(regions),
		},
	})
}

// handlePlayers возвращает список подключённых игроков
func (rs *RestServer) handlePlayers(c *gin.Context) {
	players := rs.game.OnlinePlayers()

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Подключённые игроки",
		Data: map[string]interface{}{
			"players": players,
			"total":   len(players),
		},
	})
}

// handlePlayerSession возвращает срез сессии игрока
func (rs *RestServer) handlePlayerSession(c *gin.Context) {
	playerID := c.Param("id")

	regionID, online := rs.game.CurrentRegion(playerID)
	if !online {
		c.JSON(http.StatusNotFound, GenericResponse{
			Success: false,
			Message: "Игрок не в игре",
		})
		return
	}

	session := map[string]interface{}{
		"player_id": playerID,
		"region_id": regionID,
		"phase":     rs.game.Phase(playerID).String(),
	}

	if pos, ok := rs.game.Position(playerID); ok {
		session["position"] = map[string]float64{"x": pos.X, "y": pos.Y}
	}

	if area, ok := rs.game.AreaInfo(playerID); ok {
		session["region_num"] = area.RegionNum
		session["room_id"] = area.RoomID
		session["visited_rooms"] = area.Visited
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Сессия игрока",
		Data:    session,
	})
}

// handleClearPlayerSave удаляет сохранение игрока
func (rs *RestServer) handleClearPlayerSave(c *gin.Context) {
	playerID := c.Param("id")

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	if err := rs.game.ClearPlayerSave(ctx, playerID); err != nil {
		c.JSON(http.StatusInternalServerError, GenericResponse{
			Success: false,
			Message: fmt.Sprintf("Очистка сохранения: %v", err),
		})
		return
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: fmt.Sprintf("Сохранение игрока %s удалено", playerID),
	})
}

// handleClearWorldSave удаляет снимок общего мира
func (rs *RestServer) handleClearWorldSave(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	if err := rs.game.ClearWorldSave(ctx); err != nil {
		c.JSON(http.StatusConflict, GenericResponse{
			Success: false,
			Message: fmt.Sprintf("Очистка мира: %v", err),
		})
		return
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Снимок общего мира удалён",
	})
}

// handleHealth проверка состояния сервера
func (rs *RestServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().Unix(),
	})
}

// Start запускает REST сервер в фоне
func (rs *RestServer) Start() error {
	rs.httpSrv = &http.Server{
		Addr:    rs.port,
		Handler: rs.router,
	}

	go func() {
		if err := rs.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("❌ REST API сервер: %v", err)
		}
	}()

	logging.Info("✅ REST API сервер запущен на http://localhost%s", rs.port)
	return nil
}

// Stop останавливает REST сервер, дожидаясь активных запросов
func (rs *RestServer) Stop() error {
	if rs.httpSrv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := rs.httpSrv.Shutdown(ctx); err != nil {
		return fmt.Errorf("остановка REST сервера: %w", err)
	}
	logging.Info("✅ REST API сервер остановлен")
	return nil
}

// Router отдаёт роутер для тестов
func (rs *RestServer) Router() http.Handler {
	return rs.router
}
