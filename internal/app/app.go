// internal/app/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/Corphon/SceneWeaver/internal/api"
	"github.com/Corphon/SceneWeaver/internal/config"
	"github.com/Corphon/SceneWeaver/internal/content"
	"github.com/Corphon/SceneWeaver/internal/di"
	apperrors "github.com/Corphon/SceneWeaver/internal/errors"
	"github.com/Corphon/SceneWeaver/internal/services"
	"github.com/Corphon/SceneWeaver/internal/storage"
	"github.com/Corphon/SceneWeaver/internal/utils"
)

const shutdownTimeout = 30 * time.Second

// server is the part of *http.Server the app drives
type server interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// App 应用实例
type App struct {
	config   *config.AppConfig
	router   http.Handler
	server   server
	stopChan chan os.Signal
}

var (
	instance *App
	appMu    sync.Mutex
)

// GetApp 获取应用单例
func GetApp() *App {
	appMu.Lock()
	defer appMu.Unlock()

	if instance == nil {
		instance = &App{
			stopChan: make(chan os.Signal, 1),
		}
	}
	return instance
}

// Initialize loads configuration from configPath, starts logging, builds
// every service and the router
func Initialize(configPath string) error {
	if err := config.InitConfig(configPath); err != nil {
		return fmt.Errorf("初始化配置失败: %w", err)
	}

	app := GetApp()
	app.config = config.GetCurrentConfig()

	if err := initLogger(app.config.LogDir); err != nil {
		return fmt.Errorf("初始化日志系统失败: %w", err)
	}
	if app.config.DebugMode {
		utils.GetLogger().SetLogLevel(utils.DEBUG)
	}

	if err := InitServices(); err != nil {
		return fmt.Errorf("初始化服务失败: %w", err)
	}

	router, err := api.SetupRouter()
	if err != nil {
		return fmt.Errorf("设置路由失败: %w", err)
	}
	app.router = router
	return nil
}

// initLogger writes a dated log file under logDir
func initLogger(logDir string) error {
	if logDir == "" {
		logDir = "logs"
	}
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return fmt.Errorf("创建日志目录失败: %w", err)
	}
	logFile := filepath.Join(logDir, fmt.Sprintf("sceneweaver_%s.log", time.Now().Format("2006-01-02")))
	return utils.InitLogger(logFile)
}

// InitServices 初始化所有服务（按依赖顺序）and registers them in the container:
// storage, catalog, metrics, sessions, websocket, ratelimiter
func InitServices() error {
	cfg := config.GetCurrentConfig()
	container := di.GetContainer()
	logger := utils.GetLogger()

	def, err := content.LoadFile(cfg.ContentFile)
	if err != nil {
		return fmt.Errorf("load content: %w", err)
	}
	catalog, err := services.LoadCatalog(def, services.CatalogOptions{
		Strict: cfg.StrictContent(),
		Logger: logger,
	})
	if err != nil {
		return err
	}
	logger.Info("Scene catalog loaded", map[string]interface{}{
		"source": catalog.Source(),
		"scenes": catalog.Len(),
		"strict": cfg.StrictContent(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	kv, err := storage.Open(ctx, storage.Options{
		Backend:     cfg.StorageBackend,
		DataDir:     cfg.DataDir,
		SQLitePath:  cfg.SQLitePath,
		PostgresDSN: cfg.PostgresDSN,
	})
	if err != nil {
		return apperrors.WrapError(err, "open storage", apperrors.ErrorTypePersistence)
	}
	container.RegisterWithCloser("storage", kv, func(context.Context) error { return kv.Close() })
	container.Register("catalog", catalog)

	metrics := utils.NewEngineMetrics(nil, logger)
	container.Register("metrics", metrics)

	sessions := services.NewSessionManager(catalog, kv, services.SessionOptions{
		Navigator: services.NavigatorConfig{
			AutoAdvanceDelay: cfg.AutoAdvanceDelay,
			RevealDelay:      cfg.RevealDelay,
		},
		SaveDebounce: cfg.SaveDebounce,
		TTL:          cfg.SessionTTL,
	}, logger, metrics)
	sessions.StartJanitor(janitorInterval(cfg.SessionTTL))
	container.RegisterWithCloser("sessions", sessions, sessions.Close)

	ws := api.NewWebSocketManager(logger)
	container.RegisterWithCloser("websocket", ws, func(context.Context) error {
		ws.Shutdown()
		return nil
	})

	limiter := api.NewRateLimiter(time.Hour)
	container.RegisterWithCloser("ratelimiter", limiter, func(context.Context) error {
		limiter.Stop()
		return nil
	})
	container.Register("debug", cfg.DebugMode)

	logger.Info("Services initialized", map[string]interface{}{
		"storage":  cfg.StorageBackend,
		"services": container.GetNames(),
	})
	return nil
}

func janitorInterval(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return time.Minute
	}
	if interval := ttl / 4; interval > time.Second {
		return interval
	}
	return time.Second
}

// Run serves until SIGINT/SIGTERM, then shuts down gracefully
func Run() error {
	app := GetApp()
	logger := utils.GetLogger()

	if app.server == nil {
		if app.router == nil {
			return fmt.Errorf("app not initialized")
		}
		app.server = &http.Server{
			Addr:              ":" + app.config.Port,
			Handler:           app.router,
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	signal.Notify(app.stopChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(app.stopChan)

	errChan := make(chan error, 1)
	go func() {
		if err := app.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()
	logger.Info("Server listening", map[string]interface{}{"port": app.config.Port})

	select {
	case sig := <-app.stopChan:
		logger.Info("Shutting down", map[string]interface{}{"signal": sig.String()})
	case err := <-errChan:
		app.cleanup()
		return fmt.Errorf("启动服务器失败: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	shutdownErr := app.server.Shutdown(ctx)
	app.cleanup()
	if shutdownErr != nil {
		return fmt.Errorf("服务器强制关闭: %w", shutdownErr)
	}
	logger.Info("Server stopped", nil)
	return nil
}

// cleanup flushes sessions and releases every registered service
func (app *App) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	logger := utils.GetLogger()
	if err := di.GetContainer().CloseAll(ctx); err != nil {
		logger.Error("Cleanup failed", map[string]interface{}{"error": err})
	}
	_ = logger.Sync()
}

// GetConfig 获取应用配置
func (app *App) GetConfig() *config.AppConfig {
	return app.config
}

// GetDIContainer 获取依赖注入容器
func (app *App) GetDIContainer() *di.Container {
	return di.GetContainer()
}

// IsDebugMode 是否调试模式
func IsDebugMode() bool {
	app := GetApp()
	return app.config != nil && app.config.DebugMode
}
