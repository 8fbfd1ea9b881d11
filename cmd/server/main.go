// cmd/server/main.go
package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/Corphon/SceneWeaver/internal/app"
	"github.com/Corphon/SceneWeaver/internal/config"
	"github.com/Corphon/SceneWeaver/internal/di"
	"github.com/Corphon/SceneWeaver/internal/utils"
)

func main() {
	log.Println("🚀 启动 SceneWeaver 服务器...")

	// 1. 首先加载基础配置
	baseConfig, err := config.Load()
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	// 2. 创建必要的目录
	if err := createDirectories(baseConfig); err != nil {
		log.Fatalf("创建目录失败: %v", err)
	}

	// 3. 配置、日志、服务与路由
	if err := app.Initialize(baseConfig.DataDir); err != nil {
		log.Fatalf("初始化失败: %v", err)
	}

	if err := performHealthCheck(); err != nil {
		utils.GetLogger().Warn("Service health check failed", map[string]interface{}{"error": err})
	}

	utils.GetLogger().Info("Server starting", map[string]interface{}{
		"url":     "http://localhost:" + baseConfig.Port,
		"storage": baseConfig.StorageBackend,
	})

	// 4. 启动服务器, blocking until SIGINT/SIGTERM
	if err := app.Run(); err != nil {
		log.Fatalf("❌ %v", err)
	}
}

// 健康检查函数
func performHealthCheck() error {
	container := di.GetContainer()

	for _, serviceName := range []string{"storage", "catalog", "sessions", "websocket"} {
		if !container.Has(serviceName) {
			return fmt.Errorf("关键服务未注册: %s", serviceName)
		}
	}
	return nil
}

// createDirectories 创建应用所需的目录结构
func createDirectories(cfg *config.AppConfig) error {
	dirs := []string{
		cfg.DataDir,
		filepath.Join(cfg.DataDir, "saves"),
		cfg.LogDir,
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("%s: %w", dir, err)
		}
	}
	return nil
}
