package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/iabetor/speaktranslate/internal/config"
	"github.com/iabetor/speaktranslate/internal/logger"
	"github.com/iabetor/speaktranslate/internal/pipeline"
)

func main() {
	configPath := flag.String("config", "configs/speaktranslate.yaml", "配置文件路径")
	envFile := flag.String("env", ".env", "环境变量文件，不存在时忽略")
	flag.Parse()

	// .env 中的变量不会覆盖已有的环境变量
	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "加载 %s 失败: %v\n", *envFile, err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Infof("[main] speaktranslate 启动中 (addr=%s, log_level=%s)", cfg.Server.Addr, cfg.Log.Level)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 监听系统信号，优雅关闭
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Infof("[main] 收到信号 %v，正在关闭...", sig)
		cancel()
	}()

	p, err := pipeline.New(cfg)
	if err != nil {
		logger.Errorf("[main] 初始化失败: %v", err)
		logger.Sync()
		os.Exit(1)
	}
	defer p.Close()

	if err := p.Run(ctx); err != nil {
		logger.Errorf("[main] 服务运行出错: %v", err)
		p.Close()
		logger.Sync()
		os.Exit(1)
	}

	logger.Info("[main] speaktranslate 已停止")
}
