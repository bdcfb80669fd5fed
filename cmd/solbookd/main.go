package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/betbot/solbook/internal/app"
	"github.com/betbot/solbook/internal/metrics"
	"github.com/betbot/solbook/pkg/config"
	"github.com/betbot/solbook/pkg/logger"
	"github.com/betbot/solbook/pkg/shutdown"
)

func main() {
	// .env 可选，缺失时只用真实环境变量
	_ = godotenv.Load()

	var (
		configPath = flag.String("config", os.Getenv("SOLBOOK_CONFIG"), "配置文件路径（.yaml/.yml/.json）")
		listen     = flag.String("listen", "", "HTTP 监听地址，覆盖配置")
		debugAddr  = flag.String("debug-listen", "", "expvar/pprof 监听地址，覆盖配置")
	)
	flag.Parse()

	cfg, err := config.LoadFromFile(*configPath)
	if err != nil {
		fatal(err)
	}
	if *listen != "" {
		cfg.HTTP.Listen = *listen
	}
	if *debugAddr != "" {
		cfg.HTTP.DebugListen = *debugAddr
	}

	if err := logger.Init(app.LoggerConfig(cfg.Log, false)); err != nil {
		fatal(fmt.Errorf("初始化日志失败: %w", err))
	}
	if *configPath != "" {
		logrus.Infof("使用配置文件: %s", *configPath)
	}

	a, err := app.New(cfg, app.Options{})
	if err != nil {
		logrus.Errorf("初始化失败: %v", err)
		os.Exit(1)
	}

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	logDone := make(chan struct{})
	logger.StartLogRotationChecker(logDone)

	mgr := shutdown.NewManager()
	// 回调按注册的逆序执行：先停 HTTP，再关闭客户端
	mgr.OnShutdown("app", a.Close)
	mgr.OnShutdown("log_rotation", func(ctx context.Context) error {
		close(logDone)
		return nil
	})

	if err := a.Start(rootCtx); err != nil {
		logrus.Errorf("启动失败: %v", err)
		os.Exit(1)
	}

	if cfg.HTTP.DebugListen != "" {
		if _, err := metrics.StartAsync(rootCtx, cfg.HTTP.DebugListen); err != nil {
			logrus.Warnf("debug 服务启动失败: %v", err)
		}
	}

	httpSrv := &http.Server{
		Addr:              cfg.HTTP.Listen,
		Handler:           a.HTTP().Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	mgr.OnShutdown("http", httpSrv.Shutdown)

	go func() {
		logrus.Infof("solbookd listening on %s", cfg.HTTP.Listen)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Errorf("http server error: %v", err)
			rootCancel()
		}
	}()

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	select {
	case <-stopCh:
		logrus.Info("收到停止信号，正在关闭...")
	case <-rootCtx.Done():
	}
	rootCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	mgr.Shutdown(ctx)
	logrus.Info("solbookd 已停止")
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err.Error())
	os.Exit(1)
}
