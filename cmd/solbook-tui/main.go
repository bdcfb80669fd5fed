package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gagliardetto/solana-go"
	"github.com/joho/godotenv"

	"github.com/betbot/solbook/internal/app"
	"github.com/betbot/solbook/pkg/config"
	"github.com/betbot/solbook/pkg/logger"
)

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", os.Getenv("SOLBOOK_CONFIG"), "配置文件路径（.yaml/.yml/.json）")
	flag.Parse()

	cfg, err := config.LoadFromFile(*configPath)
	if err != nil {
		fatal(err)
	}
	// 界面占用终端，日志只写文件
	if cfg.Log.File == "" {
		cfg.Log.File = "logs/solbook-tui.log"
	}
	if err := logger.Init(app.LoggerConfig(cfg.Log, true)); err != nil {
		fatal(fmt.Errorf("初始化日志失败: %w", err))
	}

	a, err := app.New(cfg, app.Options{})
	if err != nil {
		fatal(err)
	}
	var quoteMint solana.PublicKey
	if cfg.Market.QuoteMint != "" {
		if quoteMint, err = solana.PublicKeyFromBase58(cfg.Market.QuoteMint); err != nil {
			fatal(fmt.Errorf("invalid quote mint %q: %w", cfg.Market.QuoteMint, err))
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		fatal(err)
	}

	p := tea.NewProgram(newModel(ctx, a, quoteMint), tea.WithAltScreen())
	_, runErr := p.Run()

	cancel()
	closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer closeCancel()
	if err := a.Close(closeCtx); err != nil {
		logger.Warnf("关闭失败: %v", err)
	}
	if runErr != nil {
		fatal(fmt.Errorf("运行界面失败: %w", runErr))
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err.Error())
	os.Exit(1)
}
