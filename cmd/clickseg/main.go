package main

import (
	"flag"
	_ "image/jpeg"
	_ "image/png"
	"log"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/getcharzp/go-clickseg"
	"github.com/getcharzp/go-clickseg/internal/config"
	"github.com/getcharzp/go-clickseg/internal/tui"
	"github.com/getcharzp/go-clickseg/sam2"
)

func main() {
	configPath := flag.String("config", "config.yaml", "配置文件路径")
	flag.Parse()

	cfg := config.New(*configPath)
	logger, err := clickseg.NewLogger(cfg.Mode)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	sc := cfg.SAM2()
	sc.Logger = logger
	engine, err := sam2.NewEngine(sc)
	if err != nil {
		logger.Fatal("load sam2 models failed", zap.Error(err))
	}
	defer engine.Destroy()

	renderer, err := sam2.NewRenderer()
	if err != nil {
		logger.Fatal("init renderer failed", zap.Error(err))
	}
	defer renderer.Close()

	session := sam2.NewSession(engine, sc)
	defer session.Close()

	m := tui.New(session, renderer, tui.Options{
		ImagePath:  flag.Arg(0),
		ExportPath: cfg.Export.Path,
		Logger:     logger,
	})
	if _, err := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion()).Run(); err != nil {
		logger.Error("tui exited", zap.Error(err))
	}
}
