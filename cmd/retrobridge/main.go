// Package main runs the RetroBridge relay between a Mattermost team and
// 8-bit terminals connected over Telnet.
package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"log"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/cory-johannsen/retrobridge/internal/bridge"
	"github.com/cory-johannsen/retrobridge/internal/chat/mattermost"
	"github.com/cory-johannsen/retrobridge/internal/codec"
	"github.com/cory-johannsen/retrobridge/internal/config"
	"github.com/cory-johannsen/retrobridge/internal/frontend/session"
	"github.com/cory-johannsen/retrobridge/internal/frontend/telnet"
	"github.com/cory-johannsen/retrobridge/internal/gateway"
	"github.com/cory-johannsen/retrobridge/internal/observability"
	"github.com/cory-johannsen/retrobridge/internal/server"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "", "path to configuration file (defaults and environment only when empty)")
	envPath := flag.String("env", ".env", "path to an optional dotenv file with credentials")
	flag.Parse()

	if err := godotenv.Load(*envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("loading %s: %v", *envPath, err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging, "retrobridge")
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()
	defer observability.Install(logger)()

	logger.Info("starting RetroBridge",
		zap.String("telnet_addr", cfg.Telnet.Addr()),
		zap.String("codec", cfg.Telnet.Codec),
		zap.String("mattermost_url", cfg.Mattermost.ServerURL),
		zap.Bool("mattermost_configured", cfg.Mattermost.Configured()),
	)

	textCodec, err := codec.DefaultRegistry().Lookup(cfg.Telnet.Codec)
	if err != nil {
		logger.Fatal("resolving codec", zap.Error(err))
	}

	// Terminal side
	profile := telnet.DefaultProfile()
	profile.Echo = cfg.Telnet.Echo
	sessions := session.NewManager(gateway.TerminalName, session.Options{
		Codec:        textCodec,
		Framing:      session.DefaultFraming(),
		MaxLineBytes: cfg.Telnet.MaxLineBytes,
	}, profile, logger.Named("sessions"))
	acceptor := telnet.NewAcceptor(cfg.Telnet, sessions, logger.Named("telnet"))
	terminal := gateway.NewTerminal(sessions, acceptor, logger.Named("terminal"))

	// Chat side
	client := mattermost.New(cfg.Mattermost, logger.Named("mattermost"))
	chat := gateway.NewChat(client, logger.Named("chat"))

	br := bridge.New(cfg.Bridge.TickInterval, logger.Named("bridge"), terminal, chat)

	// Wire lifecycle
	lifecycle := server.NewLifecycle(logger)

	lifecycle.Add("telnet", &server.FuncService{
		StopFn: terminal.Stop,
	})

	lifecycle.Add("mattermost", &server.FuncService{
		StopFn: func() {
			if err := chat.Close(); err != nil {
				logger.Warn("closing mattermost client", zap.Error(err))
			}
		},
	})

	lifecycle.Add("bridge", &server.FuncService{
		StartFn: br.Run,
	})

	logger.Info("bridge initialized",
		zap.Duration("startup", time.Since(start)),
		zap.Duration("tick_interval", cfg.Bridge.TickInterval),
	)

	if err := lifecycle.Run(context.Background()); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}
