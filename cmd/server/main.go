package main

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/fabregas/media-chat/internal/history"
	"github.com/fabregas/media-chat/internal/server"
)

const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	code, err := run(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "media-chat: %v\n", err)
	}
	os.Exit(code)
}

func run(args []string) (int, error) {
	flags := flag.NewFlagSet("media-chat", flag.ContinueOnError)
	configPath := flags.String("config", "config.toml", "path to the TOML configuration file")
	addr := flags.String("addr", "", "listen address, overrides the configuration")
	dumpPath := flags.String("history", "", "history dump path, overrides the configuration")
	if err := flags.Parse(args); err != nil {
		return exitConfig, err
	}

	cfg, err := server.LoadConfig(*configPath, ".env")
	if err != nil {
		return exitConfig, err
	}
	if *addr != "" {
		cfg.Server.ListenAddr = *addr
	}
	if *dumpPath != "" {
		cfg.History.DumpPath = *dumpPath
	}
	cfg.Sanitize()
	if err := cfg.Validate(); err != nil {
		return exitConfig, err
	}

	log.Logger = server.NewLogger(cfg.Log, os.Stderr)

	store := history.New(cfg.History.Capacity)
	switch err := store.LoadFile(cfg.History.DumpPath); {
	case err == nil:
		log.Info().Str("path", cfg.History.DumpPath).Int("entries", store.Len()).Msg("history restored")
	case errors.Is(err, fs.ErrNotExist):
		log.Info().Str("path", cfg.History.DumpPath).Msg("no history dump, starting empty")
	default:
		log.Warn().Err(err).Str("path", cfg.History.DumpPath).Msg("ignoring unreadable history dump")
	}

	srv := server.New(cfg, store, log.Logger)
	srv.Start()

	httpServer := server.CreateServer(cfg.Server.ListenAddr, srv.Handler())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.StartServer(httpServer, log.Logger)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	code := exitOK
	select {
	case sig := <-sigCh:
		log.Info().Stringer("signal", sig).Msg("shutdown requested")
	case err := <-serveErr:
		if err != nil {
			log.Error().Err(err).Msg("HTTP server failed")
			code = exitRuntime
		}
	}

	timeout := cfg.ShutdownTimeout()
	if err := server.ShutdownServer(httpServer, timeout, log.Logger); err != nil {
		code = exitRuntime
	}
	if err := srv.Shutdown(timeout); err != nil {
		log.Warn().Err(err).Msg("hub shutdown incomplete")
	}

	if err := store.SaveFile(cfg.History.DumpPath); err != nil {
		log.Warn().Err(err).Str("path", cfg.History.DumpPath).Msg("failed to save history dump")
	} else {
		log.Info().Str("path", cfg.History.DumpPath).Int("entries", store.Len()).Msg("history saved")
	}

	return code, nil
}
