package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/aurachat/aurad/internal/app"
	"github.com/aurachat/aurad/internal/auth"
	"github.com/aurachat/aurad/internal/authprovider"
	"github.com/aurachat/aurad/internal/config"
	"github.com/aurachat/aurad/internal/presence"
	"github.com/aurachat/aurad/internal/registry"
	"github.com/aurachat/aurad/internal/render"
	"github.com/aurachat/aurad/internal/rooms"
	"github.com/aurachat/aurad/internal/seed"
	sig "github.com/aurachat/aurad/internal/signal"
	"github.com/aurachat/aurad/internal/store"
	"github.com/aurachat/aurad/internal/tokens"
	"github.com/aurachat/aurad/internal/transport/httpapi"
	"github.com/aurachat/aurad/internal/transport/ws"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	for _, dir := range []string{filepath.Dir(cfg.DBPath), cfg.UploadDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatal().Err(err).Str("dir", dir).Msg("create data directory")
		}
	}

	st, err := store.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("open store")
	}
	defer st.Close()

	provider, err := authprovider.NewLocal(st.DB())
	if err != nil {
		log.Fatal().Err(err).Msg("init auth provider")
	}

	if err := seed.Channels(ctx, cfg.SeedFile, st); err != nil {
		log.Fatal().Err(err).Msg("seed channels")
	}

	reg := registry.New()
	router := rooms.NewRouter(reg)
	roster := presence.NewAggregator(st, reg)
	tok := tokens.NewStore()
	authMgr := auth.NewManager(provider, st, reg, tok)
	relay := sig.NewRelay(reg)
	orch := app.NewOrchestrator(st, reg, router, roster, authMgr, relay, tok, render.NewSanitizer(), app.NewThresholdPolicy(8))

	ctl := &ws.Controller{
		Orch:        orch,
		Reg:         reg,
		BaseContext: ctx,
		EventRate:   rate.Limit(cfg.EventRate),
		EventBurst:  cfg.EventBurst,
	}

	r := httpapi.SetupRouter(cfg, ctl)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatal().Err(err).Str("addr", addr).Msg("listen")
	}

	go func() {
		// Listener is bound; clients may connect from here on.
		log.Info().Str("addr", addr).Msg("aurad server ready")
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
