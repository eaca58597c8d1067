package main

import (
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"peerdesk-server/internal/audit"
	"peerdesk-server/internal/auth"
	"peerdesk-server/internal/config"
	"peerdesk-server/internal/server"
	"peerdesk-server/internal/store"
)

func main() {
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	gin.SetMode(cfg.GinMode)
	st := store.New()
	auditLog := audit.NewLogger(log.With().Str("component", "audit").Logger())

	reaper := store.NewReaper(st, cfg.ReaperInterval, cfg.ExpiredRetention, cfg.AuditRetention, auditLog)
	reaper.Start()
	defer reaper.Stop()

	tokenCfg := auth.TokenConfig{
		Secret: cfg.MasterSecret,
		Expiry: cfg.TokenExpiry,
		Issuer: "peerdesk-server",
	}

	router := server.NewRouter(server.Deps{
		Store:       st,
		Audit:       auditLog,
		TokenConfig: tokenCfg,
		SessionTTL:  cfg.SessionTTL,
	})

	log.Info().Str("addr", fmt.Sprintf(":%d", cfg.Port)).Msg("listening")
	log.Fatal().Err(server.Run(cfg, router)).Msg("server stopped")
}
