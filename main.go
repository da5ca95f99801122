package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/abrino/abrinostore/auth"
	"github.com/abrino/abrinostore/bot"
	"github.com/abrino/abrinostore/cache"
	"github.com/abrino/abrinostore/catalog"
	"github.com/abrino/abrinostore/config"
	"github.com/abrino/abrinostore/gateway"
	"github.com/abrino/abrinostore/ingest"
	"github.com/abrino/abrinostore/limiter"
	"github.com/abrino/abrinostore/models"
	"github.com/abrino/abrinostore/routes"
	"github.com/abrino/abrinostore/telegram"
	"github.com/abrino/abrinostore/utils"
)

func main() {
	cfg := config.Load()

	if err := utils.InitLogger(cfg); err != nil {
		panic(err)
	}

	db := config.InitDatabase(&models.User{}, &models.File{})
	cat := catalog.New(db)

	if cfg.AdminEmail != "" && cfg.AdminPassword != "" {
		hash, err := utils.HashPassword(cfg.AdminPassword)
		if err != nil {
			utils.Sugar.Fatalf("hash admin password: %v", err)
		}
		if _, err := cat.EnsureAdmin(context.Background(), cfg.AdminEmail, hash); err != nil {
			utils.Sugar.Fatalf("ensure admin account: %v", err)
		}
	}

	rdb := utils.GetRedis()

	lim := limiter.New(
		limiter.NewRedisStore(rdb),
		cfg.RateLimitRequests,
		time.Duration(cfg.RateLimitWindowS)*time.Second,
		time.Duration(cfg.RateLimitMaxWaitS)*time.Second,
	)

	tg := telegram.NewClient(cfg.TelegramBotToken, "", 90*time.Second)
	gw := gateway.New(tg, lim, cfg.StorageChatID, cfg.MaxFileSizeBytes)

	store := cache.New(rdb,
		time.Duration(cfg.CacheFilesTTLS)*time.Second,
		time.Duration(cfg.CacheCategoriesTTLS)*time.Second,
		utils.Sugar,
	)

	coord := ingest.New(cat, gw, store, utils.Sugar)

	issuer := auth.NewIssuer(
		auth.NewRedisStore(rdb),
		cfg.JWTSecret,
		time.Duration(cfg.SessionTTLMinutes)*time.Minute,
		time.Duration(cfg.MagicLinkTTLMinutes)*time.Minute,
	)

	r := routes.SetupRouter(routes.Deps{
		DB:          db,
		Catalog:     cat,
		Issuer:      issuer,
		Coordinator: coord,
		Gateway:     gw,
		Cache:       store,
	})

	srv := utils.NewServer(":"+cfg.AppPort, r, 60*time.Second, 60*time.Second)

	if cfg.TelegramBotToken != "" {
		botCtx, stopBot := context.WithCancel(context.Background())
		b := bot.New(tg, gw, coord, cat, cfg.TelegramAdminID, utils.Sugar)
		go b.Run(botCtx)
		srv.OnShutdown(stopBot)
		utils.Sugar.Info("bot channel started")
	} else {
		utils.Sugar.Warn("no bot token configured, chat channel disabled")
	}

	utils.Sugar.Infof("starting server on port %s (graceful)", cfg.AppPort)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		utils.Sugar.Fatalf("server stopped with error: %v", err)
	}
}
