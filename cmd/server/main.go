package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"go.uber.org/zap"

	"github.com/Tyrowin/hivechat/internal/auth"
	"github.com/Tyrowin/hivechat/internal/config"
	"github.com/Tyrowin/hivechat/internal/logging"
	"github.com/Tyrowin/hivechat/internal/realtime"
	"github.com/Tyrowin/hivechat/internal/server"
	"github.com/Tyrowin/hivechat/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(cfg.LogLevel, cfg.LogFormat)
	defer func() { _ = log.Sync() }()

	for _, origin := range cfg.IgnoredOrigins() {
		log.Warn("ignoring invalid origin in configuration", zap.String("origin", origin))
	}

	if !cfg.RequireWSAuth {
		log.Info("websocket upgrades without a token are accepted; set REQUIRE_WS_AUTH to refuse them")
	}

	st, err := openStore(cfg, log)
	if err != nil {
		log.Fatal("open store", zap.Error(err))
	}

	secret := cfg.JWTSecret
	if secret == "" {
		secret = randomSecret()
		log.Warn("JWT_SECRET not set, using a random secret; tokens will not survive a restart")
	}
	issuer := auth.NewIssuer(secret, cfg.TokenTTL)

	reg := realtime.NewRegistry(realtime.Options{
		MaxMessageSize: cfg.MaxMessageSize,
		RateBurst:      cfg.RateLimit.Burst,
		RateInterval:   cfg.RateLimit.RefillInterval,
	}, log.Named("realtime"))
	membership := realtime.NewMembership(reg, log.Named("membership"))
	router := realtime.NewRouter(reg, membership, st, cfg.FanoutTimeout, log.Named("router"))

	engine := server.SetupRoutes(server.Deps{
		Config:   cfg,
		Store:    st,
		Issuer:   issuer,
		Registry: reg,
		Router:   router,
		Log:      log.Named("http"),
	})
	httpServer := server.CreateServer(cfg.Port, engine)

	go func() {
		if err := server.StartServer(httpServer, log); err != nil {
			log.Fatal("server stopped", zap.Error(err))
		}
	}()

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"hivechat": func(ctx context.Context) error {
				log.Info("graceful shutdown initiated")
				if err := server.ShutdownServer(httpServer, cfg.ShutdownTimeout, log); err != nil {
					log.Warn("http shutdown", zap.Error(err))
				}
				if err := reg.Shutdown(cfg.ShutdownTimeout); err != nil {
					log.Warn("registry shutdown", zap.Error(err))
				}
				return st.Close(ctx)
			},
		},
	)

	exitCode := <-wait
	log.Info("application exited", zap.Int("code", exitCode))
	_ = log.Sync()
	os.Exit(exitCode)
}

func openStore(cfg config.Config, log *zap.Logger) (store.Store, error) {
	if cfg.StoreDriver == config.StoreMemory {
		log.Warn("using in-memory store, data is lost on exit")
		return store.NewMemory(), nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	st, err := store.NewMongo(ctx, store.MongoConfig{
		URI:         cfg.Mongo.URI,
		Database:    cfg.Mongo.Database,
		MaxPoolSize: cfg.Mongo.MaxPoolSize,
	})
	if err != nil {
		return nil, err
	}
	log.Info("connected to mongo", zap.String("database", cfg.Mongo.Database))
	return st, nil
}

func randomSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}
