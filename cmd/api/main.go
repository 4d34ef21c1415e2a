package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"agentnet/internal/config"
	"agentnet/internal/httpapi"
	"agentnet/internal/mediastore"
	"agentnet/internal/oauth1"
	"agentnet/internal/pending"
	"agentnet/internal/store"
	"agentnet/internal/twitter"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	rewards, err := config.LoadRewards(cfg.RewardsFile)
	if err != nil {
		log.Fatalf("rewards: %v", err)
	}

	st, err := openStore(cfg, rewards)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer st.Close()

	pend, err := pending.Open(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB,
		time.Duration(cfg.HandshakeTTLSeconds)*time.Second)
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	defer pend.Close()

	var media mediastore.Store
	if cfg.MediaProvider != "" {
		media, err = mediastore.New(mediastore.Config{
			Provider:        cfg.MediaProvider,
			Endpoint:        cfg.MediaOSSEndpoint,
			Bucket:          cfg.MediaOSSBucket,
			BasePrefix:      cfg.MediaOSSBasePrefix,
			AccessKeyID:     cfg.MediaOSSAccessKeyID,
			AccessKeySecret: cfg.MediaOSSAccessSecret,
			LocalDir:        cfg.MediaLocalDir,
		})
		if err != nil {
			log.Fatalf("media store: %v", err)
		}
	}

	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: httpapi.NewRouter(httpapi.Deps{
			Store:   st,
			Pending: pend,
			Twitter: twitter.NewClient(),
			Media:   media,

			Pepper:        cfg.APIKeyPepper,
			PublicBaseURL: cfg.PublicBaseURL,
			EncryptionKey: cfg.EncryptionKey,

			TwitterConsumer: oauth1.Credentials{
				ConsumerKey:    cfg.TwitterConsumerKey,
				ConsumerSecret: cfg.TwitterConsumerSecret,
			},
			Rewards: rewards,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("api listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func openStore(cfg config.Config, rewards config.Rewards) (store.Store, error) {
	switch cfg.DatabaseDriver {
	case "sqlite":
		st, err := store.NewSQLite(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		st.StreakBonus = rewards.StreakBonus
		return st, nil
	default:
		st, err := store.NewPostgres(context.Background(), cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		st.StreakBonus = rewards.StreakBonus
		return st, nil
	}
}
