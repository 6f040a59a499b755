package main

import (
	"fmt"
	"log"
	"net/http"
	"strings"

	"cloudgate/internal/config"
	"cloudgate/internal/domain"
	"cloudgate/internal/infra/arm"
	"cloudgate/internal/infra/auth/oidc"
	"cloudgate/internal/infra/credstore/memory"
	credredis "cloudgate/internal/infra/credstore/redis"
	"cloudgate/internal/infra/db"
	httpinfra "cloudgate/internal/infra/http"
	"cloudgate/internal/usecase"
)

func main() {
	cfg := config.FromEnv()

	store, err := db.NewStore(cfg)
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}
	if err := store.Migrate(); err != nil {
		log.Fatalf("failed to migrate: %v", err)
	}

	credStore, err := newCredentialStore(cfg, store)
	if err != nil {
		log.Fatalf("failed to init credential store: %v", err)
	}

	armClient := arm.NewFromConfig(cfg)
	graph := arm.NewGraphFromConfig(cfg)
	access := &usecase.AccessChecker{
		Permissions:      armClient,
		ResourceAudience: cfg.ResourceManagerAudience,
	}
	subs := usecase.NewSubscriptionService(
		db.NewSubscriptionRepository(store.DB),
		armClient,
		graph,
		access,
		cfg.ClientID,
		strings.TrimRight(cfg.GraphURL, "/")+"/",
		cfg.RequiredRoleName,
	)

	httpClient := &http.Client{Timeout: cfg.HTTPClientTimeout()}
	srv := httpinfra.NewServer(cfg, httpinfra.ServerDeps{
		CredentialStore: credStore,
		Subscriptions:   subs,
		Resolver:        oidc.NewResolver(cfg.AuthorityFormat, httpClient),
	})
	if err := srv.Run(); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}

func newCredentialStore(cfg config.Config, store *db.Store) (domain.CredentialStore, error) {
	switch cfg.CredentialStoreBackend {
	case "redis":
		return credredis.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.TokenStoreStrictWrites)
	case "postgres":
		return db.NewCredentialRepository(store.DB, cfg.TokenStoreStrictWrites), nil
	case "memory":
		log.Printf("credential store running in memory, cached tokens will not survive restarts")
		return memory.New(cfg.TokenStoreStrictWrites), nil
	default:
		return nil, fmt.Errorf("unknown credential store backend %q", cfg.CredentialStoreBackend)
	}
}
