package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-user-management/internal/access"
	"github.com/ovaphlow/pitchfork/service-user-management/internal/org"
	"github.com/ovaphlow/pitchfork/service-user-management/internal/router"
	"github.com/ovaphlow/pitchfork/service-user-management/internal/session"
	"github.com/ovaphlow/pitchfork/service-user-management/internal/token"
	"github.com/ovaphlow/pitchfork/service-user-management/internal/user"
	"github.com/ovaphlow/pitchfork/service-user-management/pkg/config"
	"github.com/ovaphlow/pitchfork/service-user-management/pkg/database"
)

// app holds the wired services shared by the subcommands.
type app struct {
	db       *sqlx.DB
	orgs     *org.Service
	users    *user.UserService
	sessions *session.SessionService
	codec    *token.Codec
	policy   *access.Policy
}

func newApp(c *config.Config) (*app, error) {
	db, err := database.Connect(c.DatabaseConfig())
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	codec, err := token.NewCodec(token.Config{
		Secret:    c.Auth.JWTSecret,
		Algorithm: c.Auth.JWTAlgorithm,
		TTL:       c.TokenTTL(),
		Node:      c.Snowflake.Node,
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	policy, err := access.NewPolicy()
	if err != nil {
		db.Close()
		return nil, err
	}
	users := user.NewUserService(db, user.BcryptHasher{Cost: c.Auth.BcryptCost}, policy, sugar)
	return &app{
		db:       db,
		orgs:     org.NewService(db),
		users:    users,
		sessions: session.NewSessionService(users, codec),
		codec:    codec,
		policy:   policy,
	}, nil
}

func (a *app) migrate(ctx context.Context) error {
	if err := a.orgs.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure organisation tables: %w", err)
	}
	if err := a.users.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure users table: %w", err)
	}
	return nil
}

func (a *app) handler(c *config.Config) http.Handler {
	return router.New(router.Options{
		Logger:      sugar,
		Codec:       a.codec,
		Policy:      a.policy,
		Orgs:        org.NewHandler(a.orgs, sugar),
		Users:       user.NewHandler(a.users, sugar),
		Sessions:    session.NewHandler(a.sessions, sugar),
		BasePath:    c.Server.BasePath,
		CORSOrigins: c.Server.CORSOrigins,
	})
}
