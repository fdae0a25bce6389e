package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"

	"github.com/go-go-golems/cricket/pkg/chatapi"
	"github.com/go-go-golems/cricket/pkg/config"
	"github.com/go-go-golems/cricket/pkg/history"
	"github.com/go-go-golems/cricket/pkg/redisstream"
	"github.com/go-go-golems/cricket/pkg/session"
	"github.com/go-go-golems/cricket/pkg/tokens"
)

// app is the wired session stack behind every command that talks to the
// backend. Close releases resources in reverse construction order.
type app struct {
	cfg       *config.Config
	client    *chatapi.Client
	store     *session.Store
	notifier  *session.Notifier
	service   *session.Service
	archive   *history.SQLiteArchive
	estimator *tokens.Estimator
}

func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	client, err := chatapi.New(chatapi.Config{
		BaseURL: cfg.API.BaseURL,
		Token:   apiToken(cfg),
		Timeout: cfg.API.Timeout,
	})
	if err != nil {
		return nil, err
	}

	var mirror message.Publisher
	if cfg.Redis.Enabled {
		pub, err := redisstream.BuildPublisher(cfg.Redis)
		if err != nil {
			return nil, err
		}
		mirror = pub
	}
	notifier := session.NewNotifier(session.NotifierConfig{Mirror: mirror})
	store := session.NewStore(session.WithChangePublisher(notifier))

	a := &app{cfg: cfg, client: client, store: store, notifier: notifier}
	svcCfg := session.ServiceConfig{
		API:            client,
		Store:          store,
		BaseCtx:        ctx,
		QuickChatTitle: cfg.Session.QuickChatTitle,
	}

	if cfg.History.Enabled {
		dsn, err := history.DSNForFile(cfg.History.Path)
		if err != nil {
			a.Close()
			return nil, err
		}
		arch, err := history.NewSQLiteArchive(dsn)
		if err != nil {
			a.Close()
			return nil, errors.Wrap(err, "open history archive")
		}
		a.archive = arch
		svcCfg.Archive = arch
	}

	if est, err := tokens.NewEstimator(); err != nil {
		log.Warn().Err(err).Msg("token estimator unavailable")
	} else {
		a.estimator = est
		svcCfg.Estimator = est
	}

	svc, err := session.NewService(svcCfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.service = svc
	return a, nil
}

func (a *app) Close() {
	if a == nil {
		return
	}
	if a.service != nil {
		a.service.Close()
	}
	if a.notifier != nil {
		_ = a.notifier.Close()
	}
	if a.archive != nil {
		_ = a.archive.Close()
	}
}

// apiToken falls back to an interactive no-echo prompt when the config
// carries no token. Non-interactive runs go out unauthenticated and let the
// server decide.
func apiToken(cfg *config.Config) string {
	if cfg.API.Token != "" {
		return cfg.API.Token
	}
	if !isatty.IsTerminal(os.Stdin.Fd()) {
		return ""
	}
	fmt.Fprint(os.Stderr, "API token (empty for none): ")
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}
