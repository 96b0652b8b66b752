package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/safeplay/safeplay-api/internal/activity"
	activityrepo "github.com/safeplay/safeplay-api/internal/activity/repo"
	"github.com/safeplay/safeplay-api/internal/command"
	commandrepo "github.com/safeplay/safeplay-api/internal/command/repo"
	"github.com/safeplay/safeplay-api/internal/config"
	"github.com/safeplay/safeplay-api/internal/httpx"
	"github.com/safeplay/safeplay-api/internal/mail"
	"github.com/safeplay/safeplay-api/internal/router"
	"github.com/safeplay/safeplay-api/internal/session"
	"github.com/safeplay/safeplay-api/internal/supervisor"
	supervisorrepo "github.com/safeplay/safeplay-api/internal/supervisor/repo"
	"github.com/safeplay/safeplay-api/pkg/database"
	"github.com/safeplay/safeplay-api/pkg/utilities"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	// init logger
	lg, err := utilities.Init(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()

	sugar := lg.Sugar()
	sugar.Infow("starting safeplay-api", "env", cfg.Env, "db", cfg.Database.Driver, "mail", cfg.Mail.Provider)

	// init db
	db, err := database.Connect(cfg.Database)
	if err != nil {
		sugar.Fatalf("db connect: %v", err)
	}
	defer db.Close()

	supervisors := supervisorrepo.NewSupervisorRepo(db)
	commands := commandrepo.NewCommandRepo(db)
	activities := activityrepo.NewActivityRepo(db)

	// parents first: children reference supervisors
	initCtx, cancelInit := context.WithTimeout(context.Background(), 10*time.Second)
	for _, t := range []struct {
		name   string
		ensure func(context.Context) error
	}{
		{"supervisors", supervisors.EnsureTable},
		{"commands", commands.EnsureTable},
		{"activity_logs", activities.EnsureTable},
	} {
		if err := t.ensure(initCtx); err != nil {
			sugar.Fatalf("ensure %s table: %v", t.name, err)
		}
	}
	cancelInit()

	sender, err := mail.NewSender(cfg.Mail, sugar)
	if err != nil {
		sugar.Fatalf("mail: %v", err)
	}
	mailer := mail.NewMailer(sender, cfg.Mail, utilities.NewIDGenerator(cfg.SnowflakeNode), sugar)

	issuer, err := session.NewIssuer(session.Config{Secret: cfg.Auth.JWTSecret, TTL: cfg.Auth.JWTExpire})
	if err != nil {
		sugar.Fatalf("session: %v", err)
	}

	rs := httpx.NewResponder(sugar, cfg.Dev())

	supervisorSvc := supervisor.NewService(supervisor.Deps{
		Repo:     supervisors,
		Mailer:   mailer,
		Sessions: issuer,
		Logger:   sugar,
	}, supervisor.Config{
		BaseURL:                  cfg.BaseURL,
		RequireEmailVerification: cfg.Auth.RequireEmailVerification,
		EnforcePasswordPolicy:    cfg.Auth.PasswordPolicy,
		MaxFailed:                cfg.Auth.MaxFailedLogins,
		VerifyTTL:                cfg.Auth.VerifyTTL,
		ResetTTL:                 cfg.Auth.ResetTTL,
	})
	commandSvc := command.NewService(commands, sugar, nil)
	activitySvc := activity.NewService(activity.Deps{
		Repo: activities,
		Accounts: activity.RecipientFunc(func(ctx context.Context, id int64) (activity.Recipient, error) {
			s, err := supervisors.GetByID(ctx, id)
			if err != nil {
				return activity.Recipient{}, err
			}
			return activity.Recipient{Email: s.Email, FullName: s.FullName}, nil
		}),
		Mailer: mailer,
		Logger: sugar,
	})

	var limiter *router.RateLimiter
	if cfg.RateLimit.PerMinute > 0 {
		limiter = router.NewRateLimiter(cfg.RateLimit.PerMinute, cfg.RateLimit.Burst)
		if cfg.RateLimit.ProxyHeader != "" {
			limiter.TrustProxyHeader(cfg.RateLimit.ProxyHeader)
		}
	}

	handler := router.RegisterRoutes(router.Deps{
		Logger:      sugar,
		DB:          db,
		Responder:   rs,
		Sessions:    issuer,
		Supervisors: supervisor.NewHandler(supervisorSvc, rs, sugar),
		Commands:    command.NewHandler(commandSvc, rs),
		Activity:    activity.NewHandler(activitySvc, rs),
		Limiter:     limiter,
	})

	// graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// run server in background
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sugar.Fatalf("http server failed: %v", err)
		}
	}()
	sugar.Infow("listening", "addr", cfg.Addr)

	<-ctx.Done()

	sugar.Info("shutting down")

	doneCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(doneCtx); err != nil {
		sugar.Warnf("http server shutdown failed: %v", err)
	}

	sugar.Info("goodbye")
}
