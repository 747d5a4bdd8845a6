package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/talkincode/keyshop/config"
	"github.com/talkincode/keyshop/internal/app"
	"github.com/talkincode/keyshop/internal/auth"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	h          = flag.Bool("h", false, "help usage")
	showVer    = flag.Bool("v", false, "show version")
	conffile   = flag.String("c", "", "config yaml file")
	dev        = flag.Bool("dev", false, "run in development mode")
	initdb     = flag.Bool("initdb", false, "drop every table, recreate them and load the demo catalog")
	token      = flag.Bool("token", false, "print an ADMIN bearer token and exit (development only)")
	tokenEmail = flag.String("token-email", "admin@keyshop.local", "email claim of the token minted by -token")
)

const version = "1.0.0"

func main() {
	flag.Parse()

	if *showVer {
		fmt.Println(version)
		return
	}
	if *h {
		flag.Usage()
		return
	}

	cfg, err := config.LoadConfig(*conffile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *dev {
		cfg.Logger.Mode = "development"
		cfg.System.Debug = true
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if *token {
		tok, err := auth.NewResolver(cfg.Auth.JwtSecret, cfg.Auth.TokenTTL).
			Sign(auth.Identity{Email: *tokenEmail, Role: auth.RoleAdmin})
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(tok)
		return
	}

	application := app.NewApplication(cfg)
	if err := application.Init(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer application.Release()

	if *initdb {
		if err := application.InitDb(); err != nil {
			zap.L().Error("initdb failed", zap.Error(err))
			os.Exit(1)
		}
		zap.L().Info("database initialized")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(application.Server().Start)
	g.Go(func() error {
		<-gctx.Done()
		return application.Server().Shutdown(10 * time.Second)
	})

	if err := g.Wait(); err != nil {
		zap.L().Error("server stopped", zap.Error(err))
	}
}
