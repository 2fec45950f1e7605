package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/spf13/pflag"

	"mucbot/internal/app"
	"mucbot/internal/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	var (
		cfgPath string
		envFile string
		debug   bool
	)
	pflag.StringVarP(&cfgPath, "config", "c", "config.yaml", "path to config file (yaml or json)")
	pflag.StringVar(&envFile, "env-file", ".env", "dotenv file with XMPP_* / BOT_* overrides (skipped if missing)")
	pflag.BoolVarP(&debug, "debug", "d", false, "force debug logging")
	pflag.Parse()

	env, err := config.LoadEnv(envFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	bot, err := app.New(cfgPath, app.WithEnv(env), app.WithDebug(debug), app.WithVersion(version))
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
	if err := bot.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		os.Exit(1)
	}

	select {
	case <-ctx.Done():
	case <-bot.Done():
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	_ = bot.Stop(stopCtx)
	if err := bot.Err(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}
