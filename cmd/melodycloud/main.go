package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:  "melodycloud",
		Usage: "Self-hosted music catalog with an admin upload page",
		Commands: []*cli.Command{
			serveCommand(),
			pruneCommand(),
			hashPasswordCommand(),
		},
		DefaultCommand: "serve",
	}

	if err := app.Run(ctx, os.Args); err != nil {
		logger.WithError(err).Fatal("melodycloud failed")
	}
}
