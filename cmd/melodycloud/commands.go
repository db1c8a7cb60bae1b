package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"melodycloud/internal/audit"
	"melodycloud/internal/auth"
	"melodycloud/internal/catalog"
	"melodycloud/internal/config"
	"melodycloud/internal/content"
	"melodycloud/internal/library"
	"melodycloud/internal/ngrok"
	"melodycloud/internal/server"
	"melodycloud/internal/watcher"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"
)

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to configuration file",
		Value:   "config.toml",
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:   "serve",
		Usage:  "Serve the site, the catalog and the admin API",
		Flags:  []cli.Flag{configFlag()},
		Action: serve,
	}
}

func pruneCommand() *cli.Command {
	return &cli.Command{
		Name:  "prune",
		Usage: "Drop records whose audio is gone and delete unreferenced files",
		Flags: []cli.Flag{
			configFlag(),
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "Report what would change without changing anything",
			},
		},
		Action: prune,
	}
}

func hashPasswordCommand() *cli.Command {
	return &cli.Command{
		Name:  "hash-password",
		Usage: "Print a bcrypt hash for ADMIN_PASSWORD_HASH",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "password",
				Usage: "Password to hash (read from stdin when omitted)",
			},
		},
		Action: hashPassword,
	}
}

// app holds everything built from one configuration file.
type app struct {
	cfg     *config.Config
	logger  *logrus.Logger
	journal *audit.Journal
	library *library.Service
	closers []io.Closer
}

func newApp(configPath string) (*app, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	logger, logCloser, err := cfg.NewLogger()
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, closers: []io.Closer{logCloser}}

	if _, err := os.Stat(cfg.Server.SiteRoot); err != nil {
		a.Close()
		return nil, fmt.Errorf("site root %s: %w", cfg.Server.SiteRoot, err)
	}

	var opts []library.Option
	if cfg.Audit.Enabled {
		journal, err := audit.Open(cfg.Audit.Path, logger)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("open audit journal: %w", err)
		}
		a.journal = journal
		a.closers = append(a.closers, journal)
		opts = append(opts, library.WithJournal(journal))
	}

	store := catalog.New(cfg.SitePath(cfg.Catalog.DocumentPath), logger)
	a.library = library.NewService(library.Config{
		MusicDir:           cfg.Catalog.MusicDir,
		CoversDir:          cfg.Catalog.CoversDir,
		DefaultCover:       cfg.Catalog.DefaultCover,
		MaxAudioBytes:      cfg.Uploads.MaxAudioBytes,
		MaxCoverBytes:      cfg.Uploads.MaxCoverBytes,
		PreferEmbeddedTags: cfg.Uploads.PreferEmbeddedTags,
	}, store, content.NewLocal(cfg.Server.SiteRoot), logger, opts...)

	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i].Close()
	}
}

func serve(ctx context.Context, cmd *cli.Command) error {
	a, err := newApp(cmd.String("config"))
	if err != nil {
		return err
	}
	defer a.Close()

	guard := auth.NewGuard(a.cfg.Auth, a.cfg.SessionTTL(), a.logger)
	defer guard.Close()
	if !guard.Enabled() {
		a.logger.Warnf("%s is not set; uploads and deletes are disabled", config.EnvAdminPasswordHash)
	}

	deps := server.Deps{
		Library: a.library,
		Guard:   guard,
		Journal: a.journal,
	}

	if a.cfg.Watcher.Enabled {
		deps.Watcher = watcher.New(watcher.Options{
			SiteRoot:  a.cfg.Server.SiteRoot,
			Dirs:      []string{a.cfg.Catalog.MusicDir, a.cfg.Catalog.CoversDir},
			Debounce:  time.Duration(a.cfg.Watcher.DebounceSeconds) * time.Second,
			AutoPrune: a.cfg.Watcher.AutoPrune,
		}, a.library.Catalog(), a.library, a.logger)
	}

	tunnel, err := ngrok.NewService(&a.cfg.Ngrok, a.logger)
	switch {
	case errors.Is(err, ngrok.ErrNoAuthToken):
		a.logger.Warn("ngrok is enabled but no auth token is configured; running locally only")
	case err != nil:
		return err
	case tunnel != nil:
		deps.Ngrok = tunnel
	}

	if tracks, err := a.library.Catalog().Read(); err != nil {
		a.logger.WithError(err).Warn("Catalog document is unreadable; it will be treated as empty")
	} else if len(tracks) == 0 {
		a.logger.WithField("catalog", a.cfg.Catalog.DocumentPath).Info("Catalog is empty")
	}

	return server.New(a.cfg, deps, a.logger).Start(ctx)
}

func prune(ctx context.Context, cmd *cli.Command) error {
	a, err := newApp(cmd.String("config"))
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.library.Prune(ctx, cmd.Bool("dry-run"))
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func hashPassword(ctx context.Context, cmd *cli.Command) error {
	password := cmd.String("password")
	if password == "" {
		fmt.Fprint(os.Stderr, "Password: ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read password: %w", err)
		}
		password = strings.TrimRight(line, "\r\n")
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	fmt.Printf("%s=%s\n", config.EnvAdminPasswordHash, hash)
	return nil
}
