package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/BaSui01/flowengine/internal/migration"
)

// =============================================================================
// 🗄️ migrate 命令
// =============================================================================

func runMigrate(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	dbType := fs.String("db-type", "", "Database type override (postgres, mysql, sqlite)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("usage: flowengine migrate [-config path] <up|down|steps N|force V|version|status|info>")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *dbType != "" {
		cfg.Database.Driver = *dbType
	}
	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	m, err := migration.NewMigratorFromConfig(cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer m.Close()

	cli := migration.NewCLI(m)
	cli.SetOutput(stdout)
	return cli.Run(ctx, fs.Args())
}
