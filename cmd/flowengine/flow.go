package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/BaSui01/flowengine/store"
)

// =============================================================================
// 🗂️ flow 命令
// =============================================================================

func runFlow(ctx context.Context, args []string, stdout io.Writer) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: flowengine flow <save|delete> [options]")
	}

	fs := flag.NewFlagSet("flow "+args[0], flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	dslPath := fs.String("dsl", "", "Workflow DSL file (save only)")
	flowID := fs.String("flow", "", "Flow id")
	version := fs.String("version", "", "Flow version")
	appID := fs.String("app", "", "Application id (save only)")
	name := fs.String("name", "", "Display name (save only)")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	if *flowID == "" {
		return fmt.Errorf("-flow is required")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	a, err := newApp(cfg, logger, appOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(context.Background()) }()

	switch args[0] {
	case "save":
		if *dslPath == "" {
			return fmt.Errorf("-dsl is required")
		}
		data, err := os.ReadFile(*dslPath)
		if err != nil {
			return fmt.Errorf("read DSL file: %w", err)
		}
		rec := &store.FlowRecord{FlowID: *flowID, AppID: *appID, Version: *version, Name: *name, DSL: string(data)}
		if err := a.flows.Save(ctx, rec); err != nil {
			return err
		}
		a.invalidateFlow(ctx, *flowID, *version)
		fmt.Fprintf(stdout, "flow %s saved (version %q, id %d)\n", rec.FlowID, rec.Version, rec.ID)
	case "delete":
		if err := a.flows.Delete(ctx, *flowID, *version); err != nil {
			return err
		}
		a.invalidateFlow(ctx, *flowID, *version)
		fmt.Fprintf(stdout, "flow %s deleted\n", *flowID)
	default:
		return fmt.Errorf("unknown flow subcommand: %s", args[0])
	}
	return nil
}

// invalidateFlow 清除缓存中该版本与“最新版本”两个条目
func (a *app) invalidateFlow(ctx context.Context, flowID, version string) {
	if a.flowCache == nil {
		return
	}
	for _, v := range []string{version, ""} {
		_ = a.flowCache.Invalidate(ctx, flowID, v)
	}
}
