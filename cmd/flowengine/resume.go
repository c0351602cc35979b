package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/BaSui01/flowengine/workflow/hitl"
)

// =============================================================================
// ⏯️ resume 命令
// =============================================================================

func runResume(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("resume", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	eventID := fs.String("event", "", "Event id from the interrupt frame")
	resumeType := fs.String("type", string(hitl.ResumeTypeResume), "resume, ignore or abort")
	content := fs.String("content", "", "Answer text")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *eventID == "" {
		return fmt.Errorf("-event is required")
	}

	rt := hitl.ResumeType(*resumeType)
	switch rt {
	case hitl.ResumeTypeResume, hitl.ResumeTypeIgnore, hitl.ResumeTypeAbort:
	default:
		return fmt.Errorf("unsupported resume type %q", *resumeType)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	// 内存注册表只在运行进程内可见，跨进程恢复必须走 Redis
	if cfg.EventRegistry.Backend != "redis" {
		return fmt.Errorf("resume requires event_registry.backend=redis, got %q", cfg.EventRegistry.Backend)
	}
	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	a, err := newApp(cfg, logger, appOptions{needRedis: true})
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(context.Background()) }()

	return resumeEvent(ctx, a.events, stdout, hitl.ResumeData{EventID: *eventID, Type: rt, Content: *content})
}

func resumeEvent(ctx context.Context, events hitl.Registry, stdout io.Writer, data hitl.ResumeData) error {
	if err := events.Resume(ctx, data.EventID, data); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "event %s resumed (%s)\n", data.EventID, data.Type)
	return nil
}
