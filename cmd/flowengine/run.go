package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/flowengine/workflow"
	"github.com/BaSui01/flowengine/workflow/dsl"
)

// =============================================================================
// ▶️ run 命令
// =============================================================================

// inputFlags 收集可重复的 -input KEY=VALUE
type inputFlags map[string]any

func (f inputFlags) String() string {
	pairs := make([]string, 0, len(f))
	for k, v := range f {
		pairs = append(pairs, fmt.Sprintf("%s=%v", k, v))
	}
	return strings.Join(pairs, ",")
}

// Set 值能按 JSON 解析时保留其类型，否则作为字符串
func (f inputFlags) Set(s string) error {
	key, raw, ok := strings.Cut(s, "=")
	if !ok || key == "" {
		return fmt.Errorf("input %q must be KEY=VALUE", s)
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		v = raw
	}
	f[key] = v
	return nil
}

func runWorkflow(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	dslPath := fs.String("dsl", "", "Workflow DSL file (JSON or YAML)")
	flowID := fs.String("flow", "", "Stored flow id")
	version := fs.String("version", "", "Stored flow version (default: latest)")
	appID := fs.String("app", "", "Application id")
	uid := fs.String("uid", "", "User id for chat history")
	chatID := fs.String("chat", "", "Chat id for chat history")
	metricsAddr := fs.String("metrics-addr", "", "Serve /metrics and /healthz on this address while running")
	inputs := inputFlags{}
	fs.Var(inputs, "input", "Start node input KEY=VALUE (repeatable)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *dslPath == "" && *flowID == "" {
		return fmt.Errorf("either -dsl or -flow is required")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	a, err := newApp(cfg, logger, appOptions{metricsAddr: *metricsAddr})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.Close(shutdownCtx); err != nil {
			logger.Warn("shutdown error", zap.Error(err))
		}
	}()

	var d *dsl.WorkflowDSL
	if *dslPath != "" {
		d, err = dsl.ParseFile(*dslPath)
		if *flowID == "" {
			base := filepath.Base(*dslPath)
			*flowID = strings.TrimSuffix(base, filepath.Ext(base))
		}
	} else {
		d, err = a.deps.Flows.LoadFlow(ctx, *flowID, *appID, *version)
	}
	if err != nil {
		return err
	}

	engine, err := workflow.NewBuilder(d, a.deps).WithFlowID(*flowID).Build()
	if err != nil {
		return err
	}

	logger.Info("running workflow",
		zap.String("flow_id", *flowID),
		zap.Int("nodes", len(d.Nodes)),
	)
	frames := engine.Stream(ctx, workflow.RunInput{
		FlowID: *flowID,
		AppID:  *appID,
		UID:    *uid,
		ChatID: *chatID,
		Inputs: inputs,
	})
	if err := workflow.WriteSSE(stdout, frames); err != nil {
		return fmt.Errorf("write frames: %w", err)
	}
	a.recordPoolStats()
	return nil
}
