// =============================================================================
// FlowEngine 命令行入口
// =============================================================================
// 在本地加载并执行工作流 DSL，将回调帧以 SSE 格式写到标准输出
//
// 使用方法:
//
//	flowengine run -dsl flow.json -input query=hi   # 运行 DSL 文件
//	flowengine run -flow my-flow -version v1        # 运行已保存的流程
//	flowengine resume -event <id> -content 42       # 恢复暂停的问答节点
//	flowengine flow save -dsl flow.json -flow id    # 保存流程定义
//	flowengine migrate up                           # 运行数据库迁移
//	flowengine version                              # 显示版本信息
// =============================================================================

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/flowengine/config"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// command 子命令入口，参数不含子命令名
type command func(ctx context.Context, args []string, stdout io.Writer) error

var commands = map[string]command{
	"run":     runWorkflow,
	"resume":  runResume,
	"flow":    runFlow,
	"migrate": runMigrate,
	"version": func(_ context.Context, _ []string, stdout io.Writer) error {
		printVersion(stdout)
		return nil
	},
}

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(1)
	}

	name := os.Args[1]
	if name == "help" || name == "-h" || name == "--help" {
		printUsage(os.Stdout)
		return
	}
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", name)
		printUsage(os.Stderr)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := cmd(ctx, os.Args[2:], os.Stdout)
	stop()
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "FlowEngine %s\n", Version)
	fmt.Fprintf(w, "  Build Time: %s\n", BuildTime)
	fmt.Fprintf(w, "  Git Commit: %s\n", GitCommit)
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `FlowEngine - workflow DAG execution engine

Usage:
  flowengine <command> [options]

Commands:
  run       Execute a workflow and stream SSE frames to stdout
  resume    Resume an interrupted question-answer node
  flow      Save or delete stored workflow definitions
  migrate   Database migration commands
  version   Show version information
  help      Show this help message

Options for 'run':
  -config <path>        Path to configuration file (YAML)
  -dsl <path>           Workflow DSL file (JSON or YAML)
  -flow <id>            Stored flow id (used when -dsl is empty)
  -version <v>          Stored flow version (default: latest)
  -input KEY=VALUE      Start node input, repeatable; VALUE is parsed as JSON when possible
  -uid, -chat           Caller identity for chat history
  -metrics-addr <addr>  Serve /metrics and /healthz while running

Options for 'resume':
  -event <id>           Event id from the interrupt frame
  -type <t>             resume, ignore or abort (default: resume)
  -content <text>       Answer text

Examples:
  flowengine run -dsl flow.json -input query="hello"
  flowengine flow save -dsl flow.json -flow greet -version v1
  flowengine run -flow greet -input query="hello"
  flowengine resume -config redis.yaml -event 0c7f... -content B
  flowengine migrate -config config.yaml up`)
}

// =============================================================================
// 🔧 配置与日志
// =============================================================================

func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader().WithValidator(func(c *config.Config) error { return c.Validate() })
	if path != "" {
		loader = loader.WithConfigPath(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func initLogger(cfg config.LogConfig) *zap.Logger {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		// stdout 留给 SSE 帧
		outputs = []string{"stderr"}
	}

	zapConfig := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       encoding == "console",
		Encoding:          encoding,
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.EnableStacktrace,
	}

	logger, err := zapConfig.Build()
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
	}
	return logger
}
