package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/flowengine/config"
	"github.com/BaSui01/flowengine/internal/cache"
	"github.com/BaSui01/flowengine/testutil/fixtures"
	"github.com/BaSui01/flowengine/types"
	"github.com/BaSui01/flowengine/workflow/dsl"
	"github.com/BaSui01/flowengine/workflow/hitl"
)

// =============================================================================
// 🔧 测试环境
// =============================================================================

type testEnv struct {
	dir        string
	configPath string
	dslPath    string
}

func newTestEnv(t *testing.T, extraYAML string) testEnv {
	t.Helper()
	dir := t.TempDir()
	cfg := fmt.Sprintf(`database:
  driver: sqlite
  name: %s
log:
  level: error
  output_paths: ["stderr"]
%s`, filepath.Join(dir, "flowengine.db"), extraYAML)
	configPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(cfg), 0o600))

	start := fixtures.Start("node-start::1", fixtures.Output("query", "string"))
	end := fixtures.End("node-end::1", "echo {{q}}", fixtures.Input("q", fixtures.Ref(start.ID, "query")))
	data, err := dsl.Marshal(fixtures.Workflow(fixtures.Nodes(start, end), fixtures.Chain(start.ID, end.ID)...))
	require.NoError(t, err)
	dslPath := filepath.Join(dir, "greet.json")
	require.NoError(t, os.WriteFile(dslPath, data, 0o600))

	return testEnv{dir: dir, configPath: configPath, dslPath: dslPath}
}

// =============================================================================
// 🧪 参数解析
// =============================================================================

func TestInputFlags(t *testing.T) {
	in := inputFlags{}
	require.NoError(t, in.Set("n=3"))
	require.NoError(t, in.Set("s=hello world"))
	require.NoError(t, in.Set(`o={"a":[1,2]}`))
	require.NoError(t, in.Set("empty="))

	assert.Equal(t, float64(3), in["n"])
	assert.Equal(t, "hello world", in["s"])
	assert.Equal(t, map[string]any{"a": []any{float64(1), float64(2)}}, in["o"])
	assert.Equal(t, "", in["empty"])

	assert.Error(t, in.Set("novalue"))
	assert.Error(t, in.Set("=x"))
}

func TestInitLogger(t *testing.T) {
	for _, lc := range []config.LogConfig{
		{Level: "debug", Format: "console"},
		{Level: "warn", Format: "json", OutputPaths: []string{"stderr"}},
		{Level: "bogus", Format: "json"},
	} {
		logger := initLogger(lc)
		require.NotNil(t, logger)
		_ = logger.Sync()
	}
}

func TestPrintVersion(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, commands["version"](context.Background(), nil, &out))
	assert.Contains(t, out.String(), "FlowEngine dev")
}

// =============================================================================
// 🧪 run / flow
// =============================================================================

func TestRunWorkflow_DSLFile(t *testing.T) {
	env := newTestEnv(t, "")
	var out bytes.Buffer

	err := runWorkflow(context.Background(), []string{
		"-config", env.configPath,
		"-dsl", env.dslPath,
		"-input", "query=hi",
		"-metrics-addr", "127.0.0.1:0",
	}, &out)
	require.NoError(t, err)

	assert.Contains(t, out.String(), "echo hi")
	assert.Contains(t, out.String(), "data: [DONE]")
}

func TestRunWorkflow_RequiresSource(t *testing.T) {
	err := runWorkflow(context.Background(), nil, &bytes.Buffer{})
	assert.ErrorContains(t, err, "-dsl or -flow")
}

func TestRunWorkflow_InvalidDSL(t *testing.T) {
	env := newTestEnv(t, "")
	bad := filepath.Join(env.dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"nodes": [`), 0o600))

	err := runWorkflow(context.Background(), []string{"-config", env.configPath, "-dsl", bad}, &bytes.Buffer{})
	assert.True(t, types.IsCode(err, types.ErrDSLParse), "got %v", err)
}

func TestFlowSaveRunDelete(t *testing.T) {
	env := newTestEnv(t, "")
	ctx := context.Background()
	var out bytes.Buffer

	require.NoError(t, runFlow(ctx, []string{"save", "-config", env.configPath, "-dsl", env.dslPath, "-flow", "greet", "-version", "v1"}, &out))
	assert.Contains(t, out.String(), "flow greet saved")

	out.Reset()
	require.NoError(t, runWorkflow(ctx, []string{"-config", env.configPath, "-flow", "greet", "-input", "query=stored"}, &out))
	assert.Contains(t, out.String(), "echo stored")

	out.Reset()
	require.NoError(t, runFlow(ctx, []string{"delete", "-config", env.configPath, "-flow", "greet"}, &out))

	err := runWorkflow(ctx, []string{"-config", env.configPath, "-flow", "greet"}, &out)
	assert.True(t, types.IsCode(err, types.ErrFlowNotFound), "got %v", err)
}

func TestFlow_Usage(t *testing.T) {
	env := newTestEnv(t, "")
	ctx := context.Background()
	assert.Error(t, runFlow(ctx, nil, &bytes.Buffer{}))
	assert.Error(t, runFlow(ctx, []string{"save", "-config", env.configPath}, &bytes.Buffer{}))
	assert.Error(t, runFlow(ctx, []string{"save", "-config", env.configPath, "-flow", "x"}, &bytes.Buffer{}))
	assert.Error(t, runFlow(ctx, []string{"rename", "-config", env.configPath, "-flow", "x"}, &bytes.Buffer{}))
}

// =============================================================================
// 🧪 resume
// =============================================================================

func TestResume_RequiresRedisBackend(t *testing.T) {
	env := newTestEnv(t, "")
	err := runResume(context.Background(), []string{"-config", env.configPath, "-event", "e1"}, &bytes.Buffer{})
	assert.ErrorContains(t, err, "backend=redis")

	err = runResume(context.Background(), []string{"-config", env.configPath, "-event", "e1", "-type", "later"}, &bytes.Buffer{})
	assert.ErrorContains(t, err, "unsupported resume type")
}

func TestResume_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	env := newTestEnv(t, fmt.Sprintf(`redis:
  addr: %s
event_registry:
  backend: redis
  key_prefix: fe
`, mr.Addr()))

	mgr, err := cache.NewManager(cache.Config{Addr: mr.Addr()}, zap.NewNop())
	require.NoError(t, err)
	defer mgr.Close()
	registry := hitl.NewRedisRegistry(mgr, "fe", time.Minute, zap.NewNop())

	ctx := context.Background()
	queue := hitl.QueueName("fe", "evt-1")
	require.NoError(t, registry.InitEvent(ctx, &hitl.Event{
		EventID:   "evt-1",
		NodeID:    "question-answer::1",
		Status:    hitl.EventStatusInterrupt,
		QueueName: queue,
		Timeout:   time.Minute,
	}))

	var out bytes.Buffer
	require.NoError(t, runResume(ctx, []string{"-config", env.configPath, "-event", "evt-1", "-content", "B"}, &out))
	assert.Contains(t, out.String(), "event evt-1 resumed (resume)")

	data, err := registry.WaitResumeData(ctx, queue, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "B", data.Content)
	assert.Equal(t, hitl.ResumeTypeResume, data.Type)

	ev, err := registry.GetEvent(ctx, "evt-1")
	require.NoError(t, err)
	assert.Equal(t, hitl.EventStatusResumed, ev.Status)
}

func TestResumeEvent_UnknownEvent(t *testing.T) {
	registry := hitl.NewMemoryRegistry(time.Minute, zap.NewNop())
	err := resumeEvent(context.Background(), registry, &bytes.Buffer{}, hitl.ResumeData{EventID: "nope"})
	assert.True(t, types.IsCode(err, types.ErrEventNotFound))
}

// =============================================================================
// 🧪 migrate
// =============================================================================

func TestMigrateCommand(t *testing.T) {
	env := newTestEnv(t, "")
	ctx := context.Background()
	var out bytes.Buffer

	require.NoError(t, runMigrate(ctx, []string{"-config", env.configPath, "up"}, &out))
	assert.Contains(t, out.String(), "Current version: 2")

	out.Reset()
	require.NoError(t, runMigrate(ctx, []string{"-config", env.configPath, "version"}, &out))
	assert.Contains(t, out.String(), "2")

	assert.Error(t, runMigrate(ctx, []string{"-config", env.configPath}, &out))
}
