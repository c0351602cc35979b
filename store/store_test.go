package store

import (
	"context"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/BaSui01/flowengine/internal/cache"
	"github.com/BaSui01/flowengine/internal/database"
	"github.com/BaSui01/flowengine/llm"
	"github.com/BaSui01/flowengine/testutil"
	"github.com/BaSui01/flowengine/testutil/fixtures"
	"github.com/BaSui01/flowengine/testutil/mocks"
	"github.com/BaSui01/flowengine/types"
	"github.com/BaSui01/flowengine/workflow"
	"github.com/BaSui01/flowengine/workflow/dsl"
)

// =============================================================================
// 🔧 测试环境
// =============================================================================

func newSQLitePool(t *testing.T) *database.PoolManager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "store.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(db))

	pool, err := database.NewPoolManager(db, database.PoolConfig{MaxOpenConns: 1}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })
	return pool
}

func sampleDSL(template string) *dsl.WorkflowDSL {
	start := fixtures.Start("node-start::1", fixtures.Output("query", "string"))
	end := fixtures.End("node-end::1", template, fixtures.Input("q", fixtures.Ref(start.ID, "query")))
	return fixtures.Workflow(fixtures.Nodes(start, end), fixtures.Chain(start.ID, end.ID)...)
}

func sampleRecord(t *testing.T, flowID, version, template string) *FlowRecord {
	t.Helper()
	data, err := dsl.Marshal(sampleDSL(template))
	require.NoError(t, err)
	return &FlowRecord{FlowID: flowID, AppID: "app-1", Version: version, Name: flowID, DSL: string(data)}
}

func endTemplate(t *testing.T, d *dsl.WorkflowDSL) any {
	t.Helper()
	for _, n := range d.Nodes {
		if n.NodeType() == "node-end" {
			return n.Data.NodeParam["template"]
		}
	}
	t.Fatal("end node not found")
	return nil
}

// =============================================================================
// 🧪 FlowRepository
// =============================================================================

func TestFlowRepository_SaveAndLoad(t *testing.T) {
	repo := NewFlowRepository(newSQLitePool(t), zap.NewNop())
	ctx := context.Background()

	rec := sampleRecord(t, "flow-a", "v1", "{{q}}")
	require.NoError(t, repo.Save(ctx, rec))
	assert.NotZero(t, rec.ID)

	d, err := repo.LoadFlow(ctx, "flow-a", "app-1", "v1")
	require.NoError(t, err)
	require.Len(t, d.Nodes, 2)
	assert.Equal(t, "{{q}}", endTemplate(t, d))
}

func TestFlowRepository_SaveUpserts(t *testing.T) {
	repo := NewFlowRepository(newSQLitePool(t), zap.NewNop())
	ctx := context.Background()

	first := sampleRecord(t, "flow-a", "v1", "old {{q}}")
	require.NoError(t, repo.Save(ctx, first))
	second := sampleRecord(t, "flow-a", "v1", "new {{q}}")
	require.NoError(t, repo.Save(ctx, second))
	assert.Equal(t, first.ID, second.ID)

	d, err := repo.LoadFlow(ctx, "flow-a", "", "v1")
	require.NoError(t, err)
	assert.Equal(t, "new {{q}}", endTemplate(t, d))

	var count int64
	require.NoError(t, repo.pool.DB().Model(&FlowRecord{}).Where("flow_id = ?", "flow-a").Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestFlowRepository_LatestVersion(t *testing.T) {
	repo := NewFlowRepository(newSQLitePool(t), zap.NewNop())
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, sampleRecord(t, "flow-a", "v1", "one")))
	require.NoError(t, repo.Save(ctx, sampleRecord(t, "flow-a", "v2", "two")))

	d, err := repo.LoadFlow(ctx, "flow-a", "app-1", "")
	require.NoError(t, err)
	assert.Equal(t, "two", endTemplate(t, d))
}

func TestFlowRepository_NotFound(t *testing.T) {
	repo := NewFlowRepository(newSQLitePool(t), zap.NewNop())
	ctx := context.Background()
	require.NoError(t, repo.Save(ctx, sampleRecord(t, "flow-a", "v1", "x")))

	_, err := repo.LoadFlow(ctx, "missing", "", "")
	testutil.AssertErrorCode(t, err, types.ErrFlowNotFound)

	_, err = repo.LoadFlow(ctx, "flow-a", "", "v9")
	testutil.AssertErrorCode(t, err, types.ErrFlowNotFound)

	_, err = repo.LoadFlow(ctx, "flow-a", "other-app", "v1")
	testutil.AssertErrorCode(t, err, types.ErrFlowNotFound)
}

func TestFlowRepository_SaveRejectsInvalid(t *testing.T) {
	repo := NewFlowRepository(newSQLitePool(t), zap.NewNop())
	ctx := context.Background()

	err := repo.Save(ctx, &FlowRecord{FlowID: "bad", DSL: `{"nodes": []}`})
	testutil.AssertErrorCode(t, err, types.ErrDSLSchema)

	err = repo.Save(ctx, &FlowRecord{FlowID: "bad", DSL: "{"})
	testutil.AssertErrorCode(t, err, types.ErrDSLParse)

	err = repo.Save(ctx, &FlowRecord{DSL: "{}"})
	testutil.AssertErrorCode(t, err, types.ErrInvalidRequest)
}

func TestFlowRepository_Delete(t *testing.T) {
	repo := NewFlowRepository(newSQLitePool(t), zap.NewNop())
	ctx := context.Background()
	require.NoError(t, repo.Save(ctx, sampleRecord(t, "flow-a", "v1", "one")))
	require.NoError(t, repo.Save(ctx, sampleRecord(t, "flow-a", "v2", "two")))

	require.NoError(t, repo.Delete(ctx, "flow-a", "v2"))
	d, err := repo.LoadFlow(ctx, "flow-a", "", "")
	require.NoError(t, err)
	assert.Equal(t, "one", endTemplate(t, d))

	require.NoError(t, repo.Delete(ctx, "flow-a", ""))
	testutil.AssertErrorCode(t, repo.Delete(ctx, "flow-a", ""), types.ErrFlowNotFound)
}

func TestFlowRepository_SaveRollsBackOnInsertError(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: mockDB}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	pool, err := database.NewPoolManager(db, database.PoolConfig{}, zap.NewNop())
	require.NoError(t, err)
	repo := NewFlowRepository(pool, zap.NewNop())

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "flows"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "flows"`)).
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	err = repo.Save(context.Background(), sampleRecord(t, "flow-a", "v1", "x"))
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// =============================================================================
// 🧪 HistoryStore
// =============================================================================

func TestHistoryStore_AppendAndRecent(t *testing.T) {
	hs := NewHistoryStore(newSQLitePool(t), nil)
	ctx := context.Background()
	key := workflow.HistoryKey{FlowID: "f", NodeID: "spark-llm::1", UID: "u", ChatID: "c"}

	for _, q := range []string{"one", "two", "three"} {
		require.NoError(t, hs.Append(ctx, key,
			llm.Message{Role: llm.RoleUser, Content: q},
			llm.Message{Role: llm.RoleAssistant, Content: "re:" + q},
		))
	}

	recent, err := hs.Recent(ctx, key, 2)
	require.NoError(t, err)
	testutil.AssertMessagesEqual(t, []llm.Message{
		{Role: llm.RoleUser, Content: "two"},
		{Role: llm.RoleAssistant, Content: "re:two"},
		{Role: llm.RoleUser, Content: "three"},
		{Role: llm.RoleAssistant, Content: "re:three"},
	}, recent)

	all, err := hs.Recent(ctx, key, 0)
	require.NoError(t, err)
	assert.Len(t, all, 6)
	assert.Equal(t, "one", all[0].Content)
}

func TestHistoryStore_ThreadsAreIsolated(t *testing.T) {
	hs := NewHistoryStore(newSQLitePool(t), nil)
	ctx := context.Background()
	a := workflow.HistoryKey{FlowID: "f", NodeID: "n", UID: "u1", ChatID: "c"}
	b := workflow.HistoryKey{FlowID: "f", NodeID: "n", UID: "u2", ChatID: "c"}

	require.NoError(t, hs.Append(ctx, a, llm.Message{Role: llm.RoleUser, Content: "from a"}))
	require.NoError(t, hs.Append(ctx, b), "appending nothing is a no-op")

	got, err := hs.Recent(ctx, b, 5)
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, hs.Clear(ctx, a))
	got, err = hs.Recent(ctx, a, 5)
	require.NoError(t, err)
	assert.Empty(t, got)
}

// =============================================================================
// 🧪 CachedFlowLoader
// =============================================================================

type countingRecorder struct {
	mu     sync.Mutex
	hits   int
	misses int
}

func (r *countingRecorder) RecordCacheHit(string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hits++
}

func (r *countingRecorder) RecordCacheMiss(string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.misses++
}

func newCachedLoader(t *testing.T, ttl time.Duration) (*CachedFlowLoader, *mocks.MockFlowLoader, *countingRecorder, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	mgr, err := cache.NewManager(cache.Config{Addr: mr.Addr()}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Close() })

	next := mocks.NewMockFlowLoader().WithFlow("child", sampleDSL("child {{q}}"))
	rec := &countingRecorder{}
	return NewCachedFlowLoader(next, mgr, ttl, rec, zap.NewNop()), next, rec, mr
}

func TestCachedFlowLoader_HitAfterMiss(t *testing.T) {
	loader, next, rec, mr := newCachedLoader(t, time.Minute)
	ctx := context.Background()

	d1, err := loader.LoadFlow(ctx, "child", "", "v1")
	require.NoError(t, err)
	d2, err := loader.LoadFlow(ctx, "child", "", "v1")
	require.NoError(t, err)

	assert.Equal(t, 1, next.Loads())
	assert.Equal(t, 1, rec.hits)
	assert.Equal(t, 1, rec.misses)
	assert.Equal(t, endTemplate(t, d1), endTemplate(t, d2))
	assert.True(t, mr.Exists(flowCacheKey("child", "v1")))
	assert.Equal(t, time.Minute, mr.TTL(flowCacheKey("child", "v1")))
}

func TestCachedFlowLoader_Invalidate(t *testing.T) {
	loader, next, _, _ := newCachedLoader(t, time.Minute)
	ctx := context.Background()

	_, err := loader.LoadFlow(ctx, "child", "", "v1")
	require.NoError(t, err)
	require.NoError(t, loader.Invalidate(ctx, "child", "v1"))
	_, err = loader.LoadFlow(ctx, "child", "", "v1")
	require.NoError(t, err)
	assert.Equal(t, 2, next.Loads())
}

func TestCachedFlowLoader_CorruptEntry(t *testing.T) {
	loader, next, rec, mr := newCachedLoader(t, time.Minute)
	require.NoError(t, mr.Set(flowCacheKey("child", "v1"), "not a dsl"))

	_, err := loader.LoadFlow(context.Background(), "child", "", "v1")
	require.NoError(t, err)
	assert.Equal(t, 1, next.Loads())
	assert.Equal(t, 0, rec.hits)
	assert.Equal(t, 1, rec.misses)
}

func TestCachedFlowLoader_NotFoundIsNotCached(t *testing.T) {
	loader, _, _, mr := newCachedLoader(t, time.Minute)

	_, err := loader.LoadFlow(context.Background(), "missing", "", "")
	testutil.AssertErrorCode(t, err, types.ErrFlowNotFound)
	assert.False(t, mr.Exists(flowCacheKey("missing", "")))
}

func TestCachedFlowLoader_OverRepository(t *testing.T) {
	mr := miniredis.RunT(t)
	mgr, err := cache.NewManager(cache.Config{Addr: mr.Addr()}, zap.NewNop())
	require.NoError(t, err)
	defer mgr.Close()

	repo := NewFlowRepository(newSQLitePool(t), zap.NewNop())
	ctx := context.Background()
	require.NoError(t, repo.Save(ctx, sampleRecord(t, "flow-a", "v1", "cached")))

	loader := NewCachedFlowLoader(repo, mgr, 0, nil, nil)
	_, err = loader.LoadFlow(ctx, "flow-a", "app-1", "v1")
	require.NoError(t, err)

	require.NoError(t, repo.Delete(ctx, "flow-a", "v1"))
	d, err := loader.LoadFlow(ctx, "flow-a", "app-1", "v1")
	require.NoError(t, err, "served from cache")
	assert.Equal(t, "cached", endTemplate(t, d))
}
