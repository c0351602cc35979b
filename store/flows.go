package store

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/flowengine/internal/database"
	"github.com/BaSui01/flowengine/types"
	"github.com/BaSui01/flowengine/workflow"
	"github.com/BaSui01/flowengine/workflow/dsl"
)

// FlowRepository 工作流 DSL 仓库，同时作为子流程的 workflow.FlowLoader
type FlowRepository struct {
	pool   *database.PoolManager
	logger *zap.Logger
}

var _ workflow.FlowLoader = (*FlowRepository)(nil)

// NewFlowRepository 创建仓库
func NewFlowRepository(pool *database.PoolManager, logger *zap.Logger) *FlowRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FlowRepository{pool: pool, logger: logger.With(zap.String("component", "flow_repository"))}
}

// Save 校验并保存 DSL；同一 flowID+version 已存在时覆盖
func (r *FlowRepository) Save(ctx context.Context, rec *FlowRecord) error {
	if rec.FlowID == "" {
		return types.NewError(types.ErrInvalidRequest, "flow id is required")
	}
	if _, err := dsl.Parse([]byte(rec.DSL)); err != nil {
		return err
	}

	return r.pool.WithTransaction(ctx, func(tx *gorm.DB) error {
		var existing FlowRecord
		err := tx.Where("flow_id = ? AND version = ?", rec.FlowID, rec.Version).First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			if err := tx.Create(rec).Error; err != nil {
				return fmt.Errorf("insert flow: %w", err)
			}
		case err != nil:
			return fmt.Errorf("lookup flow: %w", err)
		default:
			rec.ID = existing.ID
			rec.CreatedAt = existing.CreatedAt
			if err := tx.Model(&existing).Updates(map[string]any{
				"app_id": rec.AppID,
				"name":   rec.Name,
				"dsl":    rec.DSL,
			}).Error; err != nil {
				return fmt.Errorf("update flow: %w", err)
			}
		}
		r.logger.Info("flow saved",
			zap.String("flow_id", rec.FlowID),
			zap.String("version", rec.Version),
		)
		return nil
	})
}

// Get 读取记录；version 为空时取最近更新的版本
func (r *FlowRepository) Get(ctx context.Context, flowID, version string) (*FlowRecord, error) {
	q := r.pool.DB().WithContext(ctx).Where("flow_id = ?", flowID)
	if version != "" {
		q = q.Where("version = ?", version)
	} else {
		q = q.Order("updated_at DESC").Order("id DESC")
	}

	var rec FlowRecord
	if err := q.First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.Errorf(types.ErrFlowNotFound, "flow %s (version %q) not found", flowID, version)
		}
		return nil, types.Wrap(err, types.ErrServiceUnavailable, "query flow")
	}
	return &rec, nil
}

// Delete 删除指定版本；version 为空时删除全部版本
func (r *FlowRepository) Delete(ctx context.Context, flowID, version string) error {
	q := r.pool.DB().WithContext(ctx).Where("flow_id = ?", flowID)
	if version != "" {
		q = q.Where("version = ?", version)
	}
	res := q.Delete(&FlowRecord{})
	if res.Error != nil {
		return fmt.Errorf("delete flow: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return types.Errorf(types.ErrFlowNotFound, "flow %s (version %q) not found", flowID, version)
	}
	return nil
}

// LoadFlow 实现 workflow.FlowLoader。appID 非空且与记录不一致时视为不存在。
func (r *FlowRepository) LoadFlow(ctx context.Context, flowID, appID, version string) (*dsl.WorkflowDSL, error) {
	rec, err := r.Get(ctx, flowID, version)
	if err != nil {
		return nil, err
	}
	if appID != "" && rec.AppID != "" && rec.AppID != appID {
		return nil, types.Errorf(types.ErrFlowNotFound, "flow %s not found in app %s", flowID, appID)
	}
	return dsl.Parse([]byte(rec.DSL))
}
