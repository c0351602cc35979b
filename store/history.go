package store

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/flowengine/internal/database"
	"github.com/BaSui01/flowengine/llm"
	"github.com/BaSui01/flowengine/workflow"
)

// appendRetries 写入历史时遇到锁冲突的最大尝试次数
const appendRetries = 3

// HistoryStore 基于数据库的对话历史，实现 workflow.HistoryStore
type HistoryStore struct {
	pool   *database.PoolManager
	logger *zap.Logger
}

var _ workflow.HistoryStore = (*HistoryStore)(nil)

// NewHistoryStore 创建历史存储
func NewHistoryStore(pool *database.PoolManager, logger *zap.Logger) *HistoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HistoryStore{pool: pool, logger: logger.With(zap.String("component", "history_store"))}
}

func threadScope(key workflow.HistoryKey) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("flow_id = ? AND node_id = ? AND uid = ? AND chat_id = ?",
			key.FlowID, key.NodeID, key.UID, key.ChatID)
	}
}

// Recent 返回最近 rounds 轮（每轮 user+assistant 两条）消息，按时间正序。
// rounds <= 0 时返回整个线程。
func (s *HistoryStore) Recent(ctx context.Context, key workflow.HistoryKey, rounds int) ([]llm.Message, error) {
	q := s.pool.DB().WithContext(ctx).Scopes(threadScope(key)).Order("id DESC")
	if rounds > 0 {
		q = q.Limit(rounds * 2)
	}
	var rows []ChatMessage
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load chat history: %w", err)
	}

	msgs := make([]llm.Message, len(rows))
	for i, row := range rows {
		msgs[len(rows)-1-i] = llm.Message{Role: llm.Role(row.Role), Content: row.Content}
	}
	return msgs, nil
}

// Append 在一个事务内追加消息，保证一轮对话要么全部写入要么都不写
func (s *HistoryStore) Append(ctx context.Context, key workflow.HistoryKey, msgs ...llm.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	rows := make([]ChatMessage, len(msgs))
	for i, m := range msgs {
		rows[i] = ChatMessage{
			FlowID:  key.FlowID,
			NodeID:  key.NodeID,
			UID:     key.UID,
			ChatID:  key.ChatID,
			Role:    string(m.Role),
			Content: m.Content,
		}
	}

	err := s.pool.WithTransactionRetry(ctx, appendRetries, func(tx *gorm.DB) error {
		return tx.Create(&rows).Error
	})
	if err != nil {
		s.logger.Error("append chat history failed",
			zap.String("flow_id", key.FlowID),
			zap.String("node_id", key.NodeID),
			zap.Error(err),
		)
		return fmt.Errorf("append chat history: %w", err)
	}
	return nil
}

// Clear 删除一个线程的全部历史
func (s *HistoryStore) Clear(ctx context.Context, key workflow.HistoryKey) error {
	if err := s.pool.DB().WithContext(ctx).Scopes(threadScope(key)).Delete(&ChatMessage{}).Error; err != nil {
		return fmt.Errorf("clear chat history: %w", err)
	}
	return nil
}
