package store

import (
	"time"

	"gorm.io/gorm"
)

// AutoMigrate 按模型建表，未运行 migrate 命令的 sqlite 部署与测试使用
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&FlowRecord{}, &ChatMessage{})
}

// FlowRecord 持久化的工作流 DSL，(flow_id, version) 唯一
type FlowRecord struct {
	ID        uint64    `gorm:"primaryKey" json:"id"`
	FlowID    string    `gorm:"size:128;not null;uniqueIndex:idx_flows_flow_version" json:"flow_id"`
	AppID     string    `gorm:"size:128;not null;default:''" json:"app_id"`
	Version   string    `gorm:"size:64;not null;default:'';uniqueIndex:idx_flows_flow_version" json:"version"`
	Name      string    `gorm:"size:255;not null;default:''" json:"name"`
	DSL       string    `gorm:"column:dsl;type:text;not null" json:"dsl"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (FlowRecord) TableName() string {
	return "flows"
}

// ChatMessage 节点对话历史的一条消息
type ChatMessage struct {
	ID        uint64    `gorm:"primaryKey" json:"id"`
	FlowID    string    `gorm:"size:128;not null;index:idx_chat_histories_thread" json:"flow_id"`
	NodeID    string    `gorm:"size:128;not null;index:idx_chat_histories_thread" json:"node_id"`
	UID       string    `gorm:"column:uid;size:128;not null;default:'';index:idx_chat_histories_thread" json:"uid"`
	ChatID    string    `gorm:"size:128;not null;default:'';index:idx_chat_histories_thread" json:"chat_id"`
	Role      string    `gorm:"size:32;not null" json:"role"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

func (ChatMessage) TableName() string {
	return "chat_histories"
}
