/*
Package store 提供工作流引擎的持久化组件。

  - FlowRepository：基于 GORM 的 DSL 仓库，按 flow_id + version 存取，
    同时实现 workflow.FlowLoader 供子流程节点加载
  - HistoryStore：节点对话历史，实现 workflow.HistoryStore
  - CachedFlowLoader：以 Redis 缓存包装任意 FlowLoader

表结构由 internal/migration 管理，测试中也可用 AutoMigrate 建表。
*/
package store
