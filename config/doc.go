// Package config 提供工作流引擎的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → 环境变量 的顺序叠加，
// 覆盖调度器、事件注册表、LLM、知识库、代码沙箱、Redis、
// 数据库、日志、遥测与指标等配置段。
package config
