// Package telemetry 封装 OpenTelemetry SDK 初始化逻辑，
// 为工作流引擎的运行与节点 span 提供 TracerProvider，并配置 OTLP 指标导出。
// 当遥测功能禁用时，使用 noop 实现，不连接任何外部服务。
package telemetry
