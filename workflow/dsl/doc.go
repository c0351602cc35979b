// Package dsl 定义工作流 DSL（节点 + 边）的数据结构，
// 负责 JSON/YAML 解析、结构校验，并提供 if-else 节点使用的条件表达式求值器。
package dsl
