// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的工作流指标采集。

# 概述

Collector 通过 promauto.With 注册到调用方提供的 Registry，
同一进程内可以并存多个互不冲突的收集器。它实现 workflow.Metrics，
由引擎在每个节点与每次顶层运行结束时调用。

# 指标

  - node_executions_total / node_duration_seconds：按节点类型与最终状态分组。
  - runs_total / run_duration_seconds：顶层运行，迭代与子流程的内部运行不计入。
  - cache_hits_total / cache_misses_total：流程 DSL 缓存命中情况。
  - db_connections_*：连接池状态 Gauge。

Handler 返回 promhttp 抓取端点。
*/
package metrics
