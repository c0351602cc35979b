// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package workflow 提供基于 DSL 的工作流 DAG 执行引擎。

# 概述

Builder 将 dsl.WorkflowDSL 构建为一次性的 Engine：推导依赖链（Chains）、
构建类型化节点实例、检查变量引用只指向上游节点、并计算流式消息依赖。
Engine 为每个节点启动一个任务，节点等待所有前驱完成（流式 end/message
节点只等待其 LLM 源开始执行），随后执行或被跳过。

# 核心类型

  - Builder: DSL → Engine，包括 BuildChains / BuildNodes /
    BuildNodeDependencies / BuildMessageDependencies / CreateDebugNode
  - Engine: Run（同步结果）、Stream（帧流）、RunNode（单节点调试）
  - EngineContext: 一次运行的可变状态：变量池、节点状态表、流缓冲
  - VariablePool: 节点输入单元与输出值，支持 "a.b[0].c" 路径
  - NodeRunStatus: 节点状态与 processing / complete 两个信号
  - StrategyManager: 节点执行策略（问答节点串行化）
  - Frame / WriteSSE: 面向调用方的流式帧与 SSE 编码

# 节点类型

node-start、node-end、message、spark-llm、knowledge-base、ifly-code、flow、
text-joiner、if-else、decision-making、question-answer、iteration
（含 iteration-node-start / iteration-node-end）。

# 错误处理

节点失败按 retryConfig 处理：重试（指数退避）、超时、以及三种错误策略
（失败、返回自定义值、走 fail_one_of 失败分支）。运行错误取第一个失败
节点的错误，已启动的兄弟节点继续执行完毕。错误码见 types 包。
*/
package workflow
