// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供工作流引擎的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 workflow、sandbox、
knowledge、llm 等上层模块提供统一的错误契约，以避免循环依赖。

# 核心类型

  - ErrorCode: 稳定的整数错误码，0 表示成功，终止帧原样返回
  - Error: 结构化错误（Code、Message、Retryable、NodeID、Cause）

# 主要能力

  - 错误工具链：NewError / Errorf / Wrap / AsError / IsCode / IsRetryable
  - 错误码分类：构建期、变量池、节点执行、中断恢复、通用
  - 超时类判断：ErrorCode.IsTimeout
*/
package types
