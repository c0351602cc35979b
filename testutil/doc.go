// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package testutil 提供 FlowEngine 测试的共享工具和辅助函数。

# 概述

testutil 包为工作流引擎及其协作组件的单元测试提供统一的辅助能力，
避免各包重复实现相似的测试基础设施。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout，自动注册 Cleanup
  - 断言工具: AssertMessagesEqual / AssertErrorCode（按 types.ErrorCode 比较）
  - 异步辅助: AssertEventuallyTrue / WaitFor / DrainChannel

# 子包

  - testutil/mocks: 协作者 Mock，包括 MockProvider（流式 LLM）、
    MockRetriever（知识库）、MockCodeExecutor（代码沙箱）、
    MockFlowLoader（子流程），均支持 Builder 模式与错误注入
  - testutil/fixtures: DSL 节点、边与变量引用的构造器

# 使用示例

	ctx := testutil.TestContext(t)
	provider := mocks.NewMockProvider().WithStreamChunks([]string{"he", "llo"})
	d := fixtures.Workflow(fixtures.Nodes(start, llmNode, end), fixtures.Chain(start.ID, llmNode.ID, end.ID)...)
*/
package testutil
