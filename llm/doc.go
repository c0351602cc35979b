// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package llm 定义工作流节点使用的流式对话协作者契约。

# 核心类型

  - Provider: 流式对话接口（Stream + Name）
  - ChatRequest: 单次对话请求（消息、模型参数、超时、search_disable）
  - StreamChunk: 增量响应（content / reasoning_content / usage / finish_reason）
  - Error: Provider 级错误，携带可重试标记

# 主要能力

  - Collect：将流式响应聚合为 ChatResponse，并按到达顺序回调增量
  - RateLimitedProvider：基于 golang.org/x/time/rate 的令牌桶限流

子包 retry 提供指数退避重试，tokenizer 提供 token 计数，
providers/openai 提供 OpenAI 兼容接口实现。
*/
package llm
