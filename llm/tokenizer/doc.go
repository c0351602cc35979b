// Package tokenizer 为 LLM 节点的对话历史裁剪计算 token 数。
// OpenAI 系列模型走 tiktoken 编码表，其余模型（以及编码表加载失败时）
// 按字符类别估算。
package tokenizer
