// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 提供基于 Redis 的共享连接管理，服务于子流程 DSL 缓存
与中断恢复队列。

# 核心类型

  - Manager：持有 go-redis 客户端，提供 Get/Set/Delete/Expire、
    GetJSON/SetJSON，以及 Push/BlockingPop 队列操作。
  - Config：地址、密码、连接池、默认 TTL 与健康检查间隔，
    可通过 ConfigFrom 从 config.RedisConfig 构造。

# 主要能力

  - 键值读写：字符串与 JSON 两种模式。
  - 恢复队列：RPUSH + EXPIRE 写入，BLPOP 带超时读取。
  - 健康检查：后台定时 Ping，异常时通过 zap 日志告警，Close 时退出。
  - 错误语义：ErrCacheMiss 表示未命中或阻塞读取超时，ErrClosed 表示已关闭。
*/
package cache
