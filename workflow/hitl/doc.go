// Package hitl 提供工作流中断/恢复所需的事件注册表。
//
// 暂停的节点（如问答节点）登记事件并阻塞在恢复队列上；外部恢复入口按
// event_id 写入数据将其唤醒。等待有超时，超时后节点以 EVENT_TIMEOUT_ERROR
// 失败。提供内存实现 MemoryRegistry 与 Redis 实现 RedisRegistry。
package hitl
