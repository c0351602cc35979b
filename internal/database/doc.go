// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 提供基于 GORM 的数据库连接与连接池管理。

# 概述

Open 按配置的驱动（postgres、mysql、sqlite）选择 gorm 方言并建立
连接，sqlite 使用纯 Go 的 glebarez 驱动。PoolManager 统一管理
连接生命周期，后台健康检查定时探活。

# 核心类型

  - PoolManager：持有 gorm 实例与底层 sql.DB，提供 DB、Ping、Stats、Close。
  - PoolConfig：最大空闲连接数、最大打开连接数、连接生命周期与健康检查间隔。
  - TransactionFunc：事务回调函数类型。

# 事务

WithTransaction 单次事务执行；WithTransactionRetry 在死锁、序列化
失败等可重试错误上按指数退避重试。store 包的历史记录与流程仓库
通过它写入。
*/
package database
