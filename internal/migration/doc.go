// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 migration 管理 store 包所需的数据表（flows、chat_histories），
基于 golang-migrate，支持 PostgreSQL、MySQL 与 SQLite。

# 概述

各方言的 SQL 迁移文件通过 embed.FS 内嵌在二进制中，按
migrations/<dialect>/NNNNNN_name.{up,down}.sql 组织。SQLite 使用
modernc 纯 Go 驱动，无需 cgo。

# 核心类型

  - Migrator / DefaultMigrator：Up、Down、Steps、Force、Version、Status、Info。
  - Config：数据库类型、连接串、迁移表名与锁超时。
  - CLI：flowengine migrate 子命令的格式化输出，Run 按参数分发。

NewMigratorFromConfig 从 config.DatabaseConfig 直接构造迁移器。
*/
package migration
