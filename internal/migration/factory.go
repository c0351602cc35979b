package migration

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/flowengine/config"
)

// NewMigratorFromConfig 根据应用数据库配置创建迁移器
func NewMigratorFromConfig(dc config.DatabaseConfig, logger *zap.Logger) (*DefaultMigrator, error) {
	dbType, err := ParseDatabaseType(dc.Driver)
	if err != nil {
		return nil, fmt.Errorf("invalid database type: %w", err)
	}

	var url string
	switch dbType {
	case DatabaseTypePostgres:
		url = BuildDatabaseURL(dbType, dc.Host, dc.Port, dc.Name, dc.User, dc.Password, dc.SSLMode)
	case DatabaseTypeMySQL:
		url = BuildDatabaseURL(dbType, dc.Host, dc.Port, dc.Name, dc.User, dc.Password, "")
	case DatabaseTypeSQLite:
		// sqlite 的 Name 即文件路径
		url = BuildDatabaseURL(dbType, "", 0, dc.Name, "", "", "")
	}

	return NewMigrator(&Config{DatabaseType: dbType, DatabaseURL: url}, logger)
}
