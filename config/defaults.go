// =============================================================================
// 📦 FlowEngine 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Engine:        DefaultEngineConfig(),
		EventRegistry: DefaultEventRegistryConfig(),
		LLM:           DefaultLLMConfig(),
		Knowledge:     DefaultKnowledgeConfig(),
		Sandbox:       DefaultSandboxConfig(),
		Redis:         DefaultRedisConfig(),
		Database:      DefaultDatabaseConfig(),
		Log:           DefaultLogConfig(),
		Telemetry:     DefaultTelemetryConfig(),
		Metrics:       DefaultMetricsConfig(),
	}
}

// DefaultEngineConfig 返回默认调度器配置
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		NodeTimeout:          0,
		RunTimeout:           30 * time.Minute,
		IterationConcurrency: 1,
		MaxIterationItems:    1000,
		MaxFlowDepth:         5,
		CallbackBuffer:       256,
	}
}

// DefaultEventRegistryConfig 返回默认事件注册表配置
func DefaultEventRegistryConfig() EventRegistryConfig {
	return EventRegistryConfig{
		Backend:        "memory",
		DefaultTimeout: 10 * time.Minute,
		ResumeExpire:   30 * time.Minute,
		KeyPrefix:      "flowengine",
	}
}

// DefaultLLMConfig 返回默认 LLM 配置
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		APIKey:         "",
		BaseURL:        "",
		Model:          "gpt-4o-mini",
		Timeout:        2 * time.Minute,
		MaxRetries:     0,
		RateLimitRPS:   0,
		RateLimitBurst: 1,
	}
}

// DefaultKnowledgeConfig 返回默认知识库配置
func DefaultKnowledgeConfig() KnowledgeConfig {
	return KnowledgeConfig{
		BaseURL: "http://localhost:8000",
		Timeout: 30 * time.Second,
	}
}

// DefaultSandboxConfig 返回默认代码执行配置
func DefaultSandboxConfig() SandboxConfig {
	return SandboxConfig{
		Mode:           "local",
		RemoteURL:      "",
		PythonPath:     "python3",
		Timeout:        30 * time.Second,
		MaxOutputBytes: 1 << 20,
		DeniedImports: []string{
			"os", "sys", "subprocess", "socket", "shutil", "ctypes",
			"multiprocessing", "threading", "signal", "importlib", "pty", "builtins",
		},
		BreakerThreshold: 5,
		BreakerTimeout:   30 * time.Second,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		FlowCacheTTL: 10 * time.Minute,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "sqlite",
		Host:            "localhost",
		Port:            5432,
		User:            "flowengine",
		Password:        "",
		Name:            "flowengine.db",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stderr"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "flowengine",
		SampleRate:   0.1,
	}
}

// DefaultMetricsConfig 返回默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:   true,
		Namespace: "flowengine",
	}
}
