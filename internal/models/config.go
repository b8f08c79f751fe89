package models

import "time"

// Config represents the application configuration
type Config struct {
	Database   DatabaseConfig
	Postgres   PostgresConfig
	Server     ServerConfig
	Dispatcher DispatcherConfig
	AMQP       AMQPConfig

	// Backend selects the ledger store implementation: "sqlite" or "postgres".
	Backend string

	// FeesFile is an optional YAML fee schedule; built-in defaults apply
	// when empty or missing.
	FeesFile string
}

// DatabaseConfig holds SQLite connection settings
type DatabaseConfig struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
}

// PostgresConfig holds PostgreSQL connection settings
type PostgresConfig struct {
	URL         string
	PingTimeout time.Duration
}

// ServerConfig holds HTTP API settings
type ServerConfig struct {
	Addr            string
	ShutdownTimeout time.Duration
}

// DispatcherConfig holds webhook dispatcher settings
type DispatcherConfig struct {
	Workers        int
	QueueSize      int
	RequestTimeout time.Duration
}

// AMQPConfig holds optional RabbitMQ event fan-out settings
type AMQPConfig struct {
	Enabled  bool
	URL      string
	Exchange string
}
