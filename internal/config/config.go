package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/feral-file/ttc-coordinator/internal/domain"
)

// BaseConfig holds configuration common to every binary.
type BaseConfig struct {
	Debug     bool   `mapstructure:"debug"`
	SentryDSN string `mapstructure:"sentry_dsn"`
}

// DatabaseConfig holds Postgres connection and pool configuration for the
// job store.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int32         `mapstructure:"max_open_conns"`
	MinIdleConns    int32         `mapstructure:"min_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

// DSN returns the database connection string in libpq keyword/value form,
// accepted directly by pgxpool.ParseConfig.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// EthereumConfig holds the RPC endpoint and chain identity used by the
// chain watcher to poll a TTC contract.
type EthereumConfig struct {
	RPCURL       string        `mapstructure:"rpc_url"`
	WebSocketURL string        `mapstructure:"websocket_url"`
	ChainID      domain.Chain  `mapstructure:"chain_id"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Confirmations uint64       `mapstructure:"confirmations"`
}

// ServerConfig holds HTTP server configuration for the monitor and prover
// RPC surfaces.
type ServerConfig struct {
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	ReadTimeout    int      `mapstructure:"read_timeout"`  // in seconds
	WriteTimeout   int      `mapstructure:"write_timeout"` // in seconds
	IdleTimeout    int      `mapstructure:"idle_timeout"`  // in seconds
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// WorkerConfig holds the prover's job-claim polling and concurrency
// configuration.
type WorkerConfig struct {
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	Concurrency     int           `mapstructure:"concurrency"`
	ClaimBatchSize  int           `mapstructure:"claim_batch_size"`
	StaleThreshold  time.Duration `mapstructure:"stale_threshold"`
	ReclaimInterval time.Duration `mapstructure:"reclaim_interval"`
}

// ProverConfig selects between the real zkVM proving pipeline and the
// deterministic development stub, and names the guest binary the real
// pipeline should invoke.
type ProverConfig struct {
	DevMode           bool   `mapstructure:"dev_mode"`
	GuestELFPath      string `mapstructure:"guest_elf_path"`
	ImageID           string `mapstructure:"image_id"`
	ProvingServiceURL string `mapstructure:"proving_service_url"`
}

// MonitorConfig holds configuration for the monitor service (cmd/monitor):
// the process that watches registered TTC contracts and exposes the
// public coordination RPC surface.
type MonitorConfig struct {
	BaseConfig `mapstructure:",squash"`
	Server     ServerConfig   `mapstructure:"server"`
	Database   DatabaseConfig `mapstructure:"database"`
	Ethereum   EthereumConfig `mapstructure:"ethereum"`
	ProverURL  string         `mapstructure:"prover_url"`
}

// ProverConfigRoot holds configuration for the prover service (cmd/prover):
// the process that claims jobs from the store and runs the proving
// pipeline.
type ProverConfigRoot struct {
	BaseConfig `mapstructure:",squash"`
	Server     ServerConfig   `mapstructure:"server"`
	Database   DatabaseConfig `mapstructure:"database"`
	Ethereum   EthereumConfig `mapstructure:"ethereum"`
	Worker     WorkerConfig   `mapstructure:"worker"`
	Prover     ProverConfig   `mapstructure:"prover"`
}

// LoadMonitorConfig loads configuration for the monitor service.
func LoadMonitorConfig(configFile string, envPath string) (*MonitorConfig, error) {
	v := configureViper("monitor", configFile, envPath)

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8081)
	v.SetDefault("server.read_timeout", 10)
	v.SetDefault("server.write_timeout", 10)
	v.SetDefault("server.idle_timeout", 120)
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.min_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.conn_max_idle_time", "10m")
	v.SetDefault("ethereum.chain_id", "eip155:1")
	v.SetDefault("ethereum.poll_interval", "12s")
	v.SetDefault("ethereum.confirmations", 3)
	v.SetDefault("prover_url", "http://localhost:8082")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg MonitorConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.Database.Host == "" {
		return nil, errors.New("database.host is required")
	}
	if cfg.Ethereum.RPCURL == "" {
		return nil, errors.New("ethereum.rpc_url is required")
	}
	return &cfg, nil
}

// LoadProverConfig loads configuration for the prover service.
func LoadProverConfig(configFile string, envPath string) (*ProverConfigRoot, error) {
	v := configureViper("prover", configFile, envPath)

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8082)
	v.SetDefault("server.read_timeout", 10)
	v.SetDefault("server.write_timeout", 10)
	v.SetDefault("server.idle_timeout", 120)
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.min_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.conn_max_idle_time", "10m")
	v.SetDefault("ethereum.chain_id", "eip155:1")
	v.SetDefault("worker.poll_interval", "2s")
	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.claim_batch_size", 1)
	v.SetDefault("worker.stale_threshold", "10m")
	v.SetDefault("worker.reclaim_interval", "5m")
	v.SetDefault("prover.dev_mode", true)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg ProverConfigRoot
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.Database.Host == "" {
		return nil, errors.New("database.host is required")
	}
	if cfg.Ethereum.RPCURL == "" {
		return nil, errors.New("ethereum.rpc_url is required")
	}
	if !cfg.Prover.DevMode && cfg.Prover.ProvingServiceURL == "" {
		return nil, errors.New("prover.proving_service_url is required unless prover.dev_mode is set")
	}
	return &cfg, nil
}

// configureViper returns a viper instance with the config file and environment variables set
func configureViper(service string, configFile string, envPath string) *viper.Viper {
	v := viper.New()

	loadEnv(envPath, service)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(fmt.Sprintf("cmd/%s/", service))
		v.AddConfigPath("config/")
	}

	v.SetEnvPrefix("FF_TTC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindAllEnvVars(v)
	return v
}

// bindAllEnvVars explicitly binds all possible environment variables.
// This is required for viper to map env vars to config struct fields when
// no config file exists.
func bindAllEnvVars(v *viper.Viper) {
	keys := []string{
		"debug",
		"sentry_dsn",
		"database.host",
		"database.port",
		"database.user",
		"database.password",
		"database.dbname",
		"database.sslmode",
		"database.max_open_conns",
		"database.min_idle_conns",
		"database.conn_max_lifetime",
		"database.conn_max_idle_time",
		"ethereum.rpc_url",
		"ethereum.websocket_url",
		"ethereum.chain_id",
		"ethereum.poll_interval",
		"ethereum.confirmations",
		"server.host",
		"server.port",
		"server.read_timeout",
		"server.write_timeout",
		"server.idle_timeout",
		"server.allowed_origins",
		"worker.poll_interval",
		"worker.concurrency",
		"worker.claim_batch_size",
		"worker.stale_threshold",
		"worker.reclaim_interval",
		"prover.dev_mode",
		"prover.guest_elf_path",
		"prover.image_id",
		"prover.proving_service_url",
		"prover_url",
	}

	for _, key := range keys {
		_ = v.BindEnv(key)
	}
}

// loadEnv loads environment variables from the config directory
func loadEnv(envPath string, service string) {
	envFiles := []string{".env", ".env.local"}
	if service != "" {
		envFiles = append(envFiles, ".env."+service+".local")
	}

	if envPath == "" {
		envPath = "config/"
	}

	for _, envFile := range envFiles {
		candidate := filepath.Join(envPath, envFile)
		_ = godotenv.Overload(candidate)
	}
}

// ChdirRepoRoot changes the current working directory to the repository root
func ChdirRepoRoot() {
	cwd, _ := os.Getwd()
	for range 5 {
		if _, err := os.Stat(filepath.Join(cwd, "config")); err == nil {
			_ = os.Chdir(cwd)
			return
		}
		cwd = filepath.Dir(cwd)
	}
}
