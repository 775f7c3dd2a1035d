// Package config binds the environment inputs of spec.md §6 via viper, the
// configuration library the rest of the retrieved pack reaches for.
// Grounded on the pack's viper-based config loading (environment-driven, a
// flat struct of typed fields; the teacher has no configuration layer) and
// generalized to the full set of inputs this spec names.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// envPrefix matches every recognized environment variable, e.g.
// EXCHANGE_DB_DSN.
const envPrefix = "EXCHANGE"

// Config is the fully-resolved process configuration.
type Config struct {
	DBDSN string `mapstructure:"db_dsn"`

	TokenStoreAddr     string `mapstructure:"tokenstore_addr"`
	TokenStorePassword string `mapstructure:"tokenstore_password"`
	TokenStoreDB       int    `mapstructure:"tokenstore_db"`

	TCPBindAddr   string `mapstructure:"tcp_bind_addr"`
	StreamBindAddr string `mapstructure:"stream_bind_addr"`

	SharedMemoryRingName string `mapstructure:"shm_ring_name"`

	TLSCertFile string `mapstructure:"tls_cert_file"`
	TLSKeyFile  string `mapstructure:"tls_key_file"`
	TCPTLSEnabled    bool `mapstructure:"tcp_tls_enabled"`
	StreamTLSEnabled bool `mapstructure:"stream_tls_enabled"`

	DeveloperVerbose bool `mapstructure:"developer_verbose"`
}

// Load reads configuration from EXCHANGE_-prefixed environment variables,
// applying the defaults spec.md §6 names, and validates the mandatory
// fields (DB DSN always; TLS cert/key whenever the corresponding endpoint's
// TLS flag is set).
func Load() (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("tokenstore_addr", "localhost:6379")
	v.SetDefault("tokenstore_db", 0)
	v.SetDefault("tcp_bind_addr", "0.0.0.0:50052")
	v.SetDefault("stream_bind_addr", "0.0.0.0:50051")
	v.SetDefault("shm_ring_name", "stock_exchange_orders")
	v.SetDefault("developer_verbose", false)
	v.SetDefault("tcp_tls_enabled", false)
	v.SetDefault("stream_tls_enabled", false)

	cfg := Config{
		DBDSN:                v.GetString("db_dsn"),
		TokenStoreAddr:       v.GetString("tokenstore_addr"),
		TokenStorePassword:   v.GetString("tokenstore_password"),
		TokenStoreDB:         v.GetInt("tokenstore_db"),
		TCPBindAddr:          v.GetString("tcp_bind_addr"),
		StreamBindAddr:       v.GetString("stream_bind_addr"),
		SharedMemoryRingName: v.GetString("shm_ring_name"),
		TLSCertFile:          v.GetString("tls_cert_file"),
		TLSKeyFile:           v.GetString("tls_key_file"),
		TCPTLSEnabled:        v.GetBool("tcp_tls_enabled"),
		StreamTLSEnabled:     v.GetBool("stream_tls_enabled"),
		DeveloperVerbose:     v.GetBool("developer_verbose"),
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.DBDSN == "" {
		return fmt.Errorf("config: EXCHANGE_DB_DSN is required")
	}
	if c.TCPTLSEnabled && (c.TLSCertFile == "" || c.TLSKeyFile == "") {
		return fmt.Errorf("config: EXCHANGE_TLS_CERT_FILE/EXCHANGE_TLS_KEY_FILE required when TCP TLS is enabled")
	}
	if c.StreamTLSEnabled && (c.TLSCertFile == "" || c.TLSKeyFile == "") {
		return fmt.Errorf("config: EXCHANGE_TLS_CERT_FILE/EXCHANGE_TLS_KEY_FILE required when streaming TLS is enabled")
	}
	return nil
}
