// Package config loads the named configuration values reactorhttp's core
// consumes (§6), via viper so the file format is flexible (YAML/TOML/JSON/
// .env/Java-properties/INI all parse the same key set) while the key names
// and defaults stay exactly what original_source/core/config.c exposed.
// Grounded on original_source/core/config.c's key table.
package config

import (
	"time"

	"github.com/spf13/viper"

	"github.com/WhileEndless/reactorhttp/pkg/constants"
)

// Config is a typed view over a loaded viper instance.
type Config struct {
	v *viper.Viper
}

func defaults() map[string]any {
	return map[string]any{
		"net_cert_file":                "",
		"net_key_file":                 "",
		"net_cert_test_file":           "",
		"net_key_test_file":            "",
		"net_ssl_shutdown_timeout":     constants.DefaultSSLShutdownTimeout.Seconds(),
		"net_ssl_establish_timeout":    constants.DefaultSSLEstablishTimeout.Seconds(),
		"net_ssl_accept_timeout":       constants.DefaultSSLAcceptTimeout.Seconds(),
		"net_establish_timeout":        constants.DefaultEstablishTimeout.Seconds(),
		"net_flush_and_close_timeout":  constants.DefaultFlushAndCloseDelay.Seconds(),
		"http_response_timeout":        constants.DefaultResponseTimeout.Seconds(),
		"http_check_messages_queue_interval": constants.DefaultCheckMessagesQueueInterval.Seconds(),
		"logger_logfile":               "reactorhttp.log",
		"logger_rotate_interval":       3600,
		"logger_debug_rotate_interval": 300,
		"net_listen_port":              8080,
		"net_listen_ssl_port":          8443,
		"net_high_fanout":              false,
		"resolver_refresh_interval":    300,
		"proxy_upstream":               "",
	}
}

// Load reads configuration from path (any format viper recognizes by
// extension) layered over the built-in defaults. An empty path loads
// defaults only (no file is required to exist).
func Load(path string) (*Config, error) {
	v := viper.New()
	for k, val := range defaults() {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix("REACTORHTTP")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, err
			}
		}
	}
	return &Config{v: v}, nil
}

// CertFile returns net_cert_file, falling back to net_cert_test_file (with
// isTest==true) when unset, per §6's documented fallback.
func (c *Config) CertFile() (path string, isTest bool) {
	if f := c.v.GetString("net_cert_file"); f != "" {
		return f, false
	}
	return c.v.GetString("net_cert_test_file"), true
}

// KeyFile mirrors CertFile for the private key.
func (c *Config) KeyFile() (path string, isTest bool) {
	if f := c.v.GetString("net_key_file"); f != "" {
		return f, false
	}
	return c.v.GetString("net_key_test_file"), true
}

func (c *Config) seconds(key string) time.Duration {
	return time.Duration(c.v.GetFloat64(key) * float64(time.Second))
}

func (c *Config) SSLShutdownTimeout() time.Duration    { return c.seconds("net_ssl_shutdown_timeout") }
func (c *Config) SSLEstablishTimeout() time.Duration   { return c.seconds("net_ssl_establish_timeout") }
func (c *Config) SSLAcceptTimeout() time.Duration      { return c.seconds("net_ssl_accept_timeout") }
func (c *Config) EstablishTimeout() time.Duration      { return c.seconds("net_establish_timeout") }
func (c *Config) FlushAndCloseTimeout() time.Duration  { return c.seconds("net_flush_and_close_timeout") }
func (c *Config) HTTPResponseTimeout() time.Duration   { return c.seconds("http_response_timeout") }
func (c *Config) CheckMessagesQueueInterval() time.Duration {
	return c.seconds("http_check_messages_queue_interval")
}

func (c *Config) LoggerLogfile() string          { return c.v.GetString("logger_logfile") }
func (c *Config) LoggerRotateInterval() time.Duration {
	return time.Duration(c.v.GetInt("logger_rotate_interval")) * time.Second
}
func (c *Config) LoggerDebugRotateInterval() time.Duration {
	return time.Duration(c.v.GetInt("logger_debug_rotate_interval")) * time.Second
}

func (c *Config) ListenPort() int    { return c.v.GetInt("net_listen_port") }
func (c *Config) ListenSSLPort() int { return c.v.GetInt("net_listen_ssl_port") }
func (c *Config) HighFanout() bool   { return c.v.GetBool("net_high_fanout") }

func (c *Config) MaxFDs() int {
	if c.HighFanout() {
		return constants.MaxFDsHighFanout
	}
	return constants.MaxFDsDefault
}

func (c *Config) ResolverRefreshInterval() time.Duration {
	return time.Duration(c.v.GetInt("resolver_refresh_interval")) * time.Second
}

func (c *Config) ProxyUpstream() string { return c.v.GetString("proxy_upstream") }

// Raw exposes the underlying viper instance for collaborators (pkg/module,
// pkg/proxyref) that need keys outside this typed surface.
func (c *Config) Raw() *viper.Viper { return c.v }
