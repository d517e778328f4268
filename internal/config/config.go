package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

const (
	DefaultHost      = "127.0.0.1"
	DefaultPort      = 9305
	DefaultScheme    = "projdocs"
	DefaultServiceID = "com.projdocs.desktop"
	DefaultAccountID = "00000000-0000-0000-0000-000000000000"
)

type Config struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	DataDir      string `toml:"data_dir"`
	CertDir      string `toml:"cert_dir"`
	Scheme       string `toml:"scheme"`
	ServiceID    string `toml:"service_id"`
	AccountID    string `toml:"account_id"`
	OfficeScheme string `toml:"office_scheme"`
	ProxyPrefix  string `toml:"proxy_prefix"`
	RealtimePath string `toml:"realtime_path"`
	Vault        string `toml:"vault"`
	LogLevel     string `toml:"log_level"`
	LogFormat    string `toml:"log_format"`
	GinMode      string `toml:"gin_mode"`
	LoginURL     string `toml:"login_url"`

	VerifyTokens           bool `toml:"verify_tokens"`
	InsecureUpstream       bool `toml:"insecure_upstream"`
	UpstreamTimeoutSeconds int  `toml:"upstream_timeout_seconds"`
	// DocumentCallsPerMinute caps checkout and checkin per document; 0 disables it.
	DocumentCallsPerMinute int `toml:"document_calls_per_minute"`
}

type Env interface {
	Getenv(key string) string
}

type osEnv struct{}

func (osEnv) Getenv(key string) string { return os.Getenv(key) }

// LoadConfig reads .env from the working directory (existing variables win)
// and then resolves the configuration from the process environment.
func LoadConfig(path string) (Config, error) {
	_ = godotenv.Load()
	return LoadConfigFromEnv(osEnv{}, path)
}

func Default() Config {
	dataDir := ".projdocs"
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, ".projdocs")
	}
	return Config{
		Host:         DefaultHost,
		Port:         DefaultPort,
		DataDir:      dataDir,
		Scheme:       DefaultScheme,
		ServiceID:    DefaultServiceID,
		AccountID:    DefaultAccountID,
		OfficeScheme: "ms-word",
		ProxyPrefix:  "/supabase",
		RealtimePath: "/realtime/v1/websocket",
		Vault:        "keyring",
		LogLevel:     "info",
		LogFormat:    "console",
		GinMode:      "release",

		DocumentCallsPerMinute: 10,
	}
}

// LoadConfigFromEnv layers defaults, the TOML file and PROJDOCS_* variables.
// An empty path falls back to PROJDOCS_CONFIG and then <data-dir>/config.toml,
// which is optional.
func LoadConfigFromEnv(env Env, path string) (Config, error) {
	cfg := Default()
	if raw := env.Getenv("PROJDOCS_DATA_DIR"); raw != "" {
		cfg.DataDir = raw
	}

	explicit := path != ""
	if path == "" {
		path = env.Getenv("PROJDOCS_CONFIG")
		explicit = path != ""
	}
	if path == "" {
		path = filepath.Join(cfg.DataDir, "config.toml")
	}
	if err := loadFile(&cfg, path, explicit); err != nil {
		return Config{}, err
	}

	if err := applyEnv(&cfg, env); err != nil {
		return Config{}, err
	}

	if cfg.CertDir == "" {
		cfg.CertDir = filepath.Join(cfg.DataDir, "certs")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(cfg *Config, path string, required bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !required {
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config, env Env) error {
	strs := map[string]*string{
		"PROJDOCS_HOST":          &cfg.Host,
		"PROJDOCS_DATA_DIR":      &cfg.DataDir,
		"PROJDOCS_CERT_DIR":      &cfg.CertDir,
		"PROJDOCS_SCHEME":        &cfg.Scheme,
		"PROJDOCS_SERVICE_ID":    &cfg.ServiceID,
		"PROJDOCS_ACCOUNT_ID":    &cfg.AccountID,
		"PROJDOCS_OFFICE_SCHEME": &cfg.OfficeScheme,
		"PROJDOCS_PROXY_PREFIX":  &cfg.ProxyPrefix,
		"PROJDOCS_REALTIME_PATH": &cfg.RealtimePath,
		"PROJDOCS_VAULT":         &cfg.Vault,
		"PROJDOCS_LOG_LEVEL":     &cfg.LogLevel,
		"PROJDOCS_LOG_FORMAT":    &cfg.LogFormat,
		"PROJDOCS_LOGIN_URL":     &cfg.LoginURL,
		"GIN_MODE":               &cfg.GinMode,
	}
	for key, dst := range strs {
		if raw := env.Getenv(key); raw != "" {
			*dst = raw
		}
	}

	if raw := env.Getenv("PROJDOCS_PORT"); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("invalid PROJDOCS_PORT")
		}
		cfg.Port = port
	}
	if raw := env.Getenv("PROJDOCS_DOCUMENT_CALLS_PER_MINUTE"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return fmt.Errorf("invalid PROJDOCS_DOCUMENT_CALLS_PER_MINUTE")
		}
		cfg.DocumentCallsPerMinute = n
	}
	if raw := env.Getenv("PROJDOCS_UPSTREAM_TIMEOUT_SECONDS"); raw != "" {
		seconds, err := strconv.Atoi(raw)
		if err != nil || seconds < 0 {
			return fmt.Errorf("invalid PROJDOCS_UPSTREAM_TIMEOUT_SECONDS")
		}
		cfg.UpstreamTimeoutSeconds = seconds
	}

	bools := map[string]*bool{
		"PROJDOCS_VERIFY_TOKENS":     &cfg.VerifyTokens,
		"PROJDOCS_INSECURE_UPSTREAM": &cfg.InsecureUpstream,
	}
	for key, dst := range bools {
		raw := env.Getenv(key)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("invalid %s", key)
		}
		*dst = v
	}
	return nil
}

func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	// Loopback only; proxied requests carry the user's credentials.
	if ip := net.ParseIP(c.Host); (ip == nil || !ip.IsLoopback()) && c.Host != "localhost" {
		return fmt.Errorf("host %q is not a loopback address", c.Host)
	}
	if c.DocumentCallsPerMinute < 0 {
		return fmt.Errorf("invalid document_calls_per_minute %d", c.DocumentCallsPerMinute)
	}
	if c.Scheme == "" || strings.ContainsAny(c.Scheme, ":/") {
		return fmt.Errorf("invalid scheme %q", c.Scheme)
	}
	if c.ServiceID == "" || c.AccountID == "" {
		return fmt.Errorf("service_id and account_id are required")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if !strings.HasPrefix(c.ProxyPrefix, "/") || !strings.HasPrefix(c.RealtimePath, "/") {
		return fmt.Errorf("proxy_prefix and realtime_path must start with /")
	}
	switch c.Vault {
	case "keyring", "file":
	default:
		return fmt.Errorf("unknown vault %q", c.Vault)
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("unknown log_format %q", c.LogFormat)
	}
	return nil
}

func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c Config) BaseURL() string {
	return "https://" + c.Addr()
}

func (c Config) CacheDir() string   { return filepath.Join(c.DataDir, "files") }
func (c Config) MarkerPath() string { return filepath.Join(c.DataDir, "rootCA.trusted") }
func (c Config) SocketPath() string { return filepath.Join(c.DataDir, "instance.sock") }
func (c Config) LogDir() string     { return filepath.Join(c.DataDir, "logs") }
func (c Config) VaultDir() string   { return filepath.Join(c.DataDir, "vault") }

func (c Config) UpstreamTimeout() time.Duration {
	return time.Duration(c.UpstreamTimeoutSeconds) * time.Second
}
