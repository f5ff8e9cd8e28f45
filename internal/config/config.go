package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config represents the cifsd server configuration.
//
// The configuration surface is intentionally flat and read-mostly: the
// share table and global protocol settings, plus the ambient concerns
// (logging, telemetry, metrics, lock limits) a deployable server needs.
// The configuration is read once at startup and is not reloaded while
// the server runs.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (CIFSD_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Telemetry controls OpenTelemetry distributed tracing.
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// Metrics contains Prometheus metrics server configuration.
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Admin contains the admin HTTP API server configuration.
	Admin AdminAPIConfig `mapstructure:"admin" yaml:"admin"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// Durable contains the durable-handle persistence configuration (C9).
	Durable DurableConfig `mapstructure:"durable" yaml:"durable"`

	// Lock contains byte-range lock manager configuration.
	Lock LockConfig `mapstructure:"lock" yaml:"lock"`

	// Global holds the server-wide CIFS identity and protocol settings.
	Global GlobalConfig `mapstructure:"global" yaml:"global"`

	// Shares is the exported share table, keyed by share name at lookup
	// time but declared as a list so ordering in the config file is
	// preserved for `config show`.
	Shares []ShareConfig `mapstructure:"shares" validate:"dive" yaml:"shares"`

	// Users is the local account table NTLM authentication resolves
	// against. cifsd_usr_list in the source; re-expressed here as
	// config rather than a runtime-mutable global.
	Users []UserConfig `mapstructure:"users" validate:"dive" yaml:"users"`
}

// UserConfig is one local account SESSION_SETUP_ANDX can authenticate
// against. NTHash is the account's NT hash (MD4 of the UTF-16LE
// password), hex-encoded, the same quantity smbpasswd stores; cifsd
// never sees or stores the plaintext password.
type UserConfig struct {
	Username string `mapstructure:"username" validate:"required" yaml:"username"`
	Domain   string `mapstructure:"domain" yaml:"domain,omitempty"`
	NTHash   string `mapstructure:"nt_hash" validate:"required,len=32,hexadecimal" yaml:"nt_hash"`
}

// GlobalConfig holds server-wide CIFS identity and protocol policy,
// corresponding to spec.md's global configuration surface.
type GlobalConfig struct {
	// GuestAccount is the Unix username guest sessions map to.
	GuestAccount string `mapstructure:"guest_account" yaml:"guest_account"`

	// ServerString is the comment string advertised in browse lists.
	ServerString string `mapstructure:"server_string" yaml:"server_string"`

	// Workgroup is the NetBIOS workgroup/domain name.
	Workgroup string `mapstructure:"workgroup" yaml:"workgroup"`

	// NetBIOSName is the server's own NetBIOS name.
	NetBIOSName string `mapstructure:"netbios_name" yaml:"netbios_name"`

	// ServerSigning controls SMB signing policy: disable, auto, or mandatory.
	ServerSigning string `mapstructure:"server_signing" validate:"omitempty,oneof=disable auto mandatory" yaml:"server_signing"`

	// MapToGuest controls fallback to the guest account on auth failure.
	// Valid values: never, bad-user, bad-password.
	MapToGuest string `mapstructure:"map_to_guest" validate:"omitempty,oneof=never bad-user bad-password" yaml:"map_to_guest"`

	// ServerMinProtocol is the lowest dialect the server will negotiate.
	ServerMinProtocol string `mapstructure:"server_min_protocol" yaml:"server_min_protocol"`

	// ServerMaxProtocol is the highest dialect the server will negotiate.
	ServerMaxProtocol string `mapstructure:"server_max_protocol" yaml:"server_max_protocol"`

	// MachineSID is the three domain sub-authorities of this server's
	// machine SID (S-1-5-21-<a>-<b>-<c>), the base the idmap oracle
	// derives every user/group SID from via RID arithmetic.
	MachineSID [3]uint32 `mapstructure:"machine_sid" yaml:"machine_sid"`

	// ListenAddr is the TCP address the SMB1 listener binds, e.g.
	// ":445". Binding below 1024 requires the usual OS privilege.
	ListenAddr string `mapstructure:"listen_addr" validate:"required" yaml:"listen_addr"`
}

// ShareConfig is one exported share or the IPC$ pipe share.
type ShareConfig struct {
	// Name is the share name as presented in \\server\name.
	Name string `mapstructure:"name" validate:"required" yaml:"name"`

	// Path is the absolute host filesystem path. Empty for IPC$.
	Path string `mapstructure:"path" yaml:"path,omitempty"`

	// Comment is a free-text description shown in browse lists.
	Comment string `mapstructure:"comment" yaml:"comment,omitempty"`

	// AllowHosts restricts access to the listed hosts/subnets; empty means
	// no restriction.
	AllowHosts []string `mapstructure:"allow_hosts" yaml:"allow_hosts,omitempty"`

	// DenyHosts excludes the listed hosts/subnets.
	DenyHosts []string `mapstructure:"deny_hosts" yaml:"deny_hosts,omitempty"`

	// ValidUsers restricts access to the listed users; empty means any
	// authenticated user.
	ValidUsers []string `mapstructure:"valid_users" yaml:"valid_users,omitempty"`

	// InvalidUsers denies access to the listed users outright.
	InvalidUsers []string `mapstructure:"invalid_users" yaml:"invalid_users,omitempty"`

	// ReadList forces read-only access for the listed users regardless of
	// Writeable.
	ReadList []string `mapstructure:"read_list" yaml:"read_list,omitempty"`

	// WriteList forces write access for the listed users regardless of
	// Writeable.
	WriteList []string `mapstructure:"write_list" yaml:"write_list,omitempty"`

	// Writeable is the share's default write policy.
	Writeable bool `mapstructure:"writeable" yaml:"writeable"`

	// Available controls whether the share is visible/connectable at all.
	Available bool `mapstructure:"available" yaml:"available"`

	// Browsable controls whether the share appears in browse lists.
	Browsable bool `mapstructure:"browsable" yaml:"browsable"`

	// GuestOk allows guest sessions to connect without credentials.
	GuestOk bool `mapstructure:"guest_ok" yaml:"guest_ok"`

	// GuestOnly forces every connection to the share to use the guest
	// account, even if the session authenticated as a real user.
	GuestOnly bool `mapstructure:"guest_only" yaml:"guest_only"`

	// Oplocks enables opportunistic lock grants for the share.
	Oplocks bool `mapstructure:"oplocks" yaml:"oplocks"`

	// StoreDosAttr enables reading/writing DOS attributes and creation
	// time from extended attributes.
	StoreDosAttr bool `mapstructure:"store_dos_attr" yaml:"store_dos_attr"`

	// ReadOnly forces the share read-only regardless of Writeable/WriteList.
	ReadOnly bool `mapstructure:"read_only" yaml:"read_only"`

	// WriteOk is a secondary write gate some smb.conf-derived tooling
	// expects alongside Writeable; both must hold for a write to proceed.
	WriteOk bool `mapstructure:"write_ok" yaml:"write_ok"`

	// MaxConnections caps concurrent tree connections to this share.
	// Zero means unlimited.
	MaxConnections int `mapstructure:"max_connections" validate:"omitempty,min=0" yaml:"max_connections,omitempty"`
}

// LockConfig contains byte-range lock manager configuration.
type LockConfig struct {
	// MaxLocksPerFile is the maximum number of locks allowed on a single file.
	MaxLocksPerFile int `mapstructure:"max_locks_per_file" yaml:"max_locks_per_file"`

	// MaxLocksPerSession is the maximum number of locks a single session can hold.
	MaxLocksPerSession int `mapstructure:"max_locks_per_session" yaml:"max_locks_per_session"`

	// MaxTotalLocks is the maximum total locks across all files and sessions.
	MaxTotalLocks int `mapstructure:"max_total_locks" yaml:"max_total_locks"`

	// BlockingTimeout is the server-side timeout for blocking lock requests.
	BlockingTimeout time.Duration `mapstructure:"blocking_timeout" yaml:"blocking_timeout"`
}

// DurableConfig controls durable-handle persistence (C9).
type DurableConfig struct {
	// Path is the directory for the badger-backed durable handle store.
	Path string `mapstructure:"path" validate:"required" yaml:"path"`

	// ResumeDurableState, when true, preserves the on-disk handle table
	// across a clean restart instead of wiping it. See DESIGN.md's
	// resolution of spec.md's durable-handle-persistence open question.
	ResumeDurableState bool `mapstructure:"resume_durable_state" yaml:"resume_durable_state"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry distributed tracing.
type TelemetryConfig struct {
	Enabled    bool    `mapstructure:"enabled" yaml:"enabled"`
	Endpoint   string  `mapstructure:"endpoint" yaml:"endpoint"`
	Insecure   bool    `mapstructure:"insecure" yaml:"insecure"`
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`
}

// MetricsConfig configures the Prometheus metrics HTTP server.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	Port    int  `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// AdminAPIConfig configures the read-only admin HTTP surface.
type AdminAPIConfig struct {
	Enabled      bool          `mapstructure:"enabled" yaml:"enabled"`
	Port         int           `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
	JWTSecret    string        `mapstructure:"jwt_secret" yaml:"jwt_secret,omitempty"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
}

// Load loads configuration from file, environment, and defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	found, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	if !found {
		cfg := GetDefaultConfig()
		return cfg, nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration, returning a user-friendly error if the
// config file is missing.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  cifsd init\n\n"+
				"Or specify a custom config file:\n"+
				"  cifsd <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

// SaveConfig writes cfg to path in YAML format.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate runs struct-tag validation over cfg.
func Validate(cfg *Config) error {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return err
	}
	return nil
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("CIFSD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		configDir := getConfigDir()
		v.AddConfigPath(configDir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

// configDecodeHooks returns the combined decode hook for time.Duration
// fields.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
	)
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory path.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "cifsd")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "cifsd")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists reports whether a config file exists at the default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path.
func GetConfigDir() string {
	return getConfigDir()
}
