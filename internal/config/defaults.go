package config

import (
	"strings"
	"time"
)

// GetDefaultConfig returns a Config populated entirely with default values,
// used when no configuration file is found.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Zero values (0, "", false, nil) are replaced with defaults; explicit
// values from file/env/flags are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyMetricsDefaults(&cfg.Metrics)
	applyAdminDefaults(&cfg.Admin)
	applyDurableDefaults(&cfg.Durable)
	applyLockDefaults(&cfg.Lock)
	applyGlobalDefaults(&cfg.Global)

	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}

	for i := range cfg.Shares {
		applyShareDefaults(&cfg.Shares[i])
	}

	// No default shares: the operator must declare at least one, or
	// IPC$-only connections will be the only thing that succeeds.
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4318"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Enabled && cfg.Port == 0 {
		cfg.Port = 9090
	}
}

func applyAdminDefaults(cfg *AdminAPIConfig) {
	if cfg.Port == 0 {
		cfg.Port = 8081
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
}

func applyDurableDefaults(cfg *DurableConfig) {
	// Path has no default; it's required and must be set by the operator.
}

func applyLockDefaults(cfg *LockConfig) {
	if cfg.MaxLocksPerFile == 0 {
		cfg.MaxLocksPerFile = 1000
	}
	if cfg.MaxLocksPerSession == 0 {
		cfg.MaxLocksPerSession = 10000
	}
	if cfg.MaxTotalLocks == 0 {
		cfg.MaxTotalLocks = 100000
	}
	if cfg.BlockingTimeout == 0 {
		cfg.BlockingTimeout = 60 * time.Second
	}
}

func applyGlobalDefaults(cfg *GlobalConfig) {
	if cfg.GuestAccount == "" {
		cfg.GuestAccount = "nobody"
	}
	if cfg.ServerString == "" {
		cfg.ServerString = "cifsd"
	}
	if cfg.Workgroup == "" {
		cfg.Workgroup = "WORKGROUP"
	}
	if cfg.NetBIOSName == "" {
		cfg.NetBIOSName = "CIFSD"
	}
	if cfg.ServerSigning == "" {
		cfg.ServerSigning = "auto"
	}
	if cfg.MapToGuest == "" {
		cfg.MapToGuest = "never"
	}
	if cfg.ServerMinProtocol == "" {
		cfg.ServerMinProtocol = "NT1"
	}
	if cfg.ServerMaxProtocol == "" {
		cfg.ServerMaxProtocol = "NT1"
	}
	if cfg.MachineSID == ([3]uint32{}) {
		cfg.MachineSID = [3]uint32{1957994646, 3993139801, 2918065891}
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":445"
	}
}

// applyShareDefaults fills in defaults for one share entry.
func applyShareDefaults(cfg *ShareConfig) {
	if cfg.Comment == "" && cfg.Name != "" {
		cfg.Comment = cfg.Name
	}
}
