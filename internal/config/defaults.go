package config

// Defaults returns a Config with sensible defaults. Load unmarshals the config
// file on top of this, so absent keys keep their default.
func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 3000,
		},
		Session: SessionConfig{
			AuthDir:             "~/.wabridge/auth",
			ReconnectDelayMs:    2000,
			QueryTimeoutSeconds: 60,
			SendRatePerSecond:   5,
		},
		Panel: PanelConfig{
			RelayReplies: true,
		},
		Relay: RelayConfig{
			BufferSize:    200,
			StoreCapacity: 10000,
		},
		Journal: JournalConfig{
			Enabled: false,
			DBPath:  "~/.wabridge/journal.db",
		},
		Keepalive: KeepaliveConfig{
			Enabled:         false,
			IntervalSeconds: 300,
		},
	}
}
