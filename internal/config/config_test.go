package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	tests := []struct {
		name  string
		check func(*Config) bool
	}{
		{"default mode is all", func(c *Config) bool { return c.Mode == "all" }},
		{"default host is 0.0.0.0", func(c *Config) bool { return c.Host == "0.0.0.0" }},
		{"default port is 8080", func(c *Config) bool { return c.Port == 8080 }},
		{"default log level is info", func(c *Config) bool { return c.LogLevel == "info" }},
		{"default log format is json", func(c *Config) bool { return c.LogFormat == "json" }},
		{"default sync interval is 5", func(c *Config) bool { return c.SyncIntervalMinutes == 5 }},
		{"default batch size is 50", func(c *Config) bool { return c.BatchSize == 50 }},
		{"default max retries is 3", func(c *Config) bool { return c.MaxRetries == 3 }},
		{"default enabled tables", func(c *Config) bool {
			return len(c.EnabledTables) == 3 && c.EnabledTables[0] == "incident"
		}},
		{"default business hours window", func(c *Config) bool {
			return c.BusinessHours.StartHour == 9 && c.BusinessHours.EndHour == 17
		}},
		{"default priority sla hours parses map", func(c *Config) bool {
			return c.PrioritySLAHours["1"] == 4 && c.PrioritySLAHours["5"] == 168
		}},
		{"listen addr format", func(c *Config) bool { return c.ListenAddr() == "0.0.0.0:8080" }},
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.check(cfg) {
				t.Errorf("check failed for %s", tt.name)
			}
		})
	}
}
