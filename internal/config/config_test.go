package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Learning.QuizInterval != DefaultQuizInterval {
		t.Errorf("QuizInterval = %d, want %d", cfg.Learning.QuizInterval, DefaultQuizInterval)
	}
	if cfg.Session.ResetOnReuse {
		t.Error("expected sessions to resume by default")
	}
	if cfg.Learning.CoursePassThreshold != 70 {
		t.Errorf("CoursePassThreshold = %d, want 70", cfg.Learning.CoursePassThreshold)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "REDIS")
	t.Setenv("QUIZ_INTERVAL", "5")
	t.Setenv("SESSION_TTL", "30m")
	t.Setenv("SESSION_RESET_ON_REUSE", "yes")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Store.Driver != StoreRedis {
		t.Errorf("Driver = %q, want redis", cfg.Store.Driver)
	}
	if cfg.Learning.QuizInterval != 5 {
		t.Errorf("QuizInterval = %d, want 5", cfg.Learning.QuizInterval)
	}
	if cfg.Session.TTL != 30*time.Minute {
		t.Errorf("TTL = %v, want 30m", cfg.Session.TTL)
	}
	if !cfg.Session.ResetOnReuse {
		t.Error("expected ResetOnReuse to be enabled")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown driver", func(c *Config) { c.Store.Driver = "postgres" }},
		{"zero interval", func(c *Config) { c.Learning.QuizInterval = 0 }},
		{"threshold over 100", func(c *Config) { c.Learning.CoursePassThreshold = 101 }},
		{"empty sqlite path", func(c *Config) { c.Store.Driver = StoreSQLite; c.Store.DBPath = "" }},
		{"zero ttl", func(c *Config) { c.Session.TTL = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("STORE_DRIVER", "memory")
			cfg, err := Load()
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestAllowedOrigins(t *testing.T) {
	cfg := &Config{FrontendURL: "https://app.example.com"}
	got := cfg.AllowedOrigins()
	if len(got) != 1 || got[0] != "https://app.example.com" {
		t.Fatalf("AllowedOrigins = %v", got)
	}
	cfg.FrontendURL = ""
	if got := cfg.AllowedOrigins(); got[0] != "*" {
		t.Fatalf("dev AllowedOrigins = %v", got)
	}
}
