package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadEnvFile(t *testing.T) {
	tmpDir := t.TempDir()
	envFile := filepath.Join(tmpDir, ".env")

	content := `# Test env file
KEY1=value1
KEY2="quoted value"
KEY3='single quoted'
# Comment
KEY4=value4
`
	if err := os.WriteFile(envFile, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	os.Unsetenv("KEY1")
	os.Unsetenv("KEY2")
	os.Unsetenv("KEY3")
	os.Unsetenv("KEY4")

	if err := loadEnvFile(envFile); err != nil {
		t.Fatalf("loadEnvFile failed: %v", err)
	}

	if os.Getenv("KEY1") != "value1" {
		t.Errorf("KEY1 not set correctly: %s", os.Getenv("KEY1"))
	}
	if os.Getenv("KEY2") != "quoted value" {
		t.Errorf("KEY2 not set correctly: %s", os.Getenv("KEY2"))
	}
	if os.Getenv("KEY3") != "single quoted" {
		t.Errorf("KEY3 not set correctly: %s", os.Getenv("KEY3"))
	}
	if os.Getenv("KEY4") != "value4" {
		t.Errorf("KEY4 not set correctly: %s", os.Getenv("KEY4"))
	}
}

func TestLoadEnvFile_DoesNotOverride(t *testing.T) {
	tmpDir := t.TempDir()
	envFile := filepath.Join(tmpDir, ".env")

	content := `EXISTING_KEY=new_value`
	if err := os.WriteFile(envFile, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	os.Setenv("EXISTING_KEY", "original_value")
	defer os.Unsetenv("EXISTING_KEY")

	if err := loadEnvFile(envFile); err != nil {
		t.Fatalf("loadEnvFile failed: %v", err)
	}

	if os.Getenv("EXISTING_KEY") != "original_value" {
		t.Error("loadEnvFile should not override existing env vars")
	}
}

func TestGetEnvWithFallback(t *testing.T) {
	os.Unsetenv("FALLBACK_KEY1")
	os.Unsetenv("FALLBACK_KEY2")

	result := GetEnvWithFallback("FALLBACK_KEY1", "FALLBACK_KEY2")
	if result != "" {
		t.Error("Expected empty string when no keys set")
	}

	os.Setenv("FALLBACK_KEY2", "value2")
	defer os.Unsetenv("FALLBACK_KEY2")

	result = GetEnvWithFallback("FALLBACK_KEY1", "FALLBACK_KEY2")
	if result != "value2" {
		t.Errorf("Expected value2, got %s", result)
	}

	os.Setenv("FALLBACK_KEY1", "value1")
	defer os.Unsetenv("FALLBACK_KEY1")

	result = GetEnvWithFallback("FALLBACK_KEY1", "FALLBACK_KEY2")
	if result != "value1" {
		t.Errorf("Expected value1 (first priority), got %s", result)
	}
}

func TestGetEnvDefault(t *testing.T) {
	os.Unsetenv("DEFAULT_KEY")

	result := GetEnvDefault("DEFAULT_KEY", "fallback")
	if result != "fallback" {
		t.Errorf("Expected fallback, got %s", result)
	}

	os.Setenv("DEFAULT_KEY", "actual")
	defer os.Unsetenv("DEFAULT_KEY")

	result = GetEnvDefault("DEFAULT_KEY", "fallback")
	if result != "actual" {
		t.Errorf("Expected actual, got %s", result)
	}
}

func TestResolveEnvWithAliases(t *testing.T) {
	os.Unsetenv("PILLPAL_CHANNELS_TELEGRAM_BOT_TOKEN")
	os.Unsetenv("TELEGRAM_BOT_TOKEN")

	result := ResolveEnvWithAliases("PILLPAL_CHANNELS_TELEGRAM_BOT_TOKEN")
	if result != "" {
		t.Error("Expected empty when no keys set")
	}

	os.Setenv("TELEGRAM_BOT_TOKEN", "alias_value")
	defer os.Unsetenv("TELEGRAM_BOT_TOKEN")

	result = ResolveEnvWithAliases("PILLPAL_CHANNELS_TELEGRAM_BOT_TOKEN")
	if result != "alias_value" {
		t.Errorf("Expected alias_value from alias, got %s", result)
	}

	os.Setenv("PILLPAL_CHANNELS_TELEGRAM_BOT_TOKEN", "canonical_value")
	defer os.Unsetenv("PILLPAL_CHANNELS_TELEGRAM_BOT_TOKEN")

	result = ResolveEnvWithAliases("PILLPAL_CHANNELS_TELEGRAM_BOT_TOKEN")
	if result != "canonical_value" {
		t.Errorf("Expected canonical_value, got %s", result)
	}
}

func TestExpandPath(t *testing.T) {
	home, _ := os.UserHomeDir()

	tests := []struct {
		input    string
		expected string
	}{
		{"~/test", filepath.Join(home, "test")},
		{"/absolute/path", "/absolute/path"},
		{"relative/path", "relative/path"},
	}

	for _, test := range tests {
		result := expandPath(test.input)
		if result != test.expected {
			t.Errorf("expandPath(%s) = %s, expected %s", test.input, result, test.expected)
		}
	}
}

func TestEnvAliases_Exist(t *testing.T) {
	requiredAliases := map[string][]string{
		"PILLPAL_CHANNELS_TELEGRAM_BOT_TOKEN": {"TELEGRAM_BOT_TOKEN"},
		"PILLPAL_CHANNELS_DISCORD_TOKEN":      {"DISCORD_BOT_TOKEN"},
		"PILLPAL_SECURITY_JWT_SECRET":         {"PILLPAL_JWT_SECRET"},
	}

	for canonical, aliases := range requiredAliases {
		for _, alias := range aliases {
			found := false
			if envAliases[canonical] != nil {
				for _, a := range envAliases[canonical] {
					if a == alias {
						found = true
						break
					}
				}
			}
			if !found {
				t.Errorf("Missing alias %s for %s", alias, canonical)
			}
		}
	}
}

func TestLoadDefaults(t *testing.T) {
	os.Setenv("PILLPAL_UPSTREAM_BASE_URL", "http://localhost:3000")
	defer os.Unsetenv("PILLPAL_UPSTREAM_BASE_URL")

	cfg, err := Load("", t.TempDir())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 8090 {
		t.Errorf("Expected default port 8090, got %d", cfg.Server.Port)
	}
	if cfg.Engine.GraceMinutes != 10 {
		t.Errorf("Expected default grace 10, got %d", cfg.Engine.GraceMinutes)
	}
	if cfg.Engine.EvalIntervalSecs != 60 {
		t.Errorf("Expected default eval interval 60, got %d", cfg.Engine.EvalIntervalSecs)
	}
	if cfg.Security.JWTSecret == "" {
		t.Error("Expected a generated JWT secret")
	}
}

func TestLoadRequiresUpstream(t *testing.T) {
	os.Unsetenv("PILLPAL_UPSTREAM_BASE_URL")

	_, err := Load("", t.TempDir())
	if err == nil {
		t.Error("Expected error when upstream.base_url is missing")
	}
}
