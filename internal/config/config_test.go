package config

import "testing"

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")
	t.Setenv("MANAGER_PIN", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
	if cfg.ManagerPIN != "" {
		t.Fatalf("expected empty MANAGER_PIN when unset, got %q", cfg.ManagerPIN)
	}
}

func TestLoadClampsBadTTLValues(t *testing.T) {
	t.Setenv("BALANCE_CACHE_TTL_SECONDS", "-3")
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "nope")

	cfg := Load()
	if cfg.BalanceTTLSeconds != 15 {
		t.Fatalf("balance ttl = %d, want fallback 15", cfg.BalanceTTLSeconds)
	}
	if cfg.AccessTokenTTLMinutes != 480 {
		t.Fatalf("token ttl = %d, want fallback 480", cfg.AccessTokenTTLMinutes)
	}
}
