package config

import "testing"

func TestLoad_DefaultMaxConns(t *testing.T) {
	t.Setenv("STORE_MAX_OPEN_CONNS", "")
	t.Setenv("STORE_MAX_IDLE_CONNS", "")

	cfg := Load()

	if cfg.Store.MaxOpenConns != 25 {
		t.Errorf("expected default max open conns 25, got %d", cfg.Store.MaxOpenConns)
	}
	if cfg.Store.MaxIdleConns != 5 {
		t.Errorf("expected default max idle conns 5, got %d", cfg.Store.MaxIdleConns)
	}
}

func TestLoad_CustomMaxOpenConns(t *testing.T) {
	t.Setenv("STORE_MAX_OPEN_CONNS", "10")

	cfg := Load()

	if cfg.Store.MaxOpenConns != 10 {
		t.Errorf("expected max open conns 10, got %d", cfg.Store.MaxOpenConns)
	}
}

func TestLoad_InvalidMaxOpenConns(t *testing.T) {
	t.Setenv("STORE_MAX_OPEN_CONNS", "not-a-number")

	cfg := Load()

	if cfg.Store.MaxOpenConns != 25 {
		t.Errorf("expected default max open conns 25 for invalid input, got %d", cfg.Store.MaxOpenConns)
	}
}

func TestLoad_NegativeMaxOpenConns(t *testing.T) {
	t.Setenv("STORE_MAX_OPEN_CONNS", "-5")

	cfg := Load()

	if cfg.Store.MaxOpenConns != 25 {
		t.Errorf("expected default max open conns 25 for negative input, got %d", cfg.Store.MaxOpenConns)
	}
}

func TestLoad_ZeroMaxOpenConns(t *testing.T) {
	t.Setenv("STORE_MAX_OPEN_CONNS", "0")

	cfg := Load()

	if cfg.Store.MaxOpenConns != 25 {
		t.Errorf("expected default max open conns 25 for zero input, got %d", cfg.Store.MaxOpenConns)
	}
}

func TestLoad_Paths(t *testing.T) {
	t.Setenv("SOURCE_ROOT", "/mnt/source")
	t.Setenv("OUTPUT_ROOT", "/mnt/output")
	t.Setenv("HOT_ROOT", "/var/lib/negsort")

	cfg := Load()

	if cfg.Paths.SourceRoot != "/mnt/source" {
		t.Errorf("expected source root '/mnt/source', got '%s'", cfg.Paths.SourceRoot)
	}
	if cfg.Paths.OutputRoot != "/mnt/output" {
		t.Errorf("expected output root '/mnt/output', got '%s'", cfg.Paths.OutputRoot)
	}
	if cfg.Paths.HotRoot != "/var/lib/negsort" {
		t.Errorf("expected hot root '/var/lib/negsort', got '%s'", cfg.Paths.HotRoot)
	}
}

func TestLoad_RegistryAndAnalyzerURLs(t *testing.T) {
	t.Setenv("REGISTRY_DATABASE_URL", "postgres://registry")
	t.Setenv("STORE_DATABASE_URL", "postgres://store")
	t.Setenv("ANALYZER_URL", "http://localhost:8000")

	cfg := Load()

	if cfg.Registry.URL != "postgres://registry" {
		t.Errorf("expected registry URL 'postgres://registry', got '%s'", cfg.Registry.URL)
	}
	if cfg.Store.URL != "postgres://store" {
		t.Errorf("expected store URL 'postgres://store', got '%s'", cfg.Store.URL)
	}
	if cfg.Analyzer.URL != "http://localhost:8000" {
		t.Errorf("expected analyzer URL 'http://localhost:8000', got '%s'", cfg.Analyzer.URL)
	}
}

func TestLoad_GroupMode(t *testing.T) {
	t.Setenv("ENGINE_GROUP_MODE", "true")
	t.Setenv("ENGINE_GROUP_FOLDER_NAME", "everyone")

	cfg := Load()

	if !cfg.Engine.GroupMode {
		t.Error("expected group mode to be enabled")
	}
	if cfg.Engine.GroupFolderName != "everyone" {
		t.Errorf("expected group folder name 'everyone', got '%s'", cfg.Engine.GroupFolderName)
	}
}

func TestLoad_GroupModeDefaultFalse(t *testing.T) {
	t.Setenv("ENGINE_GROUP_MODE", "")

	cfg := Load()

	if cfg.Engine.GroupMode {
		t.Error("expected group mode to default to false")
	}
}
