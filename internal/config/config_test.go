package config

import "testing"

func TestMustLoadDefaults(t *testing.T) {
	for _, k := range []string{"STORAGE_BACKEND", "GRID_COMPRESSION", "CHECKPOINT_DISABLED", "PARALLEL_FACTORS", "PARALLEL_FACTORS_LIMIT", "CATALOG_BACKEND", "TABLES_PREFIX", "AUDIT_ENABLED", "AUDIT_PREFIX"} {
		t.Setenv(k, "")
	}

	cfg := MustLoad()
	if cfg.Storage.Backend != "local" {
		t.Errorf("storage backend = %s, want local", cfg.Storage.Backend)
	}
	if cfg.Storage.Compression != "zstd" {
		t.Errorf("compression = %s, want zstd", cfg.Storage.Compression)
	}
	if !cfg.Checkpoint.Enabled {
		t.Error("checkpoints should be enabled by default")
	}
	if cfg.Perf.ParallelFactors || cfg.Perf.ParallelFactorsLimit != 5 {
		t.Errorf("unexpected perf config: %+v", cfg.Perf)
	}
	if cfg.Tables.Prefix != "tables" {
		t.Errorf("tables prefix = %s, want tables", cfg.Tables.Prefix)
	}
	if cfg.Catalog.Backend != "none" {
		t.Errorf("catalog backend = %s, want none", cfg.Catalog.Backend)
	}
	if cfg.Audit.Enabled || cfg.Audit.Prefix != "_audit" {
		t.Errorf("unexpected audit config: %+v", cfg.Audit)
	}
}

func TestMustLoadOverrides(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "minio")
	t.Setenv("MINIO_USE_SSL", "true")
	t.Setenv("PARALLEL_FACTORS", "1")
	t.Setenv("PARALLEL_FACTORS_LIMIT", "2")
	t.Setenv("STRICT_LOOKUP", "TRUE")
	t.Setenv("CHECKPOINT_DISABLED", "true")

	cfg := MustLoad()
	if cfg.Storage.Backend != "minio" || !cfg.Storage.MinIOUseSSL {
		t.Errorf("unexpected storage config: %+v", cfg.Storage)
	}
	if !cfg.Perf.ParallelFactors || cfg.Perf.ParallelFactorsLimit != 2 {
		t.Errorf("unexpected perf config: %+v", cfg.Perf)
	}
	if !cfg.Tables.Strict {
		t.Error("STRICT_LOOKUP=TRUE should enable strict lookups")
	}
	if cfg.Checkpoint.Enabled {
		t.Error("CHECKPOINT_DISABLED=true should disable checkpoints")
	}

	t.Setenv("PARALLEL_FACTORS_LIMIT", "zero")
	if got := MustLoad().Perf.ParallelFactorsLimit; got != 5 {
		t.Errorf("invalid limit should fall back to 5, got %d", got)
	}
}
