package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestServiceConfigFromEnvDefaults(t *testing.T) {
	for _, key := range []string{"SYNTHLAB_HTTP_ADDR", "SYNTHLAB_DEFAULT_COUNT", "SYNTHLAB_EXPORT_SINK", "SYNTHLAB_AUDIT_ENABLED", "SYNTHLAB_EXPORT_DIR"} {
		t.Setenv(key, "")
		_ = os.Unsetenv(key)
	}
	cfg, err := serviceConfigFromEnv()
	if err != nil {
		t.Fatalf("serviceConfigFromEnv() err=%v", err)
	}
	if cfg.HTTP.Addr != ":8090" || cfg.DefaultCount != 1000 || cfg.ExportSink != sinkFile {
		t.Fatalf("cfg=%+v", cfg)
	}
	if cfg.needsDatabase() {
		t.Fatalf("needsDatabase()=true for file sink without audit")
	}
}

func TestServiceConfigValidate(t *testing.T) {
	cases := []struct {
		name string
		cfg  serviceConfig
		ok   bool
	}{
		{"memory", serviceConfig{DefaultCount: 1, ExportSink: sinkMemory}, true},
		{"file needs dir", serviceConfig{DefaultCount: 1, ExportSink: sinkFile}, false},
		{"unknown sink", serviceConfig{DefaultCount: 1, ExportSink: "kafka"}, false},
		{"zero count", serviceConfig{DefaultCount: 0, ExportSink: sinkMemory}, false},
	}
	for _, tc := range cases {
		err := tc.cfg.Validate()
		if (err == nil) != tc.ok {
			t.Fatalf("%s: Validate() err=%v, want ok=%v", tc.name, err, tc.ok)
		}
	}
	if !(serviceConfig{ExportSink: sinkPostgres}).needsDatabase() {
		t.Fatalf("postgres sink should need a database")
	}
	if !(serviceConfig{ExportSink: sinkMemory, AuditEnabled: true}).needsDatabase() {
		t.Fatalf("audit should need a database")
	}
}

func TestNewSink(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "exports")
	sink, checks, err := newSink(context.Background(), nil, serviceConfig{ExportSink: sinkFile, ExportDir: dir}, nil)
	if err != nil || sink == nil || len(checks) != 0 {
		t.Fatalf("newSink(file)=%v, %v, %v", sink, checks, err)
	}
	if err := sink.Emit(context.Background(), "x", "out.jsonl"); err != nil {
		t.Fatalf("Emit() err=%v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "out.jsonl")); err != nil {
		t.Fatalf("export file missing: %v", err)
	}

	if _, _, err := newSink(context.Background(), nil, serviceConfig{ExportSink: sinkPostgres}, nil); err == nil {
		t.Fatalf("newSink(postgres) without db expected error")
	}
	if sink, _, err := newSink(context.Background(), nil, serviceConfig{ExportSink: sinkMemory}, nil); err != nil || sink == nil {
		t.Fatalf("newSink(memory) err=%v", err)
	}
}
