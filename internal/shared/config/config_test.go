package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestNormalizeEnv(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"prod":        "production",
		"PRODUCTION":  "production",
		"staging":     "staging",
		"local":       "local",
		"development": "dev",
		"":            "dev",
		"weird":       "dev",
	}
	for in, want := range tests {
		if got := normalizeEnv(in); got != want {
			t.Fatalf("normalizeEnv(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENV", "dev")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("METADATA_STORE", "")

	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("unexpected port %q", cfg.Port)
	}
	if cfg.SignedURLTTL != time.Hour {
		t.Fatalf("unexpected ttl %v", cfg.SignedURLTTL)
	}
	if cfg.MaxPayloadBytes != 16<<20 {
		t.Fatalf("unexpected max payload %d", cfg.MaxPayloadBytes)
	}
	if cfg.MetadataStore != MetadataMemory {
		t.Fatalf("unexpected metadata store %q", cfg.MetadataStore)
	}
	if cfg.UnassociatedPolicy != "deny" {
		t.Fatalf("unexpected policy %q", cfg.UnassociatedPolicy)
	}
	if len(cfg.AdminUsernames) != 1 || cfg.AdminUsernames[0] != "admin" {
		t.Fatalf("unexpected admin usernames %v", cfg.AdminUsernames)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("OBJECT_STORE", "S3")
	t.Setenv("DATABASE_URL", "postgres://localhost/msgvault")
	t.Setenv("ADMIN_USERNAMES", "root, ops ,")
	t.Setenv("ACCESS_UNASSOCIATED_POLICY", "ALLOW")
	t.Setenv("SIGNED_URL_TTL", "15m")
	t.Setenv("QUEUE_BACKEND", "nats")

	cfg := Load()
	if cfg.ObjectStoreType != ObjectStoreS3 {
		t.Fatalf("unexpected object store %q", cfg.ObjectStoreType)
	}
	if cfg.MetadataStore != MetadataPostgres {
		t.Fatalf("expected postgres implied by DATABASE_URL, got %q", cfg.MetadataStore)
	}
	if len(cfg.AdminUsernames) != 2 || cfg.AdminUsernames[1] != "ops" {
		t.Fatalf("unexpected admin usernames %v", cfg.AdminUsernames)
	}
	if cfg.UnassociatedPolicy != "allow" {
		t.Fatalf("unexpected policy %q", cfg.UnassociatedPolicy)
	}
	if cfg.SignedURLTTL != 15*time.Minute {
		t.Fatalf("unexpected ttl %v", cfg.SignedURLTTL)
	}
	if cfg.QueueBackend != QueueNATS {
		t.Fatalf("unexpected queue backend %q", cfg.QueueBackend)
	}
}

func TestExplicitMetadataStoreWins(t *testing.T) {
	v := viper.New()
	v.Set("METADATA_STORE", "dynamo")
	v.Set("DATABASE_URL", "postgres://localhost/msgvault")

	cfg := FromViper(v)
	if cfg.MetadataStore != MetadataDynamoDB {
		t.Fatalf("unexpected metadata store %q", cfg.MetadataStore)
	}
}

func TestConfigFileSuppliesUnsetValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("s3_bucket: media-bucket\nport: \"9090\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "")

	cfg := Load()
	if cfg.S3Bucket != "media-bucket" {
		t.Fatalf("unexpected bucket %q", cfg.S3Bucket)
	}
}
