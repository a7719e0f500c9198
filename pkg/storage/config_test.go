package storage_test

import (
	"strings"
	"testing"

	"github.com/hoangtdhdhcn/mammo-ai-app/pkg/storage"
)

func TestFinalizeDefaults(t *testing.T) {
	cfg := storage.Config{}
	if err := cfg.Finalize(nil); err != nil {
		t.Fatalf("finalize failed: %v", err)
	}

	if cfg.Provider != storage.ProviderFilesystem {
		t.Errorf("provider: got %s, want filesystem", cfg.Provider)
	}
	if cfg.ContainerName != "images" {
		t.Errorf("container_name: got %s, want images", cfg.ContainerName)
	}
	if cfg.Root != "data/blobs" {
		t.Errorf("root: got %s, want data/blobs", cfg.Root)
	}
}

func TestFinalizeEnvOverrides(t *testing.T) {
	t.Setenv("TEST_PROVIDER", "minio")
	t.Setenv("TEST_CONTAINER", "mammograms")
	t.Setenv("TEST_ENDPOINT", "minio:9000")
	t.Setenv("TEST_ACCESS", "access")
	t.Setenv("TEST_SECRET", "secret")
	t.Setenv("TEST_SSL", "true")

	env := &storage.Env{
		Provider:      "TEST_PROVIDER",
		ContainerName: "TEST_CONTAINER",
		Endpoint:      "TEST_ENDPOINT",
		AccessKey:     "TEST_ACCESS",
		SecretKey:     "TEST_SECRET",
		UseSSL:        "TEST_SSL",
	}

	cfg := storage.Config{}
	if err := cfg.Finalize(env); err != nil {
		t.Fatalf("finalize failed: %v", err)
	}

	if cfg.Provider != storage.ProviderMinio {
		t.Errorf("provider: got %s, want minio", cfg.Provider)
	}
	if cfg.ContainerName != "mammograms" {
		t.Errorf("container_name: got %s, want mammograms", cfg.ContainerName)
	}
	if cfg.Endpoint != "minio:9000" {
		t.Errorf("endpoint: got %s", cfg.Endpoint)
	}
	if !cfg.UseSSL {
		t.Error("use_ssl: got false, want true")
	}
}

func TestFinalizeValidation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     storage.Config
		wantErr string
	}{
		{
			name:    "azure missing credentials",
			cfg:     storage.Config{Provider: storage.ProviderAzure},
			wantErr: "connection_string or service_url required",
		},
		{
			name:    "minio missing endpoint",
			cfg:     storage.Config{Provider: storage.ProviderMinio, AccessKey: "a", SecretKey: "b"},
			wantErr: "endpoint required",
		},
		{
			name:    "minio missing keys",
			cfg:     storage.Config{Provider: storage.ProviderMinio, Endpoint: "localhost:9000"},
			wantErr: "access_key and secret_key required",
		},
		{
			name:    "unknown provider",
			cfg:     storage.Config{Provider: "ftp"},
			wantErr: "unsupported storage provider",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Finalize(nil)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestMerge(t *testing.T) {
	base := storage.Config{Provider: storage.ProviderFilesystem, ContainerName: "images", Root: "data"}
	overlay := storage.Config{Provider: storage.ProviderAzure, ConnectionString: "conn"}

	base.Merge(&overlay)

	if base.Provider != storage.ProviderAzure {
		t.Errorf("provider: got %s, want azure", base.Provider)
	}
	if base.ConnectionString != "conn" {
		t.Errorf("connection_string: got %s, want conn", base.ConnectionString)
	}
	if base.ContainerName != "images" {
		t.Errorf("container_name should remain images, got %s", base.ContainerName)
	}
}
