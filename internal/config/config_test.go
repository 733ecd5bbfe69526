package config

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
)

func TestGenerateURLSchemeFollowsHTTPS(t *testing.T) {
	cfg := Config{Hostname: "relay.example"}
	if got := cfg.GenerateURL(UrlKindActor); got != "http://relay.example/actor" {
		t.Errorf("GenerateURL(actor) = %q", got)
	}
	cfg.HTTPS = true
	if got := cfg.GenerateURL(UrlKindInbox); got != "https://relay.example/inbox" {
		t.Errorf("GenerateURL(inbox) = %q", got)
	}
	if got := cfg.GenerateURL(UrlKindMainKey); got != "https://relay.example/actor#main-key" {
		t.Errorf("GenerateURL(mainKey) = %q", got)
	}
}

func TestBindAddress(t *testing.T) {
	cfg := Config{Addr: "0.0.0.0", Port: 8443}
	if got := cfg.BindAddress(); got != "0.0.0.0:8443" {
		t.Errorf("BindAddress() = %q", got)
	}
}

func TestLoadFlagsOverrideEnv(t *testing.T) {
	t.Setenv("HOSTNAME", "env.example")
	t.Setenv("VALIDATE_SIGNATURES", "false")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fp := RegisterFlags(fs)
	if err := fs.Parse([]string{"-hostname", "flag.example"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}

	cfg, err := Load(fp)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Hostname != "flag.example" {
		t.Errorf("Hostname = %q, want flag to win over env", cfg.Hostname)
	}
	if cfg.ValidateSignatures {
		t.Error("expected VALIDATE_SIGNATURES=false from env to survive with no flag override")
	}
}

func TestLoadValidateSignaturesDefaultsOn(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fp := RegisterFlags(fs)
	if err := fs.Parse(nil); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	cfg, err := Load(fp)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.ValidateSignatures {
		t.Error("expected ValidateSignatures to default true with no env/flag override")
	}
}

func TestLoadFileFillsUnsetFields(t *testing.T) {
	t.Setenv("HOSTNAME", "")
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.yaml")
	if err := os.WriteFile(path, []byte("hostname: file.example\nport: 9001\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fp := RegisterFlags(fs)
	if err := fs.Parse([]string{"-config", path}); err != nil {
		t.Fatalf("Parse: %v", err)
	}

	cfg, err := Load(fp)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Hostname != "file.example" {
		t.Errorf("Hostname = %q, want file.example", cfg.Hostname)
	}
	if cfg.Port != 9001 {
		t.Errorf("Port = %d, want 9001", cfg.Port)
	}
}
