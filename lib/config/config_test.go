// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/spooltag/lib/sealed"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "spooltag.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Environment != Development {
		t.Errorf("Environment = %s, want development", cfg.Environment)
	}
	if !cfg.Key.AllowFallback {
		t.Error("development default should allow the key fallback")
	}
	if cfg.Key.Env != DefaultKeyEnv {
		t.Errorf("Key.Env = %q, want %q", cfg.Key.Env, DefaultKeyEnv)
	}
	if cfg.Codec.StrictIntegrity {
		t.Error("development default should not be strict")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default().Validate() = %v", err)
	}
}

func TestLoadWithoutConfigUsesDefault(t *testing.T) {
	t.Setenv(EnvironmentVariable, "")
	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Codec.Limits != "standard" || cfg.Environment != Development {
		t.Errorf("Load() without %s = %+v", EnvironmentVariable, cfg)
	}
}

func TestLoadFromEnvironmentVariable(t *testing.T) {
	path := writeConfig(t, `
codec:
  limits: narrow
  version: 2
logging:
  level: debug
  format: json
dump:
  compression: lz4
  workers: 3
`)
	t.Setenv(EnvironmentVariable, path)

	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Codec.Limits != "narrow" || cfg.Codec.Version != 2 {
		t.Errorf("Codec = %+v", cfg.Codec)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
	if cfg.Dump.Compression != "lz4" || cfg.Dump.Workers != 3 {
		t.Errorf("Dump = %+v", cfg.Dump)
	}
	// Unset fields keep their defaults.
	if cfg.Reader.PollInterval != "250ms" {
		t.Errorf("Reader.PollInterval = %q, want default", cfg.Reader.PollInterval)
	}
	limits, err := cfg.Limits()
	if err != nil {
		t.Fatalf("Limits: %v", err)
	}
	if limits.NozzleTemp.Max != 300 {
		t.Errorf("narrow NozzleTemp.Max = %v, want 300", limits.NozzleTemp.Max)
	}
}

func TestProductionBaseline(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, "environment: production\n"))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Key.AllowFallback {
		t.Error("production should disable the key fallback")
	}
	if !cfg.Codec.StrictIntegrity {
		t.Error("production should enable strict integrity")
	}
}

func TestProductionOverrides(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, `
environment: production
codec:
  limits: standard
production:
  codec:
    limits: narrow
    strict_integrity: false
  journal:
    enabled: true
    path: /var/lib/spooltag/scans.db
development:
  codec:
    limits: standard
`))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Codec.Limits != "narrow" {
		t.Errorf("Codec.Limits = %q, want narrow", cfg.Codec.Limits)
	}
	if cfg.Codec.StrictIntegrity {
		t.Error("explicit strict_integrity: false was not applied")
	}
	if cfg.Key.AllowFallback {
		t.Error("production baseline fallback setting was lost")
	}
	if !cfg.Journal.Enabled || cfg.Journal.Path != "/var/lib/spooltag/scans.db" {
		t.Errorf("Journal = %+v", cfg.Journal)
	}
}

func TestDevelopmentOverrides(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, `
development:
  logging:
    level: debug
  key:
    allow_fallback: false
`))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
	if cfg.Key.AllowFallback {
		t.Error("development override allow_fallback: false was not applied")
	}
}

func TestExpandVariables(t *testing.T) {
	t.Setenv("SPOOLTAG_TEST_ROOT", "/srv/spooltag")
	cfg, err := LoadFile(writeConfig(t, `
key:
  file: ${SPOOLTAG_TEST_ROOT}/mask.key
journal:
  path: ${SPOOLTAG_TEST_UNSET:-/tmp/fallback}/scans.db
`))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Key.File != "/srv/spooltag/mask.key" {
		t.Errorf("Key.File = %q", cfg.Key.File)
	}
	if cfg.Journal.Path != "/tmp/fallback/scans.db" {
		t.Errorf("Journal.Path = %q", cfg.Journal.Path)
	}
}

func TestLoadResolvesThroughLookup(t *testing.T) {
	fromVariable := writeConfig(t, `
codec:
  limits: narrow
journal:
  enabled: true
  path: ${SPOOLTAG_STATE}/scans.db
`)
	explicit := writeConfig(t, "codec:\n  version: 7\n")
	environment := map[string]string{
		EnvironmentVariable: fromVariable,
		"SPOOLTAG_STATE":    "/srv/spooltag",
	}
	lookup := func(name string) (string, bool) {
		value, ok := environment[name]
		return value, ok
	}

	cfg, err := Load("", lookup)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Codec.Limits != "narrow" || cfg.Journal.Path != "/srv/spooltag/scans.db" {
		t.Errorf("Load via lookup = codec %+v journal %+v", cfg.Codec, cfg.Journal)
	}

	cfg, err = Load(explicit, lookup)
	if err != nil {
		t.Fatalf("Load explicit: %v", err)
	}
	if cfg.Codec.Version != 7 || cfg.Codec.Limits != "standard" {
		t.Errorf("explicit path did not win: codec %+v", cfg.Codec)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), lookup); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Load of missing file = %v, want ErrNotExist", err)
	}
}

func TestLoadFileErrors(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("LoadFile succeeded for a missing file")
	}
	if _, err := LoadFile(writeConfig(t, "codec: [not, a, mapping]\n")); err == nil {
		t.Error("LoadFile succeeded for malformed YAML")
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Environment = "staging"
	cfg.Key.Encoding = "base32"
	cfg.Key.SealedFile = "/etc/spooltag/key.age"
	cfg.Codec.Limits = "loose"
	cfg.Codec.Version = 0
	cfg.Logging.Level = "trace"
	cfg.Logging.Format = "xml"
	cfg.Journal.Enabled = true
	cfg.Journal.Path = ""
	cfg.Dump.Compression = "gzip"
	cfg.Dump.Workers = -1
	cfg.Reader.PollInterval = "soon"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate accepted an invalid config")
	}
	for _, fragment := range []string{
		"invalid environment",
		"key.encoding",
		"key.sealed_file requires key.identity_file",
		"codec.limits",
		"codec.version",
		"logging.level",
		"logging.format",
		"journal.path",
		"dump.compression",
		"dump.workers",
		"reader.poll_interval",
	} {
		if !strings.Contains(err.Error(), fragment) {
			t.Errorf("Validate error missing %q:\n%v", fragment, err)
		}
	}
}

func TestPollInterval(t *testing.T) {
	cfg := Default()
	cfg.Reader.PollInterval = "1.5s"
	interval, err := cfg.PollInterval()
	if err != nil {
		t.Fatalf("PollInterval: %v", err)
	}
	if interval != 1500*time.Millisecond {
		t.Errorf("PollInterval = %v, want 1.5s", interval)
	}
	cfg.Reader.PollInterval = "-1s"
	if _, err := cfg.PollInterval(); err == nil {
		t.Error("PollInterval accepted a negative duration")
	}
}

func TestKeyMaterialFromEnv(t *testing.T) {
	cfg := Default()
	lookup := func(name string) (string, bool) {
		if name == DefaultKeyEnv {
			return "environment key", true
		}
		return "", false
	}
	buffer, source, err := cfg.KeyMaterial(lookup)
	if err != nil {
		t.Fatalf("KeyMaterial: %v", err)
	}
	defer buffer.Close()
	if string(buffer.Bytes()) != "environment key" {
		t.Errorf("key = %q", buffer.Bytes())
	}
	if source != "env "+DefaultKeyEnv {
		t.Errorf("source = %q", source)
	}
}

func TestKeyMaterialUnset(t *testing.T) {
	cfg := Default()
	buffer, source, err := cfg.KeyMaterial(func(string) (string, bool) { return "", false })
	if err != nil || buffer != nil || source != "" {
		t.Errorf("KeyMaterial with nothing set = %v, %q, %v; want nil, \"\", nil", buffer, source, err)
	}
}

func TestKeyMaterialFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mask.key")
	if err := os.WriteFile(path, []byte("file key\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg := Default()
	cfg.Key.File = path

	buffer, source, err := cfg.KeyMaterial(func(string) (string, bool) { return "ignored", true })
	if err != nil {
		t.Fatalf("KeyMaterial: %v", err)
	}
	defer buffer.Close()
	if string(buffer.Bytes()) != "file key" {
		t.Errorf("key = %q, want trimmed file contents", buffer.Bytes())
	}
	if !strings.HasPrefix(source, "file ") {
		t.Errorf("source = %q", source)
	}

	cfg.Key.File = filepath.Join(t.TempDir(), "missing.key")
	if _, _, err := cfg.KeyMaterial(os.LookupEnv); err == nil {
		t.Error("KeyMaterial succeeded for a missing key file")
	}
}

func TestKeyMaterialFromSealedFile(t *testing.T) {
	identity, err := sealed.GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}
	defer identity.Close()

	directory := t.TempDir()
	identityPath := filepath.Join(directory, "identity.txt")
	if err := os.WriteFile(identityPath, bytes.Clone(identity.Private.Bytes()), 0o600); err != nil {
		t.Fatal(err)
	}
	sealedText, err := sealed.Seal([]byte("sealed factory key"), []string{identity.Recipient})
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	sealedPath := filepath.Join(directory, "mask.key.age")
	if err := os.WriteFile(sealedPath, sealedText, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := Default()
	cfg.Key.SealedFile = sealedPath
	cfg.Key.IdentityFile = identityPath
	cfg.Key.File = "/ignored/when/sealed"

	buffer, source, err := cfg.KeyMaterial(os.LookupEnv)
	if err != nil {
		t.Fatalf("KeyMaterial: %v", err)
	}
	defer buffer.Close()
	if string(buffer.Bytes()) != "sealed factory key" {
		t.Errorf("key = %q", buffer.Bytes())
	}
	if source != "sealed file "+sealedPath {
		t.Errorf("source = %q", source)
	}
}
