// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads spooltag's YAML configuration.
//
// Configuration comes from one file named by the --config flag
// ([LoadFile]) or the SPOOLTAG_CONFIG environment variable ([Load]).
// With neither, [Default] applies. There is no search path.
//
// A file may carry development and production sections that override
// base values when the environment matches. Production starts from
// stricter defaults: the development key fallback is off and checksum
// mismatches fail decodes. ${VAR} and ${VAR:-default} are expanded in
// path fields after loading.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/spooltag/lib/sealed"
	"github.com/bureau-foundation/spooltag/lib/secret"
	"github.com/bureau-foundation/spooltag/lib/spool"
	"github.com/bureau-foundation/spooltag/lib/tagdump"
)

// EnvironmentVariable names the config file when --config is absent.
const EnvironmentVariable = "SPOOLTAG_CONFIG"

// DefaultKeyEnv is the environment variable read for key material
// unless key.env says otherwise.
const DefaultKeyEnv = "SPOOLTAG_MASK_KEY"

// Environment is the deployment type.
type Environment string

const (
	Development Environment = "development"
	Production  Environment = "production"
)

// Config is the full spooltag configuration.
type Config struct {
	Environment Environment `yaml:"environment"`

	Key     KeyConfig     `yaml:"key"`
	Codec   CodecConfig   `yaml:"codec"`
	Logging LoggingConfig `yaml:"logging"`
	Journal JournalConfig `yaml:"journal"`
	Dump    DumpConfig    `yaml:"dump"`
	Reader  ReaderConfig  `yaml:"reader"`

	Development *Overrides `yaml:"development,omitempty"`
	Production  *Overrides `yaml:"production,omitempty"`
}

// KeyConfig says where the masking key comes from. The first source
// set wins, in the order sealed_file, file, env.
type KeyConfig struct {
	// Env names an environment variable holding the key.
	Env string `yaml:"env"`

	// File is a key file, or "-" for the first line of stdin.
	File string `yaml:"file"`

	// SealedFile is an age-sealed key file, opened with IdentityFile.
	SealedFile   string `yaml:"sealed_file"`
	IdentityFile string `yaml:"identity_file"`

	// Encoding is "raw" (key bytes as written) or "hex".
	Encoding string `yaml:"encoding"`

	// AllowFallback permits the development key when no source yields
	// material.
	AllowFallback bool `yaml:"allow_fallback"`
}

// CodecConfig configures validation and tag integrity.
type CodecConfig struct {
	// Limits selects a limit set: "standard" or "narrow".
	Limits string `yaml:"limits"`

	// StrictIntegrity makes checksum mismatches fail decodes.
	StrictIntegrity bool `yaml:"strict_integrity"`

	// Version is written into encoded images (1-255).
	Version int `yaml:"version"`
}

// LoggingConfig configures the command logger.
type LoggingConfig struct {
	// Level is debug, info, warn, or error.
	Level string `yaml:"level"`

	// Format is auto (text on a terminal, JSON otherwise), text, or
	// json.
	Format string `yaml:"format"`
}

// JournalConfig configures the scan journal.
type JournalConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// DumpConfig configures dump archives.
type DumpConfig struct {
	// Compression is none, lz4, or zstd.
	Compression string `yaml:"compression"`

	// Workers bounds parallel decoding. Zero uses every CPU.
	Workers int `yaml:"workers"`
}

// ReaderConfig configures the tag reader.
type ReaderConfig struct {
	// Name labels journal entries.
	Name string `yaml:"name"`

	// PollInterval is the wait between scan attempts, as a Go
	// duration string.
	PollInterval string `yaml:"poll_interval"`
}

// Overrides holds per-environment replacements. Empty strings and nil
// pointers leave the base value alone.
type Overrides struct {
	Key     *KeyOverrides     `yaml:"key,omitempty"`
	Codec   *CodecOverrides   `yaml:"codec,omitempty"`
	Logging *LoggingConfig    `yaml:"logging,omitempty"`
	Journal *JournalOverrides `yaml:"journal,omitempty"`
}

type KeyOverrides struct {
	Env           string `yaml:"env"`
	File          string `yaml:"file"`
	SealedFile    string `yaml:"sealed_file"`
	IdentityFile  string `yaml:"identity_file"`
	Encoding      string `yaml:"encoding"`
	AllowFallback *bool  `yaml:"allow_fallback"`
}

type CodecOverrides struct {
	Limits          string `yaml:"limits"`
	StrictIntegrity *bool  `yaml:"strict_integrity"`
}

type JournalOverrides struct {
	Enabled *bool  `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Default returns the development configuration.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Environment: Development,
		Key: KeyConfig{
			Env:           DefaultKeyEnv,
			Encoding:      "raw",
			AllowFallback: true,
		},
		Codec: CodecConfig{
			Limits:  "standard",
			Version: 1,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
		Journal: JournalConfig{
			Path: filepath.Join(homeDir, ".local", "state", "spooltag", "scans.db"),
		},
		Dump: DumpConfig{
			Compression: "zstd",
		},
		Reader: ReaderConfig{
			Name:         "reader",
			PollInterval: "250ms",
		},
	}
}

// Load reads the configuration at path. An empty path falls back to
// the file named by SPOOLTAG_CONFIG, and to Default when that is unset
// too. lookup resolves environment variables, both SPOOLTAG_CONFIG and
// ${VAR} references in paths; nil selects os.LookupEnv.
func Load(path string, lookup func(string) (string, bool)) (*Config, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if path == "" {
		path, _ = lookup(EnvironmentVariable)
	}
	if path == "" {
		cfg := Default()
		cfg.applyEnvironmentOverrides()
		return cfg, nil
	}
	return loadFile(path, lookup)
}

// LoadFile reads configuration from path over Default, applies the
// matching environment section, and expands variables from the process
// environment.
func LoadFile(path string) (*Config, error) {
	return loadFile(path, os.LookupEnv)
}

func loadFile(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	cfg.applyEnvironmentOverrides()
	cfg.expandVariables(lookup)
	return cfg, nil
}

// productionBaseline is applied before a production section.
var productionBaseline = Overrides{
	Key:   &KeyOverrides{AllowFallback: boolPointer(false)},
	Codec: &CodecOverrides{StrictIntegrity: boolPointer(true)},
}

func boolPointer(value bool) *bool { return &value }

func (c *Config) applyEnvironmentOverrides() {
	switch c.Environment {
	case Development:
		c.apply(c.Development)
	case Production:
		c.apply(&productionBaseline)
		c.apply(c.Production)
	}
}

func (c *Config) apply(overrides *Overrides) {
	if overrides == nil {
		return
	}
	if key := overrides.Key; key != nil {
		setString(&c.Key.Env, key.Env)
		setString(&c.Key.File, key.File)
		setString(&c.Key.SealedFile, key.SealedFile)
		setString(&c.Key.IdentityFile, key.IdentityFile)
		setString(&c.Key.Encoding, key.Encoding)
		setBool(&c.Key.AllowFallback, key.AllowFallback)
	}
	if codec := overrides.Codec; codec != nil {
		setString(&c.Codec.Limits, codec.Limits)
		setBool(&c.Codec.StrictIntegrity, codec.StrictIntegrity)
	}
	if logging := overrides.Logging; logging != nil {
		setString(&c.Logging.Level, logging.Level)
		setString(&c.Logging.Format, logging.Format)
	}
	if journal := overrides.Journal; journal != nil {
		setBool(&c.Journal.Enabled, journal.Enabled)
		setString(&c.Journal.Path, journal.Path)
	}
}

func setString(target *string, value string) {
	if value != "" {
		*target = value
	}
}

func setBool(target *bool, value *bool) {
	if value != nil {
		*target = *value
	}
}

func (c *Config) expandVariables(lookup func(string) (string, bool)) {
	c.Key.File = expandVars(c.Key.File, lookup)
	c.Key.SealedFile = expandVars(c.Key.SealedFile, lookup)
	c.Key.IdentityFile = expandVars(c.Key.IdentityFile, lookup)
	c.Journal.Path = expandVars(c.Journal.Path, lookup)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars replaces ${VAR} and ${VAR:-default} with values from
// lookup.
func expandVars(s string, lookup func(string) (string, bool)) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if value, _ := lookup(parts[1]); value != "" {
			return value
		}
		return parts[2]
	})
}

// Validate checks every field and reports all problems at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment %q (want development or production)", c.Environment))
	}

	switch c.Key.Encoding {
	case "raw", "hex":
	default:
		errs = append(errs, fmt.Errorf("key.encoding must be raw or hex, got %q", c.Key.Encoding))
	}
	if c.Key.SealedFile != "" && c.Key.IdentityFile == "" {
		errs = append(errs, errors.New("key.sealed_file requires key.identity_file"))
	}

	if _, err := spool.LimitsByName(c.Codec.Limits); err != nil {
		errs = append(errs, fmt.Errorf("codec.limits: %w", err))
	}
	if c.Codec.Version < 1 || c.Codec.Version > 255 {
		errs = append(errs, fmt.Errorf("codec.version must be 1-255, got %d", c.Codec.Version))
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "auto", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be auto, text, or json, got %q", c.Logging.Format))
	}

	if c.Journal.Enabled && c.Journal.Path == "" {
		errs = append(errs, errors.New("journal.path is required when the journal is enabled"))
	}

	if _, err := tagdump.ParseCompression(c.Dump.Compression); err != nil {
		errs = append(errs, fmt.Errorf("dump.compression: %w", err))
	}
	if c.Dump.Workers < 0 {
		errs = append(errs, fmt.Errorf("dump.workers must not be negative, got %d", c.Dump.Workers))
	}

	if _, err := c.PollInterval(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// Limits returns the configured limit set.
func (c *Config) Limits() (spool.Limits, error) {
	return spool.LimitsByName(c.Codec.Limits)
}

// PollInterval parses reader.poll_interval.
func (c *Config) PollInterval() (time.Duration, error) {
	interval, err := time.ParseDuration(c.Reader.PollInterval)
	if err != nil {
		return 0, fmt.Errorf("reader.poll_interval: %w", err)
	}
	if interval <= 0 {
		return 0, fmt.Errorf("reader.poll_interval must be positive, got %s", interval)
	}
	return interval, nil
}

// KeyMaterial loads the configured key into a secret buffer and names
// its source. It returns a nil buffer and no error when no source is
// configured or the environment variable is unset, leaving the
// fallback decision to the caller. lookup is normally os.LookupEnv.
func (c *Config) KeyMaterial(lookup func(string) (string, bool)) (*secret.Buffer, string, error) {
	switch {
	case c.Key.SealedFile != "":
		identity, err := secret.ReadFromPath(c.Key.IdentityFile)
		if err != nil {
			return nil, "", fmt.Errorf("reading key identity: %w", err)
		}
		defer identity.Close()
		sealedText, err := os.ReadFile(c.Key.SealedFile)
		if err != nil {
			return nil, "", fmt.Errorf("reading sealed key: %w", err)
		}
		buffer, err := sealed.Open(sealedText, identity)
		if err != nil {
			return nil, "", err
		}
		return buffer, "sealed file " + c.Key.SealedFile, nil

	case c.Key.File != "":
		buffer, err := secret.ReadFromPath(c.Key.File)
		if err != nil {
			return nil, "", fmt.Errorf("reading key file: %w", err)
		}
		return buffer, "file " + c.Key.File, nil

	case c.Key.Env != "":
		value, ok := lookup(c.Key.Env)
		if !ok || value == "" {
			return nil, "", nil
		}
		buffer, err := secret.NewFromBytes([]byte(value))
		if err != nil {
			return nil, "", err
		}
		return buffer, "env " + c.Key.Env, nil
	}
	return nil, "", nil
}
