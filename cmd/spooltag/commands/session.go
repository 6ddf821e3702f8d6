// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/bureau-foundation/spooltag/cmd/spooltag/cli"
	"github.com/bureau-foundation/spooltag/lib/config"
	"github.com/bureau-foundation/spooltag/lib/payload"
	"github.com/bureau-foundation/spooltag/lib/scanlog"
	"github.com/bureau-foundation/spooltag/lib/secret"
	"github.com/bureau-foundation/spooltag/lib/spool"
	"github.com/bureau-foundation/spooltag/lib/tagcodec"
	"github.com/bureau-foundation/spooltag/lib/tagkey"
)

// streams is the process surface commands touch. Tests substitute
// buffers and a fake environment.
type streams struct {
	stdin     io.Reader
	stdout    io.Writer
	stderr    io.Writer
	lookupEnv func(string) (string, bool)
}

func osStreams() *streams {
	return &streams{stdin: os.Stdin, stdout: os.Stdout, stderr: os.Stderr, lookupEnv: os.LookupEnv}
}

// globalParams is embedded in every command's params.
type globalParams struct {
	ConfigPath string `json:"-" flag:"config" desc:"configuration file (default $SPOOLTAG_CONFIG)"`
	LogLevel   string `json:"-" flag:"log-level" desc:"override logging.level (debug, info, warn, error)"`
}

// session is the per-invocation state built from configuration: the
// logger, the lazily resolved masking key, and the optional journal.
type session struct {
	streams *streams
	config  *config.Config
	logger  *slog.Logger
	key     *tagkey.Lazy

	// keySource describes where the key came from once resolved.
	keySource string

	journal *scanlog.Log
	closers []func() error
}

func (s *streams) open(global globalParams, command string) (*session, error) {
	cfg, err := s.loadConfig(global.ConfigPath)
	if err != nil {
		return nil, err
	}
	level := cfg.Logging.Level
	if global.LogLevel != "" {
		level = global.LogLevel
	}
	logger, err := cli.NewCommandLogger(s.stderr, level, cfg.Logging.Format)
	if err != nil {
		return nil, err
	}
	current := &session{
		streams: s,
		config:  cfg,
		logger:  logger.With("command", command),
	}
	current.key = tagkey.NewLazy(current.resolveKey)
	return current, nil
}

func (s *streams) loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path, s.lookupEnv)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, cli.NotFound("loading configuration: %w", err)
		}
		return nil, cli.Validation("loading configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, cli.Validation("invalid configuration: %w", err)
	}
	return cfg, nil
}

// resolveKey reads the configured key material once per invocation.
func (s *session) resolveKey() (*tagkey.Provider, error) {
	buffer, source, err := s.config.KeyMaterial(s.streams.lookupEnv)
	if err != nil {
		return nil, cli.Validation("reading masking key: %w", err)
	}
	var material []byte
	if buffer != nil {
		defer buffer.Close()
		material = buffer.Bytes()
		if s.config.Key.Encoding == "hex" {
			material, err = tagkey.ParseHex(string(material))
			if err != nil {
				return nil, cli.Validation("%s: %w", source, err)
			}
			defer secret.Zero(material)
		}
	}
	if source == "" {
		source = "development fallback"
	}
	s.keySource = source
	provider, err := tagkey.Resolve(material, tagkey.Options{
		AllowFallback: s.config.Key.AllowFallback,
		Source:        source,
		Logger:        s.logger,
	})
	if err != nil {
		return nil, cli.Validation("%w", err)
	}
	s.closers = append(s.closers, provider.Close)
	return provider, nil
}

// codecOptions carries per-command codec switches.
type codecOptions struct {
	// uid selects a key derived for one tag.
	uid []byte

	// strict forces strict integrity on regardless of configuration.
	strict bool
}

func (s *session) codec(options codecOptions) (*tagcodec.Codec, error) {
	provider, err := s.key.Get()
	if err != nil {
		return nil, err
	}
	if len(options.uid) > 0 {
		provider, err = provider.DeriveForUID(options.uid)
		if err != nil {
			return nil, cli.Validation("%w", err)
		}
		s.closers = append(s.closers, provider.Close)
		s.logger.Debug("using per-tag key", "key_id", provider.Fingerprint())
	}
	limits, err := s.config.Limits()
	if err != nil {
		return nil, cli.Validation("%w", err)
	}
	codec, err := tagcodec.New(provider, spool.NewValidator(limits), tagcodec.Options{
		StrictIntegrity: s.config.Codec.StrictIntegrity || options.strict,
		Version:         uint8(s.config.Codec.Version),
		Logger:          s.logger,
	})
	if err != nil {
		return nil, cli.Internal("building codec: %w", err)
	}
	return codec, nil
}

func (s *session) decoder(options codecOptions) (*payload.Decoder, error) {
	codec, err := s.codec(options)
	if err != nil {
		return nil, err
	}
	return payload.NewDecoder(codec, s.logger), nil
}

// openJournal returns the scan journal, or nil when journaling is off.
func (s *session) openJournal() (*scanlog.Log, error) {
	if !s.config.Journal.Enabled {
		return nil, nil
	}
	if s.journal != nil {
		return s.journal, nil
	}
	if err := os.MkdirAll(filepath.Dir(s.config.Journal.Path), 0o700); err != nil {
		return nil, cli.Internal("creating journal directory: %w", err)
	}
	journal, err := scanlog.Open(scanlog.Config{Path: s.config.Journal.Path, Logger: s.logger})
	if err != nil {
		return nil, cli.Internal("opening journal: %w", err)
	}
	s.journal = journal
	s.closers = append(s.closers, journal.Close)
	return journal, nil
}

// record appends entry to the journal when it is enabled. Journal
// failures are logged and never fail the command.
func (s *session) record(entry scanlog.Entry) {
	journal, err := s.openJournal()
	if err != nil {
		s.logger.Warn("scan journal unavailable", "error", err)
		return
	}
	if journal == nil {
		return
	}
	if _, err := journal.Append(context.Background(), entry); err != nil {
		s.logger.Warn("appending to scan journal", "error", err)
	}
}

// Close releases keys and the journal in reverse order of acquisition.
func (s *session) Close() error {
	var errs []error
	for index := len(s.closers) - 1; index >= 0; index-- {
		if err := s.closers[index](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	if len(errs) > 0 {
		return fmt.Errorf("closing session: %w", errors.Join(errs...))
	}
	return nil
}
