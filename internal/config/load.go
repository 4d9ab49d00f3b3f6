package config

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Parse decodes a JSON or YAML document on top of the defaults and validates
// the result.
func Parse(data []byte) (Snapshot, error) {
	snap := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&snap); err != nil && !errors.Is(err, io.EOF) {
		return Snapshot{}, errors.Wrap(err, "failed to decode configuration")
	}

	if err := snap.Validate(); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// ParseTOML decodes a TOML document on top of the defaults and validates
// the result. Keys that match no setting are rejected.
func ParseTOML(data []byte) (Snapshot, error) {
	snap := Default()

	md, err := toml.Decode(string(data), &snap)
	if err != nil {
		return Snapshot{}, errors.Wrap(err, "failed to decode configuration")
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Snapshot{}, errors.Errorf("unknown configuration keys: %v", undecoded)
	}

	if err := snap.Validate(); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// LoadFile reads and parses a configuration document from disk. Files ending
// in .toml are decoded as TOML, everything else as JSON or YAML.
func LoadFile(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, errors.Wrapf(err, "failed to read configuration %s", path)
	}

	parse := Parse
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		parse = ParseTOML
	}

	snap, err := parse(data)
	if err != nil {
		return Snapshot{}, errors.Wrapf(err, "configuration %s", path)
	}
	return snap, nil
}

// WithDryRunOverride applies the FIA_DRY_RUN style override. An empty value
// leaves the snapshot unchanged.
func WithDryRunOverride(snap Snapshot, raw string) (Snapshot, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return snap, nil
	}

	dry, err := strconv.ParseBool(raw)
	if err != nil {
		return snap, errors.Wrapf(err, "invalid dry run override %q", raw)
	}

	snap.RunSettings.DryRun = dry
	if dry {
		snap.RunSettings.LiveMode = false
	}
	return snap, nil
}
