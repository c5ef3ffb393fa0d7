// Copyright 2024 The Cipherbox Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config creates a client configuration from a YAML file,
// environment variable overrides, and an optional local .env file,
// following the shape of upspin.io/config.InitConfig.
package config

import (
	"fmt"
	"io"
	"os"
	osuser "os/user"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	yaml "gopkg.in/yaml.v2"

	"cipherbox.dev/errors"
	"cipherbox.dev/log"
)

// Known configuration keys. All others in the YAML file are treated as
// errors, matching the teacher's closed-vocabulary config file.
const (
	keyRelayURL      = "relayurl"
	keyKeyServerURL  = "keyserverurl"
	keyPollInterval  = "pollinterval"
	keyRequestTO     = "requesttimeout"
	keyCacheDir      = "cachedir"
)

// envPrefix is prepended to a config key, upper-cased, to form the
// environment variable that overrides it: relayurl -> CIPHERBOX_RELAYURL.
const envPrefix = "CIPHERBOX_"

// Config is the resolved client configuration. It is immutable once
// returned by Load; callers needing a different value construct a new
// Config rather than mutating one in place.
type Config struct {
	RelayURL       string
	KeyServerURL   string
	PollInterval   time.Duration
	RequestTimeout time.Duration
	CacheDir       string
}

var defaults = Config{
	RelayURL:       "",
	KeyServerURL:   "",
	PollInterval:   30 * time.Second,
	RequestTimeout: 30 * time.Second,
	CacheDir:       "",
}

// Load reads a YAML configuration from the file name (or, when name is
// relative and not found, from $HOME/.cipherbox/name) and parses it with
// InitConfig, applying environment variable overrides. A .env file in the
// current directory, if present, is first loaded via godotenv for local
// development convenience.
func Load(name string) (Config, error) {
	const op = "config.Load"
	_ = godotenv.Load() // optional; missing .env is not an error

	f, err := os.Open(name)
	if err != nil && !filepath.IsAbs(name) && os.IsNotExist(err) {
		home, errHome := Homedir()
		if errHome == nil {
			f, err = os.Open(filepath.Join(home, ".cipherbox", name))
		}
	}
	if err != nil {
		if os.IsNotExist(err) {
			return Config{}, errors.E(op, errors.NotFound, err)
		}
		return Config{}, errors.E(op, err)
	}
	defer f.Close()
	return InitConfig(f)
}

// InitConfig parses a YAML configuration from r (or, if r is nil, from
// $HOME/.cipherbox/config) and overlays any CIPHERBOX_-prefixed
// environment variables on top, matching upspin.io/config.InitConfig's
// file-then-environment precedence.
func InitConfig(r io.Reader) (Config, error) {
	const op = "config.InitConfig"
	vals := map[string]string{
		keyRelayURL:     defaults.RelayURL,
		keyKeyServerURL: defaults.KeyServerURL,
		keyPollInterval: defaults.PollInterval.String(),
		keyRequestTO:    defaults.RequestTimeout.String(),
		keyCacheDir:     defaults.CacheDir,
	}

	if r == nil {
		home, err := Homedir()
		if err != nil {
			return Config{}, errors.E(op, err)
		}
		f, err := os.Open(filepath.Join(home, ".cipherbox", "config"))
		if err != nil {
			return Config{}, errors.E(op, err)
		}
		r = f
		defer f.Close()
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return Config{}, errors.E(op, err)
	}
	if err := valsFromYAML(vals, data); err != nil {
		return Config{}, errors.E(op, err)
	}
	applyEnvOverrides(vals)

	cfg := defaults
	cfg.RelayURL = vals[keyRelayURL]
	cfg.KeyServerURL = vals[keyKeyServerURL]
	cfg.CacheDir = vals[keyCacheDir]

	if cfg.PollInterval, err = time.ParseDuration(vals[keyPollInterval]); err != nil {
		return Config{}, errors.E(op, errors.Invalid, errors.Errorf("pollinterval: %v", err))
	}
	if cfg.RequestTimeout, err = time.ParseDuration(vals[keyRequestTO]); err != nil {
		return Config{}, errors.E(op, errors.Invalid, errors.Errorf("requesttimeout: %v", err))
	}
	if cfg.RelayURL == "" {
		log.Info.Printf("config: no relayurl configured")
	}
	return cfg, nil
}

// valsFromYAML parses YAML from data and puts the values into vals.
// Unrecognized keys generate an error, matching the teacher's closed
// vocabulary.
func valsFromYAML(vals map[string]string, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	newVals := map[string]interface{}{}
	if err := yaml.Unmarshal(data, newVals); err != nil {
		return errors.E(errors.Invalid, errors.Errorf("parsing YAML file: %v", err))
	}
	for k, v := range newVals {
		if _, ok := vals[k]; !ok {
			return errors.E(errors.Invalid, errors.Errorf("unrecognized key %q", k))
		}
		s, err := asString(v)
		if err != nil {
			return fmt.Errorf("%q: %v", k, err)
		}
		vals[k] = s
	}
	return nil
}

func asString(v interface{}) (string, error) {
	switch vc := v.(type) {
	case int, int32, int64, uint, uint32, uint64, float32, float64, bool:
		return fmt.Sprintf("%v", vc), nil
	case string:
		return vc, nil
	}
	return "", errors.E(errors.Invalid, errors.Errorf("unrecognized value %T", v))
}

func applyEnvOverrides(vals map[string]string) {
	for k := range vals {
		envKey := envPrefix + strings.ToUpper(k)
		if v, ok := os.LookupEnv(envKey); ok {
			vals[k] = v
		}
	}
}

// Homedir returns the home directory of the current OS user.
func Homedir() (string, error) {
	u, err := osuser.Current()
	if u == nil {
		e := errors.Str("lookup of current user failed")
		if err != nil {
			e = errors.Errorf("%v: %v", e, err)
		}
		return "", e
	}
	if u.HomeDir == "" {
		return "", errors.E(errors.NotFound, errors.Str("user home directory not found"))
	}
	return u.HomeDir, nil
}

// ParseBool is a small helper mirroring the teacher's "y"/"yes"/"true"
// shorthand for boolean config values (e.g. a future "offline=yes" key).
func ParseBool(s string) bool {
	switch strings.ToLower(s) {
	case "y", "yes", "true":
		return true
	}
	b, _ := strconv.ParseBool(s)
	return b
}
