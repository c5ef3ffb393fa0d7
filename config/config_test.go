// Copyright 2024 The Cipherbox Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInitConfigDefaults(t *testing.T) {
	cfg, err := InitConfig(strings.NewReader(""))
	require.NoError(t, err)
	require.Equal(t, 30*time.Second, cfg.PollInterval)
	require.Equal(t, 30*time.Second, cfg.RequestTimeout)
	require.Equal(t, "", cfg.RelayURL)
}

func TestInitConfigYAML(t *testing.T) {
	yamlDoc := "relayurl: https://relay.example.com\npollinterval: 1m\n"
	cfg, err := InitConfig(strings.NewReader(yamlDoc))
	require.NoError(t, err)
	require.Equal(t, "https://relay.example.com", cfg.RelayURL)
	require.Equal(t, time.Minute, cfg.PollInterval)
}

func TestInitConfigUnrecognizedKey(t *testing.T) {
	_, err := InitConfig(strings.NewReader("bogus: 1\n"))
	require.Error(t, err)
}

func TestInitConfigEnvOverride(t *testing.T) {
	os.Setenv("CIPHERBOX_RELAYURL", "https://override.example.com")
	defer os.Unsetenv("CIPHERBOX_RELAYURL")

	cfg, err := InitConfig(strings.NewReader("relayurl: https://relay.example.com\n"))
	require.NoError(t, err)
	require.Equal(t, "https://override.example.com", cfg.RelayURL)
}

func TestParseBool(t *testing.T) {
	require.True(t, ParseBool("yes"))
	require.True(t, ParseBool("Y"))
	require.False(t, ParseBool("no"))
}
