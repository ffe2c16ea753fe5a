// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveTLS_Disabled(t *testing.T) {
	_, _, ok, err := ResolveTLS("", "")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResolveTLS_PartialConfig(t *testing.T) {
	_, _, _, err := ResolveTLS("/tmp/cert.pem", "")
	assert.Error(t, err)

	_, _, _, err = ResolveTLS("", "/tmp/key.pem")
	assert.Error(t, err)
}

func TestResolveTLS_MissingFiles(t *testing.T) {
	dir := t.TempDir()
	cert := filepath.Join(dir, "cert.pem")
	key := filepath.Join(dir, "key.pem")

	_, _, _, err := ResolveTLS(cert, key)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(cert, []byte("cert"), 0600))
	_, _, _, err = ResolveTLS(cert, key)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(key, []byte("key"), 0600))
	gotCert, gotKey, ok, err := ResolveTLS(cert, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, cert, gotCert)
	assert.Equal(t, key, gotKey)
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "certs"), expandHome("~/certs"))
	assert.Equal(t, "/etc/certs", expandHome("/etc/certs"))
}
