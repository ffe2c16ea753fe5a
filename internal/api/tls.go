// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"fmt"
	"os"
)

// ResolveTLS validates the TLS file configuration. It returns the expanded
// certificate and key paths and whether TLS should be enabled. Setting only
// one of the two paths is an error.
func ResolveTLS(certPath, keyPath string) (string, string, bool, error) {
	if certPath == "" && keyPath == "" {
		return "", "", false, nil
	}
	if certPath == "" || keyPath == "" {
		return "", "", false, fmt.Errorf("both tls_cert and tls_key must be specified (got cert=%q, key=%q)", certPath, keyPath)
	}

	cert := expandHome(certPath)
	key := expandHome(keyPath)

	if _, err := os.Stat(cert); err != nil {
		return "", "", false, fmt.Errorf("tls_cert file not found: %s", cert)
	}
	if _, err := os.Stat(key); err != nil {
		return "", "", false, fmt.Errorf("tls_key file not found: %s", key)
	}
	return cert, key, true, nil
}

// expandHome resolves a leading ~ to the user's home directory.
func expandHome(path string) string {
	if len(path) > 0 && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return home + path[1:]
		}
	}
	return path
}
