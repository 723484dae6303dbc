// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package audit records executed commands with tamper-evident logging.
package audit

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"

	"golang.org/x/crypto/pbkdf2"

	"github.com/jeranaias/stepflow/internal/util"
)

// =============================================================================
// KEY CONSTANTS
// =============================================================================

const (
	// KeyEnvVar overrides the key file with hex-encoded master material.
	KeyEnvVar = "STEPFLOW_AUDIT_KEY"

	// KeySize is the master key and signing key size in bytes (256 bits).
	KeySize = 32

	// SaltSize is the derivation salt size in bytes.
	SaltSize = 32

	// keyIterations is the PBKDF2-SHA-256 iteration count for deriving
	// the signing key from master material.
	keyIterations = 600000
)

var (
	// ErrInvalidKey indicates master material that is malformed or too short.
	ErrInvalidKey = fmt.Errorf("invalid audit key: need at least %d bytes", KeySize)

	// ErrKeyPermissions indicates a key file readable by group or world.
	ErrKeyPermissions = errors.New("audit key file has insecure permissions, want 0600 or stricter")
)

// =============================================================================
// KEY LOADING
// =============================================================================

// LoadSigningKey returns the HMAC signing key for audit log lines.
//
// Master material comes from the STEPFLOW_AUDIT_KEY environment variable
// (hex-encoded) or from the key file at keyPath; a missing key file is
// created with fresh random material. The signing key is derived from
// the master material with PBKDF2-SHA-256 using a salt stored next to
// the key file.
func LoadSigningKey(keyPath string) ([]byte, error) {
	master, err := loadMaster(keyPath)
	if err != nil {
		return nil, err
	}
	defer zeroBytes(master)

	salt, err := loadOrCreateSalt(keyPath + ".salt")
	if err != nil {
		return nil, err
	}

	return deriveSigningKey(master, salt), nil
}

// loadMaster resolves master key material: environment variable first,
// then the key file, generating the file when absent.
func loadMaster(keyPath string) ([]byte, error) {
	if keyHex := os.Getenv(KeyEnvVar); keyHex != "" {
		key, err := hex.DecodeString(keyHex)
		if err != nil {
			return nil, fmt.Errorf("%s must be hex-encoded: %w", KeyEnvVar, err)
		}
		if len(key) < KeySize {
			return nil, fmt.Errorf("%w: %s decodes to %d bytes", ErrInvalidKey, KeyEnvVar, len(key))
		}
		return key, nil
	}

	info, err := os.Stat(keyPath)
	switch {
	case err == nil:
		if err := checkKeyFilePermissions(info, keyPath); err != nil {
			return nil, err
		}
		key, err := os.ReadFile(keyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read audit key file: %w", err)
		}
		if len(key) < KeySize {
			return nil, fmt.Errorf("%w: key file holds %d bytes", ErrInvalidKey, len(key))
		}
		return key, nil

	case os.IsNotExist(err):
		return generateKeyFile(keyPath)

	default:
		return nil, fmt.Errorf("failed to stat audit key file: %w", err)
	}
}

// generateKeyFile creates fresh random master material at path.
func generateKeyFile(path string) ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("failed to generate audit key: %w", err)
	}

	if err := util.AtomicWriteFile(path, key, 0600); err != nil {
		zeroBytes(key)
		return nil, fmt.Errorf("failed to write audit key file: %w", err)
	}

	return key, nil
}

// loadOrCreateSalt reads the derivation salt, creating it on first use.
// The salt is not secret; it only has to be stable.
func loadOrCreateSalt(path string) ([]byte, error) {
	salt, err := os.ReadFile(path)
	if err == nil {
		if len(salt) < SaltSize {
			return nil, fmt.Errorf("audit key salt file is truncated (%d bytes)", len(salt))
		}
		return salt, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read audit key salt: %w", err)
	}

	salt = make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate audit key salt: %w", err)
	}
	if err := util.AtomicWriteFile(path, salt, 0600); err != nil {
		return nil, fmt.Errorf("failed to write audit key salt: %w", err)
	}
	return salt, nil
}

// deriveSigningKey derives the per-installation signing key.
func deriveSigningKey(master, salt []byte) []byte {
	return pbkdf2.Key(master, salt, keyIterations, KeySize, sha256.New)
}

// checkKeyFilePermissions verifies only the owner can read the key.
func checkKeyFilePermissions(info os.FileInfo, path string) error {
	if runtime.GOOS == "windows" {
		return verifyKeyFileACL(path)
	}

	if info.Mode().Perm()&0077 != 0 {
		return fmt.Errorf("%w: %s has mode %o", ErrKeyPermissions, path, info.Mode().Perm())
	}
	return nil
}

// zeroBytes clears sensitive material so it does not linger in memory.
func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
