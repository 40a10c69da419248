// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package binhash

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/zeebo/blake3"
)

// ErrDigestMismatch is returned by VerifyFile when the file's content
// does not match the expected digest.
var ErrDigestMismatch = errors.New("binhash: digest mismatch")

// HashFile streams the file at path through BLAKE3.
func HashFile(path string) ([32]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return [32]byte{}, fmt.Errorf("opening %s for hashing: %w", path, err)
	}
	defer file.Close()

	hasher := blake3.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return [32]byte{}, fmt.Errorf("hashing %s: %w", path, err)
	}

	var digest [32]byte
	copy(digest[:], hasher.Sum(nil))
	return digest, nil
}

// FormatDigest hex-encodes digest.
func FormatDigest(digest [32]byte) string {
	return hex.EncodeToString(digest[:])
}

// ParseDigest parses a 64-character hex digest.
func ParseDigest(hexString string) ([32]byte, error) {
	var digest [32]byte
	decoded, err := hex.DecodeString(hexString)
	if err != nil {
		return digest, fmt.Errorf("parsing digest: %w", err)
	}
	if len(decoded) != len(digest) {
		return digest, fmt.Errorf("digest is %d bytes, want %d", len(decoded), len(digest))
	}
	copy(digest[:], decoded)
	return digest, nil
}

// VerifyFile hashes path and compares it with expected, a hex digest.
// It returns the actual digest either way.
func VerifyFile(path, expected string) ([32]byte, error) {
	want, err := ParseDigest(expected)
	if err != nil {
		return [32]byte{}, err
	}
	got, err := HashFile(path)
	if err != nil {
		return got, err
	}
	if got != want {
		return got, fmt.Errorf("%w: %s is %s, want %s", ErrDigestMismatch, path, FormatDigest(got), expected)
	}
	return got, nil
}
