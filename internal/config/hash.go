package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zeebo/blake3"
)

// SidecarSuffix is appended to a config path to find its expected digest.
const SidecarSuffix = ".b3"

// ComputeBlake3Hash computes the BLAKE3 hash of a file.
func ComputeBlake3Hash(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	hash := blake3.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

// VerifyFileHash verifies a file against an expected BLAKE3 hash.
func VerifyFileHash(filePath, expectedHash string) error {
	actualHash, err := ComputeBlake3Hash(filePath)
	if err != nil {
		return fmt.Errorf("failed to compute hash: %w", err)
	}

	if actualHash != strings.ToLower(expectedHash) {
		return fmt.Errorf("hash mismatch for %s: expected %s, got %s",
			filepath.Base(filePath), expectedHash, actualHash)
	}
	return nil
}

// WriteSidecar hashes configPath and stores the digest next to it.
// It returns the digest and the sidecar path.
func WriteSidecar(configPath string) (string, string, error) {
	hash, err := ComputeBlake3Hash(configPath)
	if err != nil {
		return "", "", err
	}
	sidecar := configPath + SidecarSuffix
	if err := os.WriteFile(sidecar, []byte(hash+"  "+filepath.Base(configPath)+"\n"), 0o600); err != nil {
		return "", "", fmt.Errorf("failed to write %s: %w", sidecar, err)
	}
	return hash, sidecar, nil
}

// VerifySidecar checks configPath against "<configPath>.b3" when the sidecar
// exists. A missing sidecar is not an error.
func VerifySidecar(configPath string) error {
	data, err := os.ReadFile(configPath + SidecarSuffix)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config hash: %w", err)
	}

	// b3sum format: "<hex>  <name>"
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return fmt.Errorf("config hash file %s is empty", configPath+SidecarSuffix)
	}
	if err := VerifyFileHash(configPath, fields[0]); err != nil {
		return fmt.Errorf("config verification failed: %w\n"+
			"If you edited this file intentionally, run: launchpad config hash --write", err)
	}
	return nil
}
