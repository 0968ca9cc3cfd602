package migration

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
)

// upMigrations lists the embedded *.up.sql files in apply order.
func upMigrations() ([]string, error) {
	entries, err := fs.ReadDir(embeddedMigrations, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := strings.TrimSpace(entry.Name())
		if entry.IsDir() || !strings.HasSuffix(name, ".up.sql") {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// LatestMigrationVersion returns the highest embedded migration version.
func LatestMigrationVersion() (uint, error) {
	names, err := upMigrations()
	if err != nil {
		return 0, err
	}

	var latest uint
	for _, name := range names {
		version, ok := parseMigrationVersion(name)
		if !ok {
			return 0, fmt.Errorf("invalid migration filename: %s", name)
		}
		latest = max(latest, version)
	}
	if latest == 0 {
		return 0, errors.New("no embedded migrations found")
	}
	return latest, nil
}

// MigrationsChecksum hashes the names and contents of the embedded up
// migrations. The schema gate compares it with the value the migrator stored.
func MigrationsChecksum() (string, error) {
	names, err := upMigrations()
	if err != nil {
		return "", err
	}

	hasher := sha256.New()
	for _, name := range names {
		content, err := embeddedMigrations.ReadFile(path.Join(migrationsDir, name))
		if err != nil {
			return "", fmt.Errorf("read migration %s: %w", name, err)
		}
		_, _ = hasher.Write([]byte(name))
		_, _ = hasher.Write([]byte{0})
		_, _ = hasher.Write(content)
		_, _ = hasher.Write([]byte{0})
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

func parseMigrationVersion(name string) (uint, bool) {
	prefix, _, _ := strings.Cut(name, "_")
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return 0, false
	}
	parsed, err := strconv.ParseUint(prefix, 10, 64)
	if err != nil {
		return 0, false
	}
	return uint(parsed), true
}
