package migration

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
)

// Fingerprint identifies the embedded schema. The bootstrap state row stores
// it and the schema gate compares against it at startup.
type Fingerprint struct {
	Version  uint
	Checksum string
}

func (f Fingerprint) VersionString() string {
	return strconv.FormatUint(uint64(f.Version), 10)
}

// CurrentFingerprint returns the version and checksum of the embedded
// migrations.
func CurrentFingerprint() (Fingerprint, error) {
	return currentFingerprint()
}

func currentFingerprint() (Fingerprint, error) {
	names, err := upMigrations()
	if err != nil {
		return Fingerprint{}, err
	}
	if len(names) == 0 {
		return Fingerprint{}, errors.New("no embedded migrations found")
	}

	var fp Fingerprint
	hasher := sha256.New()
	for _, name := range names {
		version, ok := parseMigrationVersion(name)
		if !ok {
			return Fingerprint{}, fmt.Errorf("invalid migration filename: %s", name)
		}
		fp.Version = max(fp.Version, version)

		content, err := embeddedMigrations.ReadFile(migrationsDir + "/" + name)
		if err != nil {
			return Fingerprint{}, fmt.Errorf("read migration %s: %w", name, err)
		}
		_, _ = hasher.Write([]byte(name))
		_, _ = hasher.Write([]byte{0})
		_, _ = hasher.Write(content)
		_, _ = hasher.Write([]byte{0})
	}
	fp.Checksum = hex.EncodeToString(hasher.Sum(nil))
	return fp, nil
}

func upMigrations() ([]string, error) {
	entries, err := fs.ReadDir(embeddedMigrations, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".up.sql") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

func parseMigrationVersion(name string) (uint, bool) {
	prefix, _, found := strings.Cut(name, "_")
	if !found || prefix == "" {
		return 0, false
	}
	parsed, err := strconv.ParseUint(prefix, 10, 64)
	if err != nil {
		return 0, false
	}
	return uint(parsed), true
}
