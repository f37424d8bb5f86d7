// Package fsutil writes files and directories with optional ownership.
package fsutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Owner holds the UID/GID applied to created paths.
type Owner struct {
	UID int
	GID int
}

// ParseOwner parses a "UID:GID" string. An empty string yields nil.
func ParseOwner(owner string) (*Owner, error) {
	if owner == "" {
		return nil, nil
	}

	uidText, gidText, ok := strings.Cut(owner, ":")
	if !ok || strings.Contains(gidText, ":") {
		return nil, fmt.Errorf("invalid format %q, expected UID:GID", owner)
	}

	uid, err := strconv.Atoi(uidText)
	if err != nil || uid < 0 {
		return nil, fmt.Errorf("invalid UID %q", uidText)
	}

	gid, err := strconv.Atoi(gidText)
	if err != nil || gid < 0 {
		return nil, fmt.Errorf("invalid GID %q", gidText)
	}

	return &Owner{UID: uid, GID: gid}, nil
}

// Chown sets ownership if owner is not nil. Best-effort, ignores errors.
func Chown(path string, owner *Owner) {
	if owner == nil {
		return
	}

	_ = os.Chown(path, owner.UID, owner.GID)
}

// MkdirAll creates a directory tree and sets ownership on the leaf.
func MkdirAll(path string, perm os.FileMode, owner *Owner) error {
	if err := os.MkdirAll(path, perm); err != nil {
		return err
	}

	Chown(path, owner)

	return nil
}

// WriteFileAtomic writes data to a temporary file next to path and renames
// it into place, so readers never see a partial file.
func WriteFileAtomic(path string, data []byte, perm os.FileMode, owner *Owner) error {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tmp := f.Name()

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)

		return fmt.Errorf("writing temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)

		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Chmod(tmp, perm); err != nil {
		_ = os.Remove(tmp)

		return fmt.Errorf("setting mode: %w", err)
	}

	Chown(tmp, owner)

	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)

		return fmt.Errorf("renaming into place: %w", err)
	}

	return nil
}
