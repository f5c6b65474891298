// Package jsonstore provides atomic read/write of small JSON documents at
// known filesystem paths (Component A of SPEC_FULL.md).
package jsonstore

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/emmeowzing/threatstack-rule-manager/pkg/errkind"
)

// Read unmarshals the JSON document at path into v. A missing file fails
// explicitly with errkind.ErrNotFound.
func Read(path string, v interface{}) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.Wrapf(errkind.ErrNotFound, "read %s", path)
		}
		return errors.Wrapf(err, "read %s", path)
	}

	if err := json.Unmarshal(raw, v); err != nil {
		return errors.Wrapf(err, "unmarshal %s", path)
	}

	return nil
}

// Write marshals v and atomically replaces the document at path: it stages
// the new content into a sibling temp file and renames it into place, so a
// crash mid-write never leaves a partially-written document behind. The
// caller is responsible for ensuring the parent directory already exists.
func Write(path string, v interface{}) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "marshal %s", path)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return errors.Wrapf(err, "stage temp file for %s", path)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrapf(err, "write temp file for %s", path)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrapf(err, "sync temp file for %s", path)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrapf(err, "close temp file for %s", path)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return errors.Wrapf(err, "rename temp file into %s", path)
	}

	return nil
}

// Exists reports whether a regular file is present at path.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
