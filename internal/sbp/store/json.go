package store

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/greeddj/go-sbp/internal/sbp/helpers"
)

// WriteJSON writes v as indented JSON to path atomically.
func WriteJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), helpers.DirMod); err != nil {
		return err
	}
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return helpers.WriteFileAtomic(path, payload)
}
