package tasks

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/greeddj/go-sbp/internal/sbp/build"
	"github.com/greeddj/go-sbp/internal/sbp/buildcontext"
)

const appendBundleHashVersion = 1

// AppendBundleHash renames every built bundle to <name>_<hash><ext>.
type AppendBundleHash struct {
	params  *build.Parameters
	results *build.BundleBuildResults
}

// NewAppendBundleHash builds the task from bc.
func NewAppendBundleHash(bc *buildcontext.Context) (build.Task, error) {
	r := build.NewResolver(bc)
	t := &AppendBundleHash{
		params:  build.Require[*build.Parameters](r),
		results: build.Require[*build.BundleBuildResults](r),
	}
	return t, r.Err()
}

// Name implements build.Task.
func (t *AppendBundleHash) Name() string { return "AppendBundleHash" }

// Version implements build.Task.
func (t *AppendBundleHash) Version() int { return appendBundleHashVersion }

// Run implements build.Task.
func (t *AppendBundleHash) Run(_ context.Context) (build.ReturnCode, error) {
	if !t.params.AppendHash {
		return build.SuccessNotRun, nil
	}
	for _, bundle := range build.SortedKeys(t.results.BundleInfos) {
		details := t.results.BundleInfos[bundle]
		oldName := details.FileName
		newName := HashedFileName(oldName, details.Hash.String())
		if err := os.Remove(newName); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return build.Error, err
		}
		if err := os.Rename(oldName, newName); err != nil {
			return build.Error, err
		}
		details.FileName = newName
		t.results.BundleInfos[bundle] = details
	}
	return build.Success, nil
}

// HashedFileName inserts _<hash> between the base name and the extension of path.
func HashedFileName(path, hash string) string {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	return filepath.Join(dir, strings.TrimSuffix(base, ext)+"_"+hash+ext)
}
