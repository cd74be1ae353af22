package archive

import (
	"archive/tar"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/klauspost/pgzip"
)

// PackDir writes srcDir as a tar.gz stream to w.
// Entries are sorted and carry no timestamps or ownership so equal trees give equal packs.
func PackDir(srcDir string, w io.Writer) error {
	var files []string
	err := filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("walk %s: %w", srcDir, err)
	}
	sort.Strings(files)

	gz := pgzip.NewWriter(w)
	tw := tar.NewWriter(gz)
	for _, path := range files {
		if err := addFile(tw, srcDir, path); err != nil {
			_ = tw.Close()
			_ = gz.Close()
			return err
		}
	}
	if err := tw.Close(); err != nil {
		_ = gz.Close()
		return err
	}
	return gz.Close()
}

func addFile(tw *tar.Writer, srcDir, path string) error {
	rel, err := filepath.Rel(srcDir, path)
	if err != nil {
		return err
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	header := &tar.Header{
		Name:     filepath.ToSlash(rel),
		Mode:     0o644,
		Size:     info.Size(),
		Typeflag: tar.TypeReg,
		Format:   tar.FormatPAX,
	}
	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	//nolint:gosec // path comes from walking srcDir.
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() {
		_ = f.Close()
	}()
	_, err = io.Copy(tw, f)
	return err
}
