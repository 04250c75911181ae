package retention

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zip"
)

// writeArchive bundles members into dir/name with deflate compression and
// returns the size of the committed archive. The archive is written to a
// hidden temporary file and renamed into place, so a failure never leaves a
// partial dynamic.*.zip behind. An existing archive with the same name is
// replaced.
func writeArchive(dir, name string, members []Entry) (size int64, err error) {
	tmp, err := os.CreateTemp(dir, "."+name+".*.tmp")
	if err != nil {
		return 0, fmt.Errorf("create archive %s: %w", name, err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	zw := zip.NewWriter(tmp)
	for _, m := range members {
		if err = addFile(zw, filepath.Join(dir, m.Name)); err != nil {
			return 0, fmt.Errorf("add %s to archive %s: %w", m.Name, name, err)
		}
	}
	if err = zw.Close(); err != nil {
		return 0, fmt.Errorf("finalize archive %s: %w", name, err)
	}
	if err = tmp.Sync(); err != nil {
		return 0, fmt.Errorf("sync archive %s: %w", name, err)
	}
	if err = tmp.Close(); err != nil {
		return 0, fmt.Errorf("close archive %s: %w", name, err)
	}

	target := filepath.Join(dir, name)
	if err = os.Rename(tmpPath, target); err != nil {
		return 0, fmt.Errorf("commit archive %s: %w", name, err)
	}

	info, err := os.Stat(target)
	if err != nil {
		return 0, fmt.Errorf("stat archive %s: %w", name, err)
	}
	return info.Size(), nil
}

func addFile(zw *zip.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	hdr.Method = zip.Deflate

	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, f)
	return err
}
