package program

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"

	"nativepatch/internal/patch"
)

// BackupSuffix is appended to the original file name when backing up.
const BackupSuffix = ".bak"

var ErrNoImage = errors.New("program has no image to export")

type imager interface {
	Bytes() []byte
}

// FileExporter writes the patched image over the file at path.
type FileExporter struct {
	// Backup copies the original to path+".bak" first, unless a backup
	// already exists.
	Backup bool
}

var _ patch.Exporter = FileExporter{}

func (e FileExporter) Export(path string, p patch.Program) error {
	src, ok := p.(imager)
	if !ok {
		return fmt.Errorf("export %s: %w", path, ErrNoImage)
	}

	mode := fs.FileMode(0o644)
	if st, err := os.Stat(path); err == nil {
		mode = st.Mode().Perm()
	}
	if e.Backup {
		if err := backup(path); err != nil {
			return fmt.Errorf("backup %s: %w", path, err)
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("export %s: %w", path, err)
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	if _, err := tmp.Write(src.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("export %s: %w", path, err)
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		return fmt.Errorf("export %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("export %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("export %s: %w", path, err)
	}
	return nil
}

func backup(path string) error {
	dst := path + BackupSuffix
	if _, err := os.Stat(dst); err == nil {
		return nil
	}
	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer in.Close()
	st, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, st.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// DryRunExporter reports what would be written and leaves the file alone.
type DryRunExporter struct {
	Logger *log.Logger
}

var _ patch.Simulator = DryRunExporter{}

func (DryRunExporter) Simulated() bool { return true }

func (e DryRunExporter) Export(path string, p patch.Program) error {
	if e.Logger != nil {
		e.Logger.Info("Dry run: not writing", "path", path, "program", p.Name())
	}
	return nil
}
