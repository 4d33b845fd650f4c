package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/JonMunkholm/csvsync/internal/logging"
)

// BackupTimeFormat prefixes backup file names.
const BackupTimeFormat = "2006_01_02_150405_"

// BackupResult describes one backed up file.
type BackupResult struct {
	Name    string `json:"name"`
	Source  string `json:"source"`
	Dest    string `json:"dest,omitempty"`
	Missing bool   `json:"missing,omitempty"`
}

// BackupFile copies src into dir as "<timestamp>_<name>". The directory is
// created (with a warning) when missing. A missing src yields ErrNoSourceFile.
func BackupFile(ctx context.Context, src, dir string, now time.Time) (string, error) {
	info, err := os.Stat(src)
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%s: %w", src, ErrNoSourceFile)
	}
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", src)
	}

	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		logging.FromContext(ctx).Warn("backup directory does not exist, creating it", "dir", dir)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create backup directory: %w", err)
		}
	}

	dest := filepath.Join(dir, now.Format(BackupTimeFormat)+filepath.Base(src))
	if err := copyFile(src, dest); err != nil {
		return "", err
	}
	return dest, nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return out.Close()
}

// Backup copies the CSV file of each named exporter (or importer) to the
// backup directory. Missing files are reported, not treated as errors.
func (s *Service) Backup(ctx context.Context, names []string) (results []BackupResult, err error) {
	files := make([]string, len(names))
	for i, name := range names {
		if def, ok := s.registry.Exporter(name); ok {
			files[i] = def.File
		} else if def, ok := s.registry.Importer(name); ok {
			files[i] = def.File
		} else {
			return nil, &ConfigError{Msg: fmt.Sprintf("model %q", name), Err: ErrUnknownModel}
		}
	}

	ctx, run, err := s.startRun(ctx, RunBackup, names, "")
	if err != nil {
		return nil, err
	}
	defer func() { s.finishRun(ctx, run, len(results), err == nil, err) }()

	now := s.now()
	for i, name := range names {
		src := s.Path(files[i])
		dest, err := BackupFile(ctx, src, s.cfg.BackupDir, now)
		if errors.Is(err, ErrNoSourceFile) {
			logging.FromContext(ctx).Info("file does not exist, nothing to back up", "model", name, "file", src)
			results = append(results, BackupResult{Name: name, Source: src, Missing: true})
			continue
		}
		if err != nil {
			return results, fmt.Errorf("%s: %w", name, err)
		}
		results = append(results, BackupResult{Name: name, Source: src, Dest: dest})
	}
	return results, nil
}
