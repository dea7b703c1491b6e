// Package credstore reads the application's persisted integration
// credentials. The store is never written.
package credstore

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/spf13/afero"

	"github.com/artpar/deploycheck/internal/core/credentials"
	"github.com/artpar/deploycheck/internal/core/domain"
)

// Reader lists integration records from credential store files.
type Reader struct {
	fs     afero.Fs
	logger *slog.Logger
}

// NewReader creates a Reader over fsys. A nil fsys reads the OS filesystem.
func NewReader(fsys afero.Fs, logger *slog.Logger) *Reader {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{
		fs:     fsys,
		logger: logger.With("component", "credstore"),
	}
}

// ListIntegrations returns the records in the store at path. A store that
// does not exist yet is empty, not an error.
func (r *Reader) ListIntegrations(path string) ([]domain.IntegrationRecord, error) {
	data, err := afero.ReadFile(r.fs, path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			r.logger.Debug("credential store absent", "path", path)
			return nil, nil
		}
		return nil, credentials.NewParseError(path, "", fmt.Sprintf("read failed: %v", err), domain.ErrCredentialParse)
	}

	records, err := credentials.Parse(data, path)
	if err != nil {
		return nil, err
	}

	r.logger.Debug("credential store read", "path", path, "integrations", len(records))
	return records, nil
}

// ListAll reads every store in paths and merges them. Earlier paths win on
// duplicate names. The first unreadable or malformed store aborts the read.
func (r *Reader) ListAll(paths []string) ([]domain.IntegrationRecord, error) {
	stores := make([][]domain.IntegrationRecord, 0, len(paths))
	var present, absent []string
	for _, p := range paths {
		if r.Exists(p) {
			present = append(present, p)
		} else {
			absent = append(absent, p)
		}
	}
	r.logger.Info("reading credential stores", "present", present, "absent", absent)

	for _, p := range paths {
		records, err := r.ListIntegrations(p)
		if err != nil {
			return nil, err
		}
		stores = append(stores, records)
	}

	merged, shadowed := credentials.Merge(stores...)
	if len(shadowed) > 0 {
		r.logger.Warn("integrations defined in more than one store, first wins", "names", shadowed)
	}
	return merged, nil
}

// Exists reports whether a store file is present at path.
func (r *Reader) Exists(path string) bool {
	ok, err := afero.Exists(r.fs, path)
	return err == nil && ok
}
