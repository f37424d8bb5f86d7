package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/docker/go-units"
	"github.com/sirupsen/logrus"

	"github.com/vanrensburgpierre12-art/ITProduct-scraper/pkg/config"
	"github.com/vanrensburgpierre12-art/ITProduct-scraper/pkg/fsutil"
	"github.com/vanrensburgpierre12-art/ITProduct-scraper/pkg/store"
)

// localArchiver writes run reports below a directory.
type localArchiver struct {
	log   logrus.FieldLogger
	dir   string
	owner *fsutil.Owner
}

// Ensure interface compliance.
var _ Archiver = (*localArchiver)(nil)

// NewLocalArchiver creates an archiver writing to cfg.Dir. Created files
// and directories are chowned to cfg.Owner when set.
func NewLocalArchiver(log logrus.FieldLogger, cfg *config.LocalArchiveConfig) (Archiver, error) {
	owner, err := fsutil.ParseOwner(cfg.Owner)
	if err != nil {
		return nil, fmt.Errorf("parsing owner: %w", err)
	}

	return &localArchiver{
		log:   log.WithField("component", "local-archiver"),
		dir:   cfg.Dir,
		owner: owner,
	}, nil
}

// Preflight creates the directory and checks that it is writable.
func (a *localArchiver) Preflight(_ context.Context) error {
	if err := fsutil.MkdirAll(a.dir, 0o755, a.owner); err != nil {
		return fmt.Errorf("creating archive dir: %w", err)
	}

	f, err := os.CreateTemp(a.dir, ".write-test-*")
	if err != nil {
		return fmt.Errorf("archive dir %s is not writable: %w", a.dir, err)
	}

	name := f.Name()
	_ = f.Close()

	return os.Remove(name)
}

// Archive writes the report atomically below a date-partitioned path.
func (a *localArchiver) Archive(_ context.Context, run *store.RunRecord) error {
	data, err := NewReport(run, time.Now()).marshal()
	if err != nil {
		return err
	}

	path := filepath.Join(a.dir, filepath.FromSlash(reportKey(".", run)))

	if err := fsutil.MkdirAll(filepath.Dir(path), 0o755, a.owner); err != nil {
		return fmt.Errorf("creating report dir: %w", err)
	}

	if err := fsutil.WriteFileAtomic(path, data, 0o644, a.owner); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}

	a.log.WithFields(logrus.Fields{
		"run_id": run.ID,
		"path":   path,
		"size":   units.HumanSize(float64(len(data))),
	}).Info("Run report archived")

	return nil
}
