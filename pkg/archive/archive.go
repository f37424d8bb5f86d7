package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vanrensburgpierre12-art/ITProduct-scraper/pkg/config"
	"github.com/vanrensburgpierre12-art/ITProduct-scraper/pkg/store"
)

// defaultPrefix is used when no key prefix is configured.
const defaultPrefix = "reports/runs"

// Archiver stores a JSON report of every finalized run.
type Archiver interface {
	// Preflight verifies that the destination is writable.
	Preflight(ctx context.Context) error

	// Archive writes the report for run.
	Archive(ctx context.Context, run *store.RunRecord) error
}

// NewArchiver creates the archiver selected by cfg. With no backend
// enabled a no-op archiver is returned.
func NewArchiver(log logrus.FieldLogger, cfg *config.ArchiveConfig) (Archiver, error) {
	switch {
	case cfg == nil:
		return NewNoopArchiver(), nil
	case cfg.S3 != nil && cfg.S3.Enabled:
		return NewS3Archiver(log, cfg.S3)
	case cfg.Local != nil && cfg.Local.Enabled:
		return NewLocalArchiver(log, cfg.Local)
	default:
		return NewNoopArchiver(), nil
	}
}

// Report is the archived form of a run.
type Report struct {
	Run         *store.RunRecord `json:"run"`
	Totals      store.Counts     `json:"totals"`
	DurationMS  int64            `json:"duration_ms"`
	GeneratedAt time.Time        `json:"generated_at"`
}

// NewReport builds the report for a finalized run.
func NewReport(run *store.RunRecord, now time.Time) Report {
	r := Report{
		Run:         run,
		Totals:      run.Totals(),
		GeneratedAt: now.UTC(),
	}

	if run.EndedAt != nil {
		r.DurationMS = run.EndedAt.Sub(run.StartedAt).Milliseconds()
	}

	return r
}

func (r Report) marshal() ([]byte, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding report: %w", err)
	}

	return data, nil
}

// reportKey returns "<prefix>/YYYY/MM/DD/<run id>.json".
func reportKey(prefix string, run *store.RunRecord) string {
	if prefix == "" {
		prefix = defaultPrefix
	}

	return strings.TrimRight(prefix, "/") + "/" +
		run.StartedAt.UTC().Format("2006/01/02") + "/" + run.ID + ".json"
}

type noopArchiver struct{}

// Ensure interface compliance.
var _ Archiver = (*noopArchiver)(nil)

// NewNoopArchiver returns an Archiver that discards reports.
func NewNoopArchiver() Archiver {
	return &noopArchiver{}
}

func (n *noopArchiver) Preflight(_ context.Context) error { return nil }

func (n *noopArchiver) Archive(_ context.Context, _ *store.RunRecord) error { return nil }
