package store

import (
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"github.com/vanrensburgpierre12-art/ITProduct-scraper/pkg/catalog"
)

// Product is the latest known state of one distributor SKU.
type Product struct {
	ID            uint                `gorm:"primaryKey" json:"id"`
	SKU           string              `gorm:"size:100;not null;uniqueIndex:idx_products_sku_source" json:"sku"`
	Source        string              `gorm:"size:50;not null;uniqueIndex:idx_products_sku_source;index" json:"source"`
	Name          string              `gorm:"size:500;not null" json:"product_name"`
	Category      string              `gorm:"size:200;index" json:"category,omitempty"`
	PriceIncVAT   decimal.Decimal     `gorm:"type:decimal(12,2);not null" json:"price_inc_vat"`
	PriceExVAT    decimal.Decimal     `gorm:"type:decimal(12,2);not null" json:"price_ex_vat"`
	StockStatus   catalog.StockStatus `gorm:"size:20;not null;index" json:"stock_status"`
	StockQuantity *int                `json:"stock_quantity"`
	Brand         string              `gorm:"size:100" json:"brand,omitempty"`
	Description   string              `gorm:"type:text" json:"description,omitempty"`
	URL           string              `gorm:"size:1000" json:"url,omitempty"`
	Metadata      datatypes.JSONMap   `json:"metadata,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
	LastUpdated   time.Time           `gorm:"not null;index" json:"last_updated"`
}

// StockSnapshot is an append-only observation of a product's price and
// stock at one point in time.
type StockSnapshot struct {
	ID            uint                `gorm:"primaryKey" json:"id"`
	ProductID     uint                `gorm:"not null;index:idx_snapshots_product_time,priority:1" json:"product_id"`
	SKU           string              `gorm:"size:100;not null;index:idx_snapshots_sku_time,priority:1" json:"sku"`
	Source        string              `gorm:"size:50;not null;index:idx_snapshots_source_time,priority:1" json:"source"`
	RunID         string              `gorm:"size:36;index" json:"run_id,omitempty"`
	PriceIncVAT   decimal.Decimal     `gorm:"type:decimal(12,2);not null" json:"price_inc_vat"`
	PriceExVAT    decimal.Decimal     `gorm:"type:decimal(12,2);not null" json:"price_ex_vat"`
	StockStatus   catalog.StockStatus `gorm:"size:20;not null" json:"stock_status"`
	StockQuantity *int                `json:"stock_quantity"`
	RecordedAt    time.Time           `gorm:"not null;index:idx_snapshots_product_time,priority:2;index:idx_snapshots_sku_time,priority:2;index:idx_snapshots_source_time,priority:2" json:"recorded_at"`
}

// RunStatus is the overall status of a run.
type RunStatus string

const (
	RunRunning             RunStatus = "running"
	RunCompleted           RunStatus = "completed"
	RunCompletedWithErrors RunStatus = "completed_with_errors"
	RunFailed              RunStatus = "failed"
)

// Terminal reports whether the status is final.
func (s RunStatus) Terminal() bool {
	return s != RunRunning && s != ""
}

// SourceStatus is the status of one source within a run.
type SourceStatus string

const (
	SourcePending   SourceStatus = "pending"
	SourceRunning   SourceStatus = "running"
	SourceSucceeded SourceStatus = "succeeded"
	SourceFailed    SourceStatus = "failed"
)

// Run triggers.
const (
	TriggerManual   = "manual"
	TriggerSchedule = "schedule"
	TriggerCLI      = "cli"
)

// MaxErrorSummaryLength bounds the error text kept per source.
const MaxErrorSummaryLength = 1024

// Counts tallies the outcome of processed items.
type Counts struct {
	Found     int `json:"found"`
	New       int `json:"new"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Rejected  int `json:"rejected"`
}

// Add returns the element-wise sum of c and o.
func (c Counts) Add(o Counts) Counts {
	return Counts{
		Found:     c.Found + o.Found,
		New:       c.New + o.New,
		Updated:   c.Updated + o.Updated,
		Unchanged: c.Unchanged + o.Unchanged,
		Rejected:  c.Rejected + o.Rejected,
	}
}

// RunRecord is the persisted summary of one orchestrated run.
type RunRecord struct {
	ID        string      `gorm:"primaryKey;size:36" json:"id"`
	Trigger   string      `gorm:"size:20;not null" json:"trigger"`
	Status    RunStatus   `gorm:"size:30;not null;index" json:"status"`
	Cancelled bool        `json:"cancelled"`
	StartedAt time.Time   `gorm:"not null;index" json:"started_at"`
	EndedAt   *time.Time  `json:"ended_at,omitempty"`
	Sources   []RunSource `gorm:"foreignKey:RunID;references:ID" json:"sources"`
}

// TableName overrides the gorm default.
func (RunRecord) TableName() string { return "runs" }

// RunSource is the per-source slice of a RunRecord.
type RunSource struct {
	ID        uint         `gorm:"primaryKey" json:"-"`
	RunID     string       `gorm:"size:36;not null;uniqueIndex:idx_run_sources_run_source" json:"-"`
	Source    string       `gorm:"size:50;not null;uniqueIndex:idx_run_sources_run_source" json:"source"`
	Status    SourceStatus `gorm:"size:20;not null" json:"status"`
	Counts    `gorm:"embedded;embeddedPrefix:count_" json:"counts"`
	Error     string     `gorm:"type:text" json:"error,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// TableName overrides the gorm default.
func (RunSource) TableName() string { return "run_sources" }

// Source returns the entry for the named source, or nil.
func (r *RunRecord) Source(name string) *RunSource {
	for i := range r.Sources {
		if r.Sources[i].Source == name {
			return &r.Sources[i]
		}
	}

	return nil
}

// Totals sums the counts across sources.
func (r *RunRecord) Totals() Counts {
	var total Counts
	for _, s := range r.Sources {
		total = total.Add(s.Counts)
	}

	return total
}

// Clone returns a deep copy safe to hand to readers.
func (r *RunRecord) Clone() *RunRecord {
	if r == nil {
		return nil
	}

	out := *r
	out.EndedAt = cloneTime(r.EndedAt)
	out.Sources = make([]RunSource, len(r.Sources))

	for i, s := range r.Sources {
		s.StartedAt = cloneTime(s.StartedAt)
		s.EndedAt = cloneTime(s.EndedAt)
		out.Sources[i] = s
	}

	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}

	v := *t

	return &v
}

// RunDelta is an incremental change to one source of a running run.
// Zero-valued fields leave the stored value unchanged; Counts are added.
type RunDelta struct {
	RunID     string
	Source    string
	Status    SourceStatus
	Counts    Counts
	Error     string
	StartedAt *time.Time
	EndedAt   *time.Time
}

// TruncateError bounds an error summary to MaxErrorSummaryLength bytes
// without splitting a UTF-8 sequence.
func TruncateError(msg string) string {
	if len(msg) <= MaxErrorSummaryLength {
		return msg
	}

	cut := MaxErrorSummaryLength
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}

	return msg[:cut]
}
