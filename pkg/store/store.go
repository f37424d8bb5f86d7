package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/vanrensburgpierre12-art/ITProduct-scraper/pkg/config"
	"github.com/vanrensburgpierre12-art/ITProduct-scraper/pkg/fsutil"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

const (
	// DefaultListLimit applies to list queries that do not set a limit.
	DefaultListLimit = 100

	// MaxListLimit caps the page size of list queries.
	MaxListLimit = 1000
)

// Querier is the set of data operations available both directly on a
// Store and inside a transaction opened with InTx.
type Querier interface {
	GetProduct(ctx context.Context, sku, source string) (*Product, error)
	GetProductByID(ctx context.Context, id uint) (*Product, error)
	UpsertProduct(ctx context.Context, p *Product) error
	ListProducts(ctx context.Context, filter ProductFilter) ([]Product, int64, error)

	InsertSnapshot(ctx context.Context, snap *StockSnapshot) error
	LatestSnapshotTime(ctx context.Context, productID uint) (time.Time, bool, error)
	ListSnapshots(
		ctx context.Context, productID uint, since time.Time, limit int,
	) ([]StockSnapshot, error)

	BeginRunRecord(ctx context.Context, run *RunRecord) error
	UpdateRunRecord(ctx context.Context, delta RunDelta) error
	FinalizeRunRecord(ctx context.Context, run *RunRecord) error
	GetRunRecord(ctx context.Context, id string) (*RunRecord, error)
	LatestRunRecord(ctx context.Context) (*RunRecord, error)
	ListRunRecords(ctx context.Context, limit, offset int) ([]RunRecord, error)
}

// Store provides persistence for products, stock history and run records.
type Store interface {
	Querier

	Start(ctx context.Context) error
	Stop() error

	// InTx runs fn inside a single database transaction. Any error returned
	// by fn rolls the transaction back.
	InTx(ctx context.Context, fn func(q Querier) error) error
}

// ProductFilter narrows ListProducts.
type ProductFilter struct {
	Source      string
	StockStatus string
	Category    string
	Search      string
	Limit       int
	Offset      int
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log logrus.FieldLogger
	cfg *config.DatabaseConfig
	db  *gorm.DB
}

// NewStore creates a new Store backed by the configured database driver.
func NewStore(
	log logrus.FieldLogger,
	cfg *config.DatabaseConfig,
) Store {
	return &store{
		log: log.WithField("component", "store"),
		cfg: cfg,
	}
}

// Start opens the database connection and runs migrations.
func (s *store) Start(ctx context.Context) error {
	var dialector gorm.Dialector

	gormCfg := &gorm.Config{
		Logger: logger.Discard,
	}

	switch s.cfg.Driver {
	case "sqlite":
		if path := s.cfg.SQLite.Path; path != ":memory:" && !strings.HasPrefix(path, "file:") {
			if err := fsutil.MkdirAll(filepath.Dir(path), 0o755, nil); err != nil {
				return fmt.Errorf("creating database dir: %w", err)
			}
		}

		dialector = sqlite.Open(s.cfg.SQLite.Path)
	case "postgres":
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			s.cfg.Postgres.Host,
			s.cfg.Postgres.Port,
			s.cfg.Postgres.User,
			s.cfg.Postgres.Password,
			s.cfg.Postgres.Database,
			s.cfg.Postgres.SSLMode,
		)
		dialector = postgres.Open(dsn)
	default:
		return fmt.Errorf("unsupported database driver: %s", s.cfg.Driver)
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	if s.cfg.Driver == "sqlite" {
		// SQLite allows a single writer; one connection serializes all
		// access and keeps :memory: databases on a single handle.
		sqlDB, err := db.DB()
		if err != nil {
			return fmt.Errorf("getting underlying db: %w", err)
		}

		sqlDB.SetMaxOpenConns(1)
	}

	s.db = db

	if err := s.db.WithContext(ctx).AutoMigrate(
		&Product{},
		&StockSnapshot{},
		&RunRecord{},
		&RunSource{},
	); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	s.log.WithField("driver", s.cfg.Driver).Info("Database connected")

	return nil
}

// Stop closes the underlying database connection.
func (s *store) Stop() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}

// InTx runs fn against a transaction-bound store.
func (s *store) InTx(ctx context.Context, fn func(q Querier) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&store{log: s.log, cfg: s.cfg, db: tx})
	})
}

// GetProduct returns the product keyed by (sku, source).
func (s *store) GetProduct(
	ctx context.Context, sku, source string,
) (*Product, error) {
	var p Product
	if err := s.db.WithContext(ctx).
		Where("sku = ? AND source = ?", sku, source).
		First(&p).Error; err != nil {
		return nil, fmt.Errorf("getting product %s/%s: %w", source, sku, translate(err))
	}

	return &p, nil
}

// GetProductByID returns the product with the given primary key.
func (s *store) GetProductByID(ctx context.Context, id uint) (*Product, error) {
	var p Product
	if err := s.db.WithContext(ctx).First(&p, id).Error; err != nil {
		return nil, fmt.Errorf("getting product %d: %w", id, translate(err))
	}

	return &p, nil
}

// UpsertProduct inserts a new product keyed by (sku, source), or writes
// every column of an already-loaded one.
func (s *store) UpsertProduct(ctx context.Context, p *Product) error {
	db := s.db.WithContext(ctx)

	if p.ID != 0 {
		if err := db.Save(p).Error; err != nil {
			return fmt.Errorf("updating product: %w", err)
		}

		return nil
	}

	result := db.
		Where("sku = ? AND source = ?", p.SKU, p.Source).
		Assign(p).
		FirstOrCreate(p)
	if result.Error != nil {
		return fmt.Errorf("upserting product: %w", result.Error)
	}

	return nil
}

// ListProducts returns a page of products and the total matching count.
func (s *store) ListProducts(
	ctx context.Context, filter ProductFilter,
) ([]Product, int64, error) {
	q := s.db.WithContext(ctx).Model(&Product{})

	if filter.Source != "" {
		q = q.Where("source = ?", filter.Source)
	}

	if filter.StockStatus != "" {
		q = q.Where("stock_status = ?", filter.StockStatus)
	}

	if filter.Category != "" {
		q = q.Where("category = ?", filter.Category)
	}

	if filter.Search != "" {
		like := "%" + filter.Search + "%"
		q = q.Where("(name LIKE ? OR sku LIKE ?)", like, like)
	}

	var total int64
	if err := q.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("counting products: %w", err)
	}

	var products []Product
	if err := q.
		Order("source ASC, sku ASC").
		Limit(limitOrDefault(filter.Limit)).
		Offset(filter.Offset).
		Find(&products).Error; err != nil {
		return nil, 0, fmt.Errorf("listing products: %w", err)
	}

	return products, total, nil
}

// InsertSnapshot appends a stock snapshot.
func (s *store) InsertSnapshot(ctx context.Context, snap *StockSnapshot) error {
	if err := s.db.WithContext(ctx).Create(snap).Error; err != nil {
		return fmt.Errorf("inserting snapshot: %w", err)
	}

	return nil
}

// LatestSnapshotTime returns the recorded_at of the newest snapshot for a
// product. ok is false when the product has no snapshots.
func (s *store) LatestSnapshotTime(
	ctx context.Context, productID uint,
) (time.Time, bool, error) {
	var snap StockSnapshot

	err := s.db.WithContext(ctx).
		Where("product_id = ?", productID).
		Order("recorded_at DESC").
		Limit(1).
		Find(&snap).Error
	if err != nil {
		return time.Time{}, false, fmt.Errorf("getting latest snapshot: %w", err)
	}

	if snap.ID == 0 {
		return time.Time{}, false, nil
	}

	return snap.RecordedAt, true, nil
}

// ListSnapshots returns snapshots for a product recorded at or after
// since, oldest first.
func (s *store) ListSnapshots(
	ctx context.Context, productID uint, since time.Time, limit int,
) ([]StockSnapshot, error) {
	q := s.db.WithContext(ctx).Where("product_id = ?", productID)

	if !since.IsZero() {
		q = q.Where("recorded_at >= ?", since.UTC())
	}

	var snaps []StockSnapshot
	if err := q.
		Order("recorded_at ASC, id ASC").
		Limit(limitOrDefault(limit)).
		Find(&snaps).Error; err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}

	return snaps, nil
}

// BeginRunRecord inserts a run together with its per-source entries.
func (s *store) BeginRunRecord(ctx context.Context, run *RunRecord) error {
	if err := s.db.WithContext(ctx).Create(run).Error; err != nil {
		return fmt.Errorf("creating run record: %w", err)
	}

	return nil
}

// UpdateRunRecord applies a delta to one source entry. Counts are added
// to the stored values.
func (s *store) UpdateRunRecord(ctx context.Context, delta RunDelta) error {
	updates := make(map[string]any, 9)

	if delta.Status != "" {
		updates["status"] = delta.Status
	}

	if delta.Error != "" {
		updates["error"] = TruncateError(delta.Error)
	}

	if delta.StartedAt != nil {
		updates["started_at"] = delta.StartedAt.UTC()
	}

	if delta.EndedAt != nil {
		updates["ended_at"] = delta.EndedAt.UTC()
	}

	for column, n := range map[string]int{
		"count_found":     delta.Counts.Found,
		"count_new":       delta.Counts.New,
		"count_updated":   delta.Counts.Updated,
		"count_unchanged": delta.Counts.Unchanged,
		"count_rejected":  delta.Counts.Rejected,
	} {
		if n != 0 {
			updates[column] = gorm.Expr(column+" + ?", n)
		}
	}

	if len(updates) == 0 {
		return nil
	}

	result := s.db.WithContext(ctx).
		Model(&RunSource{}).
		Where("run_id = ? AND source = ?", delta.RunID, delta.Source).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("updating run record: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return fmt.Errorf("updating run record %s/%s: %w", delta.RunID, delta.Source, ErrNotFound)
	}

	return nil
}

// FinalizeRunRecord writes the terminal state of a run and every one of
// its sources in a single transaction.
func (s *store) FinalizeRunRecord(ctx context.Context, run *RunRecord) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&RunRecord{}).
			Where("id = ?", run.ID).
			Updates(map[string]any{
				"status":    run.Status,
				"cancelled": run.Cancelled,
				"ended_at":  utcPtr(run.EndedAt),
			})
		if result.Error != nil {
			return fmt.Errorf("finalizing run record: %w", result.Error)
		}

		if result.RowsAffected == 0 {
			return fmt.Errorf("finalizing run record %s: %w", run.ID, ErrNotFound)
		}

		for _, src := range run.Sources {
			if err := tx.Model(&RunSource{}).
				Where("run_id = ? AND source = ?", run.ID, src.Source).
				Updates(map[string]any{
					"status":          src.Status,
					"error":           TruncateError(src.Error),
					"started_at":      utcPtr(src.StartedAt),
					"ended_at":        utcPtr(src.EndedAt),
					"count_found":     src.Found,
					"count_new":       src.New,
					"count_updated":   src.Updated,
					"count_unchanged": src.Unchanged,
					"count_rejected":  src.Rejected,
				}).Error; err != nil {
				return fmt.Errorf("finalizing run source %s: %w", src.Source, err)
			}
		}

		return nil
	})
}

// GetRunRecord returns a run with its sources.
func (s *store) GetRunRecord(ctx context.Context, id string) (*RunRecord, error) {
	var run RunRecord
	if err := s.db.WithContext(ctx).
		Preload("Sources", orderBySource).
		Where("id = ?", id).
		First(&run).Error; err != nil {
		return nil, fmt.Errorf("getting run record %s: %w", id, translate(err))
	}

	return &run, nil
}

// LatestRunRecord returns the most recently started run.
func (s *store) LatestRunRecord(ctx context.Context) (*RunRecord, error) {
	var run RunRecord
	if err := s.db.WithContext(ctx).
		Preload("Sources", orderBySource).
		Order("started_at DESC").
		First(&run).Error; err != nil {
		return nil, fmt.Errorf("getting latest run record: %w", translate(err))
	}

	return &run, nil
}

// ListRunRecords returns runs, newest first.
func (s *store) ListRunRecords(
	ctx context.Context, limit, offset int,
) ([]RunRecord, error) {
	var runs []RunRecord
	if err := s.db.WithContext(ctx).
		Preload("Sources", orderBySource).
		Order("started_at DESC").
		Limit(limitOrDefault(limit)).
		Offset(offset).
		Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("listing run records: %w", err)
	}

	return runs, nil
}

func orderBySource(db *gorm.DB) *gorm.DB {
	return db.Order("source ASC")
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}

	return err
}

func limitOrDefault(limit int) int {
	switch {
	case limit <= 0:
		return DefaultListLimit
	case limit > MaxListLimit:
		return MaxListLimit
	}

	return limit
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}

	v := t.UTC()

	return &v
}
