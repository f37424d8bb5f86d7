package source

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"math/rand/v2"
	"slices"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/vanrensburgpierre12-art/ITProduct-scraper/pkg/catalog"
	"github.com/vanrensburgpierre12-art/ITProduct-scraper/pkg/config"
)

const (
	defaultMockProducts = 24
	defaultMockPageSize = 8
)

var mockCategories = []string{
	"Development Boards",
	"Sensors",
	"Motors & Drivers",
	"Power Supplies",
	"Cables & Connectors",
	"Tools",
}

var mockBrands = []string{"Arduino", "Raspberry Pi", "Adafruit", "SparkFun", "DFRobot", "Seeed"}

var mockStockTexts = []string{
	"In Stock",
	"Stock: 47",
	"Only 3 left",
	"Out of Stock",
	"Backorder",
	"Notify Me",
}

type mockOptions struct {
	Products int   `mapstructure:"products"`
	PageSize int   `mapstructure:"page_size"`
	Seed     int64 `mapstructure:"seed"`
	// Drift varies prices and stock between traversals.
	Drift bool `mapstructure:"drift"`
	// FailAfterPages ends the source with ErrSourceUnavailable once this
	// many pages were served. Zero never fails.
	FailAfterPages int `mapstructure:"fail_after_pages"`
	// FailPages yield a *FetchError instead of their items.
	FailPages []int `mapstructure:"fail_pages"`
	// RejectEvery gives every Nth item a negative price.
	RejectEvery int `mapstructure:"reject_every"`
	// Delay pauses before each item.
	Delay time.Duration `mapstructure:"delay"`
}

// mockAdapter serves a deterministic synthetic catalog without network
// access.
type mockAdapter struct {
	log        logrus.FieldLogger
	name       string
	opts       mockOptions
	traversals atomic.Int64
}

// Ensure interface compliance.
var _ Adapter = (*mockAdapter)(nil)

// NewMockAdapter creates the offline variant.
func NewMockAdapter(log logrus.FieldLogger, src config.SourceConfig) (Adapter, error) {
	opts := mockOptions{
		Products: defaultMockProducts,
		PageSize: defaultMockPageSize,
		Seed:     1,
	}

	if err := decodeOptions(src.Options, &opts); err != nil {
		return nil, err
	}

	if opts.PageSize <= 0 {
		opts.PageSize = defaultMockPageSize
	}

	return &mockAdapter{
		log: log.WithFields(logrus.Fields{
			"component": "adapter",
			"source":    src.Name,
		}),
		name: src.Name,
		opts: opts,
	}, nil
}

func (a *mockAdapter) Name() string { return a.name }

func (a *mockAdapter) Kind() string { return config.AdapterMock }

// Fetch implements Adapter.
func (a *mockAdapter) Fetch(ctx context.Context) iter.Seq2[RawItem, error] {
	generation := a.traversals.Add(1) - 1
	if !a.opts.Drift {
		generation = 0
	}

	return func(yield func(RawItem, error) bool) {
		pages := (a.opts.Products + a.opts.PageSize - 1) / a.opts.PageSize

		for page := 1; page <= pages; page++ {
			if ctx.Err() != nil {
				return
			}

			if a.opts.FailAfterPages > 0 && page > a.opts.FailAfterPages {
				yield(RawItem{}, unavailable(fmt.Errorf("mock catalog offline after page %d", a.opts.FailAfterPages)))

				return
			}

			pageRef := fmt.Sprintf("mock://%s/products?page=%d", a.name, page)

			if slices.Contains(a.opts.FailPages, page) {
				if !yield(RawItem{}, &FetchError{URL: pageRef, Attempts: 1, Err: fmt.Errorf("injected failure")}) {
					return
				}

				continue
			}

			start := (page - 1) * a.opts.PageSize
			end := min(start+a.opts.PageSize, a.opts.Products)

			for i := start; i < end; i++ {
				if a.opts.Delay > 0 {
					select {
					case <-ctx.Done():
						return
					case <-time.After(a.opts.Delay):
					}
				}

				body, err := json.Marshal(a.product(i, generation))
				if err != nil {
					if !yield(RawItem{}, &FetchError{URL: pageRef, Attempts: 1, Err: err}) {
						return
					}

					continue
				}

				raw := RawItem{
					Source: a.name,
					Ref:    fmt.Sprintf("%s#%d", pageRef, i),
					Page:   page,
					Body:   body,
				}

				if !yield(raw, nil) {
					return
				}
			}
		}
	}
}

func (a *mockAdapter) product(i int, generation int64) jsonProduct {
	r := rand.New(rand.NewPCG(uint64(a.opts.Seed), uint64(i)))

	cents := 5000 + r.IntN(500000)
	stock := mockStockTexts[r.IntN(len(mockStockTexts))]

	if generation > 0 {
		g := rand.New(rand.NewPCG(uint64(a.opts.Seed)+uint64(generation), uint64(i)))
		if g.IntN(3) == 0 {
			cents += g.IntN(2000) - 1000
			stock = mockStockTexts[g.IntN(len(mockStockTexts))]
		}
	}

	price := decimal.New(int64(cents), -2)
	if a.opts.RejectEvery > 0 && (i+1)%a.opts.RejectEvery == 0 {
		price = price.Neg()
	}

	return jsonProduct{
		SKU:         fmt.Sprintf("MOCK-%04d", i+1),
		Name:        fmt.Sprintf("%s Module %d", mockBrands[i%len(mockBrands)], i+1),
		Category:    mockCategories[i%len(mockCategories)],
		Price:       flexString(price.StringFixed(2)),
		Stock:       stock,
		Brand:       mockBrands[i%len(mockBrands)],
		Description: "Synthetic catalog entry for offline runs.",
		URL:         fmt.Sprintf("https://mock.invalid/%s/products/%d", a.name, i+1),
	}
}

// Parse implements Adapter.
func (a *mockAdapter) Parse(raw RawItem) (catalog.Candidate, error) {
	return parseJSONProduct(a.name, nil, catalog.DefaultVocabulary, raw)
}
