package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"net/url"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/vanrensburgpierre12-art/ITProduct-scraper/pkg/catalog"
	"github.com/vanrensburgpierre12-art/ITProduct-scraper/pkg/config"
)

const (
	defaultMicroRoboticsPath                   = "/api/products"
	defaultMicroRoboticsPageSize               = 100
	defaultMicroRoboticsMaxPages               = 500
	defaultMicroRoboticsMaxConsecutiveFailures = 3
)

var microroboticsVocabulary = catalog.DefaultVocabulary.With(
	catalog.VocabularyEntry{Phrase: "lead time", Status: catalog.StockBackorder},
	catalog.VocabularyEntry{Phrase: "discontinued", Status: catalog.StockOutOfStock},
)

type microroboticsOptions struct {
	ProductsPath string `mapstructure:"products_path"`
	PageSize     int    `mapstructure:"page_size"`
	MaxPages     int    `mapstructure:"max_pages"`
	// MaxConsecutiveFailures ends the source after this many failed pages
	// in a row.
	MaxConsecutiveFailures int `mapstructure:"max_consecutive_failures"`
}

// microroboticsAdapter reads a paged JSON catalog API:
// GET {base}{products_path}?page=N&per_page=M until an empty page.
type microroboticsAdapter struct {
	log     logrus.FieldLogger
	name    string
	baseURL *url.URL
	fetcher Fetcher
	opts    microroboticsOptions
}

// Ensure interface compliance.
var _ Adapter = (*microroboticsAdapter)(nil)

// NewMicroRoboticsAdapter creates the JSON API variant.
func NewMicroRoboticsAdapter(
	log logrus.FieldLogger,
	src config.SourceConfig,
	fetcher Fetcher,
) (Adapter, error) {
	base, err := url.Parse(src.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base_url %q", src.BaseURL)
	}

	opts := microroboticsOptions{
		ProductsPath:           defaultMicroRoboticsPath,
		PageSize:               defaultMicroRoboticsPageSize,
		MaxPages:               defaultMicroRoboticsMaxPages,
		MaxConsecutiveFailures: defaultMicroRoboticsMaxConsecutiveFailures,
	}

	if err := decodeOptions(src.Options, &opts); err != nil {
		return nil, err
	}

	if opts.MaxPages <= 0 {
		opts.MaxPages = defaultMicroRoboticsMaxPages
	}

	if opts.MaxConsecutiveFailures <= 0 {
		opts.MaxConsecutiveFailures = defaultMicroRoboticsMaxConsecutiveFailures
	}

	return &microroboticsAdapter{
		log: log.WithFields(logrus.Fields{
			"component": "adapter",
			"source":    src.Name,
		}),
		name:    src.Name,
		baseURL: base,
		fetcher: fetcher,
		opts:    opts,
	}, nil
}

func (a *microroboticsAdapter) Name() string { return a.name }

func (a *microroboticsAdapter) Kind() string { return config.AdapterMicroRobotics }

func (a *microroboticsAdapter) pageURL(page int) string {
	u := a.baseURL.ResolveReference(&url.URL{Path: a.opts.ProductsPath})

	q := u.Query()
	q.Set("page", strconv.Itoa(page))

	if a.opts.PageSize > 0 {
		q.Set("per_page", strconv.Itoa(a.opts.PageSize))
	}

	u.RawQuery = q.Encode()

	return u.String()
}

// Fetch implements Adapter. A failed first page means the API is down and
// ends the source; later failures skip the page.
func (a *microroboticsAdapter) Fetch(ctx context.Context) iter.Seq2[RawItem, error] {
	return func(yield func(RawItem, error) bool) {
		failures := 0

		for page := 1; page <= a.opts.MaxPages; page++ {
			if ctx.Err() != nil {
				return
			}

			pageURL := a.pageURL(page)

			items, err := a.fetchPage(ctx, pageURL)
			if err != nil {
				if ctx.Err() != nil {
					return
				}

				failures++

				if page == 1 || failures >= a.opts.MaxConsecutiveFailures {
					yield(RawItem{}, unavailable(err))

					return
				}

				if !yield(RawItem{}, err) {
					return
				}

				continue
			}

			failures = 0

			if len(items) == 0 {
				return
			}

			for i, item := range items {
				raw := RawItem{
					Source: a.name,
					Ref:    fmt.Sprintf("%s#%d", pageURL, i),
					Page:   page,
					Body:   item,
				}

				if !yield(raw, nil) {
					return
				}
			}
		}

		a.log.WithField("max_pages", a.opts.MaxPages).Warn("Reached page limit")
	}
}

func (a *microroboticsAdapter) fetchPage(ctx context.Context, pageURL string) ([]json.RawMessage, error) {
	body, err := a.fetcher.Get(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	items, err := decodeProductPage(body)
	if err != nil {
		return nil, &FetchError{URL: pageURL, Attempts: 1, Err: err}
	}

	return items, nil
}

// decodeProductPage accepts a bare array or an object with a "products"
// or "data" array.
func decodeProductPage(body []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(body)

	if len(trimmed) > 0 && trimmed[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("decoding page: %w", err)
		}

		return items, nil
	}

	var page struct {
		Products []json.RawMessage `json:"products"`
		Data     []json.RawMessage `json:"data"`
	}

	if err := json.Unmarshal(trimmed, &page); err != nil {
		return nil, fmt.Errorf("decoding page: %w", err)
	}

	if page.Products != nil {
		return page.Products, nil
	}

	return page.Data, nil
}

// Parse implements Adapter.
func (a *microroboticsAdapter) Parse(raw RawItem) (catalog.Candidate, error) {
	return parseJSONProduct(a.name, a.baseURL, microroboticsVocabulary, raw)
}

// jsonProduct is the item shape shared by the JSON catalog and the mock
// adapter.
type jsonProduct struct {
	SKU           string         `json:"sku"`
	Code          string         `json:"code"`
	Name          string         `json:"name"`
	Category      string         `json:"category"`
	Price         flexString     `json:"price"`
	PriceExVAT    flexString     `json:"price_ex_vat"`
	Stock         string         `json:"stock"`
	StockQuantity *int           `json:"stock_quantity"`
	Brand         string         `json:"brand"`
	Description   string         `json:"description"`
	URL           string         `json:"url"`
	Attributes    map[string]any `json:"attributes"`
}

// flexString keeps a JSON number or string as its literal text so prices
// never pass through float64.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)

	switch {
	case bytes.Equal(data, []byte("null")):
		*f = ""
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}

		*f = flexString(s)
	default:
		*f = flexString(data)
	}

	return nil
}

func parseJSONProduct(
	source string, base *url.URL, vocab catalog.Vocabulary, raw RawItem,
) (catalog.Candidate, error) {
	var p jsonProduct
	if err := json.Unmarshal(raw.Body, &p); err != nil {
		return catalog.Candidate{}, &ParseError{Source: source, Ref: raw.Ref, Reason: "invalid json", Err: err}
	}

	sku := strings.TrimSpace(p.SKU)
	if sku == "" {
		sku = strings.TrimSpace(p.Code)
	}

	if sku == "" {
		return catalog.Candidate{}, &ParseError{Source: source, Ref: raw.Ref, Reason: "sku not found"}
	}

	status, qty := catalog.StockUnknown, (*int)(nil)

	switch {
	case strings.TrimSpace(p.Stock) != "":
		status, qty = catalog.Canonicalize(p.Stock, vocab)
		if qty == nil {
			qty = p.StockQuantity
		}
	case p.StockQuantity != nil:
		status, qty = catalog.StatusForQuantity(*p.StockQuantity), p.StockQuantity
	}

	productURL := strings.TrimSpace(p.URL)
	if productURL != "" && base != nil {
		if ref, err := url.Parse(productURL); err == nil {
			productURL = base.ResolveReference(ref).String()
		}
	}

	metadata := map[string]any{"page": raw.Page}
	for k, v := range p.Attributes {
		metadata[k] = v
	}

	return catalog.Candidate{
		SKU:           sku,
		Source:        source,
		Name:          p.Name,
		Category:      p.Category,
		PriceIncVAT:   priceText(string(p.Price)),
		PriceExVAT:    priceText(string(p.PriceExVAT)),
		StockStatus:   status,
		StockQuantity: qty,
		Brand:         p.Brand,
		Description:   p.Description,
		URL:           productURL,
		Metadata:      metadata,
	}, nil
}

// priceText passes plain decimals through and pulls the amount out of
// formatted text such as "R1,299.00".
func priceText(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	if _, err := decimal.NewFromString(s); err == nil {
		return s
	}

	if inc, _, ok := catalog.ExtractPrices(s); ok {
		return inc
	}

	return s
}
