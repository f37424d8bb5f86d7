package source

import (
	"bytes"
	"context"
	"fmt"
	"iter"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"github.com/vanrensburgpierre12-art/ITProduct-scraper/pkg/catalog"
	"github.com/vanrensburgpierre12-art/ITProduct-scraper/pkg/config"
)

const (
	defaultCommunicaMaxPages       = 50
	defaultCommunicaMaxDescription = 500
)

// communicaVocabulary extends the shared phrases with storefront wording.
var communicaVocabulary = catalog.DefaultVocabulary.With(
	catalog.VocabularyEntry{Phrase: "ex stock", Status: catalog.StockInStock},
	catalog.VocabularyEntry{Phrase: "call to order", Status: catalog.StockBackorder},
	catalog.VocabularyEntry{Phrase: "on order", Status: catalog.StockBackorder},
)

var (
	categoryLinkSelector = `a[href*="/category/"], a[href*="/products/"]`

	productLinkSelectors = []string{
		`a[href*="/product/"]`,
		`a[href*="/item/"]`,
		`.product-item a`,
		`.product-link`,
		`.product-title a`,
		`h3 a`,
		`h4 a`,
	}

	nameSelectors = []string{`h1.product-title`, `h1`, `.product-name`, `.product-title`, `title`}

	skuSelectors = []string{`[itemprop="sku"]`, `.sku`, `.product-code`}

	breadcrumbSelectors = []string{
		`.breadcrumb`,
		`.breadcrumbs`,
		`.breadcrumb-nav`,
		`nav[aria-label="breadcrumb"]`,
	}

	priceSelectors = []string{
		`.price`,
		`.product-price`,
		`.current-price`,
		`.price-current`,
		`[class*="price"]`,
	}

	stockSelectors = []string{
		`.stock`,
		`.availability`,
		`.inventory`,
		`.quantity`,
		`[class*="stock"]`,
		`[class*="availability"]`,
	}

	brandSelectors = []string{
		`.brand`,
		`.manufacturer`,
		`.vendor`,
		`[class*="brand"]`,
		`[class*="manufacturer"]`,
	}

	descriptionSelectors = []string{
		`.product-description`,
		`.description`,
		`.product-details`,
		`.product-info`,
		`[class*="description"]`,
	}

	skuPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bSKU\s*[:#]?\s*([A-Z0-9][A-Z0-9\-_./]*)`),
		regexp.MustCompile(`(?i)\bProduct\s+Code\s*[:#]?\s*([A-Z0-9][A-Z0-9\-_./]*)`),
		regexp.MustCompile(`(?i)\bItem\s+Code\s*[:#]?\s*([A-Z0-9][A-Z0-9\-_./]*)`),
	}

	priceFallbackPattern = regexp.MustCompile(`R\s*[\d,]+(?:\.\d+)?`)

	stockFallbackPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(In Stock|Out of Stock|Notify Me|Only \d+ left)`),
		regexp.MustCompile(`(?i)(Available|Unavailable|Backorder)`),
		regexp.MustCompile(`(?i)(Stock[:\s]*\d+)`),
		regexp.MustCompile(`(?i)(Quantity[:\s]*\d+)`),
	}
)

type communicaOptions struct {
	// MaxPages bounds pagination per category.
	MaxPages int `mapstructure:"max_pages"`
	// CategoryURLs skips category discovery when set. Relative paths
	// resolve against the base URL.
	CategoryURLs   []string `mapstructure:"category_urls"`
	MaxDescription int      `mapstructure:"max_description"`
}

// communicaAdapter crawls an HTML storefront: catalog root, category
// pages with ?page=N pagination, then one request per product page.
type communicaAdapter struct {
	log     logrus.FieldLogger
	name    string
	baseURL *url.URL
	fetcher Fetcher
	opts    communicaOptions
}

// Ensure interface compliance.
var _ Adapter = (*communicaAdapter)(nil)

// NewCommunicaAdapter creates the HTML crawler variant.
func NewCommunicaAdapter(
	log logrus.FieldLogger,
	src config.SourceConfig,
	fetcher Fetcher,
) (Adapter, error) {
	base, err := url.Parse(src.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base_url %q", src.BaseURL)
	}

	opts := communicaOptions{
		MaxPages:       defaultCommunicaMaxPages,
		MaxDescription: defaultCommunicaMaxDescription,
	}

	if err := decodeOptions(src.Options, &opts); err != nil {
		return nil, err
	}

	if opts.MaxPages <= 0 {
		opts.MaxPages = defaultCommunicaMaxPages
	}

	return &communicaAdapter{
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

func (a *communicaAdapter) Name() string { return a.name }

func (a *communicaAdapter) Kind() string { return config.AdapterCommunica }

// Fetch implements Adapter.
func (a *communicaAdapter) Fetch(ctx context.Context) iter.Seq2[RawItem, error] {
	return func(yield func(RawItem, error) bool) {
		categories, err := a.categories(ctx)
		if err != nil {
			yield(RawItem{}, unavailable(err))

			return
		}

		a.log.WithField("categories", len(categories)).Debug("Discovered categories")

		seen := make(map[string]struct{}, 256)

		for _, category := range categories {
			if !a.crawlCategory(ctx, category, seen, yield) {
				return
			}
		}
	}
}

func (a *communicaAdapter) categories(ctx context.Context) ([]string, error) {
	if len(a.opts.CategoryURLs) > 0 {
		out := make([]string, 0, len(a.opts.CategoryURLs))

		for _, raw := range a.opts.CategoryURLs {
			if resolved, ok := a.resolve(a.baseURL, raw); ok {
				out = append(out, resolved)
			}
		}

		return out, nil
	}

	body, err := a.fetcher.Get(ctx, a.baseURL.String())
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parsing catalog root: %w", err)
	}

	links := a.links(a.baseURL, doc.Find(categoryLinkSelector))
	if len(links) == 0 {
		// No category navigation: treat the root as the only listing.
		return []string{a.baseURL.String()}, nil
	}

	return links, nil
}

// crawlCategory walks one category's pages. It returns false when the
// consumer stopped or ctx was cancelled.
func (a *communicaAdapter) crawlCategory(
	ctx context.Context,
	categoryURL string,
	seen map[string]struct{},
	yield func(RawItem, error) bool,
) bool {
	for page := 1; page <= a.opts.MaxPages; page++ {
		if ctx.Err() != nil {
			return false
		}

		pageURL, err := withPage(categoryURL, page)
		if err != nil {
			return yield(RawItem{}, &FetchError{URL: categoryURL, Err: err})
		}

		body, err := a.fetcher.Get(ctx, pageURL)
		if err != nil {
			if ctx.Err() != nil {
				return false
			}

			if !yield(RawItem{}, err) {
				return false
			}

			continue
		}

		fresh := a.freshProductLinks(pageURL, body, seen)
		if len(fresh) == 0 {
			break
		}

		if page == a.opts.MaxPages {
			a.log.WithField("category", categoryURL).Warn("Reached page limit for category")
		}

		for _, link := range fresh {
			if ctx.Err() != nil {
				return false
			}

			item, err := a.fetcher.Get(ctx, link)
			if err != nil {
				if ctx.Err() != nil {
					return false
				}

				if !yield(RawItem{}, err) {
					return false
				}

				continue
			}

			if !yield(RawItem{Source: a.name, Ref: link, Page: page, Body: item}, nil) {
				return false
			}
		}
	}

	return true
}

func (a *communicaAdapter) freshProductLinks(
	pageURL string, body []byte, seen map[string]struct{},
) []string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil
	}

	page, err := url.Parse(pageURL)
	if err != nil {
		page = a.baseURL
	}

	var fresh []string

	for _, sel := range productLinkSelectors {
		for _, link := range a.links(page, doc.Find(sel)) {
			if _, ok := seen[link]; ok {
				continue
			}

			seen[link] = struct{}{}
			fresh = append(fresh, link)
		}
	}

	return fresh
}

// links resolves the href of every anchor in sel against ref, keeping
// same-host links only, without fragments or duplicates.
func (a *communicaAdapter) links(ref *url.URL, sel *goquery.Selection) []string {
	var (
		out  []string
		dups = make(map[string]struct{}, sel.Length())
	)

	sel.Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok {
			return
		}

		resolved, ok := a.resolve(ref, href)
		if !ok {
			return
		}

		if _, dup := dups[resolved]; dup {
			return
		}

		dups[resolved] = struct{}{}
		out = append(out, resolved)
	})

	return out
}

func (a *communicaAdapter) resolve(ref *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") {
		return "", false
	}

	u, err := url.Parse(href)
	if err != nil {
		return "", false
	}

	abs := ref.ResolveReference(u)
	abs.Fragment = ""

	if abs.Host != a.baseURL.Host {
		return "", false
	}

	return abs.String(), true
}

// Parse implements Adapter.
func (a *communicaAdapter) Parse(raw RawItem) (catalog.Candidate, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw.Body))
	if err != nil {
		return catalog.Candidate{}, &ParseError{Source: a.name, Ref: raw.Ref, Reason: "invalid html", Err: err}
	}

	text := doc.Find("body").Text()

	sku := extractSKU(doc, text)
	if sku == "" {
		return catalog.Candidate{}, &ParseError{Source: a.name, Ref: raw.Ref, Reason: "sku not found"}
	}

	priceText := firstText(doc, priceSelectors)
	if priceText == "" {
		priceText = strings.Join(priceFallbackPattern.FindAllString(text, 2), " ")
	}

	inc, ex, ok := catalog.ExtractPrices(priceText)
	if !ok {
		return catalog.Candidate{}, &ParseError{Source: a.name, Ref: raw.Ref, Reason: "price not found"}
	}

	stockText := firstText(doc, stockSelectors)
	if stockText == "" {
		for _, pattern := range stockFallbackPatterns {
			if m := pattern.FindStringSubmatch(text); m != nil {
				stockText = m[1]

				break
			}
		}
	}

	status, qty := catalog.Canonicalize(stockText, communicaVocabulary)

	brand := firstText(doc, brandSelectors)
	if brand == "" {
		brand = metaContent(doc, "brand", "manufacturer")
	}

	return catalog.Candidate{
		SKU:           sku,
		Source:        a.name,
		Name:          firstText(doc, nameSelectors),
		Category:      breadcrumbCategory(doc),
		PriceIncVAT:   inc,
		PriceExVAT:    ex,
		StockStatus:   status,
		StockQuantity: qty,
		Brand:         brand,
		Description:   catalog.TruncateRunes(firstText(doc, descriptionSelectors), a.opts.MaxDescription),
		URL:           raw.Ref,
		Metadata: map[string]any{
			"page":       raw.Page,
			"stock_text": stockText,
		},
	}, nil
}

func extractSKU(doc *goquery.Document, text string) string {
	if sku := firstText(doc, skuSelectors); sku != "" {
		for _, pattern := range skuPatterns {
			if m := pattern.FindStringSubmatch(sku); m != nil {
				return m[1]
			}
		}

		return sku
	}

	if sku := metaContent(doc, "sku", "product-code"); sku != "" {
		return sku
	}

	for _, pattern := range skuPatterns {
		if m := pattern.FindStringSubmatch(text); m != nil {
			return m[1]
		}
	}

	return ""
}

// breadcrumbCategory returns the second-to-last breadcrumb link, which is
// the product's category on most storefronts.
func breadcrumbCategory(doc *goquery.Document) string {
	for _, sel := range breadcrumbSelectors {
		crumb := doc.Find(sel).First()
		if crumb.Length() == 0 {
			continue
		}

		links := crumb.Find("a")
		if links.Length() > 1 {
			return collapseSpace(links.Eq(links.Length() - 2).Text())
		}
	}

	return ""
}

func firstText(doc *goquery.Document, selectors []string) string {
	for _, sel := range selectors {
		if text := collapseSpace(doc.Find(sel).First().Text()); text != "" {
			return text
		}
	}

	return ""
}

func metaContent(doc *goquery.Document, names ...string) string {
	for _, name := range names {
		content := doc.Find(`meta[name="` + name + `"]`).AttrOr("content", "")
		if content = strings.TrimSpace(content); content != "" {
			return content
		}
	}

	return ""
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
