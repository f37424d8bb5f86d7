package source_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vanrensburgpierre12-art/ITProduct-scraper/pkg/catalog"
	"github.com/vanrensburgpierre12-art/ITProduct-scraper/pkg/config"
	"github.com/vanrensburgpierre12-art/ITProduct-scraper/pkg/source"
)

const rootPage = `<html><body>
<nav>
  <a href="/category/boards">Boards</a>
  <a href="/category/sensors">Sensors</a>
  <a href="http://elsewhere.example/category/cables">Partner</a>
</nav>
</body></html>`

var categoryPages = map[string]map[string]string{
	"/category/boards": {
		"":  `<a href="/product/uno">Uno</a><a href="/product/esp32">ESP32</a><a href="#top">Top</a>`,
		"2": `<a href="/product/nano">Nano</a><a href="/product/uno">Uno</a>`,
		"3": `<a href="/product/uno">Uno</a>`,
	},
	"/category/sensors": {
		"": `<a href="/product/esp32">ESP32</a><a href="/product/dht22">DHT22</a>`,
	},
}

const unoPage = `<html><head><title>Arduino Uno R3 | Store</title><meta name="brand" content="Arduino"></head>
<body>
<nav class="breadcrumb"><a href="/">Home</a><a href="/category/boards">Development Boards</a><a href="/product/uno">Arduino Uno R3</a></nav>
<h1 class="product-title">Arduino   Uno R3</h1>
<span class="sku">SKU: ARD-UNO-R3</span>
<div class="price">R1,150.00</div>
<div class="stock">Only 3 left</div>
<div class="product-description">The classic ATmega328P board.</div>
</body></html>`

const nanoPage = `<html><body>
<h1>Arduino Nano</h1>
<p>Product Code: ARD-NANO</p>
<p>R100.00 Excl. VAT R115.00 Incl. VAT</p>
<p>Stock: 47</p>
</body></html>`

const dht22Page = `<html><body><h1>DHT22 Sensor</h1><div class="price">R89.00</div></body></html>`

func communicaServer(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)

			return
		}

		_, _ = w.Write([]byte(rootPage))
	})

	for path, pages := range categoryPages {
		mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			_, _ = fmt.Fprintf(w, "<html><body>%s</body></html>", pages[r.URL.Query().Get("page")])
		})
	}

	mux.HandleFunc("/product/uno", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(unoPage))
	})
	mux.HandleFunc("/product/nano", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(nanoPage))
	})
	mux.HandleFunc("/product/dht22", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(dht22Page))
	})
	mux.HandleFunc("/product/esp32", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return srv
}

func newAdapter(t *testing.T, srv *httptest.Server, src config.SourceConfig) source.Adapter {
	t.Helper()

	if srv != nil && src.BaseURL == "" {
		src.BaseURL = srv.URL
	}

	var client *http.Client
	if srv != nil {
		client = srv.Client()
	}

	a, err := source.NewAdapter(testLogger(), src, source.NewFetcher(testLogger(), fastPolicy(), client))
	require.NoError(t, err)

	return a
}

func collect(a source.Adapter) ([]source.RawItem, []error) {
	var (
		items []source.RawItem
		errs  []error
	)

	for item, err := range a.Fetch(context.Background()) {
		if err != nil {
			errs = append(errs, err)

			continue
		}

		items = append(items, item)
	}

	return items, errs
}

func TestCommunica_Crawl(t *testing.T) {
	srv := communicaServer(t)
	a := newAdapter(t, srv, config.SourceConfig{Name: "communica", Adapter: config.AdapterCommunica})

	items, errs := collect(a)

	refs := make([]string, 0, len(items))
	for _, item := range items {
		assert.Equal(t, "communica", item.Source)
		refs = append(refs, item.Ref)
	}

	assert.Equal(t, []string{
		srv.URL + "/product/uno",
		srv.URL + "/product/nano",
		srv.URL + "/product/dht22",
	}, refs)
	assert.Equal(t, []int{1, 2, 1}, []int{items[0].Page, items[1].Page, items[2].Page})

	require.Len(t, errs, 1)

	var fetchErr *source.FetchError
	require.ErrorAs(t, errs[0], &fetchErr)
	assert.Equal(t, srv.URL+"/product/esp32", fetchErr.URL)
	assert.NotErrorIs(t, errs[0], source.ErrSourceUnavailable)
}

func TestCommunica_ConfiguredCategories(t *testing.T) {
	srv := communicaServer(t)
	a := newAdapter(t, srv, config.SourceConfig{
		Name:    "communica",
		Adapter: config.AdapterCommunica,
		Options: map[string]any{
			"category_urls": []string{"/category/sensors"},
			"max_pages":     1,
		},
	})

	items, errs := collect(a)
	require.Len(t, items, 1)
	assert.Equal(t, srv.URL+"/product/dht22", items[0].Ref)
	assert.Len(t, errs, 1)
}

func TestCommunica_RootUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	a := newAdapter(t, srv, config.SourceConfig{Name: "communica", Adapter: config.AdapterCommunica})

	items, errs := collect(a)
	assert.Empty(t, items)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], source.ErrSourceUnavailable)
}

func TestCommunica_StopsWhenConsumerStops(t *testing.T) {
	srv := communicaServer(t)
	a := newAdapter(t, srv, config.SourceConfig{Name: "communica", Adapter: config.AdapterCommunica})

	n := 0

	for _, err := range a.Fetch(context.Background()) {
		require.NoError(t, err)

		n++

		break
	}

	assert.Equal(t, 1, n)
}

func TestCommunica_Parse(t *testing.T) {
	a := newAdapter(t, nil, config.SourceConfig{
		Name:    "communica",
		Adapter: config.AdapterCommunica,
		BaseURL: "https://shop.example",
	})

	t.Run("selectors", func(t *testing.T) {
		c, err := a.Parse(source.RawItem{Ref: "https://shop.example/product/uno", Page: 1, Body: []byte(unoPage)})
		require.NoError(t, err)

		assert.Equal(t, "ARD-UNO-R3", c.SKU)
		assert.Equal(t, "communica", c.Source)
		assert.Equal(t, "Arduino Uno R3", c.Name)
		assert.Equal(t, "Development Boards", c.Category)
		assert.Equal(t, "1150.00", c.PriceIncVAT)
		assert.Equal(t, "1000.00", c.PriceExVAT)
		assert.Equal(t, catalog.StockLowStock, c.StockStatus)
		require.NotNil(t, c.StockQuantity)
		assert.Equal(t, 3, *c.StockQuantity)
		assert.Equal(t, "Arduino", c.Brand)
		assert.Equal(t, "The classic ATmega328P board.", c.Description)
		assert.Equal(t, "https://shop.example/product/uno", c.URL)
		assert.Equal(t, "Only 3 left", c.Metadata["stock_text"])
	})

	t.Run("text fallbacks", func(t *testing.T) {
		c, err := a.Parse(source.RawItem{Ref: "https://shop.example/product/nano", Page: 2, Body: []byte(nanoPage)})
		require.NoError(t, err)

		assert.Equal(t, "ARD-NANO", c.SKU)
		assert.Equal(t, "Arduino Nano", c.Name)
		assert.Equal(t, "115.00", c.PriceIncVAT)
		assert.Equal(t, "100.00", c.PriceExVAT)
		assert.Equal(t, catalog.StockInStock, c.StockStatus)
		require.NotNil(t, c.StockQuantity)
		assert.Equal(t, 47, *c.StockQuantity)
	})

	t.Run("missing sku", func(t *testing.T) {
		_, err := a.Parse(source.RawItem{Ref: "https://shop.example/product/dht22", Body: []byte(dht22Page)})

		var parseErr *source.ParseError
		require.ErrorAs(t, err, &parseErr)
		assert.Equal(t, "sku not found", parseErr.Reason)
		assert.Equal(t, "communica", parseErr.Source)
	})

	t.Run("missing price", func(t *testing.T) {
		body := `<html><body><span class="sku">X-1</span><h1>Thing</h1></body></html>`

		_, err := a.Parse(source.RawItem{Ref: "https://shop.example/product/x", Body: []byte(body)})

		var parseErr *source.ParseError
		require.ErrorAs(t, err, &parseErr)
		assert.Equal(t, "price not found", parseErr.Reason)
	})

	t.Run("normalizes", func(t *testing.T) {
		c, err := a.Parse(source.RawItem{Ref: "https://shop.example/product/uno", Body: []byte(unoPage)})
		require.NoError(t, err)

		rec, err := catalog.Normalize(c)
		require.NoError(t, err)
		assert.Equal(t, "1150", rec.PriceIncVAT.String())
	})
}

func TestCommunica_InvalidOptions(t *testing.T) {
	_, err := source.NewAdapter(testLogger(), config.SourceConfig{
		Name:    "communica",
		Adapter: config.AdapterCommunica,
		BaseURL: "https://shop.example",
		Options: map[string]any{"max_pagez": 3},
	}, nil)
	require.Error(t, err)

	_, err = source.NewAdapter(testLogger(), config.SourceConfig{
		Name:    "communica",
		Adapter: config.AdapterCommunica,
		BaseURL: "not a url",
	}, nil)
	require.Error(t, err)
}
