package source

import (
	"context"
	"iter"
	"net/url"
	"strconv"

	"github.com/vanrensburgpierre12-art/ITProduct-scraper/pkg/catalog"
)

// RawItem is one undecoded product as retrieved from a source.
type RawItem struct {
	Source string
	// Ref identifies the item within the source, usually its URL.
	Ref  string
	Page int
	Body []byte
}

// Adapter retrieves and decodes one distributor's catalog.
type Adapter interface {
	// Name is the configured source name.
	Name() string

	// Kind is the adapter variant, e.g. "communica".
	Kind() string

	// Fetch lazily walks the catalog. Each call starts a new traversal.
	// Yielded errors are *FetchError for a skipped page, or wrap
	// ErrSourceUnavailable when the traversal cannot continue.
	Fetch(ctx context.Context) iter.Seq2[RawItem, error]

	// Parse decodes one item. Malformed items return *ParseError.
	Parse(raw RawItem) (catalog.Candidate, error)
}

// withPage sets the page query parameter of rawURL. Page 1 is the bare URL.
func withPage(rawURL string, page int) (string, error) {
	if page <= 1 {
		return rawURL, nil
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Set("page", strconv.Itoa(page))
	u.RawQuery = q.Encode()

	return u.String(), nil
}
