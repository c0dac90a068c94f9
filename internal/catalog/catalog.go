// Package catalog loads the versioned product catalog document and syncs
// it into the database without ever deleting rows.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/maltedev/price-tracker/internal/models"
)

const Version = 1

var (
	ErrInvalidCatalog = errors.New("invalid catalog")

	urlPattern = regexp.MustCompile(`^https?://`)
)

type Document struct {
	Version  int       `json:"version"`
	Products []Product `json:"products"`
}

type Product struct {
	Name     string   `json:"name"`
	Category string   `json:"category,omitempty"`
	URLs     []string `json:"urls"`
}

// ValidationError points at one bad field. Index is the product position,
// or -1 for document-level problems.
type ValidationError struct {
	Index   int    `json:"index"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("products[%d].%s: %s", e.Index, e.Field, e.Message)
}

type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	msgs := make([]string, len(v))
	for i, e := range v {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "; ")
}

func (v ValidationErrors) Unwrap() error {
	return ErrInvalidCatalog
}

func LoadFile(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog %s: %w", path, err)
	}
	defer f.Close()

	return Load(f)
}

// Load decodes and validates a catalog. Names, categories and URLs are
// trimmed and the category defaults to models.DefaultCategory.
func Load(r io.Reader) (*Document, error) {
	var doc Document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: failed to decode json: %v", ErrInvalidCatalog, err)
	}

	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Validate normalizes the document in place and returns ValidationErrors
// listing every problem found.
func (d *Document) Validate() error {
	var errs ValidationErrors

	if d.Version != Version {
		errs = append(errs, ValidationError{Index: -1, Field: "version", Message: fmt.Sprintf("unsupported version %d (expected %d)", d.Version, Version)})
	}
	if len(d.Products) == 0 {
		errs = append(errs, ValidationError{Index: -1, Field: "products", Message: "must be a non-empty list"})
	}

	names := make(map[string]int)
	owners := make(map[string]int)

	for i := range d.Products {
		p := &d.Products[i]
		p.Name = strings.TrimSpace(p.Name)
		p.Category = strings.TrimSpace(p.Category)
		if p.Category == "" {
			p.Category = models.DefaultCategory
		}

		if p.Name == "" {
			errs = append(errs, ValidationError{Index: i, Field: "name", Message: "is required"})
		} else if first, dup := names[p.Name]; dup {
			errs = append(errs, ValidationError{Index: i, Field: "name", Message: fmt.Sprintf("duplicate of products[%d]", first)})
		} else {
			names[p.Name] = i
		}

		if len(p.URLs) == 0 {
			errs = append(errs, ValidationError{Index: i, Field: "urls", Message: "must be a non-empty list"})
			continue
		}

		for j, u := range p.URLs {
			u = strings.TrimSpace(u)
			p.URLs[j] = u
			field := fmt.Sprintf("urls[%d]", j)

			if !urlPattern.MatchString(u) {
				errs = append(errs, ValidationError{Index: i, Field: field, Message: fmt.Sprintf("invalid url %q", u)})
				continue
			}
			if owner, dup := owners[u]; dup && owner != i {
				errs = append(errs, ValidationError{Index: i, Field: field, Message: fmt.Sprintf("url already listed by products[%d]", owner)})
				continue
			}
			owners[u] = i
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// URLCount is the number of URL entries across all products.
func (d *Document) URLCount() int {
	n := 0
	for _, p := range d.Products {
		n += len(p.URLs)
	}
	return n
}
