// Package report renders the single-page HTML price overview.
package report

import (
	"context"
	"fmt"
	"html/template"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/maltedev/price-tracker/internal/database"
)

const DefaultPath = "output.html"

type Offer struct {
	SiteName  string
	URL       string
	Price     float64
	Vendor    string
	ScrapedAt time.Time
	Best      bool
}

type ProductCard struct {
	Name      string
	Category  string
	BestPrice float64
	Offers    []Offer
}

type Page struct {
	GeneratedAt time.Time
	Products    []ProductCard
	Total       float64
}

// Build groups latest prices by product. Rows must be ordered by product
// name then price, as LatestPrices returns them.
func Build(rows []database.ProductPrice, generatedAt time.Time) Page {
	page := Page{GeneratedAt: generatedAt}

	for _, row := range rows {
		n := len(page.Products)
		if n == 0 || page.Products[n-1].Name != row.ProductName {
			page.Products = append(page.Products, ProductCard{
				Name:      row.ProductName,
				Category:  row.Category,
				BestPrice: row.Price,
			})
			page.Total += row.Price
			n++
		}

		card := &page.Products[n-1]
		offer := Offer{
			SiteName:  row.SiteName,
			URL:       row.URL,
			Price:     row.Price,
			ScrapedAt: row.ScrapedAt,
			Best:      len(card.Offers) == 0,
		}
		if row.VendorName != nil {
			offer.Vendor = *row.VendorName
		}
		card.Offers = append(card.Offers, offer)
	}

	return page
}

func Render(w io.Writer, page Page) error {
	if err := pageTemplate.Execute(w, page); err != nil {
		return fmt.Errorf("failed to render report: %w", err)
	}
	return nil
}

// WriteFile renders the current latest prices to path.
func WriteFile(ctx context.Context, db *database.DB, path string) error {
	rows, err := db.LatestPrices(ctx)
	if err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create report directory: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report %s: %w", path, err)
	}
	defer f.Close()

	if err := Render(f, Build(rows, time.Now())); err != nil {
		return err
	}
	return f.Close()
}

var pageTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"euro": func(v float64) string { return fmt.Sprintf("%.2f €", v) },
	"date": func(t time.Time) string { return t.Local().Format("02/01/2006 15:04") },
}).Parse(`<!DOCTYPE html>
<html lang="fr">
<head>
<meta charset="utf-8">
<title>Suivi des prix</title>
<style>
body { font-family: system-ui, sans-serif; background: #0f172a; color: #e2e8f0; margin: 2rem; }
.card { background: #1e293b; border-radius: 8px; padding: 1rem; margin-bottom: 1rem; }
.best { color: #4ade80; font-weight: 600; }
table { width: 100%; border-collapse: collapse; }
td, th { padding: .25rem .5rem; text-align: left; }
a { color: #38bdf8; }
</style>
</head>
<body>
<h1>Suivi des prix</h1>
<p>Généré le {{date .GeneratedAt}} · Total meilleurs prix : <span class="best">{{euro .Total}}</span></p>
{{range .Products}}
<div class="card">
  <h2>{{.Name}} <small>{{.Category}}</small></h2>
  <table>
    <tr><th>Site</th><th>Prix</th><th>Vendeur</th><th>Relevé</th></tr>
    {{range .Offers}}
    <tr>
      <td><a href="{{.URL}}">{{.SiteName}}</a></td>
      <td{{if .Best}} class="best"{{end}}>{{euro .Price}}</td>
      <td>{{.Vendor}}</td>
      <td>{{date .ScrapedAt}}</td>
    </tr>
    {{end}}
  </table>
</div>
{{else}}
<p>Aucun prix enregistré.</p>
{{end}}
</body>
</html>
`))
