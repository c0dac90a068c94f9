package sites

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/price-tracker/internal/parser"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func doc(t *testing.T, html string) *goquery.Document {
	t.Helper()
	d, err := parser.Parse(html)
	require.NoError(t, err)
	return d
}

func TestRegistry_Lookup(t *testing.T) {
	r := Default(testLogger())

	tests := []struct {
		url  string
		want string
	}{
		{"https://www.amazon.fr/dp/B0ABCDEF12", "Amazon"},
		{"https://amazon.de/dp/B0ABCDEF12", "Amazon"},
		{"https://www.idealo.fr/prix/202062898/razer-deathadder-v3-pro.html", "Idealo"},
		{"https://www.ldlc.com/fiche/PB00512345.html", "LDLC"},
		{"https://secure.ldlc.com/fiche/PB00512345.html", "LDLC"},
		{"https://www.topachat.com/pages/detail2_cat_est_micro.html", "TopAchat"},
		{"https://www.materiel.net/produit/202301.html", "Materiel.net"},
		{"https://www.pccomponentes.fr/razer-deathadder", "PC Componentes"},
		{"https://www.grosbill.com/souris/razer.aspx", "Grosbill"},
		{"https://www.alternate.fr/Razer/DeathAdder", "Alternate"},
		{"https://www.bpm-power.com/it/product/1234", "BPM Power"},
		{"https://shop.example.com/item/1", UnknownSite},
		{"not a url", UnknownSite},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, r.SiteName(tt.url))
		})
	}
}

func TestRegistry_IsSupported(t *testing.T) {
	r := Default(testLogger())

	assert.True(t, r.IsSupported("https://www.topachat.com/p/1", "topachat.com"))
	assert.True(t, r.IsSupported("https://m.idealo.fr/prix/1/x.html", "idealo.fr"))
	assert.False(t, r.IsSupported("https://www.nottopachat.com/p/1", "topachat.com"))
}

func TestRegistry_HandlerSettings(t *testing.T) {
	r := Default(testLogger())

	tests := []struct {
		url     string
		stealth bool
		wait    time.Duration
	}{
		{"https://www.pccomponentes.fr/x", true, 15 * time.Second},
		{"https://www.bpm-power.com/x", true, 12 * time.Second},
		{"https://www.idealo.fr/prix/1/x.html", true, 8 * time.Second},
		{"https://www.grosbill.com/x", false, 5 * time.Second},
		{"https://www.ldlc.com/x", false, 3 * time.Second},
		{"https://unknown.example/x", false, 3 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			h := r.Lookup(tt.url)
			assert.Equal(t, tt.stealth, h.UseStealth())
			assert.Equal(t, tt.wait, h.WaitTime())
		})
	}
}

func TestAmazon_NormalizeURL(t *testing.T) {
	a := NewAmazon(testLogger())

	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "wishlist coliid",
			in:   "https://www.amazon.fr/Razer-DeathAdder/dp/B09XYZ1234/ref=lv_ov_lig_dp_it?th=1&coliid=I2ABC&colid=3DEF",
			want: "https://www.amazon.fr/Razer-DeathAdder/dp/B09XYZ1234/",
		},
		{
			name: "wishlist colid with query right after asin",
			in:   "https://www.amazon.fr/dp/B09XYZ1234?colid=3DEF",
			want: "https://www.amazon.fr/dp/B09XYZ1234/",
		},
		{
			name: "plain product url untouched",
			in:   "https://www.amazon.fr/dp/B09XYZ1234?th=1",
			want: "https://www.amazon.fr/dp/B09XYZ1234?th=1",
		},
		{
			name: "wishlist without dp untouched",
			in:   "https://www.amazon.fr/hz/wishlist/ls/ABC?colid=3DEF",
			want: "https://www.amazon.fr/hz/wishlist/ls/ABC?colid=3DEF",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, a.NormalizeURL(tt.in))
		})
	}
}

func TestAmazon_ExtractPrice(t *testing.T) {
	a := NewAmazon(testLogger())

	d := doc(t, `<div class="a-price"><span class="a-price-whole">1 299<span class="a-price-decimal">,</span></span><span class="a-price-fraction">95</span><span class="a-price-symbol">€</span></div>`)
	price, selector, ok := a.ExtractPrice(d)
	require.True(t, ok)
	assert.InDelta(t, 1299.95, price, 0.001)
	assert.Equal(t, ".a-price-whole", selector)

	d = doc(t, `<span id="priceblock_ourprice">49,99 €</span>`)
	price, selector, ok = a.ExtractPrice(d)
	require.True(t, ok)
	assert.InDelta(t, 49.99, price, 0.001)
	assert.Equal(t, "#priceblock_ourprice", selector)
}

func TestAmazon_InspectVendor(t *testing.T) {
	a := NewAmazon(testLogger())

	tests := []struct {
		name string
		html string
		want *Vendor
	}{
		{
			name: "marketplace seller with prime",
			html: `<a id="sellerProfileTriggerId" href="/gp/help/seller/at-a-glance.html?seller=A1">TechStore FR</a><i class="a-icon a-icon-prime"></i>`,
			want: &Vendor{
				Name:            "TechStore FR",
				URL:             "https://www.amazon.fr/gp/help/seller/at-a-glance.html?seller=A1",
				IsMarketplace:   true,
				IsPrimeEligible: true,
			},
		},
		{
			name: "sold by amazon",
			html: `<div id="merchant-info">Expédié et vendu par Amazon.</div>`,
			want: &Vendor{Name: "Amazon"},
		},
		{
			name: "tabular buybox",
			html: `<div id="tabular-buybox"><div class="tabular-buybox-text" tabular-attribute-name="Vendu par"><span>Amazon EU S.a.r.L.</span></div></div>`,
			want: &Vendor{Name: "Amazon EU S.a.r.L."},
		},
		{
			name: "nothing",
			html: `<div>no seller</div>`,
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := a.InspectVendor("https://www.amazon.fr/dp/B09XYZ1234/", doc(t, tt.html))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAmazon_Blocked(t *testing.T) {
	a := NewAmazon(testLogger())

	assert.True(t, a.Blocked(doc(t, `<form action="/errors/validateCaptcha"><input id="captchacharacters"></form>`)))
	assert.True(t, a.Blocked(doc(t, `<title>Amazon.fr - Robot Check</title>`)))
	assert.False(t, a.Blocked(doc(t, `<title>Razer DeathAdder V3 Pro : Amazon.fr</title>`)))
}

func TestTopAchat_ExtractPrice(t *testing.T) {
	h := NewTopAchat(testLogger())

	tests := []struct {
		name string
		html string
		want float64
	}{
		{
			name: "current price ahead of struck-out price",
			html: `<span class="offer-price__price svelte-hgy1uf">129,95 €<del>149,95 €</del></span>`,
			want: 129.95,
		},
		{
			name: "price split across children",
			html: `<div class="offer-price__price"><span></span><span>89,90€</span></div>`,
			want: 89.90,
		},
		{
			name: "no euro sign",
			html: `<div class="price">74.99</div>`,
			want: 74.99,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			price, _, ok := h.ExtractPrice(doc(t, tt.html))
			require.True(t, ok)
			assert.InDelta(t, tt.want, price, 0.001)
		})
	}
}

func TestParseIdealoURL(t *testing.T) {
	got, ok := ParseIdealoURL("https://www.idealo.fr/prix/202062898/razer-deathadder-v3-pro.html")
	require.True(t, ok)
	assert.Equal(t, "razer-deathadder-v3-pro", got.Slug)
	assert.Equal(t, "razer", got.Brand)
	assert.Equal(t, []string{"deathadder", "v3"}, got.Keywords)

	got, ok = ParseIdealoURL("https://www.idealo.fr/prix/1/logitech-g-pro-x-superlight-2.html")
	require.True(t, ok)
	assert.Equal(t, "logitech", got.Brand)
	assert.Equal(t, []string{"g", "x", "superlight", "2"}, got.Keywords)

	_, ok = ParseIdealoURL("https://www.idealo.fr/cat/3681/souris.html")
	assert.False(t, ok)
}

func TestIdealo_Validate(t *testing.T) {
	h := NewIdealo(testLogger())
	const url = "https://www.idealo.fr/prix/202062898/razer-deathadder-v3-pro.html"

	tests := []struct {
		name     string
		url      string
		html     string
		mismatch bool
	}{
		{
			name: "matching json-ld name",
			url:  url,
			html: `<script type="application/ld+json">{"@type":"Product","name":"Razer DeathAdder V3 Pro"}</script>`,
		},
		{
			name:     "different brand",
			url:      url,
			html:     `<h1>Logitech G Pro X Superlight 2</h1>`,
			mismatch: true,
		},
		{
			name:     "same brand different model",
			url:      url,
			html:     `<h1>Razer Basilisk Ultimate</h1>`,
			mismatch: true,
		},
		{
			name: "accents and case are ignored",
			url:  "https://www.idealo.fr/prix/42/corsair-serie-k70.html",
			html: `<h1>CORSAIR Série K70 Max</h1>`,
		},
		{
			name: "no brand in url",
			url:  "https://www.idealo.fr/prix/42/souris-sans-fil.html",
			html: `<h1>Logitech MX Master 3S</h1>`,
		},
		{
			name: "no readable name",
			url:  url,
			html: `<h1>Oops</h1>`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h.Validate(tt.url, doc(t, tt.html))
			if !tt.mismatch {
				assert.NoError(t, err)
				return
			}
			var mErr *MismatchError
			require.ErrorAs(t, err, &mErr)
			assert.Equal(t, "razer deathadder v3 pro", mErr.Expected)
			assert.NotEmpty(t, mErr.Actual)
		})
	}
}

func TestIdealo_ExtractPriceFallbacks(t *testing.T) {
	h := NewIdealo(testLogger())

	price, selector, ok := h.ExtractPrice(doc(t, `<li class="productOffers-listItem"><div class="productOffers-listItemOfferPrice">119,99 €</div></li>`))
	require.True(t, ok)
	assert.InDelta(t, 119.99, price, 0.001)
	assert.Equal(t, ".productOffers-listItemOfferPrice", selector)

	price, selector, ok = h.ExtractPrice(doc(t, `<script type="application/ld+json">{"@type":"Product","name":"Razer DeathAdder V3 Pro","offers":{"lowPrice":"109.90"}}</script>`))
	require.True(t, ok)
	assert.InDelta(t, 109.90, price, 0.001)
	assert.Equal(t, "json-ld", selector)

	price, selector, ok = h.ExtractPrice(doc(t, `<meta name="description" content="Razer DeathAdder V3 Pro à partir de 104,99 € sur idealo.fr">`))
	require.True(t, ok)
	assert.InDelta(t, 104.99, price, 0.001)
	assert.Equal(t, "meta-description", selector)
}

func TestOfferVendor(t *testing.T) {
	d := doc(t, `<ul>
		<li class="productOffers-listItem" data-shop-name="LDLC.com">
			<a class="productOffers-listItemTitle" href="/prix/1/x.html#offers">Razer</a>
			<a class="productOffers-listItemOfferCtaLeadout" href="/relocator/relocate?offerKey=abc">Vers la boutique</a>
		</li>
		<li class="productOffers-listItem" data-shop-name="Other">
			<a href="/relocator/relocate?offerKey=def">Other</a>
		</li>
	</ul>`)

	got := OfferVendor("https://www.idealo.fr/prix/1/x.html", d)
	require.NotNil(t, got)
	assert.Equal(t, "LDLC.com", got.Name)
	assert.Equal(t, "https://www.idealo.fr/relocator/relocate?offerKey=abc", got.URL)

	assert.Nil(t, OfferVendor("https://www.idealo.fr/prix/1/x.html", doc(t, `<div></div>`)))
}

func TestIdealo_InspectVendor(t *testing.T) {
	h := NewIdealo(testLogger())
	d := doc(t, `<li class="productOffers-listItem" data-shop-name="Boulanger">
		<a class="productOffers-listItemOfferCtaLeadout" href="/relocator/relocate?offerKey=xyz">Vers la boutique</a>
	</li>`)

	got := h.InspectVendor("https://www.idealo.fr/prix/1/x.html", d)
	require.NotNil(t, got)
	assert.Equal(t, "Boulanger", got.Name)
	assert.Equal(t, "https://www.idealo.fr/relocator/relocate?offerKey=xyz", got.URL)
	assert.False(t, got.IsMarketplace)

	assert.Nil(t, h.InspectVendor("https://www.idealo.fr/prix/1/x.html", doc(t, `<div></div>`)))
}
