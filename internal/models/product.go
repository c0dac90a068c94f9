package models

import (
	"time"
)

const DefaultCategory = "Other"

type Product struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Name      string    `gorm:"not null;uniqueIndex" json:"name"`
	Category  string    `gorm:"not null;default:Other" json:"category"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	URLs []URLEntry `gorm:"foreignKey:ProductID;constraint:OnDelete:CASCADE" json:"urls,omitempty"`
}

func (Product) TableName() string { return "products" }

type URLEntry struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ProductID int64     `gorm:"not null;index" json:"product_id"`
	URL       string    `gorm:"column:url;not null;uniqueIndex" json:"url"`
	SiteName  string    `gorm:"not null" json:"site_name"`
	Active    bool      `gorm:"not null;default:true" json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

func (URLEntry) TableName() string { return "urls" }

// PriceObservation is one immutable row of price_history.
type PriceObservation struct {
	ID              int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ProductID       int64     `gorm:"not null;index" json:"product_id"`
	URL             string    `gorm:"column:url;not null" json:"url"`
	Price           float64   `gorm:"not null" json:"price"`
	ScrapedAt       time.Time `gorm:"not null;index" json:"scraped_at"`
	SiteName        string    `gorm:"not null" json:"site_name"`
	VendorName      *string   `json:"vendor_name,omitempty"`
	VendorURL       *string   `gorm:"column:vendor_url" json:"vendor_url,omitempty"`
	IsMarketplace   bool      `json:"is_marketplace"`
	IsPrimeEligible bool      `json:"is_prime_eligible"`
}

func (PriceObservation) TableName() string { return "price_history" }

type CacheStatus string

const (
	CacheStatusSuccess CacheStatus = "success"
	CacheStatusFailed  CacheStatus = "failed"
)

// CacheEntry is the single persisted fetch-state row for a URL.
// CacheDurationHours is the TTL recorded at the last write; it only gates
// fetching while Status is success. NextRetry gates failed entries.
type CacheEntry struct {
	ID                 int64       `gorm:"primaryKey;autoIncrement" json:"id"`
	URL                string      `gorm:"column:url;not null;uniqueIndex" json:"url"`
	LastScraped        time.Time   `gorm:"not null" json:"last_scraped"`
	CacheDurationHours int         `gorm:"not null" json:"cache_duration_hours"`
	Status             CacheStatus `gorm:"not null" json:"status"`
	Attempts           int         `gorm:"not null;default:0" json:"attempts"`
	NextRetry          *time.Time  `json:"next_retry,omitempty"`
}

func (CacheEntry) TableName() string { return "cache" }

// FreshUntil is the instant after which a successful entry is stale.
func (c *CacheEntry) FreshUntil() time.Time {
	return c.LastScraped.Add(time.Duration(c.CacheDurationHours) * time.Hour)
}

type IssueType string

const (
	IssueNotFound     IssueType = "404_error"
	IssueNameMismatch IssueType = "name_mismatch"
	IssueScrapeError  IssueType = "scrape_error"
	IssueAntiBot      IssueType = "anti_bot"
)

func (t IssueType) Valid() bool {
	switch t {
	case IssueNotFound, IssueNameMismatch, IssueScrapeError, IssueAntiBot:
		return true
	}
	return false
}

type ProductIssue struct {
	ID             int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ProductID      int64     `gorm:"not null;index" json:"product_id"`
	URL            string    `gorm:"column:url;not null" json:"url"`
	IssueType      IssueType `gorm:"not null" json:"issue_type"`
	ExpectedName   *string   `json:"expected_name,omitempty"`
	ActualName     *string   `json:"actual_name,omitempty"`
	ErrorMessage   *string   `json:"error_message,omitempty"`
	HTTPStatusCode *int      `gorm:"column:http_status_code" json:"http_status_code,omitempty"`
	DetectedAt     time.Time `gorm:"not null" json:"detected_at"`
	Resolved       bool      `gorm:"not null;default:false" json:"resolved"`

	// Filled by listing queries that join products; not a column.
	ProductName string `gorm:"->;-:migration" json:"product_name,omitempty"`
}

func (ProductIssue) TableName() string { return "product_issues" }

// StringPtr returns nil for empty strings so optional columns stay NULL.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func IntPtr(i int) *int {
	if i == 0 {
		return nil
	}
	return &i
}
