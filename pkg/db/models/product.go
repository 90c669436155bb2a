package models

import (
	"time"

	"gorm.io/datatypes"
)

// ProductCacheEntry caches public product metadata used as draft context
type ProductCacheEntry struct {
	ProductID   string                                `gorm:"primaryKey;column:product_id" json:"product_id"`
	Name        string                                `gorm:"column:name" json:"name"`
	Brand       string                                `gorm:"column:brand" json:"brand,omitempty"`
	Category    string                                `gorm:"column:category" json:"category,omitempty"`
	Description string                                `gorm:"column:description" json:"description,omitempty"`
	Attributes  datatypes.JSONType[map[string]string] `gorm:"column:attributes" json:"attributes"`
	FetchedAt   time.Time                             `gorm:"column:fetched_at;not null" json:"fetched_at"`
}

// TableName specifies the table name for the ProductCacheEntry model
func (ProductCacheEntry) TableName() string {
	return "product_cache_entries"
}
