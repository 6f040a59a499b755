package db

import "time"

// TokenCacheModel mirrors the logical "tokencache" table: partition key is
// a constant empty string, row key is the user key, and the blob is the
// serialized token-cache state.
type TokenCacheModel struct {
	PartitionKey  string    `gorm:"primaryKey;size:128;default:''"`
	RowKey        string    `gorm:"primaryKey;size:256;not null"`
	Blob          []byte    `gorm:"type:bytea;not null"`
	LastWriteTime time.Time `gorm:"not null"`
}

func (TokenCacheModel) TableName() string { return "tokencache" }

// SubscriptionModel mirrors the logical "azuresubscriptions" table:
// partition key is the owning user, row key is the subscription id.
type SubscriptionModel struct {
	PartitionKey string    `gorm:"primaryKey;size:256;not null"`
	RowKey       string    `gorm:"primaryKey;size:64;not null"`
	DirectoryID  string    `gorm:"size:64;not null"`
	ConnectedOn  time.Time `gorm:"not null"`
}

func (SubscriptionModel) TableName() string { return "azuresubscriptions" }
