package models

import "time"

// Connection stores a user's linked third-party services and their OAuth
// tokens. One row per user; ConnectedServices and ServiceTokens are JSON
// blobs so the row can be replaced atomically with a single save, mirroring
// the put-by-key contract of the store.
type Connection struct {
	UserID            string `gorm:"primaryKey"`
	ConnectedServices string // JSON array of lower-cased service names
	ServiceTokens     string // JSON map of service name -> token record
	UpdatedAt         time.Time
}
