package models

import "time"

// RateLimitAttempt is one recorded request attempt. The count of rows for a
// key within the trailing window drives throttling decisions. Old rows are
// removed by a periodic sweep rather than at decision time.
type RateLimitAttempt struct {
	ID        string    `gorm:"primaryKey"` // UUID
	Key       string    `gorm:"index"`      // "<action>:<identifier>"
	CreatedAt time.Time `gorm:"index"`
}
