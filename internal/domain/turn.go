package domain

import "time"

// Turn is a single persisted conversation message. Turns are append-only and
// never mutated; ordering follows creation time.
type Turn struct {
	UserID    int64
	Role      string
	Content   string
	CreatedAt time.Time
}
