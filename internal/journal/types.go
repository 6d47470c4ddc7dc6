package journal

import (
	"time"

	"github.com/nerrad567/ferrobot-core/internal/device"
)

// Source says how a command reached the host.
type Source string

const (
	// SourceQueued marks a command drained from the queue on a tick.
	SourceQueued Source = "queued"

	// SourceSync marks a construction command executed synchronously.
	SourceSync Source = "sync"
)

// Entry is one journaled command.
type Entry struct {
	ID         string          `json:"id"`
	Device     device.Identity `json:"device"`
	Tag        uint8           `json:"tag"`
	Source     Source          `json:"source"`
	Payload    []byte          `json:"payload"`
	Response   string          `json:"response,omitempty"`
	RecordedAt time.Time       `json:"recorded_at"`
}

// ModeChange is one robot mode transition.
type ModeChange struct {
	Seq       int64       `json:"seq"`
	Mode      device.Mode `json:"mode"`
	ChangedAt time.Time   `json:"changed_at"`
}

// Filter controls which entries List returns.
type Filter struct {
	Device *device.Identity // optional
	Source Source           // optional
	Limit  int              // default 50, max 500
	Offset int
}

// ListResult is one page of entries, most recent first.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}
