package notifier

import (
	"context"
	"time"
)

// Config controls the async delivery pipeline.
type Config struct {
	Workers       int
	QueueSize     int
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	DedupWindow   time.Duration
}

// Evictor forgets a guild's log channel. It reports whether this call
// removed it, so concurrent failures for the same destination evict once.
type Evictor interface {
	EvictLogChannel(ctx context.Context, guildID, channelID string) (bool, error)
}

// Event types published on the bus.
const (
	EventSent    = "delivery.sent"
	EventFailed  = "delivery.failed"
	EventDeduped = "delivery.deduped"
	EventEvicted = "delivery.evicted"
	EventDropped = "delivery.dropped"
)

// DeliveryEvent is the payload of delivery lifecycle events.
type DeliveryEvent struct {
	GuildID   string    `json:"guild_id"`
	ChannelID string    `json:"channel_id"`
	RecordID  string    `json:"record_id"`
	Kind      string    `json:"kind"`
	Attempts  int       `json:"attempts,omitempty"`
	At        time.Time `json:"at"`
	Error     string    `json:"error,omitempty"`
}
