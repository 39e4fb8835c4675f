package recordsource

import (
	"context"
	"log/slog"
	"slices"

	"github.com/Adithya-Monish-Kumar-K/winstory-service/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/winstory-service/pkg/logger"
)

// RecordChange is the message published on the record change topic.
type RecordChange struct {
	RecordID string   `json:"recordId"`
	Op       string   `json:"op"`
	Fields   []string `json:"fields,omitempty"`
}

// ChangeFeed turns record change messages into cache invalidations and
// pushes to subscribers.
type ChangeFeed struct {
	source *Source
	cache  invalidator
	field  string
	logger *slog.Logger
}

// NewChangeFeed returns a feed reacting to changes of field. cache may be nil.
func NewChangeFeed(source *Source, cache *Cache, field string) *ChangeFeed {
	cf := &ChangeFeed{
		source: source,
		field:  field,
		logger: logger.WithComponent("change-feed"),
	}
	if cache != nil {
		cf.cache = cache
	}
	return cf
}

// Handle implements kafka.MessageHandler. Undecodable messages are logged and
// skipped so they are committed.
func (cf *ChangeFeed) Handle(ctx context.Context, key, value []byte) error {
	change, err := kafka.DecodeJSON[RecordChange](value)
	if err != nil {
		cf.logger.Warn("skipping undecodable change", "key", string(key), "error", err)
		return nil
	}
	if change.RecordID == "" {
		change.RecordID = string(key)
	}
	if change.RecordID == "" {
		cf.logger.Warn("skipping change without record id")
		return nil
	}
	if len(change.Fields) > 0 && !slices.Contains(change.Fields, cf.field) {
		return nil
	}

	if cf.cache != nil {
		if err := cf.cache.Invalidate(ctx, change.RecordID); err != nil {
			return err
		}
	}
	cf.logger.Debug("record changed", "record_id", change.RecordID, "op", change.Op)
	cf.source.Notify(ctx, change.RecordID)
	return nil
}
