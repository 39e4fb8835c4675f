// Package trigger starts the external win-story generation process, either
// by publishing a request to Kafka or by calling an HTTP endpoint.
package trigger

import (
	"time"
)

// GenerationRequest asks the generator to rebuild the stories of one record.
type GenerationRequest struct {
	RecordID    string    `json:"recordId"`
	RequestID   string    `json:"requestId"`
	RequestedAt time.Time `json:"requestedAt"`
}
