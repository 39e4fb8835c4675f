package coordinator

import (
	"time"

	"github.com/Adithya-Monish-Kumar-K/winstory-service/internal/winstory"
)

const (
	noStoriesMessage    = "No relevant win stories found for this opportunity."
	unknownErrorMessage = "Unknown error occurred"
)

// View is the read-only projection of a coordinator handed to renderers.
type View struct {
	RecordID     string                   `json:"recordId"`
	Stories      winstory.StoryCollection `json:"stories"`
	ErrorMessage string                   `json:"errorMessage,omitempty"`
	IsRefreshing bool                     `json:"isRefreshing"`
	State        string                   `json:"state"`
	UpdatedAt    time.Time                `json:"updatedAt"`

	// Err is the failure behind ErrorMessage, nil unless State is failed.
	Err error `json:"-"`
}

// Displayed returns the leading stories a widget shows when capped at n.
func (v View) Displayed(n int) winstory.StoryCollection {
	return v.Stories.Limit(n)
}

func (v View) HasStories() bool {
	return len(v.Stories) > 0
}

// EmptyStateMessage is the text shown in place of an empty story list.
func (v View) EmptyStateMessage() string {
	if v.Err == nil {
		return noStoriesMessage
	}
	msg := v.ErrorMessage
	if msg == "" {
		msg = unknownErrorMessage
	}
	return "Error: " + msg
}
