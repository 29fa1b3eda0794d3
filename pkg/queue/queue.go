package queue

import (
	"context"

	"shelfnotes/pkg/domain"
)

// Publisher emits summarize-request events. An external summarizer
// consumes them and stores results back through the summary API.
type Publisher interface {
	Publish(ctx context.Context, req domain.SummarizeRequest) error
	Close() error
}
