package ports

import (
	"context"
	"time"

	"mtrade/internal/domain"
)

// DataSource provides range queries over stored historical bars for one
// symbol. Implementations sit in front of the on-disk storage engine.
type DataSource interface {
	// FetchRange returns all bars with open time in [start, end).
	// Fails with ErrInvalidRange if start >= end and with a DataGapError if
	// the range yields zero rows.
	FetchRange(ctx context.Context, start, end time.Time) ([]domain.Bar, error)

	// LatestWindow returns the tail of the most recent n known bars.
	LatestWindow(ctx context.Context, n int) ([]domain.Bar, error)
}
