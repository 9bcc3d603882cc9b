package dbwriter

import (
	"context"
)

// Repository is the trade journal. SaveTrade is buffered; the other writes go
// straight to the database.
type Repository interface {
	SaveTrade(trade Trade)
	SaveEquitySnapshot(ctx context.Context, snap EquitySnapshot) error
	SaveRegimeChange(ctx context.Context, change RegimeChange) error
	Close()
}
