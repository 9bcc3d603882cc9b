package dbwriter

import (
	"context"
	"errors"
)

// fanout writes every record to all of its repositories.
type fanout []Repository

// Fanout combines repositories. Nil entries are skipped; a single repository
// is returned as is.
func Fanout(repos ...Repository) Repository {
	var out fanout
	for _, r := range repos {
		if r != nil {
			out = append(out, r)
		}
	}
	if len(out) == 1 {
		return out[0]
	}
	return out
}

func (f fanout) SaveTrade(trade Trade) {
	for _, r := range f {
		r.SaveTrade(trade)
	}
}

func (f fanout) SaveEquitySnapshot(ctx context.Context, snap EquitySnapshot) error {
	var errs []error
	for _, r := range f {
		errs = append(errs, r.SaveEquitySnapshot(ctx, snap))
	}
	return errors.Join(errs...)
}

func (f fanout) SaveRegimeChange(ctx context.Context, change RegimeChange) error {
	var errs []error
	for _, r := range f {
		errs = append(errs, r.SaveRegimeChange(ctx, change))
	}
	return errors.Join(errs...)
}

func (f fanout) Close() {
	for _, r := range f {
		r.Close()
	}
}
