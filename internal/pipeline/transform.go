package pipeline

import (
	"context"
	"time"

	"github.com/couchcryptid/weather-pattern-etl/internal/domain"
)

// RowTransformer implements Transformer with the fixed forecast row schema.
type RowTransformer struct {
	loc *time.Location
}

// NewTransformer creates a RowTransformer. Zoneless timestamps are read in
// loc; a nil loc means UTC.
func NewTransformer(loc *time.Location) *RowTransformer {
	if loc == nil {
		loc = time.UTC
	}
	return &RowTransformer{loc: loc}
}

func (t *RowTransformer) Transform(_ context.Context, row domain.RawRow) (domain.RawRecord, error) {
	return domain.ParseRawRow(row, t.loc)
}
