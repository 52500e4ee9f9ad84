package patterns

import (
	"context"

	"github.com/miradorstack/mirador-triage/internal/models"
)

// StoreFunc adapts a function to the Store interface.
type StoreFunc func(ctx context.Context, report models.JobReport) error

// StoreReport implements Store.
func (f StoreFunc) StoreReport(ctx context.Context, report models.JobReport) error {
	return f(ctx, report)
}

// Persister is the document store the reports are written to.
type Persister interface {
	Persist(ctx context.Context, kind, id string, record any) error
}

// PersisterStore writes reports as documents of the given kind keyed by job id.
func PersisterStore(p Persister, kind string) Store {
	return StoreFunc(func(ctx context.Context, report models.JobReport) error {
		return p.Persist(ctx, kind, report.JobID, report)
	})
}
