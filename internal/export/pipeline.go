package export

import (
	"context"
	"errors"
	"time"

	"github.com/ledgerline/site/internal/aggregate"
	"github.com/ledgerline/site/internal/pkg/metrics"
	"github.com/ledgerline/site/internal/reconcile"
	"github.com/ledgerline/site/internal/store"
)

// Source produces reconciled records.
type Source interface {
	ReconcileAll(ctx context.Context) (reconcile.Result, error)
}

// Pipeline runs reconcile, aggregate and export in sequence.
type Pipeline struct {
	source   Source
	exporter *Exporter
}

// NewPipeline creates a Pipeline.
func NewPipeline(source Source, exporter *Exporter) *Pipeline {
	return &Pipeline{source: source, exporter: exporter}
}

// Exporter returns the exporter used for downloads.
func (p *Pipeline) Exporter() *Exporter { return p.exporter }

// Run performs one full export. A store failure returns an error wrapping
// store.ErrUnavailable; a write failure returns a *FileWriteError.
func (p *Pipeline) Run(ctx context.Context) (*Run, error) {
	started := time.Now()

	res, err := p.source.ReconcileAll(ctx)
	if err != nil {
		metrics.ObserveExport(outcome(err), started)
		return nil, err
	}

	agg := aggregate.Aggregate(res.Records, res.Tags...)
	run, err := p.exporter.ExportAll(ctx, res.Records, agg, len(res.Warnings))
	if err != nil {
		metrics.ObserveExport(outcome(err), started)
		return nil, err
	}

	metrics.ObserveExport("success", started)
	return run, nil
}

func outcome(err error) string {
	var fwe *FileWriteError
	switch {
	case errors.Is(err, store.ErrUnavailable):
		return "store_unavailable"
	case errors.As(err, &fwe):
		return "write_failed"
	default:
		return "error"
	}
}
