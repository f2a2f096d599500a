package partition

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackzampolin/shrinkify/internal/warehouse"
)

// Request describes one partition pass.
type Request struct {
	Source     warehouse.TableRef
	// Dataset receives the sub-tables, in the source project.
	Dataset    string
	Columns    []string
	PromptBase string
	// RequestConfig is forwarded to every sub-table; see warehouse.ChunkTableSpec.
	RequestConfig string
}

// Partition materializes one sub-table per chunk of plan. The first error
// aborts the pass; sub-tables already written are left in place and are
// overwritten by the next attempt.
func Partition(ctx context.Context, wh warehouse.Warehouse, plan Plan, req Request, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	for _, c := range plan.Chunks {
		dest := warehouse.TableRef{Project: req.Source.Project, Dataset: req.Dataset, Table: ChunkTableName(c.Index)}
		spec := warehouse.ChunkTableSpec{
			Source:        req.Source,
			Dest:          dest,
			Columns:       req.Columns,
			PromptBase:    req.PromptBase,
			Start:         c.Start,
			End:           c.End,
			RequestConfig: req.RequestConfig,
		}
		if err := wh.CreateChunkTable(ctx, spec); err != nil {
			return fmt.Errorf("chunk %d: %w", c.Index, err)
		}
		logger.Info("created sub-table", "table", dest.Table, "start", c.Start, "end", c.End)
	}
	return nil
}
