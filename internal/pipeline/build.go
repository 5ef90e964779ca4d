package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"marketflows/internal/config"
	"marketflows/internal/flows"
	"marketflows/internal/retriever"
	"marketflows/internal/storage"
)

// BuildOptions carries process-level collaborators into Build.
type BuildOptions struct {
	Logger *slog.Logger
	// Client is used by HTTP sources; nil means http.DefaultClient.
	Client  *http.Client
	Headful bool
	// ColumnMap overrides the config's column_map path when non-empty.
	ColumnMap string
	// CSV and XLSX override the configured output paths when non-empty.
	CSV  string
	XLSX string
}

// Build turns a validated pipeline config into a Runner. The caller owns the
// returned Runner and must Close it.
func Build(ctx context.Context, p config.Pipeline, opt BuildOptions) (*Runner, error) {
	cmPath := p.ColumnMap
	if opt.ColumnMap != "" {
		cmPath = opt.ColumnMap
	}
	cm := flows.DefaultColumnMap()
	if cmPath != "" {
		var err error
		if cm, err = flows.LoadColumnMap(cmPath); err != nil {
			return nil, err
		}
	}

	r := &Runner{
		Job:       p.Job,
		ColumnMap: cm,
		Monthly:   strings.EqualFold(p.Aggregate, "monthly"),
		Output:    Output{CSV: p.Output.CSV, XLSX: p.Output.XLSX, BOM: p.Output.BOM},
		Logger:    opt.Logger,
	}
	if opt.CSV != "" {
		r.Output.CSV = opt.CSV
	}
	if opt.XLSX != "" {
		r.Output.XLSX = opt.XLSX
	}

	for i, src := range p.Sources {
		rt, err := retriever.New(src, retriever.Options{
			Client:    opt.Client,
			UserAgent: p.Runtime.UserAgent,
			Timeout:   p.SourceTimeout(src),
			Headful:   opt.Headful,
		})
		if err != nil {
			return nil, fmt.Errorf("sources[%d]: %w", i, err)
		}
		r.Sources = append(r.Sources, rt)
	}

	if st := p.Storage; st != nil {
		repo, err := storage.New(ctx, storage.Config{
			Kind:      st.Kind,
			DSN:       st.DSN,
			Table:     st.Table,
			BatchSize: st.BatchSize,
		})
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
		r.Store = repo
	}
	return r, nil
}
