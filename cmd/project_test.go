package cmd

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/govnewsbr/pipeline/internal/config"
	"github.com/govnewsbr/pipeline/internal/index"
	"github.com/govnewsbr/pipeline/internal/metrics"
	"github.com/govnewsbr/pipeline/internal/migrate"
	"github.com/govnewsbr/pipeline/internal/news"
	"github.com/govnewsbr/pipeline/internal/pipeline"
	"github.com/govnewsbr/pipeline/internal/retry"
	"github.com/govnewsbr/pipeline/internal/store"
	"github.com/govnewsbr/pipeline/internal/store/memory"
)

func init() {
	metrics.Init()
}

type stubApp struct {
	store     store.Provider
	projector *index.Projector
}

func (s *stubApp) Close(context.Context) error    { return nil }
func (s *stubApp) Config() config.Config          { return config.Config{} }
func (s *stubApp) Logger() *zap.Logger            { return zap.NewNop() }
func (s *stubApp) Runner() *pipeline.Runner       { return nil }
func (s *stubApp) Migrator() *migrate.Coordinator { return nil }
func (s *stubApp) Store() store.Provider          { return s.store }
func (s *stubApp) Projector() *index.Projector    { return s.projector }

type rejectingEngine struct{}

func (rejectingEngine) EnsureCollection(context.Context) error { return nil }

func (rejectingEngine) Upsert(_ context.Context, docs []index.Document) ([]index.ImportResult, error) {
	results := make([]index.ImportResult, len(docs))
	for i := range docs {
		results[i] = index.ImportResult{Success: false, Error: "document rejected"}
	}
	return results, nil
}

func TestProjectMapsIndexFailuresToPartialFailure(t *testing.T) {
	st := memory.New()
	ts := time.Date(2026, 2, 10, 14, 0, 0, 0, time.UTC)
	require.NoError(t, st.Seed([]news.Record{{
		Agency:      "ibama",
		PublishedAt: &ts,
		Title:       "Operação na Amazônia",
		URL:         "https://www.gov.br/ibama/noticia",
		Content:     "texto",
		ExtractedAt: ts,
	}}))
	proj := index.NewProjector(rejectingEngine{}, 10, retry.Policy{MaxAttempts: 1}, zap.NewNop())

	cmd := newProjectCmd()
	cmd.SetContext(context.WithValue(context.Background(),
		appKey, App(&stubApp{store: st, projector: proj})))

	err := cmd.RunE(cmd, nil)
	require.ErrorIs(t, err, pipeline.ErrPartialFailure)
}
