package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-chat/internal/core/domain"
	"github.com/custodia-labs/sercha-chat/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-chat/internal/core/ports/driven/mocks"
	"github.com/custodia-labs/sercha-chat/internal/runtime"
)

func newIngest(f *fixture, extractor driven.TextExtractor) *IngestService {
	return NewIngestService(IngestConfig{
		Jobs:         f.jobs,
		Store:        f.index,
		Extractor:    extractor,
		Services:     f.services,
		DefaultIndex: "default",
		MaxSentences: 2,
	})
}

func writeDoc(t *testing.T, text string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "upload.txt")
	require.NoError(t, os.WriteFile(path, []byte(text), 0o644))
	return path
}

func TestIngest_SubmitFillsDefaults(t *testing.T) {
	f := newFixture(t)
	svc := newIngest(f, mocks.NewMockTextExtractor())
	path := writeDoc(t, "One. Two.")

	id, err := svc.Ingest(context.Background(), domain.IngestInput{Path: path})
	require.NoError(t, err)

	job, err := f.jobs.Status(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.JobKindIngest, job.Kind)

	var in domain.IngestInput
	require.NoError(t, job.DecodeInput(&in))
	assert.Equal(t, domain.IngestInput{Path: path, Index: "default", MaxSentences: 2}, in)
}

func TestIngest_SubmitValidation(t *testing.T) {
	f := newFixture(t)
	svc := newIngest(f, mocks.NewMockTextExtractor())
	ctx := context.Background()

	_, err := svc.Ingest(ctx, domain.IngestInput{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = svc.Ingest(ctx, domain.IngestInput{Path: filepath.Join(t.TempDir(), "missing.pdf")})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = svc.Ingest(ctx, domain.IngestInput{Path: t.TempDir()})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = svc.Ingest(ctx, domain.IngestInput{Path: writeDoc(t, "x."), MaxSentences: -1})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	for _, name := range []string{"../x", "a/b", ".."} {
		_, err = svc.Ingest(ctx, domain.IngestInput{Path: writeDoc(t, "x."), Index: name})
		assert.ErrorIs(t, err, domain.ErrInvalidInput, name)
	}

	stats, err := f.jobs.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Pending)
}

func TestIngest_HandleBuildsThenAppends(t *testing.T) {
	f := newFixture(t)
	svc := newIngest(f, mocks.NewMockTextExtractor())
	ctx := context.Background()

	first := writeDoc(t, "One. Two. Three. Four.")
	id, err := svc.Ingest(ctx, domain.IngestInput{Path: first})
	require.NoError(t, err)
	f.run(t, id, svc.HandleIngest)

	result, err := f.jobs.Result(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, `indexed 2 chunks into "default" (version 1)`, result)
	assert.NoFileExists(t, first)

	info := svc.IndexInfo("default")
	require.NotNil(t, info)
	assert.Equal(t, 2, info.Count)

	second := writeDoc(t, "Five. Six. Seven.")
	id, err = svc.Ingest(ctx, domain.IngestInput{Path: second, Append: true})
	require.NoError(t, err)
	f.run(t, id, svc.HandleIngest)

	result, err = f.jobs.Result(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, `indexed 2 chunks into "default" (version 2)`, result)

	info = svc.IndexInfo("default")
	assert.Equal(t, 4, info.Count)
	assert.Equal(t, 2, info.Version)
}

func TestIngest_HandleRemovesFileOnFailure(t *testing.T) {
	f := newFixture(t)
	extractor := mocks.NewMockTextExtractor()
	extractor.ExtractFn = func(ctx context.Context, path string) (string, error) {
		return "", errors.Join(domain.ErrExtractionFailed, errors.New("pdftotext: exit status 1"))
	}
	svc := newIngest(f, extractor)
	ctx := context.Background()

	path := writeDoc(t, "irrelevant")
	id, err := svc.Ingest(ctx, domain.IngestInput{Path: path})
	require.NoError(t, err)
	f.run(t, id, svc.HandleIngest)

	_, err = f.jobs.Result(ctx, id)
	assert.ErrorIs(t, err, domain.ErrJobFailed)
	assert.NoFileExists(t, path)
	assert.Nil(t, svc.IndexInfo("default"), "a failed ingest publishes nothing")
}

func TestIngest_HandleEmptyDocument(t *testing.T) {
	f := newFixture(t)
	svc := newIngest(f, mocks.NewMockTextExtractor())
	job, err := domain.NewJob(domain.JobKindIngest, domain.IngestInput{
		Path: writeDoc(t, "   \n "), Index: "default", MaxSentences: 5,
	})
	require.NoError(t, err)

	_, err = svc.HandleIngest(context.Background(), job)
	assert.ErrorIs(t, err, domain.ErrExtractionFailed)
}

func TestIngest_BuildIndexNeedsEmbedder(t *testing.T) {
	f := newFixture(t)
	svc := NewIngestService(IngestConfig{Jobs: f.jobs, Store: f.index, Services: runtime.NewServices()})

	_, err := svc.BuildIndex(context.Background(), "default", []domain.Chunk{{ID: 0, Text: "x"}}, false)
	assert.ErrorIs(t, err, domain.ErrEmbeddingUnavailable)
}

func TestIngest_BuildIndexReplaces(t *testing.T) {
	f := newFixture(t)
	svc := newIngest(f, nil)
	ctx := context.Background()

	_, err := svc.BuildIndex(ctx, "default", []domain.Chunk{{ID: 0, Text: "a"}, {ID: 1, Text: "b"}}, false)
	require.NoError(t, err)
	info, err := svc.BuildIndex(ctx, "default", []domain.Chunk{{ID: 0, Text: "c"}}, false)
	require.NoError(t, err)

	assert.Equal(t, 2, info.Version)
	assert.Equal(t, 1, info.Count)
}
