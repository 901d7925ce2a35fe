package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-chat/internal/conversation"
	"github.com/custodia-labs/sercha-chat/internal/core/domain"
	"github.com/custodia-labs/sercha-chat/internal/runtime"
)

func newChat(f *fixture, capacity int) *ChatService {
	return NewChatService(ChatConfig{
		Memory:    conversation.NewMemory(capacity),
		Retriever: NewRetriever(f.index, f.services, "default"),
		Jobs:      f.jobs,
		Services:  f.services,
	})
}

func TestChat_AskValidation(t *testing.T) {
	f := newFixture(t)
	f.seedIndex(t, "a")
	chat := newChat(f, 10)

	_, err := chat.Ask(context.Background(), " \n\t")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Empty(t, chat.History())
}

func TestChat_AskWithoutIndexLeavesMemoryAlone(t *testing.T) {
	f := newFixture(t)
	chat := newChat(f, 10)

	_, err := chat.Ask(context.Background(), "hello?")
	assert.ErrorIs(t, err, domain.ErrRetrieverUnavailable)
	assert.Empty(t, chat.History())

	stats, err := f.jobs.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Pending)
}

func TestChat_AskSubmitsGenerate(t *testing.T) {
	f := newFixture(t)
	f.seedIndex(t, "one", "two", "three", "four")
	chat := newChat(f, 10)
	ctx := context.Background()

	id, err := chat.Ask(ctx, "  two  ")
	require.NoError(t, err)

	require.Len(t, chat.History(), 1)
	assert.Equal(t, domain.Turn{Role: domain.RoleUser, Text: "two"}, chat.History()[0])

	job, err := f.jobs.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.JobKindGenerate, job.Kind)

	var in domain.GenerateInput
	require.NoError(t, job.DecodeInput(&in))
	assert.Equal(t, "two", in.Question)
	assert.Equal(t, "User: two", in.Context, "context includes the new user turn")
	require.Len(t, in.Documents, DefaultTopK)
	assert.Equal(t, "two", in.Documents[0])
}

func TestChat_HandleGenerateAppendsAnswer(t *testing.T) {
	f := newFixture(t)
	f.seedIndex(t, "the sky is blue")
	chat := newChat(f, 10)
	ctx := context.Background()

	f.gen.GenerateFn = func(ctx context.Context, question, history string, documents []string) (string, error) {
		assert.Equal(t, "User: what colour is the sky?", history)
		assert.Equal(t, []string{"the sky is blue"}, documents)
		return "  Blue.\n", nil
	}

	id, err := chat.Ask(ctx, "what colour is the sky?")
	require.NoError(t, err)
	f.run(t, id, chat.HandleGenerate)
	assert.Len(t, chat.History(), 1, "the answer waits for settlement")

	require.NoError(t, chat.SettlePending(ctx))
	answer, err := f.jobs.Result(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Blue.", answer)
	assert.Equal(t, "User: what colour is the sky?\nAssistant: Blue.", chat.Context())
	assert.Zero(t, chat.Pending())

	// settling or reading again does not touch memory
	require.NoError(t, chat.SettlePending(ctx))
	job, err := f.jobs.Status(ctx, id)
	require.NoError(t, err)
	assert.False(t, chat.Settle(job))
	_, _ = f.jobs.Result(ctx, id)
	assert.Len(t, chat.History(), 2)
}

func TestChat_SettleOnlyOwnFinishedJobs(t *testing.T) {
	f := newFixture(t)
	f.seedIndex(t, "doc")
	chat := newChat(f, 10)
	ctx := context.Background()

	id, err := chat.Ask(ctx, "question")
	require.NoError(t, err)

	job, err := f.jobs.Status(ctx, id)
	require.NoError(t, err)
	assert.False(t, chat.Settle(job), "PENDING jobs do not settle")
	assert.Equal(t, 1, chat.Pending())

	foreign := job.Clone()
	foreign.ID = "submitted-elsewhere"
	foreign.State = domain.JobStateSucceeded
	foreign.Result = "not ours"
	assert.False(t, chat.Settle(foreign))

	f.run(t, id, func(context.Context, *domain.Job) (string, error) { return "ours", nil })
	job, err = f.jobs.Status(ctx, id)
	require.NoError(t, err)
	assert.True(t, chat.Settle(job))
	assert.False(t, chat.Settle(job), "a job settles once")

	turns := chat.History()
	require.Len(t, turns, 2)
	assert.Equal(t, domain.Turn{Role: domain.RoleAssistant, Text: "ours"}, turns[1])
}

func TestChat_AskSettlesEarlierAnswers(t *testing.T) {
	f := newFixture(t)
	f.seedIndex(t, "doc")
	chat := newChat(f, 10)
	ctx := context.Background()

	first, err := chat.Ask(ctx, "one")
	require.NoError(t, err)
	f.run(t, first, func(context.Context, *domain.Job) (string, error) { return "answer one", nil })

	second, err := chat.Ask(ctx, "two")
	require.NoError(t, err)

	job, err := f.jobs.Status(ctx, second)
	require.NoError(t, err)
	var in domain.GenerateInput
	require.NoError(t, job.DecodeInput(&in))
	assert.Equal(t, "User: one\nAssistant: answer one\nUser: two", in.Context)
}

func TestChat_WatchSettlesInBackground(t *testing.T) {
	f := newFixture(t)
	f.seedIndex(t, "doc")
	chat := newChat(f, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	id, err := chat.Ask(ctx, "question")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		chat.Watch(ctx, 5*time.Millisecond)
	}()

	f.run(t, id, func(context.Context, *domain.Job) (string, error) { return "later", nil })
	assert.Eventually(t, func() bool { return len(chat.History()) == 2 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestChat_FailedGenerationDoesNotTouchMemory(t *testing.T) {
	f := newFixture(t)
	f.seedIndex(t, "doc")
	chat := newChat(f, 10)
	ctx := context.Background()

	f.gen.GenerateFn = func(context.Context, string, string, []string) (string, error) {
		return "", errors.New("upstream exploded")
	}

	id, err := chat.Ask(ctx, "question")
	require.NoError(t, err)
	f.run(t, id, chat.HandleGenerate)
	require.NoError(t, chat.SettlePending(ctx))

	_, err = f.jobs.Result(ctx, id)
	assert.ErrorIs(t, err, domain.ErrJobFailed)
	assert.Equal(t, []domain.Turn{{Role: domain.RoleUser, Text: "question"}}, chat.History())
	assert.Zero(t, chat.Pending())
}

func TestChat_NoGeneratorConfigured(t *testing.T) {
	f := newFixture(t)
	f.seedIndex(t, "doc")
	services := runtime.NewServices()
	services.SetEmbeddingService(f.embedder)
	chat := NewChatService(ChatConfig{
		Memory:    conversation.NewMemory(10),
		Retriever: NewRetriever(f.index, services, "default"),
		Jobs:      f.jobs,
		Services:  services,
	})

	id, err := chat.Ask(context.Background(), "question")
	require.NoError(t, err)
	f.run(t, id, chat.HandleGenerate)

	job, err := f.jobs.Status(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateFailed, job.State)
	assert.True(t, strings.HasPrefix(job.Error, domain.ErrGenerationUnavailable.Error()))
}

func TestChat_MemoryWindowSlides(t *testing.T) {
	f := newFixture(t)
	f.seedIndex(t, "doc")
	chat := newChat(f, 3)
	ctx := context.Background()

	for _, q := range []string{"q1", "q2"} {
		id, err := chat.Ask(ctx, q)
		require.NoError(t, err)
		f.run(t, id, chat.HandleGenerate)
	}
	require.NoError(t, chat.SettlePending(ctx))

	turns := chat.History()
	require.Len(t, turns, 3)
	assert.Equal(t, domain.RoleAssistant, turns[0].Role, "the oldest user turn was evicted")
	assert.Equal(t, "q2", turns[1].Text)
}
