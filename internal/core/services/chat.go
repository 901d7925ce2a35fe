package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/custodia-labs/sercha-chat/internal/conversation"
	"github.com/custodia-labs/sercha-chat/internal/core/domain"
	"github.com/custodia-labs/sercha-chat/internal/core/ports/driving"
	"github.com/custodia-labs/sercha-chat/internal/runtime"
)

// Ensure ChatService implements driving.ChatService
var _ driving.ChatService = (*ChatService)(nil)

// DefaultTopK is how many documents a question retrieves.
const DefaultTopK = 3

// ChatService runs the query flow and executes GENERATE jobs.
//
// The assistant turn of a question is appended when its job is settled:
// after the SUCCEEDED state is durable, by whichever process ran it.
type ChatService struct {
	memory    *conversation.Memory
	retriever driving.RetrievalService
	jobs      driving.JobService
	services  *runtime.Services
	topK      int
	logger    *slog.Logger

	// pending holds the GENERATE jobs submitted by Ask and not yet settled
	pendingMu sync.Mutex
	pending   map[string]struct{}
}

// ChatConfig holds the collaborators of a ChatService
type ChatConfig struct {
	Memory    *conversation.Memory
	Retriever driving.RetrievalService
	Jobs      driving.JobService
	Services  *runtime.Services
	TopK      int
	Logger    *slog.Logger
}

// NewChatService creates the chat service
func NewChatService(cfg ChatConfig) *ChatService {
	topK := cfg.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatService{
		memory:    cfg.Memory,
		retriever: cfg.Retriever,
		jobs:      cfg.Jobs,
		services:  cfg.Services,
		topK:      topK,
		logger:    logger,
		pending:   make(map[string]struct{}),
	}
}

// Ask retrieves first so that a retrieval failure leaves memory untouched,
// then records the user turn and submits GENERATE with the updated context.
// Answers that finished since the last question are settled first so the
// context includes them.
func (s *ChatService) Ask(ctx context.Context, question string) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", fmt.Errorf("%w: question is empty", domain.ErrInvalidInput)
	}

	documents, err := s.retriever.GetTopK(ctx, question, s.topK)
	if err != nil {
		return "", err
	}

	if err := s.SettlePending(ctx); err != nil {
		s.logger.Warn("failed to settle earlier answers", "error", err)
	}
	s.memory.AppendUser(question)

	// the id is tracked before a completion hook can see it
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()

	id, err := s.jobs.Submit(ctx, domain.JobKindGenerate, domain.GenerateInput{
		Question:  question,
		Context:   s.memory.Context(),
		Documents: documents,
	})
	if err != nil {
		return "", err
	}
	s.pending[id] = struct{}{}
	return id, nil
}

// Settle appends the answer of a finished GENERATE job submitted by this
// service. A job settles once; a FAILED job settles without touching
// memory. Reports whether an assistant turn was appended.
func (s *ChatService) Settle(job *domain.Job) bool {
	if job == nil || job.Kind != domain.JobKindGenerate || !job.State.IsTerminal() {
		return false
	}

	s.pendingMu.Lock()
	_, ok := s.pending[job.ID]
	delete(s.pending, job.ID)
	s.pendingMu.Unlock()

	if !ok || job.State != domain.JobStateSucceeded {
		return false
	}
	s.memory.AppendAssistant(job.Result)
	s.logger.Debug("answer settled", "job_id", job.ID)
	return true
}

// SettlePending reads every unsettled job and settles the finished ones.
// This is how answers produced by workers in other processes reach memory.
func (s *ChatService) SettlePending(ctx context.Context) error {
	s.pendingMu.Lock()
	ids := make([]string, 0, len(s.pending))
	for id := range s.pending {
		ids = append(ids, id)
	}
	s.pendingMu.Unlock()

	var errs []error
	for _, id := range ids {
		job, err := s.jobs.Status(ctx, id)
		if errors.Is(err, domain.ErrUnknownJob) {
			s.pendingMu.Lock()
			delete(s.pending, id)
			s.pendingMu.Unlock()
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		s.Settle(job)
	}
	return errors.Join(errs...)
}

// Pending returns how many submitted questions still await settlement.
func (s *ChatService) Pending() int {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	return len(s.pending)
}

// Watch runs SettlePending every interval until ctx is done.
func (s *ChatService) Watch(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := s.SettlePending(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn("failed to settle answers", "error", err)
		}
	}
}

// History returns the conversation window, oldest first.
func (s *ChatService) History() []domain.Turn {
	return s.memory.Turns()
}

// Context renders the conversation window.
func (s *ChatService) Context() string {
	return s.memory.Context()
}

// HandleGenerate executes a GENERATE job and returns the trimmed answer.
// Memory is left to Settle.
func (s *ChatService) HandleGenerate(ctx context.Context, job *domain.Job) (string, error) {
	var in domain.GenerateInput
	if err := job.DecodeInput(&in); err != nil {
		return "", err
	}

	gen := s.services.TextGenerator()
	if gen == nil {
		return "", fmt.Errorf("%w: no text generator configured", domain.ErrGenerationUnavailable)
	}

	answer, err := gen.Generate(ctx, in.Question, in.Context, in.Documents)
	if err != nil {
		return "", err
	}
	answer = strings.TrimSpace(answer)

	s.logger.Debug("answer generated", "job_id", job.ID, "model", gen.Model(), "documents", len(in.Documents))
	return answer, nil
}
