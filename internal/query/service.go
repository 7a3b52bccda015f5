package query

import (
	"context"
	"fmt"
	"strings"

	"edgeflow/internal/llm"
	"edgeflow/internal/rag"
	"edgeflow/internal/store"
	"edgeflow/logger"
	"edgeflow/models"
)

// Reader is the store surface the query layer needs.
type Reader interface {
	GetMarket(ctx context.Context, id uint) (*models.Market, error)
	ListMarkets(ctx context.Context, f store.MarketFilters) ([]models.Market, error)
	ListEdges(ctx context.Context, f store.EdgeFilters) ([]models.Edge, error)
	GetUserByIdentity(ctx context.Context, identity string) (*models.User, error)
	UpdateAlertPreferences(ctx context.Context, identity string, patch store.AlertPreferencePatch) (*models.User, error)
}

// Retriever returns the stored chunks most similar to a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]rag.ScoredChunk, error)
}

// Service is the read surface for downstream consumers: market and edge
// lookups, alert preference management, semantic news retrieval, and
// LLM-backed answers grounded on retrieved context.
type Service struct {
	store     Reader
	retriever Retriever
	provider  llm.Provider
	log       *logger.Log
}

func NewService(reader Reader, retriever Retriever, provider llm.Provider) *Service {
	return &Service{
		store:     reader,
		retriever: retriever,
		provider:  provider,
		log:       logger.GetLogger(),
	}
}

func (s *Service) GetMarket(ctx context.Context, id uint) (*models.Market, error) {
	return s.store.GetMarket(ctx, id)
}

func (s *Service) ListMarkets(ctx context.Context, f store.MarketFilters) ([]models.Market, error) {
	return s.store.ListMarkets(ctx, f)
}

func (s *Service) ListEdges(ctx context.Context, f store.EdgeFilters) ([]models.Edge, error) {
	return s.store.ListEdges(ctx, f)
}

func (s *Service) GetAlertPreferences(ctx context.Context, identity string) (*models.User, error) {
	return s.store.GetUserByIdentity(ctx, identity)
}

func (s *Service) UpdateAlertPreferences(ctx context.Context, identity string, patch store.AlertPreferencePatch) (*models.User, error) {
	return s.store.UpdateAlertPreferences(ctx, identity, patch)
}

func (s *Service) Retrieve(ctx context.Context, query string, k int) ([]rag.ScoredChunk, error) {
	return s.retriever.Retrieve(ctx, query, k)
}

const answerContextSize = 5

// Answer retrieves the most relevant news chunks for the question and
// asks the configured LLM for a grounded answer.
func (s *Service) Answer(ctx context.Context, question string) (string, error) {
	prompt, err := s.buildPrompt(ctx, question)
	if err != nil {
		return "", err
	}
	return s.provider.Complete(ctx, prompt)
}

// StreamAnswer is Answer with the response delivered as text fragments.
func (s *Service) StreamAnswer(ctx context.Context, question string) (<-chan string, error) {
	prompt, err := s.buildPrompt(ctx, question)
	if err != nil {
		return nil, err
	}
	return s.provider.Stream(ctx, prompt)
}

func (s *Service) buildPrompt(ctx context.Context, question string) (string, error) {
	if s.provider == nil {
		return "", fmt.Errorf("no llm provider configured")
	}
	chunks, err := s.retriever.Retrieve(ctx, question, answerContextSize)
	if err != nil {
		return "", fmt.Errorf("retrieve context: %w", err)
	}

	var b strings.Builder
	b.WriteString("You are an assistant for a prediction-market monitoring system. ")
	b.WriteString("Answer the question using the news excerpts below. ")
	b.WriteString("If they do not contain the answer, say so.\n\n")
	for i, sc := range chunks {
		fmt.Fprintf(&b, "Excerpt %d (%s):\n%s\n\n", i+1, sc.Chunk.SourceURL, sc.Chunk.Content)
	}
	b.WriteString("Question: ")
	b.WriteString(question)
	return b.String(), nil
}
