package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"claridoc/internal/ai"
	"claridoc/internal/model"
	"claridoc/internal/retrieval"
)

// EvidenceRetriever is the retrieval pipeline as the QA service sees it.
type EvidenceRetriever interface {
	Retrieve(ctx context.Context, doc *model.Document, question string) (*retrieval.Result, error)
	RetrieveCapped(ctx context.Context, doc *model.Document, question string, prefilterCap int) (*retrieval.Result, error)
}

// ChatClient generates a completion from a message list.
type ChatClient interface {
	Complete(ctx context.Context, cfg ai.ChatConfig, messages []ai.ChatMessage) (string, error)
}

// SessionStore persists QA sessions.
type SessionStore interface {
	Create(session *model.QASession) error
	GetByIDAndUserID(id, userID uint) (*model.QASession, error)
	ListByUserID(userID uint) ([]model.QASession, error)
}

// MessageStore reads persisted session messages. Writes go through the
// persist queue, not through this interface.
type MessageStore interface {
	ListBySessionID(sessionID uint) ([]model.Message, error)
}

// HistoryStore caches session history in front of the message store.
type HistoryStore interface {
	GetHistory(ctx context.Context, sessionID uint) ([]model.Message, bool, error)
	SetHistory(ctx context.Context, sessionID uint, messages []model.Message) error
	DeleteHistory(ctx context.Context, sessionID uint) error
}

// PersistMessageJob asks the persist worker to write one message row.
type PersistMessageJob struct {
	SessionID uint   `json:"session_id"`
	UserID    uint   `json:"user_id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
}

// QAService answers questions about a single document: it retrieves evidence,
// prompts the LLM with it, tags risky clauses and optionally records the
// exchange in a session.
type QAService struct {
	docs      DocumentStore
	retriever EvidenceRetriever
	llm       ChatClient
	chatCfg   ai.ChatConfig
	sessions  SessionStore
	messages  MessageStore
	history   HistoryStore
	jobs      JobPublisher
	riskRules []RiskRule
	searchCap int
	logger    *zap.Logger
}

func NewQAService(
	docs DocumentStore,
	retriever EvidenceRetriever,
	llm ChatClient,
	chatCfg ai.ChatConfig,
	sessions SessionStore,
	messages MessageStore,
	history HistoryStore,
	jobs JobPublisher,
	riskRules []RiskRule,
	searchCap int,
	logger *zap.Logger,
) *QAService {
	if riskRules == nil {
		riskRules = DefaultRiskRules()
	}
	if searchCap <= 0 {
		searchCap = 150
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QAService{
		docs:      docs,
		retriever: retriever,
		llm:       llm,
		chatCfg:   chatCfg,
		sessions:  sessions,
		messages:  messages,
		history:   history,
		jobs:      jobs,
		riskRules: riskRules,
		searchCap: searchCap,
		logger:    logger,
	}
}

type AskInput struct {
	UserID     uint
	SessionID  uint
	DocumentID uint
	Question   string
	Remember   bool
}

// Citation is one evidence chunk as surfaced to the caller, numbered the same
// way the prompt numbers its context blocks.
type Citation struct {
	ChunkID string  `json:"chunk_id"`
	Index   int     `json:"index"`
	Score   float32 `json:"score"`
	Text    string  `json:"text"`
}

type AskResult struct {
	Answer         string                `json:"answer"`
	Citations      []Citation            `json:"citations"`
	FlaggedClauses []FlaggedClause       `json:"flagged_clauses"`
	FollowUps      []string              `json:"follow_ups"`
	SessionID      uint                  `json:"session_id,omitempty"`
	Meta           retrieval.Diagnostics `json:"meta"`
}

const answerSystemPrompt = `You are a document assistant. Answer strictly from the numbered context passages provided. Cite supporting passages inline as [n]. If the context does not contain the answer, say so plainly instead of guessing.`

// Ask runs the full QA flow. Validation and ownership checks fail fast;
// once retrieval starts, only a missing document body or a failed answer
// completion abort the request.
func (s *QAService) Ask(ctx context.Context, input AskInput) (*AskResult, error) {
	question := strings.TrimSpace(input.Question)
	if input.UserID == 0 || input.DocumentID == 0 || question == "" {
		return nil, ErrInvalidInput
	}

	if input.SessionID != 0 {
		session, err := s.sessions.GetByIDAndUserID(input.SessionID, input.UserID)
		if err != nil {
			return nil, err
		}
		if session == nil {
			return nil, ErrSessionNotFound
		}
	}

	doc, err := s.docs.GetByIDAndUserID(ctx, input.DocumentID, input.UserID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, ErrDocumentNotFound
	}

	res, err := s.retriever.Retrieve(ctx, doc, question)
	if err != nil {
		if errors.Is(err, retrieval.ErrDocumentNotReady) {
			return nil, ErrDocumentNotReady
		}
		return nil, fmt.Errorf("retrieve evidence failed: %w", err)
	}

	answer, err := s.llm.Complete(ctx, s.chatCfg, []ai.ChatMessage{
		{Role: "system", Content: answerSystemPrompt},
		{Role: "user", Content: buildAnswerPrompt(question, res.Evidence)},
	})
	if err != nil {
		s.logger.Error("answer completion failed",
			zap.Uint("document_id", doc.ID), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrAnswerGeneration, err)
	}

	result := &AskResult{
		Answer:         answer,
		Citations:      citationsFrom(res.Evidence),
		FlaggedClauses: FlagClauses(s.riskRules, res.Evidence),
		FollowUps:      s.followUps(ctx, question, answer),
		Meta:           res.Diagnostics,
	}

	if input.Remember {
		result.SessionID = s.remember(ctx, input, question, answer)
	}
	return result, nil
}

type SearchInput struct {
	UserID     uint
	DocumentID uint
	Question   string
	Cap        int
}

// Search exposes the retrieval pipeline without answer generation, with a
// wider prefilter cap than the ask path.
func (s *QAService) Search(ctx context.Context, input SearchInput) (*retrieval.Result, error) {
	question := strings.TrimSpace(input.Question)
	if input.UserID == 0 || input.DocumentID == 0 || question == "" {
		return nil, ErrInvalidInput
	}

	doc, err := s.docs.GetByIDAndUserID(ctx, input.DocumentID, input.UserID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, ErrDocumentNotFound
	}

	limit := input.Cap
	if limit <= 0 || limit > s.searchCap {
		limit = s.searchCap
	}

	res, err := s.retriever.RetrieveCapped(ctx, doc, question, limit)
	if err != nil {
		if errors.Is(err, retrieval.ErrDocumentNotReady) {
			return nil, ErrDocumentNotReady
		}
		return nil, fmt.Errorf("search failed: %w", err)
	}
	return res, nil
}

// History returns a session's messages, cache first.
func (s *QAService) History(ctx context.Context, userID, sessionID uint) ([]model.Message, error) {
	if userID == 0 || sessionID == 0 {
		return nil, ErrInvalidInput
	}

	session, err := s.sessions.GetByIDAndUserID(sessionID, userID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}

	if s.history != nil {
		cached, hit, err := s.history.GetHistory(ctx, sessionID)
		if err != nil {
			s.logger.Warn("history cache read failed",
				zap.Uint("session_id", sessionID), zap.Error(err))
		} else if hit {
			return cached, nil
		}
	}

	messages, err := s.messages.ListBySessionID(sessionID)
	if err != nil {
		return nil, err
	}

	if s.history != nil {
		if err := s.history.SetHistory(ctx, sessionID, messages); err != nil {
			s.logger.Warn("history cache write failed",
				zap.Uint("session_id", sessionID), zap.Error(err))
		}
	}
	return messages, nil
}

func (s *QAService) Sessions(userID uint) ([]model.QASession, error) {
	if userID == 0 {
		return nil, ErrInvalidInput
	}
	return s.sessions.ListByUserID(userID)
}

// remember records the exchange. Everything here is best-effort: a failed
// session create or publish loses the transcript entry, never the answer.
func (s *QAService) remember(ctx context.Context, input AskInput, question, answer string) uint {
	sessionID := input.SessionID
	if sessionID == 0 {
		session := &model.QASession{
			UserID: input.UserID,
			Title:  sessionTitle(question),
		}
		if err := s.sessions.Create(session); err != nil {
			s.logger.Error("create qa session failed",
				zap.Uint("user_id", input.UserID), zap.Error(err))
			return 0
		}
		sessionID = session.ID
	}

	for _, job := range []PersistMessageJob{
		{SessionID: sessionID, UserID: input.UserID, Role: model.MessageRoleQuestion, Content: question},
		{SessionID: sessionID, UserID: input.UserID, Role: model.MessageRoleAnswer, Content: answer},
	} {
		if err := s.jobs.Publish(ctx, job); err != nil {
			s.logger.Error("publish persist message job failed",
				zap.Uint("session_id", sessionID),
				zap.String("role", job.Role),
				zap.Error(err))
		}
	}

	if s.history != nil {
		if err := s.history.DeleteHistory(ctx, sessionID); err != nil {
			s.logger.Warn("invalidate history cache failed",
				zap.Uint("session_id", sessionID), zap.Error(err))
		}
	}
	return sessionID
}

// followUps asks the model for up to three follow-up questions. Failures
// degrade to none.
func (s *QAService) followUps(ctx context.Context, question, answer string) []string {
	prompt := fmt.Sprintf(
		"Based on this question and answer about a document, suggest up to 3 short follow-up questions the user might ask next. One per line, no numbering.\n\nQuestion: %s\n\nAnswer: %s",
		question, answer)

	raw, err := s.llm.Complete(ctx, s.chatCfg, []ai.ChatMessage{
		{Role: "user", Content: prompt},
	})
	if err != nil {
		s.logger.Warn("follow-up generation failed", zap.Error(err))
		return nil
	}
	return parseFollowUps(raw)
}

func parseFollowUps(raw string) []string {
	var out []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-*•0123456789.) ")
		if line == "" {
			continue
		}
		out = append(out, line)
		if len(out) == 3 {
			break
		}
	}
	return out
}

func buildAnswerPrompt(question string, evidence []retrieval.Evidence) string {
	var b strings.Builder
	b.WriteString("Context:\n\n")
	for i, ev := range evidence {
		fmt.Fprintf(&b, "[%d] %s\n\n", i+1, ev.Text)
	}
	b.WriteString("Question: ")
	b.WriteString(question)
	b.WriteString("\n\nAnswer:")
	return b.String()
}

func citationsFrom(evidence []retrieval.Evidence) []Citation {
	citations := make([]Citation, len(evidence))
	for i, ev := range evidence {
		citations[i] = Citation{
			ChunkID: ev.ChunkID,
			Index:   ev.Index,
			Score:   ev.Score,
			Text:    ev.Text,
		}
	}
	return citations
}

func sessionTitle(question string) string {
	const max = 64
	runes := []rune(question)
	if len(runes) <= max {
		return question
	}
	return string(runes[:max-1]) + "…"
}
