package app

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"claridoc/internal/ai"
	"claridoc/internal/model"
	"claridoc/internal/retrieval"
)

type fakeDocStore struct {
	docs      map[uint]*model.Document
	failedMsg map[uint]string
	extracted map[uint]string
}

func newFakeDocStore(docs ...*model.Document) *fakeDocStore {
	s := &fakeDocStore{
		docs:      make(map[uint]*model.Document),
		failedMsg: make(map[uint]string),
		extracted: make(map[uint]string),
	}
	for _, d := range docs {
		s.docs[d.ID] = d
	}
	return s
}

func (s *fakeDocStore) Create(_ context.Context, doc *model.Document) error {
	doc.ID = uint(len(s.docs) + 1)
	s.docs[doc.ID] = doc
	return nil
}

func (s *fakeDocStore) GetByID(_ context.Context, id uint) (*model.Document, error) {
	return s.docs[id], nil
}

func (s *fakeDocStore) GetByIDAndUserID(_ context.Context, id, userID uint) (*model.Document, error) {
	doc := s.docs[id]
	if doc == nil || doc.UserID != userID {
		return nil, nil
	}
	return doc, nil
}

func (s *fakeDocStore) ListByUserID(_ context.Context, userID uint) ([]model.Document, error) {
	var out []model.Document
	for _, d := range s.docs {
		if d.UserID == userID {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (s *fakeDocStore) SetExtracted(_ context.Context, id uint, text string) error {
	s.extracted[id] = text
	if d := s.docs[id]; d != nil {
		d.ExtractedText = text
		d.Status = model.DocumentStatusReady
	}
	return nil
}

func (s *fakeDocStore) SetFailed(_ context.Context, id uint, reason string) error {
	s.failedMsg[id] = reason
	if d := s.docs[id]; d != nil {
		d.Status = model.DocumentStatusFailed
	}
	return nil
}

func (s *fakeDocStore) DeleteByIDAndUserID(_ context.Context, id, userID uint) error {
	delete(s.docs, id)
	return nil
}

type fakeRetriever struct {
	result  *retrieval.Result
	err     error
	lastCap int
}

func (r *fakeRetriever) Retrieve(_ context.Context, _ *model.Document, _ string) (*retrieval.Result, error) {
	return r.result, r.err
}

func (r *fakeRetriever) RetrieveCapped(_ context.Context, _ *model.Document, _ string, prefilterCap int) (*retrieval.Result, error) {
	r.lastCap = prefilterCap
	return r.result, r.err
}

type fakeChat struct {
	replies []string
	errs    []error
	calls   [][]ai.ChatMessage
}

func (c *fakeChat) Complete(_ context.Context, _ ai.ChatConfig, messages []ai.ChatMessage) (string, error) {
	i := len(c.calls)
	c.calls = append(c.calls, messages)
	var err error
	if i < len(c.errs) {
		err = c.errs[i]
	}
	reply := ""
	if i < len(c.replies) {
		reply = c.replies[i]
	}
	return reply, err
}

type fakeSessionStore struct {
	sessions  map[uint]*model.QASession
	createErr error
}

func newFakeSessionStore(sessions ...*model.QASession) *fakeSessionStore {
	s := &fakeSessionStore{sessions: make(map[uint]*model.QASession)}
	for _, ss := range sessions {
		s.sessions[ss.ID] = ss
	}
	return s
}

func (s *fakeSessionStore) Create(session *model.QASession) error {
	if s.createErr != nil {
		return s.createErr
	}
	session.ID = uint(len(s.sessions) + 100)
	s.sessions[session.ID] = session
	return nil
}

func (s *fakeSessionStore) GetByIDAndUserID(id, userID uint) (*model.QASession, error) {
	session := s.sessions[id]
	if session == nil || session.UserID != userID {
		return nil, nil
	}
	return session, nil
}

func (s *fakeSessionStore) ListByUserID(userID uint) ([]model.QASession, error) {
	var out []model.QASession
	for _, ss := range s.sessions {
		if ss.UserID == userID {
			out = append(out, *ss)
		}
	}
	return out, nil
}

type fakeMessageStore struct {
	bySession map[uint][]model.Message
}

func (s *fakeMessageStore) ListBySessionID(sessionID uint) ([]model.Message, error) {
	return s.bySession[sessionID], nil
}

type fakeHistoryStore struct {
	cached  map[uint][]model.Message
	getErr  error
	deleted []uint
	sets    int
}

func newFakeHistoryStore() *fakeHistoryStore {
	return &fakeHistoryStore{cached: make(map[uint][]model.Message)}
}

func (s *fakeHistoryStore) GetHistory(_ context.Context, sessionID uint) ([]model.Message, bool, error) {
	if s.getErr != nil {
		return nil, false, s.getErr
	}
	msgs, ok := s.cached[sessionID]
	return msgs, ok, nil
}

func (s *fakeHistoryStore) SetHistory(_ context.Context, sessionID uint, messages []model.Message) error {
	s.sets++
	s.cached[sessionID] = messages
	return nil
}

func (s *fakeHistoryStore) DeleteHistory(_ context.Context, sessionID uint) error {
	s.deleted = append(s.deleted, sessionID)
	delete(s.cached, sessionID)
	return nil
}

type fakePublisher struct {
	published []interface{}
	err       error
}

func (p *fakePublisher) Publish(_ context.Context, payload interface{}) error {
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, payload)
	return nil
}

func readyDoc() *model.Document {
	return &model.Document{
		ID:     1,
		UserID: 7,
		Status: model.DocumentStatusReady,
	}
}

func evidenceResult() *retrieval.Result {
	return &retrieval.Result{
		Evidence: []retrieval.Evidence{
			{ChunkID: "11", Index: 0, Text: "Either party may terminate with notice.", Score: 0.91},
			{ChunkID: "12", Index: 3, Text: "Payment is due within thirty days.", Score: 0.62},
		},
		Diagnostics: retrieval.Diagnostics{CandidateCount: 5, K: 2, MaxScore: 0.91},
	}
}

func newQAService(docs *fakeDocStore, retriever *fakeRetriever, chat *fakeChat,
	sessions *fakeSessionStore, history *fakeHistoryStore, jobs *fakePublisher) *QAService {
	return NewQAService(
		docs, retriever, chat, ai.ChatConfig{Model: "test"},
		sessions, &fakeMessageStore{bySession: map[uint][]model.Message{}},
		history, jobs, nil, 150, nil,
	)
}

func TestAskReturnsAnswerCitationsAndFlags(t *testing.T) {
	docs := newFakeDocStore(readyDoc())
	retriever := &fakeRetriever{result: evidenceResult()}
	chat := &fakeChat{replies: []string{
		"You may terminate with notice [1].",
		"What is the notice period?\nAre there penalties?",
	}}
	svc := newQAService(docs, retriever, chat, newFakeSessionStore(), newFakeHistoryStore(), &fakePublisher{})

	res, err := svc.Ask(context.Background(), AskInput{UserID: 7, DocumentID: 1, Question: "Can I terminate?"})
	require.NoError(t, err)

	assert.Equal(t, "You may terminate with notice [1].", res.Answer)

	require.Len(t, res.Citations, 2)
	assert.Equal(t, "11", res.Citations[0].ChunkID)
	assert.Equal(t, float32(0.91), res.Citations[0].Score)

	require.Len(t, res.FlaggedClauses, 1)
	assert.Equal(t, RiskHigh, res.FlaggedClauses[0].Level)

	assert.Equal(t, []string{"What is the notice period?", "Are there penalties?"}, res.FollowUps)
	assert.Equal(t, 2, res.Meta.K)
	assert.Zero(t, res.SessionID)

	// Answer prompt numbers the evidence the same way the citations do.
	require.Len(t, chat.calls, 2)
	userMsg := chat.calls[0][1].Content
	assert.Contains(t, userMsg, "[1] Either party may terminate")
	assert.Contains(t, userMsg, "[2] Payment is due")
}

func TestAskValidation(t *testing.T) {
	svc := newQAService(newFakeDocStore(), &fakeRetriever{}, &fakeChat{},
		newFakeSessionStore(), newFakeHistoryStore(), &fakePublisher{})

	_, err := svc.Ask(context.Background(), AskInput{UserID: 0, DocumentID: 1, Question: "q"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.Ask(context.Background(), AskInput{UserID: 7, DocumentID: 1, Question: "   "})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.Ask(context.Background(), AskInput{UserID: 7, DocumentID: 0, Question: "q"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestAskUnknownDocument(t *testing.T) {
	svc := newQAService(newFakeDocStore(readyDoc()), &fakeRetriever{result: evidenceResult()},
		&fakeChat{}, newFakeSessionStore(), newFakeHistoryStore(), &fakePublisher{})

	// Wrong owner looks identical to a missing document.
	_, err := svc.Ask(context.Background(), AskInput{UserID: 8, DocumentID: 1, Question: "q"})
	assert.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestAskForeignSessionRejected(t *testing.T) {
	sessions := newFakeSessionStore(&model.QASession{ID: 5, UserID: 99})
	svc := newQAService(newFakeDocStore(readyDoc()), &fakeRetriever{result: evidenceResult()},
		&fakeChat{}, sessions, newFakeHistoryStore(), &fakePublisher{})

	_, err := svc.Ask(context.Background(), AskInput{UserID: 7, SessionID: 5, DocumentID: 1, Question: "q"})
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestAskDocumentNotReady(t *testing.T) {
	svc := newQAService(newFakeDocStore(readyDoc()),
		&fakeRetriever{err: retrieval.ErrDocumentNotReady},
		&fakeChat{}, newFakeSessionStore(), newFakeHistoryStore(), &fakePublisher{})

	_, err := svc.Ask(context.Background(), AskInput{UserID: 7, DocumentID: 1, Question: "q"})
	assert.ErrorIs(t, err, ErrDocumentNotReady)
}

func TestAskAnswerFailureSurfaced(t *testing.T) {
	chat := &fakeChat{errs: []error{errors.New("llm down")}}
	svc := newQAService(newFakeDocStore(readyDoc()), &fakeRetriever{result: evidenceResult()},
		chat, newFakeSessionStore(), newFakeHistoryStore(), &fakePublisher{})

	_, err := svc.Ask(context.Background(), AskInput{UserID: 7, DocumentID: 1, Question: "q"})
	assert.ErrorIs(t, err, ErrAnswerGeneration)
}

func TestAskFollowUpFailureDegrades(t *testing.T) {
	chat := &fakeChat{
		replies: []string{"answer", ""},
		errs:    []error{nil, errors.New("llm down")},
	}
	svc := newQAService(newFakeDocStore(readyDoc()), &fakeRetriever{result: evidenceResult()},
		chat, newFakeSessionStore(), newFakeHistoryStore(), &fakePublisher{})

	res, err := svc.Ask(context.Background(), AskInput{UserID: 7, DocumentID: 1, Question: "q"})
	require.NoError(t, err)
	assert.Equal(t, "answer", res.Answer)
	assert.Empty(t, res.FollowUps)
}

func TestAskRememberCreatesSessionAndQueuesMessages(t *testing.T) {
	sessions := newFakeSessionStore()
	history := newFakeHistoryStore()
	jobs := &fakePublisher{}
	chat := &fakeChat{replies: []string{"answer", ""}}
	svc := newQAService(newFakeDocStore(readyDoc()), &fakeRetriever{result: evidenceResult()},
		chat, sessions, history, jobs)

	res, err := svc.Ask(context.Background(), AskInput{
		UserID: 7, DocumentID: 1, Question: "Can I terminate?", Remember: true,
	})
	require.NoError(t, err)
	require.NotZero(t, res.SessionID)

	session := sessions.sessions[res.SessionID]
	require.NotNil(t, session)
	assert.Equal(t, uint(7), session.UserID)
	assert.Equal(t, "Can I terminate?", session.Title)

	require.Len(t, jobs.published, 2)
	q := jobs.published[0].(PersistMessageJob)
	a := jobs.published[1].(PersistMessageJob)
	assert.Equal(t, model.MessageRoleQuestion, q.Role)
	assert.Equal(t, "Can I terminate?", q.Content)
	assert.Equal(t, model.MessageRoleAnswer, a.Role)
	assert.Equal(t, "answer", a.Content)
	assert.Equal(t, res.SessionID, q.SessionID)
	assert.Equal(t, uint(7), q.UserID)

	assert.Equal(t, []uint{res.SessionID}, history.deleted)
}

func TestAskRememberReusesSession(t *testing.T) {
	sessions := newFakeSessionStore(&model.QASession{ID: 5, UserID: 7})
	jobs := &fakePublisher{}
	chat := &fakeChat{replies: []string{"answer", ""}}
	svc := newQAService(newFakeDocStore(readyDoc()), &fakeRetriever{result: evidenceResult()},
		chat, sessions, newFakeHistoryStore(), jobs)

	res, err := svc.Ask(context.Background(), AskInput{
		UserID: 7, SessionID: 5, DocumentID: 1, Question: "q", Remember: true,
	})
	require.NoError(t, err)
	assert.Equal(t, uint(5), res.SessionID)
	assert.Len(t, sessions.sessions, 1)
}

func TestAskRememberPublishFailureDoesNotFailAnswer(t *testing.T) {
	jobs := &fakePublisher{err: errors.New("broker down")}
	chat := &fakeChat{replies: []string{"answer", ""}}
	svc := newQAService(newFakeDocStore(readyDoc()), &fakeRetriever{result: evidenceResult()},
		chat, newFakeSessionStore(), newFakeHistoryStore(), jobs)

	res, err := svc.Ask(context.Background(), AskInput{
		UserID: 7, DocumentID: 1, Question: "q", Remember: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "answer", res.Answer)
}

func TestSearchUsesWiderCap(t *testing.T) {
	retriever := &fakeRetriever{result: evidenceResult()}
	svc := newQAService(newFakeDocStore(readyDoc()), retriever, &fakeChat{},
		newFakeSessionStore(), newFakeHistoryStore(), &fakePublisher{})

	res, err := svc.Search(context.Background(), SearchInput{UserID: 7, DocumentID: 1, Question: "terminate"})
	require.NoError(t, err)
	assert.Len(t, res.Evidence, 2)
	assert.Equal(t, 150, retriever.lastCap)
}

func TestSearchCapClamped(t *testing.T) {
	retriever := &fakeRetriever{result: evidenceResult()}
	svc := newQAService(newFakeDocStore(readyDoc()), retriever, &fakeChat{},
		newFakeSessionStore(), newFakeHistoryStore(), &fakePublisher{})

	_, err := svc.Search(context.Background(), SearchInput{UserID: 7, DocumentID: 1, Question: "q", Cap: 9999})
	require.NoError(t, err)
	assert.Equal(t, 150, retriever.lastCap)

	_, err = svc.Search(context.Background(), SearchInput{UserID: 7, DocumentID: 1, Question: "q", Cap: 20})
	require.NoError(t, err)
	assert.Equal(t, 20, retriever.lastCap)
}

func TestHistoryCacheHit(t *testing.T) {
	sessions := newFakeSessionStore(&model.QASession{ID: 5, UserID: 7})
	history := newFakeHistoryStore()
	history.cached[5] = []model.Message{{ID: 1, SessionID: 5, Role: model.MessageRoleQuestion, Content: "q"}}
	svc := newQAService(newFakeDocStore(), &fakeRetriever{}, &fakeChat{}, sessions, history, &fakePublisher{})

	msgs, err := svc.History(context.Background(), 7, 5)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "q", msgs[0].Content)
	assert.Zero(t, history.sets)
}

func TestHistoryMissFallsThroughAndRecaches(t *testing.T) {
	sessions := newFakeSessionStore(&model.QASession{ID: 5, UserID: 7})
	history := newFakeHistoryStore()
	stored := []model.Message{
		{ID: 1, SessionID: 5, Role: model.MessageRoleQuestion, Content: "q"},
		{ID: 2, SessionID: 5, Role: model.MessageRoleAnswer, Content: "a"},
	}
	svc := NewQAService(
		newFakeDocStore(), &fakeRetriever{}, &fakeChat{}, ai.ChatConfig{},
		sessions, &fakeMessageStore{bySession: map[uint][]model.Message{5: stored}},
		history, &fakePublisher{}, nil, 150, nil,
	)

	msgs, err := svc.History(context.Background(), 7, 5)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
	assert.Equal(t, 1, history.sets)
}

func TestHistoryCacheErrorDegradesToStore(t *testing.T) {
	sessions := newFakeSessionStore(&model.QASession{ID: 5, UserID: 7})
	history := newFakeHistoryStore()
	history.getErr = errors.New("redis down")
	stored := []model.Message{{ID: 1, SessionID: 5, Content: "q"}}
	svc := NewQAService(
		newFakeDocStore(), &fakeRetriever{}, &fakeChat{}, ai.ChatConfig{},
		sessions, &fakeMessageStore{bySession: map[uint][]model.Message{5: stored}},
		history, &fakePublisher{}, nil, 150, nil,
	)

	msgs, err := svc.History(context.Background(), 7, 5)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestHistoryForeignSession(t *testing.T) {
	sessions := newFakeSessionStore(&model.QASession{ID: 5, UserID: 99})
	svc := newQAService(newFakeDocStore(), &fakeRetriever{}, &fakeChat{},
		sessions, newFakeHistoryStore(), &fakePublisher{})

	_, err := svc.History(context.Background(), 7, 5)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestParseFollowUpsStripsBullets(t *testing.T) {
	raw := "1. What is the notice period?\n- Are there penalties?\n\n• Who signs?\nExtra question beyond the cap?"
	got := parseFollowUps(raw)
	assert.Equal(t, []string{
		"What is the notice period?",
		"Are there penalties?",
		"Who signs?",
	}, got)
}
