package kakao

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/moamoa/allowancebot/internal/auth"
	"github.com/moamoa/allowancebot/internal/chatlog"
	"github.com/moamoa/allowancebot/internal/llm"
	"github.com/moamoa/allowancebot/internal/metrics"
	"github.com/moamoa/allowancebot/internal/models"
	"github.com/moamoa/allowancebot/internal/repository"
	"github.com/moamoa/allowancebot/internal/service"
)

// In-memory repository fakes backing a real *service.Service for router
// tests. They mirror the postgres implementations' observable behavior:
// nil-without-error on missing rows and the sync token as the
// linearization point. The router runs deferred tasks on goroutines, so
// every fake is mutex-guarded.

type stubUserRepo struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]*models.User
}

func newStubUserRepo() *stubUserRepo {
	return &stubUserRepo{nextID: 1, byID: make(map[int64]*models.User)}
}

func (r *stubUserRepo) Create(_ context.Context, u *models.User) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *u
	cp.ID = r.nextID
	r.nextID++
	r.byID[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (r *stubUserRepo) GetByID(_ context.Context, id int64) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (r *stubUserRepo) GetByUsername(_ context.Context, username string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.byID {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *stubUserRepo) Update(_ context.Context, u *models.User) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[u.ID]; !ok {
		return nil, errors.New("user not found")
	}
	cp := *u
	r.byID[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (r *stubUserRepo) SetParent(_ context.Context, childID, parentID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[childID]
	if !ok {
		return errors.New("user not found")
	}
	u.ParentID = &parentID
	return nil
}

func (r *stubUserRepo) SetTotal(_ context.Context, id, total int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return errors.New("user not found")
	}
	u.Total = total
	return nil
}

type stubConversationRepo struct {
	mu           sync.Mutex
	nextConvID   int64
	nextMemberID int64
	convs        map[int64]*models.Conversation
	members      []*models.Member
}

func newStubConversationRepo() *stubConversationRepo {
	return &stubConversationRepo{nextConvID: 1, nextMemberID: 1, convs: make(map[int64]*models.Conversation)}
}

func (r *stubConversationRepo) Create(_ context.Context, conv *models.Conversation) (*models.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *conv
	cp.ID = r.nextConvID
	r.nextConvID++
	r.convs[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (r *stubConversationRepo) GetByID(_ context.Context, id int64) (*models.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.convs[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (r *stubConversationRepo) GetByChatID(_ context.Context, chatID string) (*models.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.convs {
		if c.ChatID == chatID {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *stubConversationRepo) AddMember(_ context.Context, m *models.Member) (*models.Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.members {
		if existing.ConversationID == m.ConversationID && existing.UserKey == m.UserKey {
			cp := *existing
			return &cp, nil
		}
	}
	cp := *m
	cp.ID = r.nextMemberID
	r.nextMemberID++
	r.members = append(r.members, &cp)
	out := cp
	return &out, nil
}

func (r *stubConversationRepo) GetMember(_ context.Context, conversationID int64, userKey string) (*models.Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.members {
		if m.ConversationID == conversationID && m.UserKey == userKey {
			cp := *m
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *stubConversationRepo) GetMemberByID(_ context.Context, id int64) (*models.Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.members {
		if m.ID == id {
			cp := *m
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *stubConversationRepo) FindMemberByKey(_ context.Context, userKey string) (*models.Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.members {
		if m.UserKey == userKey {
			cp := *m
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *stubConversationRepo) GetMembers(_ context.Context, conversationID int64) ([]*models.Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Member
	for _, m := range r.members {
		if m.ConversationID == conversationID {
			cp := *m
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *stubConversationRepo) GetMembersByRole(_ context.Context, conversationID int64, role models.MemberRole) ([]*models.Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Member
	for _, m := range r.members {
		if m.ConversationID == conversationID && m.Role == role {
			cp := *m
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *stubConversationRepo) ReassignRoles(_ context.Context, conversationID int64, childKeys []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	children := make(map[string]bool, len(childKeys))
	for _, k := range childKeys {
		children[k] = true
	}
	for _, m := range r.members {
		if m.ConversationID != conversationID {
			continue
		}
		if children[m.UserKey] {
			m.Role = models.RoleChild
		} else {
			m.Role = models.RoleParent
		}
	}
	return nil
}

type stubUtteranceRepo struct {
	mu     sync.Mutex
	nextID int64
	rows   []*models.Utterance
}

func newStubUtteranceRepo() *stubUtteranceRepo {
	return &stubUtteranceRepo{nextID: 1}
}

func (r *stubUtteranceRepo) Create(_ context.Context, u *models.Utterance) (*models.Utterance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *u
	cp.ID = r.nextID
	r.nextID++
	r.rows = append(r.rows, &cp)
	out := cp
	return &out, nil
}

func (r *stubUtteranceRepo) AttachResponse(_ context.Context, id int64, response string, day time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.rows {
		if u.ID == id {
			u.BotResponse = &response
			u.Day = &day
			return nil
		}
	}
	return errors.New("utterance not found")
}

func (r *stubUtteranceRepo) CountBotRepliesOn(_ context.Context, chatID string, day time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, u := range r.rows {
		if u.ChatID == chatID && u.BotResponse != nil && u.Day != nil && u.Day.Equal(day) {
			count++
		}
	}
	return count, nil
}

func (r *stubUtteranceRepo) all() []*models.Utterance {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.Utterance, 0, len(r.rows))
	for _, u := range r.rows {
		cp := *u
		out = append(out, &cp)
	}
	return out
}

type stubLedgerRepo struct {
	mu     sync.Mutex
	nextID int64
	rows   []*models.LedgerEntry
}

func newStubLedgerRepo() *stubLedgerRepo {
	return &stubLedgerRepo{nextID: 1}
}

func (r *stubLedgerRepo) Create(_ context.Context, e *models.LedgerEntry) (*models.LedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.createLocked(e)
}

func (r *stubLedgerRepo) createLocked(e *models.LedgerEntry) (*models.LedgerEntry, error) {
	cp := *e
	cp.ID = r.nextID
	r.nextID++
	r.rows = append(r.rows, &cp)
	out := cp
	return &out, nil
}

func (r *stubLedgerRepo) GetByID(_ context.Context, id int64) (*models.LedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.rows {
		if e.ID == id {
			cp := *e
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *stubLedgerRepo) GetBySyncToken(_ context.Context, token string) (*models.LedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.rows {
		if e.SyncToken != nil && *e.SyncToken == token {
			cp := *e
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *stubLedgerRepo) GetByChild(_ context.Context, childID int64) ([]*models.LedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.LedgerEntry
	for _, e := range r.rows {
		if e.ChildID == childID {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EntryDate.Equal(out[j].EntryDate) {
			return out[i].EntryDate.Before(out[j].EntryDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *stubLedgerRepo) GetByChildMonth(ctx context.Context, childID int64, year int, month time.Month) ([]*models.LedgerEntry, error) {
	all, err := r.GetByChild(ctx, childID)
	if err != nil {
		return nil, err
	}
	var out []*models.LedgerEntry
	for _, e := range all {
		if e.EntryDate.Year() == year && e.EntryDate.Month() == month {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *stubLedgerRepo) HasEntries(_ context.Context, childID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.rows {
		if e.ChildID == childID {
			return true, nil
		}
	}
	return false, nil
}

func (r *stubLedgerRepo) AvailableMonths(_ context.Context, childID int64) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[string]bool)
	var out []string
	for _, e := range r.rows {
		if e.ChildID != childID {
			continue
		}
		m := e.EntryDate.Format("2006-01")
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(out)))
	return out, nil
}

func (r *stubLedgerRepo) UpdateRemaining(_ context.Context, id, remaining int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.rows {
		if e.ID == id {
			e.Remaining = remaining
			return nil
		}
	}
	return errors.New("entry not found")
}

func (r *stubLedgerRepo) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.rows {
		if e.ID == id {
			r.rows = append(r.rows[:i], r.rows[i+1:]...)
			return nil
		}
	}
	return errors.New("entry not found")
}

func (r *stubLedgerRepo) deleteBySyncToken(token string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.rows {
		if e.SyncToken != nil && *e.SyncToken == token {
			r.rows = append(r.rows[:i], r.rows[i+1:]...)
			return true
		}
	}
	return false
}

type stubSyncRepo struct {
	mu      sync.Mutex
	nextID  int64
	records map[string]*models.SyncRecord
	ledger  *stubLedgerRepo
}

func newStubSyncRepo(ledger *stubLedgerRepo) *stubSyncRepo {
	return &stubSyncRepo{nextID: 1, records: make(map[string]*models.SyncRecord), ledger: ledger}
}

func (r *stubSyncRepo) GetByToken(_ context.Context, token string) (*models.SyncRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[token]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (r *stubSyncRepo) CommitEntry(_ context.Context, token string, entry *models.LedgerEntry) (*models.LedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.records[token]; exists {
		return nil, repository.ErrAlreadyResolved
	}
	r.records[token] = &models.SyncRecord{ID: r.nextID, Token: token, Status: models.SyncSaved}
	r.nextID++

	cp := *entry
	cp.SyncToken = &token
	r.ledger.mu.Lock()
	defer r.ledger.mu.Unlock()
	return r.ledger.createLocked(&cp)
}

func (r *stubSyncRepo) CancelEntry(_ context.Context, token string) (bool, error) {
	deleted := r.ledger.deleteBySyncToken(token)

	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[token]; ok {
		rec.Status = models.SyncCancelled
	} else {
		r.records[token] = &models.SyncRecord{ID: r.nextID, Token: token, Status: models.SyncCancelled}
		r.nextID++
	}
	return deleted, nil
}

// stubSummaryRepo satisfies the interface; the webhook blocks never touch
// cached reports.
type stubSummaryRepo struct{}

func (stubSummaryRepo) Get(context.Context, int64, int64, models.ReportKind, int, *int, *int) (*models.PeriodicSummary, error) {
	return nil, nil
}

func (stubSummaryRepo) Upsert(_ context.Context, s *models.PeriodicSummary) (*models.PeriodicSummary, error) {
	cp := *s
	return &cp, nil
}

func (stubSummaryRepo) GetCounter(context.Context, int64, models.ReportKind, int, *int, *int) (*models.AIUsageCounter, error) {
	return nil, nil
}

func (stubSummaryRepo) BumpCounter(context.Context, int64, models.ReportKind, int, *int, *int, time.Time) error {
	return nil
}

// scriptedChatter scripts the LLM collaborator.
type scriptedChatter struct {
	mu        sync.Mutex
	reply     string
	err       error
	chatCalls int
}

func (f *scriptedChatter) Chat(_ context.Context, _ time.Time, _ []llm.Turn, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chatCalls++
	return f.reply, f.err
}

func (f *scriptedChatter) Complete(_ context.Context, _ string) (string, error) {
	return "", errors.New("not scripted")
}

func (f *scriptedChatter) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.chatCalls
}

// fixedLister serves a static member list.
type fixedLister struct {
	keys []string
	err  error
}

func (f *fixedLister) ListMembers(context.Context, string, string) ([]string, error) {
	return f.keys, f.err
}

type routerEnv struct {
	rt      *Router
	svc     *service.Service
	users   *stubUserRepo
	convs   *stubConversationRepo
	utts    *stubUtteranceRepo
	ledger  *stubLedgerRepo
	chatter *scriptedChatter
	lister  *fixedLister
	tokens  *auth.TokenManager
	clock   time.Time
}

const (
	testBotSecret  = "test-secret"
	testFrontend   = "https://frontend.test"
	testParentKey  = "parent-key"
	testChildKey   = "child-key"
	testSigningKey = "jwt-test-secret"
	testChatID     = "chat-1"
	testBotID      = "bot-1"
)

func newRouterEnv() *routerEnv {
	users := newStubUserRepo()
	convs := newStubConversationRepo()
	utts := newStubUtteranceRepo()
	ledger := newStubLedgerRepo()
	syncs := newStubSyncRepo(ledger)
	chatter := &scriptedChatter{}
	lister := &fixedLister{keys: []string{testParentKey, testChildKey}}

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	svc := service.New(nil, logger, chatter, chatlog.NewStore(0),
		users, convs, utts, ledger, syncs, stubSummaryRepo{})
	tokens := auth.NewTokenManager(testSigningKey, time.Hour)

	rt := NewRouter(svc, lister, metrics.New(), tokens, logger,
		DefaultBlocks(), testBotSecret, testFrontend)

	env := &routerEnv{
		rt: rt, svc: svc, users: users, convs: convs, utts: utts,
		ledger: ledger, chatter: chatter, lister: lister, tokens: tokens,
		clock: time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC),
	}
	rt.now = func() time.Time { return env.clock }
	return env
}

// seedRoom creates the conversation with one parent and one child member.
func (e *routerEnv) seedRoom(t interface{ Fatalf(string, ...any) }) (*models.Conversation, *models.Member, *models.Member) {
	ctx := context.Background()
	conv, err := e.convs.Create(ctx, &models.Conversation{ChatID: testChatID})
	if err != nil {
		t.Fatalf("seed conversation: %v", err)
	}
	parent, err := e.convs.AddMember(ctx, &models.Member{ConversationID: conv.ID, UserKey: testParentKey, Role: models.RoleParent})
	if err != nil {
		t.Fatalf("seed parent: %v", err)
	}
	child, err := e.convs.AddMember(ctx, &models.Member{ConversationID: conv.ID, UserKey: testChildKey, Role: models.RoleChild})
	if err != nil {
		t.Fatalf("seed child: %v", err)
	}
	return conv, parent, child
}
