package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/moamoa/allowancebot/internal/chatlog"
	"github.com/moamoa/allowancebot/internal/llm"
	"github.com/moamoa/allowancebot/internal/models"
	"github.com/moamoa/allowancebot/internal/repository"
)

// In-memory repository fakes. Each mirrors the corresponding postgres
// implementation's observable behavior: nil-without-error on missing
// rows, lazy id assignment, and the sync token acting as the
// linearization point.

type memUserRepo struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]*models.User
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{nextID: 1, byID: make(map[int64]*models.User)}
}

func (r *memUserRepo) Create(_ context.Context, u *models.User) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *u
	cp.ID = r.nextID
	r.nextID++
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	r.byID[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (r *memUserRepo) GetByID(_ context.Context, id int64) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (r *memUserRepo) GetByUsername(_ context.Context, username string) (*models.User, error) {
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

func (r *memUserRepo) Update(_ context.Context, u *models.User) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[u.ID]; !ok {
		return nil, errors.New("user not found")
	}
	cp := *u
	cp.UpdatedAt = time.Now()
	r.byID[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (r *memUserRepo) SetParent(_ context.Context, childID, parentID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[childID]
	if !ok {
		return errors.New("user not found")
	}
	u.ParentID = &parentID
	return nil
}

func (r *memUserRepo) SetTotal(_ context.Context, id, total int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return errors.New("user not found")
	}
	u.Total = total
	return nil
}

type memConversationRepo struct {
	mu           sync.Mutex
	nextConvID   int64
	nextMemberID int64
	convs        map[int64]*models.Conversation
	members      []*models.Member
}

func newMemConversationRepo() *memConversationRepo {
	return &memConversationRepo{nextConvID: 1, nextMemberID: 1, convs: make(map[int64]*models.Conversation)}
}

func (r *memConversationRepo) Create(_ context.Context, conv *models.Conversation) (*models.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *conv
	cp.ID = r.nextConvID
	r.nextConvID++
	cp.CreatedAt = time.Now()
	r.convs[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (r *memConversationRepo) GetByID(_ context.Context, id int64) (*models.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.convs[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (r *memConversationRepo) GetByChatID(_ context.Context, chatID string) (*models.Conversation, error) {
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

func (r *memConversationRepo) AddMember(_ context.Context, m *models.Member) (*models.Member, error) {
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
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	r.members = append(r.members, &cp)
	out := cp
	return &out, nil
}

func (r *memConversationRepo) GetMember(_ context.Context, conversationID int64, userKey string) (*models.Member, error) {
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

func (r *memConversationRepo) GetMemberByID(_ context.Context, id int64) (*models.Member, error) {
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

func (r *memConversationRepo) FindMemberByKey(_ context.Context, userKey string) (*models.Member, error) {
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

func (r *memConversationRepo) GetMembers(_ context.Context, conversationID int64) ([]*models.Member, error) {
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

func (r *memConversationRepo) GetMembersByRole(_ context.Context, conversationID int64, role models.MemberRole) ([]*models.Member, error) {
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

func (r *memConversationRepo) ReassignRoles(_ context.Context, conversationID int64, childKeys []string) error {
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

type memUtteranceRepo struct {
	mu     sync.Mutex
	nextID int64
	rows   []*models.Utterance
}

func newMemUtteranceRepo() *memUtteranceRepo {
	return &memUtteranceRepo{nextID: 1}
}

func (r *memUtteranceRepo) Create(_ context.Context, u *models.Utterance) (*models.Utterance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *u
	cp.ID = r.nextID
	r.nextID++
	cp.CreatedAt = time.Now()
	r.rows = append(r.rows, &cp)
	out := cp
	return &out, nil
}

func (r *memUtteranceRepo) AttachResponse(_ context.Context, id int64, response string, day time.Time) error {
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

func (r *memUtteranceRepo) CountBotRepliesOn(_ context.Context, chatID string, day time.Time) (int, error) {
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

type memLedgerRepo struct {
	mu     sync.Mutex
	nextID int64
	rows   []*models.LedgerEntry
}

func newMemLedgerRepo() *memLedgerRepo {
	return &memLedgerRepo{nextID: 1}
}

func (r *memLedgerRepo) Create(_ context.Context, e *models.LedgerEntry) (*models.LedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.createLocked(e)
}

func (r *memLedgerRepo) createLocked(e *models.LedgerEntry) (*models.LedgerEntry, error) {
	cp := *e
	cp.ID = r.nextID
	r.nextID++
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	r.rows = append(r.rows, &cp)
	out := cp
	return &out, nil
}

func (r *memLedgerRepo) GetByID(_ context.Context, id int64) (*models.LedgerEntry, error) {
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

func (r *memLedgerRepo) GetBySyncToken(_ context.Context, token string) (*models.LedgerEntry, error) {
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

func (r *memLedgerRepo) GetByChild(_ context.Context, childID int64) ([]*models.LedgerEntry, error) {
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

func (r *memLedgerRepo) GetByChildMonth(ctx context.Context, childID int64, year int, month time.Month) ([]*models.LedgerEntry, error) {
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

func (r *memLedgerRepo) HasEntries(_ context.Context, childID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.rows {
		if e.ChildID == childID {
			return true, nil
		}
	}
	return false, nil
}

func (r *memLedgerRepo) AvailableMonths(_ context.Context, childID int64) ([]string, error) {
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

func (r *memLedgerRepo) UpdateRemaining(_ context.Context, id, remaining int64) error {
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

func (r *memLedgerRepo) Delete(_ context.Context, id int64) error {
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

func (r *memLedgerRepo) deleteBySyncToken(token string) bool {
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

type memSyncRepo struct {
	mu      sync.Mutex
	nextID  int64
	records map[string]*models.SyncRecord
	ledger  *memLedgerRepo
}

func newMemSyncRepo(ledger *memLedgerRepo) *memSyncRepo {
	return &memSyncRepo{nextID: 1, records: make(map[string]*models.SyncRecord), ledger: ledger}
}

func (r *memSyncRepo) GetByToken(_ context.Context, token string) (*models.SyncRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[token]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (r *memSyncRepo) CommitEntry(_ context.Context, token string, entry *models.LedgerEntry) (*models.LedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.records[token]; exists {
		return nil, repository.ErrAlreadyResolved
	}
	r.records[token] = &models.SyncRecord{
		ID:        r.nextID,
		Token:     token,
		Status:    models.SyncSaved,
		CreatedAt: time.Now(),
	}
	r.nextID++

	cp := *entry
	cp.SyncToken = &token
	r.ledger.mu.Lock()
	defer r.ledger.mu.Unlock()
	return r.ledger.createLocked(&cp)
}

func (r *memSyncRepo) CancelEntry(_ context.Context, token string) (bool, error) {
	deleted := r.ledger.deleteBySyncToken(token)

	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[token]; ok {
		rec.Status = models.SyncCancelled
	} else {
		r.records[token] = &models.SyncRecord{
			ID:        r.nextID,
			Token:     token,
			Status:    models.SyncCancelled,
			CreatedAt: time.Now(),
		}
		r.nextID++
	}
	return deleted, nil
}

type summaryKey struct {
	childID, parentID int64
	kind              models.ReportKind
	year, month, day  int
}

type counterKey struct {
	ownerID          int64
	kind             models.ReportKind
	year, month, day int
}

func nvl(p *int) int {
	if p == nil {
		return -1
	}
	return *p
}

type memSummaryRepo struct {
	mu        sync.Mutex
	summaries map[summaryKey]*models.PeriodicSummary
	counters  map[counterKey]*models.AIUsageCounter
}

func newMemSummaryRepo() *memSummaryRepo {
	return &memSummaryRepo{
		summaries: make(map[summaryKey]*models.PeriodicSummary),
		counters:  make(map[counterKey]*models.AIUsageCounter),
	}
}

func (r *memSummaryRepo) Get(_ context.Context, childID, parentID int64, kind models.ReportKind, year int, month, day *int) (*models.PeriodicSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.summaries[summaryKey{childID, parentID, kind, year, nvl(month), nvl(day)}]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (r *memSummaryRepo) Upsert(_ context.Context, s *models.PeriodicSummary) (*models.PeriodicSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.summaries[summaryKey{s.ChildID, s.ParentID, s.Kind, s.Year, nvl(s.Month), nvl(s.Day)}] = &cp
	out := cp
	return &out, nil
}

func (r *memSummaryRepo) GetCounter(_ context.Context, ownerID int64, kind models.ReportKind, year int, month, day *int) (*models.AIUsageCounter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.counters[counterKey{ownerID, kind, year, nvl(month), nvl(day)}]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (r *memSummaryRepo) BumpCounter(_ context.Context, ownerID int64, kind models.ReportKind, year int, month, day *int, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := counterKey{ownerID, kind, year, nvl(month), nvl(day)}
	c, ok := r.counters[key]
	if !ok {
		c = &models.AIUsageCounter{
			OwnerID: ownerID,
			Kind:    kind,
			Year:    year,
			Month:   month,
			Day:     day,
		}
		r.counters[key] = c
	}
	c.Calls++
	c.LastCalledAt = at
	return nil
}

// fakeChatter scripts the LLM.
type fakeChatter struct {
	mu          sync.Mutex
	chatReply   string
	chatErr     error
	completion  string
	completeErr error
	chatCalls   int
	completions int
}

func (f *fakeChatter) Chat(_ context.Context, _ time.Time, _ []llm.Turn, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chatCalls++
	return f.chatReply, f.chatErr
}

func (f *fakeChatter) Complete(_ context.Context, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completions++
	return f.completion, f.completeErr
}

type testEnv struct {
	svc     *Service
	users   *memUserRepo
	convs   *memConversationRepo
	utts    *memUtteranceRepo
	ledger  *memLedgerRepo
	syncs   *memSyncRepo
	summary *memSummaryRepo
	chatter *fakeChatter
}

func newTestEnv() *testEnv {
	users := newMemUserRepo()
	convs := newMemConversationRepo()
	utts := newMemUtteranceRepo()
	ledger := newMemLedgerRepo()
	syncs := newMemSyncRepo(ledger)
	summary := newMemSummaryRepo()
	chatter := &fakeChatter{}

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	svc := New(nil, logger, chatter, chatlog.NewStore(0),
		users, convs, utts, ledger, syncs, summary)

	return &testEnv{
		svc: svc, users: users, convs: convs, utts: utts,
		ledger: ledger, syncs: syncs, summary: summary, chatter: chatter,
	}
}

// seedConversation creates a conversation with one parent and one child
// member and returns (conv, parentMember, childMember).
func (e *testEnv) seedConversation(t interface{ Fatalf(string, ...any) }, chatID string) (*models.Conversation, *models.Member, *models.Member) {
	ctx := context.Background()
	conv, err := e.convs.Create(ctx, &models.Conversation{ChatID: chatID})
	if err != nil {
		t.Fatalf("seed conversation: %v", err)
	}
	parent, err := e.convs.AddMember(ctx, &models.Member{ConversationID: conv.ID, UserKey: "parent-key", Role: models.RoleParent})
	if err != nil {
		t.Fatalf("seed parent member: %v", err)
	}
	child, err := e.convs.AddMember(ctx, &models.Member{ConversationID: conv.ID, UserKey: "child-key", Role: models.RoleChild})
	if err != nil {
		t.Fatalf("seed child member: %v", err)
	}
	return conv, parent, child
}

func mustEntryData(detail, date, category, kind, amount string) *EntryData {
	return &EntryData{Detail: detail, Date: date, Category: category, Kind: kind, Amount: amount}
}
