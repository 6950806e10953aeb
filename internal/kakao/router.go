package kakao

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/moamoa/allowancebot/internal/auth"
	"github.com/moamoa/allowancebot/internal/extract"
	"github.com/moamoa/allowancebot/internal/metrics"
	"github.com/moamoa/allowancebot/internal/models"
	"github.com/moamoa/allowancebot/internal/service"
)

// Blocks maps the skill blocks configured on the platform side to their
// ids. Every inbound request names exactly one of these (or none, which
// falls through to the help response).
type Blocks struct {
	SelectChildren string
	Propose        string
	Confirm        string
	MonthEnd       string
}

// DefaultBlocks returns the block ids of the production bot.
func DefaultBlocks() Blocks {
	return Blocks{
		SelectChildren: "69459714f37f4f7df3246a88",
		Propose:        "6942260860f91e2c82b625ac",
		Confirm:        "696f71150c338f3b8e58fe2f",
		MonthEnd:       "69722914b3799b0f2936ac84",
	}
}

// Canned responses. The texts are part of the bot's persona and are not
// configurable.
const (
	msgDeclined        = "기록되지 않은 봇의 메시지입니다."
	msgMenuForbidden   = "사용할 수 없는 메뉴입니다."
	msgChildOnly       = "자녀만 사용할 수 있는 메뉴입니다."
	msgParentOnly      = "부모님만 확인할 수 있는 메뉴입니다. 😊"
	msgSelfSelection   = "본인은 자녀로 설정할 수 없습니다. 다시 선택해주세요."
	msgNoChange        = "이미 동일한 자녀들이 선택되어 있습니다."
	msgNoChildren      = "설정된 자녀가 없습니다. 먼저 자녀를 선택해 주세요.\n\n(예: @뫄뫄AI 자녀선택 @자녀)"
	msgNoRegistered    = "등록된 자녀가 없습니다. 먼저 자녀를 선택해 주세요.\n\n(예: @뫄뫄AI 자녀선택 @자녀)"
	msgNoLedgerData    = "/용돈기입장 자산내용 입력해주세요"
	msgAlreadySaved    = "이미 기록된 내역입니다."
	msgStaleConfirm    = "이미 취소된 내역입니다. 다시 입력해 주세요."
	msgCancelled       = "기록이 취소되었습니다."
	msgCancelledRetry  = "기록이 취소되었습니다. 다시 입력해 주세요."
	msgDataError       = "데이터 오류가 발생했습니다. 다시 시도해 주세요."
	msgChatUnavailable = "죄송해요, 지금은 대답하기가 어려워요."
	msgQuotaExceeded   = "오늘은 AI와 충분히 대화했어요! 내일 다시 찾아와 주세요. 🙏"

	msgSelectUsage = "@뫄뫄AI 자녀선택 @자녀 \n @뫄뫄AI 자녀선택 @자녀 @자녀1 \n /자녀선택 @자녀 \n /자녀선택 @자녀 @자녀1 \n 아이들은 5명까지 선택이 가능합니다."

	msgHelp = "[부모] 자녀들을 선택 할때?\n/자녀선택 @홍길동\n/자녀선택 @홍길동 @홍길동\n자녀는 5명까지 선택이 가능합니다.\n\n[부모] 월말 결산 및 리포트를 보고 싶다면?\n/월말결산 @홍길동\n\n[자녀] 용돈 기입장을 작성 하는 방법?\n(날짜, 내용, 금액이 포함되게 작성해주세요)\n/용돈기입장 오늘 엄마가 용돈을 만원 줬어\n/용돈기입장 오늘 형광펜 사느라 1000원 씀\n\n"
)

const (
	ledgerKeyword  = "용돈기입장"
	botProfileName = "뫄뫄AI"
	botProfileIcon = "https://www.moamoa.kids/static/images/favicon.ico"

	// dedupTTL bounds how long a delivered request id blocks redeliveries.
	dedupTTL = 10 * time.Minute
	// deferredTimeout bounds one deferred propose task end to end.
	deferredTimeout = 60 * time.Second
)

// Router is the webhook endpoint: it authenticates the shared-secret
// header, decodes the skill payload, keeps the utterance log and member
// directory fresh, and dispatches on block id.
type Router struct {
	svc     *service.Service
	members MemberLister
	metrics *metrics.Metrics
	tokens  *auth.TokenManager
	logger  *logrus.Logger

	blocks      Blocks
	botSecret   string
	frontendURL string

	guard      *replayGuard
	httpClient *http.Client
	now        func() time.Time
}

// NewRouter creates the webhook router. botSecret is the value the "bot"
// request header must carry; frontendURL is the base for magic-token web
// links.
func NewRouter(svc *service.Service, members MemberLister, m *metrics.Metrics,
	tokens *auth.TokenManager, logger *logrus.Logger,
	blocks Blocks, botSecret, frontendURL string,
) *Router {
	return &Router{
		svc:         svc,
		members:     members,
		metrics:     m,
		tokens:      tokens,
		logger:      logger,
		blocks:      blocks,
		botSecret:   botSecret,
		frontendURL: strings.TrimSuffix(frontendURL, "/"),
		guard:       newReplayGuard(dedupTTL),
		httpClient:  &http.Client{Timeout: 15 * time.Second},
		now:         time.Now,
	}
}

// Handler returns the http.Handler serving the webhook.
func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhook", rt.handleMessage)
	return mux
}

func (rt *Router) handleMessage(w http.ResponseWriter, r *http.Request) {
	// Business faults must never surface as 5xx: the platform would show
	// the user a generic failure bubble and retry.
	defer func() {
		if rec := recover(); rec != nil {
			rt.logger.Errorf("Webhook handler panicked: %v", rec)
			rt.respond(w, map[string]string{"status": "error", "message": fmt.Sprint(rec)})
		}
	}()

	if r.Header.Get("bot") != rt.botSecret {
		rt.metrics.WebhookDeclined.Inc()
		rt.respond(w, Text(msgDeclined))
		return
	}

	var payload Payload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		rt.respond(w, map[string]string{"status": "error", "message": "invalid payload"})
		return
	}

	ctx := r.Context()
	params := ParseActionParams(payload.Action)
	blockID := payload.UserRequest.Block.ID
	chatID := payload.UserRequest.Chat.ID
	userKey := payload.UserRequest.User.ID

	rt.metrics.WebhookRequests.WithLabelValues(rt.blockLabel(blockID)).Inc()

	// Audit trail for ledger-related utterances, best effort.
	var utt *models.Utterance
	if strings.Contains(payload.UserRequest.Utterance, ledgerKeyword) {
		rawParams, _ := json.Marshal(params)
		utt = rt.svc.RecordUtterance(ctx, chatID, userKey, payload.UserRequest.Utterance, blockID, string(rawParams))
	}

	rt.refreshMembers(ctx, payload.Bot.ID, chatID)

	switch blockID {
	case rt.blocks.SelectChildren:
		rt.respond(w, rt.handleSelectChildren(ctx, chatID, userKey, params))
	case rt.blocks.Propose:
		rt.respond(w, rt.handlePropose(ctx, chatID, userKey, payload.UserRequest, params, utt))
	case rt.blocks.Confirm:
		rt.respond(w, rt.handleConfirmCancel(ctx, payload.Action.ClientExtra))
	case rt.blocks.MonthEnd:
		rt.respond(w, rt.handleMonthEnd(ctx, chatID, userKey, params))
	default:
		rt.respond(w, Text(msgHelp))
	}
}

func (rt *Router) blockLabel(blockID string) string {
	switch blockID {
	case rt.blocks.SelectChildren:
		return "select_children"
	case rt.blocks.Propose:
		return "propose"
	case rt.blocks.Confirm:
		return "confirm"
	case rt.blocks.MonthEnd:
		return "month_end"
	default:
		return "fallback"
	}
}

// refreshMembers pulls the chat room's member list and registers unseen
// keys. Failures are logged and ignored: the directory catches up on the
// next delivery.
func (rt *Router) refreshMembers(ctx context.Context, botID, chatID string) {
	if botID == "" || chatID == "" || rt.members == nil {
		return
	}

	keys, err := rt.members.ListMembers(ctx, botID, chatID)
	if err != nil {
		rt.logger.WithError(err).Debug("Member list refresh failed")
		return
	}

	conv, err := rt.svc.EnsureConversation(ctx, chatID)
	if err != nil {
		rt.logger.WithError(err).Warn("Failed to ensure conversation for member refresh")
		return
	}
	if err := rt.svc.UpsertMembers(ctx, conv.ID, keys); err != nil {
		rt.logger.WithError(err).Warn("Member refresh partially failed")
	}
}

// ---------------------------------------------------------------------------
// Block: select children
// ---------------------------------------------------------------------------

func (rt *Router) handleSelectChildren(ctx context.Context, chatID, userKey string, params ActionParams) *Response {
	conv, err := rt.svc.EnsureConversation(ctx, chatID)
	if err != nil {
		rt.logger.WithError(err).Error("Failed to resolve conversation")
		return Text(msgDataError)
	}

	actor, err := rt.svc.Conversations.GetMember(ctx, conv.ID, userKey)
	if err != nil {
		rt.logger.WithError(err).Error("Failed to look up acting member")
		return Text(msgDataError)
	}
	if actor != nil && actor.Role == models.RoleChild {
		return Text(msgMenuForbidden)
	}

	summary, err := rt.svc.ReassignChildren(ctx, conv.ID, userKey, params.Mentions)
	switch {
	case errors.Is(err, service.ErrSelfSelectionOnly):
		return Text(msgSelfSelection)
	case errors.Is(err, service.ErrEmptySelection):
		return Text(msgSelectUsage)
	case errors.Is(err, service.ErrNoChange):
		return Text(msgNoChange)
	case err != nil:
		rt.logger.WithError(err).Error("Child reassignment failed")
		return Text(msgDataError)
	}

	mentions := make(map[string]MentionRef, len(summary.ChildKeys))
	lines := make([]string, 0, len(summary.ChildKeys))
	for i, key := range summary.ChildKeys {
		id := fmt.Sprintf("user%d", i+1)
		mentions[id] = MentionRef{Type: "botUserKey", ID: key}
		lines = append(lines, fmt.Sprintf(" * {{#mentions.%s}}", id))
	}

	text := "자녀 선택이 완료되었습니다.\n" + strings.Join(lines, "\n")
	if summary.SelfDropped {
		text += "\n\n 본인은 자녀에서 제외되었습니다."
	}

	resp := Text(text)
	resp.Extra = &Extra{Mentions: mentions}
	return resp
}

// ---------------------------------------------------------------------------
// Block: propose entry (deferred)
// ---------------------------------------------------------------------------

func (rt *Router) handlePropose(ctx context.Context, chatID, userKey string, req UserRequest, params ActionParams, utt *models.Utterance) *Response {
	conv, err := rt.svc.EnsureConversation(ctx, chatID)
	if err != nil {
		rt.logger.WithError(err).Error("Failed to resolve conversation")
		return Text(msgDataError)
	}

	children, err := rt.svc.Conversations.GetMembersByRole(ctx, conv.ID, models.RoleChild)
	if err != nil {
		rt.logger.WithError(err).Error("Failed to look up children")
		return Text(msgDataError)
	}
	if len(children) == 0 {
		return Text(msgNoChildren)
	}

	actor, err := rt.svc.Conversations.GetMember(ctx, conv.ID, userKey)
	if err != nil {
		rt.logger.WithError(err).Error("Failed to look up acting member")
		return Text(msgDataError)
	}
	if actor == nil || actor.Role != models.RoleChild {
		return Text(msgChildOnly)
	}

	if req.CallbackURL == "" {
		return Text(msgHelp)
	}

	now := rt.now()
	allowed, err := rt.svc.AllowChatCall(ctx, chatID, now)
	if err != nil {
		rt.logger.WithError(err).Error("Chat quota check failed")
		return Text(msgDataError)
	}
	if !allowed {
		rt.metrics.ChatCallsDenied.Inc()
		return Text(msgQuotaExceeded)
	}

	input := strings.TrimSpace(strings.ReplaceAll(req.Utterance, ledgerKeyword, ""))

	// Redelivered requests carry the same callback URL; only the first
	// delivery launches the deferred task.
	if rt.guard.FirstDelivery(req.CallbackURL, now) {
		go rt.runDeferred(req.CallbackURL, actor.ID, input, params, utt)
	}

	return Wait(input + "\n\n분석하고 있습니다. 잠시만 기다려 주세요!")
}

// runDeferred performs the LLM turn and posts the result to the callback
// URL. It runs detached from the webhook request with its own deadline.
func (rt *Router) runDeferred(callbackURL string, memberID int64, input string, params ActionParams, utt *models.Utterance) {
	start := rt.now()
	ctx, cancel := context.WithTimeout(context.Background(), deferredTimeout)
	defer cancel()
	defer func() {
		rt.metrics.DeferredDuration.Observe(time.Since(start).Seconds())
	}()

	rt.metrics.LLMCalls.Inc()
	reply, err := rt.svc.ChatTurn(ctx, memberID, input, start)
	if err != nil {
		rt.metrics.LLMFailures.Inc()
		rt.logger.WithError(err).Warn("Deferred chat turn failed")
		rt.postCallback(ctx, callbackURL, Text(msgChatUnavailable))
		return
	}

	rt.svc.AttachBotResponse(ctx, utt, reply, start)

	candidate, ok := extract.Extract(reply, start)
	if !ok {
		// Notices, off-topic nudges and the like go out verbatim.
		rt.postCallback(ctx, callbackURL, Text(extract.CleanText(reply)))
		return
	}

	rt.postCallback(ctx, callbackURL, rt.proposalCard(candidate, memberID, params))
}

// proposalCard renders the extracted candidate as an itemCard whose y/n
// buttons round-trip the candidate and sync token through clientExtra.
func (rt *Router) proposalCard(c *extract.Candidate, memberID int64, params ActionParams) *Response {
	items := []Item{
		{Title: "날짜", Description: c.Date},
		{Title: "금액", Description: c.Amount},
		{Title: "분류", Description: orDash(c.Category)},
		{Title: "거래 유형", Description: orDash(c.Kind)},
	}
	if params.Location != "" {
		items = append(items, Item{Title: "장소", Description: params.Location})
	}
	if params.Number != "" {
		items = append(items, Item{Title: "숫자", Description: params.Number})
	}

	memberRef := strconv.FormatInt(memberID, 10)
	return Cards(Output{ItemCard: &ItemCard{
		Title:           c.Detail,
		Description:     "사용 내역이 맞는지 확인해 주세요!",
		Profile:         &Profile{Title: botProfileName, ImageURL: botProfileIcon},
		ItemList:        items,
		ItemListSummary: &Item{Title: "Total", Description: c.Amount},
		Buttons: []Button{
			{
				Label:   "맞아요 😊",
				Action:  "block",
				BlockID: rt.blocks.Confirm,
				Extra: &ClientExtra{
					Cmd:    "y",
					UserID: memberRef,
					SyncID: c.Token,
					DiaryData: &DiaryData{
						Detail:   c.Detail,
						Date:     c.Date,
						Category: c.Category,
						Kind:     c.Kind,
						Amount:   extract.CleanAmount(c.Amount),
					},
				},
			},
			{
				Label:   "아니요 😭",
				Action:  "block",
				BlockID: rt.blocks.Confirm,
				Extra:   &ClientExtra{Cmd: "n", UserID: memberRef, SyncID: c.Token},
			},
		},
		ButtonLayout: "horizontal",
	}})
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// postCallback delivers the deferred payload. No retry: a lost callback
// just leaves the loading bubble, and the user will ask again.
func (rt *Router) postCallback(ctx context.Context, callbackURL string, resp *Response) {
	body, err := json.Marshal(resp)
	if err != nil {
		rt.logger.WithError(err).Error("Failed to marshal callback payload")
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, callbackURL, bytes.NewReader(body))
	if err != nil {
		rt.logger.WithError(err).Error("Failed to build callback request")
		return
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	res, err := rt.httpClient.Do(req)
	if err != nil {
		rt.logger.WithError(err).Warn("Callback delivery failed")
		return
	}
	res.Body.Close()
}

// ---------------------------------------------------------------------------
// Block: confirm / cancel
// ---------------------------------------------------------------------------

func (rt *Router) handleConfirmCancel(ctx context.Context, extra ClientExtra) *Response {
	switch extra.Cmd {
	case "y":
		return rt.handleConfirm(ctx, extra)
	case "n":
		return rt.handleCancel(ctx, extra)
	default:
		return Text(msgDataError)
	}
}

func (rt *Router) handleConfirm(ctx context.Context, extra ClientExtra) *Response {
	var data *service.EntryData
	if extra.DiaryData != nil {
		data = &service.EntryData{
			Detail:   extra.DiaryData.Detail,
			Date:     extra.DiaryData.Date,
			Category: extra.DiaryData.Category,
			Kind:     extra.DiaryData.Kind,
			Amount:   extra.DiaryData.Amount,
		}
	}

	result, err := rt.svc.Confirm(ctx, extra.UserID, extra.SyncID, data, rt.now())
	if err != nil {
		rt.logger.WithError(err).Error("Confirm failed")
		return Text(msgDataError)
	}

	switch result.Outcome {
	case service.OutcomeSaved:
		return rt.savedCard(result.Child)
	case service.OutcomeDuplicate:
		return Text(msgAlreadySaved)
	case service.OutcomeStale:
		return Text(msgStaleConfirm)
	default:
		return Text(msgDataError)
	}
}

func (rt *Router) savedCard(child *models.User) *Response {
	token, err := rt.tokens.Generate(child.ID)
	if err != nil {
		rt.logger.WithError(err).Error("Failed to mint magic token")
		return Text("기록 완료! 성공적으로 기록되었습니다.")
	}

	return Cards(Output{TextCard: &TextCard{
		Title:       "기록 완료!",
		Description: "성공적으로 기록되었습니다.",
		Buttons: []Button{{
			Action:     "webLink",
			Label:      "용돈기입장 보러가기",
			WebLinkURL: fmt.Sprintf("%s/verify-token/?token=%s", rt.frontendURL, token),
		}},
	}})
}

func (rt *Router) handleCancel(ctx context.Context, extra ClientExtra) *Response {
	result, err := rt.svc.Cancel(ctx, extra.SyncID)
	if err != nil {
		rt.logger.WithError(err).Error("Cancel failed")
		return Text(msgDataError)
	}

	switch result.Outcome {
	case service.OutcomeCancelled:
		return Text(msgCancelled)
	case service.OutcomeCancelledEmpty:
		return Text(msgCancelledRetry)
	default:
		return Text(msgCancelled)
	}
}

// ---------------------------------------------------------------------------
// Block: month-end report
// ---------------------------------------------------------------------------

func (rt *Router) handleMonthEnd(ctx context.Context, chatID, userKey string, params ActionParams) *Response {
	conv, err := rt.svc.EnsureConversation(ctx, chatID)
	if err != nil {
		rt.logger.WithError(err).Error("Failed to resolve conversation")
		return Text(msgDataError)
	}

	actor, err := rt.svc.Conversations.GetMember(ctx, conv.ID, userKey)
	if err != nil {
		rt.logger.WithError(err).Error("Failed to look up acting member")
		return Text(msgDataError)
	}
	if actor != nil && actor.Role == models.RoleChild {
		return Text(msgParentOnly)
	}

	parent, targets, err := rt.svc.MonthEndTargets(ctx, conv.ID, userKey, params.Mentions)
	switch {
	case errors.Is(err, service.ErrNoChildren):
		return Text(msgNoRegistered)
	case errors.Is(err, service.ErrNoLedgerData):
		return Text(msgNoLedgerData)
	case err != nil:
		rt.logger.WithError(err).Error("Month-end target resolution failed")
		return Text(msgDataError)
	}

	token, err := rt.tokens.Generate(parent.ID)
	if err != nil {
		rt.logger.WithError(err).Error("Failed to mint magic token")
		return Text(msgDataError)
	}

	now := rt.now()
	periodLabel := fmt.Sprintf("%d년 %02d월", now.Year(), int(now.Month()))

	var outputs []Output
	mentions := make(map[string]MentionRef, len(targets))
	for i, target := range targets {
		mentionID := fmt.Sprintf("child_%d", i+1)
		mentions[mentionID] = MentionRef{Type: "botUserKey", ID: target.MemberKey}

		if len(targets) == 1 {
			outputs = append(outputs, Output{SimpleText: &SimpleText{
				Text: fmt.Sprintf("{{#mentions.%s}} 자녀의 %s 용돈 관리 리포트가 준비되었습니다! 💌", mentionID, periodLabel),
			}})
		}

		outputs = append(outputs, Output{TextCard: &TextCard{
			Title:       fmt.Sprintf("%s 월말결산 리포트", periodLabel),
			Description: "자녀의 이번 달 소비 패턴과 AI 분석 결과를 리포트로 확인해 보세요! ",
			Buttons: []Button{{
				Action:     "webLink",
				Label:      "결산 리포트 보기",
				WebLinkURL: fmt.Sprintf("%s/verify-token/?token=%s&next=/profile/?child_id=%d", rt.frontendURL, token, target.Child.ID),
			}},
		}})

		// Template limit on output cards.
		if len(outputs) >= 3 {
			break
		}
	}

	resp := Cards(outputs...)
	resp.Extra = &Extra{Mentions: mentions}
	return resp
}

// ---------------------------------------------------------------------------

func (rt *Router) respond(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		rt.logger.WithError(err).Error("Failed to encode webhook response")
	}
}
