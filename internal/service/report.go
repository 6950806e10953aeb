package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/moamoa/allowancebot/internal/llm"
	"github.com/moamoa/allowancebot/internal/models"
)

// Period identifies one report period. Month and Day are nil for the
// granularities that do not use them.
type Period struct {
	Kind  models.ReportKind
	Year  int
	Month *int
	Day   *int
}

// PeriodFor builds the period containing t for the given kind.
func PeriodFor(kind models.ReportKind, t time.Time) Period {
	p := Period{Kind: kind, Year: t.Year()}
	switch kind {
	case models.ReportDaily:
		m, d := int(t.Month()), t.Day()
		p.Month, p.Day = &m, &d
	case models.ReportMonthly:
		m := int(t.Month())
		p.Month = &m
	}
	return p
}

// label renders the period for prompts and report headers.
func (p Period) label() string {
	switch p.Kind {
	case models.ReportDaily:
		return fmt.Sprintf("%d년 %d월 %d일", p.Year, *p.Month, *p.Day)
	case models.ReportMonthly:
		return fmt.Sprintf("%d년 %d월", p.Year, *p.Month)
	default:
		return fmt.Sprintf("%d년", p.Year)
	}
}

// isPast reports whether the period closed strictly before now.
func (p Period) isPast(now time.Time) bool {
	switch p.Kind {
	case models.ReportDaily:
		end := time.Date(p.Year, time.Month(*p.Month), *p.Day, 0, 0, 0, 0, now.Location()).AddDate(0, 0, 1)
		return !now.Before(end)
	case models.ReportMonthly:
		end := time.Date(p.Year, time.Month(*p.Month), 1, 0, 0, 0, 0, now.Location()).AddDate(0, 1, 0)
		return !now.Before(end)
	default:
		return p.Year < now.Year()
	}
}

// contains reports whether the entry date falls inside the period.
func (p Period) contains(d time.Time) bool {
	if d.Year() != p.Year {
		return false
	}
	if p.Month != nil && int(d.Month()) != *p.Month {
		return false
	}
	if p.Day != nil && d.Day() != *p.Day {
		return false
	}
	return true
}

// ReportContent is the JSON document cached per (child, kind, period).
type ReportContent struct {
	Username string          `json:"username"`
	Age      any             `json:"age"`
	Message  string          `json:"message,omitempty"`
	Summary  json.RawMessage `json:"summary,omitempty"`
}

// Report returns the spending summary for the child and period.
// Cache-aside policy: a closed period with a cached copy is never
// regenerated; the current period is regenerated at most once per day
// (tracked by the AI usage counter); otherwise the summary is generated,
// persisted, and the counter bumped.
func (s *Service) Report(ctx context.Context, child, parent *models.User, period Period, now time.Time) (*ReportContent, error) {
	cached, err := s.Summaries.Get(ctx, child.ID, parent.ID, period.Kind, period.Year, period.Month, period.Day)
	if err != nil {
		return nil, err
	}

	if cached != nil {
		if period.isPast(now) {
			return decodeReport(cached.Content)
		}
		counter, err := s.Summaries.GetCounter(ctx, child.ID, period.Kind, period.Year, period.Month, period.Day)
		if err != nil {
			return nil, err
		}
		if counter != nil && counter.CalledToday(now) {
			return decodeReport(cached.Content)
		}
	}

	content, hasEntries, err := s.generateReport(ctx, child, period, now)
	if err != nil {
		return nil, err
	}

	// Empty periods are reported but not cached, matching the original:
	// the child may still record entries for the period later.
	if hasEntries {
		raw, err := json.Marshal(content)
		if err != nil {
			return nil, fmt.Errorf("failed to encode report: %w", err)
		}
		if _, err := s.Summaries.Upsert(ctx, &models.PeriodicSummary{
			ChildID:  child.ID,
			ParentID: parent.ID,
			Kind:     period.Kind,
			Year:     period.Year,
			Month:    period.Month,
			Day:      period.Day,
			Content:  string(raw),
		}); err != nil {
			return nil, err
		}
		if err := s.Summaries.BumpCounter(ctx, child.ID, period.Kind, period.Year, period.Month, period.Day, now); err != nil {
			s.logger.WithError(err).Warn("Failed to bump AI usage counter")
		}
	}

	return content, nil
}

func decodeReport(raw string) (*ReportContent, error) {
	content := &ReportContent{}
	if err := json.Unmarshal([]byte(raw), content); err != nil {
		return nil, fmt.Errorf("failed to decode cached report: %w", err)
	}
	return content, nil
}

func (s *Service) generateReport(ctx context.Context, child *models.User, period Period, now time.Time) (*ReportContent, bool, error) {
	entries, err := s.entriesForPeriod(ctx, child.ID, period)
	if err != nil {
		return nil, false, err
	}

	content := &ReportContent{Username: child.FirstName}
	if age := child.Age(now); age >= 0 {
		content.Age = age
	} else {
		content.Age = "Unknown"
	}

	if len(entries) == 0 {
		content.Message = fmt.Sprintf("%s 용돈기입장 기록이 없습니다.", period.label())
		return content, false, nil
	}

	var totalIncome, totalExpense float64
	byCategory := make(map[string]float64)
	records := make([]string, 0, len(entries))
	for _, e := range entries {
		amount, _ := e.Amount.Float64()
		switch e.Kind {
		case models.KindIncome:
			totalIncome += amount
		case models.KindExpense:
			totalExpense += amount
			byCategory[e.Category] += amount
		}
		records = append(records, fmt.Sprintf("%s (%s): %s KRW", e.Detail, e.Kind, e.Amount.String()))
	}

	prompt := llm.ReportPrompt(child.FirstName, child.Age(now), period.label(), records, totalIncome, totalExpense, byCategory)
	raw, err := s.llm.Complete(ctx, prompt)
	if err != nil {
		s.logger.WithError(err).Warn("Report generation fell back to local summary")
		content.Summary = localSummary(totalIncome, totalExpense, byCategory)
		return content, true, nil
	}

	jsonText := llm.StripCodeFence(raw)
	if !json.Valid([]byte(jsonText)) {
		// Model ignored the format; keep its prose under a stable key.
		wrapped, _ := json.Marshal(map[string]string{"raw_response": raw})
		content.Summary = wrapped
		return content, true, nil
	}

	content.Summary = json.RawMessage(jsonText)
	return content, true, nil
}

func (s *Service) entriesForPeriod(ctx context.Context, childID int64, period Period) ([]*models.LedgerEntry, error) {
	if period.Kind == models.ReportMonthly {
		return s.Ledger.GetByChildMonth(ctx, childID, period.Year, time.Month(*period.Month))
	}

	all, err := s.Ledger.GetByChild(ctx, childID)
	if err != nil {
		return nil, err
	}
	var entries []*models.LedgerEntry
	for _, e := range all {
		if period.contains(e.EntryDate) {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

// localSummary is the deterministic fallback used when the LLM is
// unavailable: totals, per-category expenditure, the top category, and a
// canned evaluation sentence.
func localSummary(totalIncome, totalExpense float64, byCategory map[string]float64) json.RawMessage {
	topCategory := ""
	categories := make([]string, 0, len(byCategory))
	for c := range byCategory {
		categories = append(categories, c)
	}
	sort.Slice(categories, func(i, j int) bool {
		if byCategory[categories[i]] != byCategory[categories[j]] {
			return byCategory[categories[i]] > byCategory[categories[j]]
		}
		return categories[i] < categories[j]
	})
	if len(categories) > 0 {
		topCategory = categories[0]
	}

	raw, _ := json.Marshal(map[string]any{
		"총_수입":           totalIncome,
		"총_지출":           totalExpense,
		"남은_금액":          totalIncome - totalExpense,
		"카테고리별_지출":       byCategory,
		"가장_많이_지출한_카테고리": topCategory,
		"지출_패턴_평가":       "이번 기간의 수입과 지출을 정리했어요. 아이와 함께 기록을 보며 소비 습관을 이야기해 보세요.",
	})
	return raw
}
