// Package budget tracks token spend per session and per task and enforces
// the per-session token budget before a request is allowed to reach a
// provider.
package budget

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shannon-ai/llm-gateway/pkg/types"
)

// DefaultSessionBudget is the per-session token allowance applied when the
// configuration does not override it.
const DefaultSessionBudget = 100_000

// ErrBudgetExceeded is wrapped by every budget rejection.
var ErrBudgetExceeded = errors.New("budget: session token budget exceeded")

// Usage is an accumulated ledger line.
type Usage struct {
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	TotalTokens  int       `json:"total_tokens"`
	CostUSD      float64   `json:"cost_usd"`
	Requests     int       `json:"requests"`
	LastActivity time.Time `json:"last_activity"`
}

// Tracker maintains session and task ledgers. It is safe for concurrent use.
type Tracker struct {
	mu       sync.Mutex
	sessions map[string]*Usage
	tasks    map[string]*Usage
	budget   int

	now func() time.Time
}

// New creates a Tracker enforcing sessionBudget tokens per session. A
// non-positive budget falls back to DefaultSessionBudget.
func New(sessionBudget int) *Tracker {
	if sessionBudget <= 0 {
		sessionBudget = DefaultSessionBudget
	}
	return &Tracker{
		sessions: make(map[string]*Usage),
		tasks:    make(map[string]*Usage),
		budget:   sessionBudget,
		now:      time.Now,
	}
}

// Budget returns the per-session allowance.
func (t *Tracker) Budget() int { return t.budget }

// SetBudget replaces the per-session allowance; used on config reload.
// Existing ledgers are kept.
func (t *Tracker) SetBudget(budget int) {
	if budget <= 0 {
		budget = DefaultSessionBudget
	}
	t.mu.Lock()
	t.budget = budget
	t.mu.Unlock()
}

// Check rejects the request when the session's spent tokens plus the
// estimate would exceed the budget. Requests without a session are never
// budget-limited.
func (t *Tracker) Check(sessionID string, estimatedTokens int) error {
	if sessionID == "" {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	spent := 0
	if u, ok := t.sessions[sessionID]; ok {
		spent = u.TotalTokens
	}
	if spent+estimatedTokens > t.budget {
		return fmt.Errorf("%w: session %q spent %d of %d tokens, request needs ~%d more",
			ErrBudgetExceeded, sessionID, spent, t.budget, estimatedTokens)
	}
	return nil
}

// Record adds usage to the session and task ledgers. It must be called
// exactly once per completed provider call, including the fallback case
// where only the successful provider's usage counts.
func (t *Tracker) Record(sessionID, taskID string, usage types.TokenUsage) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if sessionID != "" {
		t.add(t.sessions, sessionID, usage, now)
	}
	if taskID != "" {
		t.add(t.tasks, taskID, usage, now)
	}
}

func (t *Tracker) add(ledger map[string]*Usage, key string, usage types.TokenUsage, now time.Time) {
	u, ok := ledger[key]
	if !ok {
		u = &Usage{}
		ledger[key] = u
	}
	u.InputTokens += usage.InputTokens
	u.OutputTokens += usage.OutputTokens
	u.TotalTokens += usage.TotalTokens
	u.CostUSD += usage.EstimatedCost
	u.Requests++
	u.LastActivity = now
}

// SessionUsage returns a copy of the session's ledger line.
func (t *Tracker) SessionUsage(sessionID string) (Usage, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	u, ok := t.sessions[sessionID]
	if !ok {
		return Usage{}, false
	}
	return *u, true
}

// TaskUsage returns a copy of the task's ledger line.
func (t *Tracker) TaskUsage(taskID string) (Usage, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	u, ok := t.tasks[taskID]
	if !ok {
		return Usage{}, false
	}
	return *u, true
}

// Remaining returns the unspent budget for a session. Unknown sessions have
// the full budget remaining.
func (t *Tracker) Remaining(sessionID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	spent := 0
	if u, ok := t.sessions[sessionID]; ok {
		spent = u.TotalTokens
	}
	if spent >= t.budget {
		return 0
	}
	return t.budget - spent
}

// Report is the aggregate view served by the usage endpoint.
type Report struct {
	SessionBudget int              `json:"session_budget"`
	Sessions      map[string]Usage `json:"sessions"`
	Tasks         map[string]Usage `json:"tasks"`
	TotalTokens   int              `json:"total_tokens"`
	TotalCostUSD  float64          `json:"total_cost_usd"`
}

// Snapshot returns a copy of both ledgers with totals.
func (t *Tracker) Snapshot() Report {
	t.mu.Lock()
	defer t.mu.Unlock()

	rep := Report{
		SessionBudget: t.budget,
		Sessions:      make(map[string]Usage, len(t.sessions)),
		Tasks:         make(map[string]Usage, len(t.tasks)),
	}
	for k, u := range t.sessions {
		rep.Sessions[k] = *u
		rep.TotalTokens += u.TotalTokens
		rep.TotalCostUSD += u.CostUSD
	}
	for k, u := range t.tasks {
		rep.Tasks[k] = *u
	}
	return rep
}

// Expire removes ledger lines idle for longer than maxIdle and returns how
// many were dropped. Long-running deployments call this periodically so the
// ledgers do not grow without bound.
func (t *Tracker) Expire(maxIdle time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.now().Add(-maxIdle)
	dropped := 0
	for _, ledger := range []map[string]*Usage{t.sessions, t.tasks} {
		var stale []string
		for k, u := range ledger {
			if u.LastActivity.Before(cutoff) {
				stale = append(stale, k)
			}
		}
		sort.Strings(stale)
		for _, k := range stale {
			delete(ledger, k)
			dropped++
		}
	}
	return dropped
}
