// Package orchestrator implements the Turn Orchestrator: the per-turn
// pipeline that buffers conversation, retrieves context, calls the
// reply LLM synchronously, and schedules extraction in the background
// without ever letting it delay the reply.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/nimlabs/memoria/core"
	"github.com/nimlabs/memoria/errs"
	"github.com/nimlabs/memoria/extraction"
	"github.com/nimlabs/memoria/identity"
	"github.com/nimlabs/memoria/retrieval"
	"github.com/nimlabs/memoria/role"
	"github.com/nimlabs/memoria/store"
)

// bufferCap is the soft cap on the in-memory per-session message
// buffer: oldest messages are evicted past this.
const bufferCap = 50

// sessionIdleEvictAfter and evictionSweepInterval bound the per-session
// mutex map's growth: a low-frequency sweep reaps entries idle past
// this threshold.
const (
	sessionIdleEvictAfter  = 30 * time.Minute
	evictionSweepInterval  = 5 * time.Minute
	defaultReplyMaxTokens  = 1024
)

// Options carries the per-call overrides a chat turn may supply.
type Options struct {
	ExtractNow                bool
	Username                  string
	MinImportanceOverride     int
	MaxContextMemoriesOverride int
}

// Meta is the bookkeeping returned alongside a reply.
type Meta struct {
	MemoryExtracted bool
	MessageCount    int
	FragmentsUsed   int
}

// sessionState is the Orchestrator's per-session buffer, turn counter,
// and serialization lock. A session's entire per-turn pipeline runs
// under mu, so turns for one session_id are strictly ordered; distinct
// sessions run fully in parallel.
type sessionState struct {
	mu          sync.Mutex
	buffer      []core.Message
	turnCount   int
	lastTouched time.Time
}

func (s *sessionState) push(msg core.Message) {
	s.buffer = append(s.buffer, msg)
	if len(s.buffer) > bufferCap {
		s.buffer = s.buffer[len(s.buffer)-bufferCap:]
	}
}

func (s *sessionState) window(w int) []core.Message {
	if w <= 0 || w > len(s.buffer) {
		w = len(s.buffer)
	}
	out := make([]core.Message, w)
	copy(out, s.buffer[len(s.buffer)-w:])
	return out
}

// Orchestrator wires the Retriever, the identity and role
// collaborators, and the background extraction pool into the single
// chat operation. It is a process-wide singleton, like the store and
// embedding adapter it sits above.
type Orchestrator struct {
	identity  *identity.Store
	roles     *role.Registry
	retriever *retrieval.Retriever
	pool      *extraction.Pool

	replyClient *anthropic.Client
	replyModel  string

	extractThreshold int
	extractWindow    int
	maxContext       int
	minImportance    int

	mu       sync.Mutex
	sessions map[string]*sessionState
}

// Config bundles the tunables Orchestrator needs from process
// configuration, avoiding a direct dependency on the config package.
type Config struct {
	ReplyModel             string
	ExtractThreshold       int
	ExtractWindow          int
	MaxContextMemories     int
	MinImportance          int
}

// New builds an Orchestrator. replyClient is the anthropic-sdk-go
// client used for the synchronous reply call; pool is the background
// extraction worker pool already wired to its own Engine and Store.
func New(replyClient *anthropic.Client, roles *role.Registry, ident *identity.Store, retriever *retrieval.Retriever, pool *extraction.Pool, cfg Config) *Orchestrator {
	if cfg.MaxContextMemories <= 0 {
		cfg.MaxContextMemories = 5
	}
	if cfg.MinImportance <= 0 {
		cfg.MinImportance = 5
	}
	if cfg.ExtractThreshold <= 0 {
		cfg.ExtractThreshold = 4
	}
	if cfg.ExtractWindow <= 0 {
		cfg.ExtractWindow = cfg.ExtractThreshold * 2
	}
	return &Orchestrator{
		identity:         ident,
		roles:            roles,
		retriever:        retriever,
		pool:             pool,
		replyClient:      replyClient,
		replyModel:       cfg.ReplyModel,
		extractThreshold: cfg.ExtractThreshold,
		extractWindow:    cfg.ExtractWindow,
		maxContext:       cfg.MaxContextMemories,
		minImportance:    cfg.MinImportance,
		sessions:         make(map[string]*sessionState),
	}
}

// StartEvictionSweep runs a low-frequency background sweep reaping
// per-session mutex entries idle longer than sessionIdleEvictAfter, so
// a long-lived process does not accumulate an unbounded session map.
// It returns immediately; the sweep stops when ctx is cancelled.
func (o *Orchestrator) StartEvictionSweep(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(evictionSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				o.sweepIdleSessions()
			}
		}
	}()
}

func (o *Orchestrator) sweepIdleSessions() {
	cutoff := time.Now().Add(-sessionIdleEvictAfter)
	o.mu.Lock()
	defer o.mu.Unlock()
	for id, st := range o.sessions {
		if st.lastTouched.Before(cutoff) {
			delete(o.sessions, id)
		}
	}
}

func (o *Orchestrator) getOrCreateSessionState(sessionID string) *sessionState {
	o.mu.Lock()
	defer o.mu.Unlock()
	st, ok := o.sessions[sessionID]
	if !ok {
		st = &sessionState{lastTouched: time.Now()}
		o.sessions[sessionID] = st
	}
	return st
}

// Chat runs one full turn: resolve identity, buffer the user message,
// retrieve context, call the reply LLM, buffer the reply, and
// conditionally schedule background extraction. Extraction scheduling
// never blocks the returned reply.
func (o *Orchestrator) Chat(ctx context.Context, userID, sessionID, roleID, userText string, opts Options) (string, Meta, error) {
	r, ok := o.roles.Get(roleID)
	if !ok {
		if roleID == "" {
			r, ok = o.roles.Get(role.Default)
		}
		if !ok {
			return "", Meta{}, errs.New(errs.KindInvalidRole, fmt.Sprintf("role %q is not registered", roleID))
		}
		roleID = role.Default
	}

	user, err := o.identity.EnsureUser(userID, opts.Username)
	if err != nil {
		return "", Meta{}, err
	}
	sess, err := o.identity.EnsureSession(sessionID, user.UserID, roleID)
	if err != nil {
		return "", Meta{}, err
	}

	scope := core.Scope{UserID: user.UserID, SessionID: sess.SessionID, RoleID: roleID}

	st := o.getOrCreateSessionState(sess.SessionID)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.lastTouched = time.Now()

	userMsg := core.Message{
		SessionID: sess.SessionID,
		Speaker:   core.SpeakerUser,
		Content:   userText,
		Timestamp: time.Now(),
	}
	st.push(userMsg)
	if err := o.identity.AppendMessage(sess.SessionID, userMsg); err != nil {
		log.Printf("[ORCHESTRATOR] failed to persist user message for session=%s: %v", sess.SessionID, err)
	}

	maxContext := o.maxContext
	if opts.MaxContextMemoriesOverride > 0 {
		maxContext = opts.MaxContextMemoriesOverride
	}
	minImportance := o.minImportance
	if opts.MinImportanceOverride > 0 {
		minImportance = opts.MinImportanceOverride
	}

	retrievalCfg := retrieval.Config{
		TopK:            maxContext,
		MinImportance:   minImportance,
		BoostRecent:     true,
		BoostImportance: true,
		DiversityPenalty: 0.3,
	}

	fragments, err := o.retriever.Select(ctx, scope, userText, retrievalCfg)
	if err != nil {
		// Query-path embedding/store failures degrade gracefully: the
		// reply continues with no injected memory.
		log.Printf("[ORCHESTRATOR] retrieval failed for scope=%s: %v", scope.Key(), err)
		fragments = nil
	}

	prompt := assemblePrompt(r, fragments, st.buffer, userText)

	replyText, err := o.callReplyLLM(ctx, prompt)
	if err != nil {
		return "", Meta{}, replyError(err)
	}

	assistantMsg := core.Message{
		SessionID: sess.SessionID,
		Speaker:   core.SpeakerAssistant,
		Content:   replyText,
		Timestamp: time.Now(),
	}
	st.push(assistantMsg)
	if err := o.identity.AppendMessage(sess.SessionID, assistantMsg); err != nil {
		log.Printf("[ORCHESTRATOR] failed to persist assistant message for session=%s: %v", sess.SessionID, err)
	}
	st.turnCount++

	extracted := false
	if opts.ExtractNow || st.turnCount%o.extractThreshold == 0 {
		window := st.window(o.extractWindow)
		o.pool.Schedule(scope, window)
		extracted = true
	}

	return replyText, Meta{
		MemoryExtracted: extracted,
		MessageCount:    len(st.buffer),
		FragmentsUsed:   len(fragments),
	}, nil
}

// assemblePrompt builds the system+context+history+query prompt: role
// system prompt, memory block grouped by speaker, few-shot examples,
// history tail, then the current user text.
func assemblePrompt(r core.Role, fragments []*core.MemoryFragment, history []core.Message, userText string) string {
	var b strings.Builder

	b.WriteString(r.SystemPrompt)
	b.WriteString("\n\n")

	if len(fragments) > 0 {
		b.WriteString("Relevant memories:\n")
		for _, sp := range []core.Speaker{core.SpeakerUser, core.SpeakerAssistant} {
			for _, f := range fragments {
				if f.Speaker == sp {
					fmt.Fprintf(&b, "- [%s] %s\n", f.Speaker, f.Content)
				}
			}
		}
		b.WriteString("\n")
	}

	for _, ex := range r.FewShotExamples {
		fmt.Fprintf(&b, "User: %s\nAssistant: %s\n", ex.User, ex.Assistant)
	}

	historyTail := history
	if len(historyTail) > 10 {
		historyTail = historyTail[len(historyTail)-10:]
	}
	for _, m := range historyTail {
		fmt.Fprintf(&b, "%s: %s\n", m.Speaker, m.Content)
	}

	fmt.Fprintf(&b, "user: %s\n", userText)

	return b.String()
}

func (o *Orchestrator) callReplyLLM(ctx context.Context, prompt string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(o.replyModel),
		MaxTokens: defaultReplyMaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}

	resp, err := o.replyClient.Messages.New(ctx, params)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	return out.String(), nil
}

func replyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return errs.Wrap(errs.KindLLMTimeout, err, "reply LLM call timed out")
	}
	return errs.Wrap(errs.KindLLMUnavailable, err, "reply LLM call failed")
}

// SortFragmentsByScore is a small convenience for callers (e.g.
// httpapi) that list fragments and must preserve descending importance
// order.
func SortFragmentsByScore(fragments []*core.MemoryFragment) {
	sort.SliceStable(fragments, func(i, j int) bool {
		return fragments[i].ImportanceScore > fragments[j].ImportanceScore
	})
}
