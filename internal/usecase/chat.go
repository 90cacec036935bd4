package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"support-agent/internal/domain"
)

const (
	defaultCostPerAnswer = 3
	defaultContextWindow = 8
	defaultMaxInputLen   = 500

	// Shown when the backend reports success but returns no text. Still
	// counts as a successful generation, so the debit goes through.
	emptyReplyFallback = "Sorry, I could not come up with an answer this time. Please try rephrasing."
)

type ParamGetter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

type LLMClient interface {
	Chat(ctx context.Context, model string, messages []domain.ChatMessage) (string, error)
}

// Ledger is the account and message-log surface the chat service consumes.
type Ledger interface {
	GetOrCreateAccount(ctx context.Context, userID int64) (domain.Account, error)
	SetFreeAnswers(ctx context.Context, userID int64, n int) error
	SetPaidCredits(ctx context.Context, userID int64, n int) error
	AppendTurn(ctx context.Context, userID int64, role, content string) error
	RecentTurns(ctx context.Context, userID int64, limit int) ([]domain.Turn, error)
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// ChatService runs the full metered pipeline for one incoming message:
// entitlement, context assembly, generation, persistence, consumption.
type ChatService struct {
	params        ParamGetter
	llm           LLMClient
	ledger        Ledger
	locks         *UserLocks
	paramPrefix   string
	costPerAnswer int
	contextWindow int
	maxInputLen   int

	cacheMu      sync.RWMutex
	cacheLoaded  bool
	systemPrompt string
	model        string
}

type ChatInput struct {
	UserID int64
	Text   string
}

type ChatOutput struct {
	Reply         string
	Kind          ConsumptionKind
	FreeRemaining int
	PaidCredits   int
}

func NewChatService(p ParamGetter, llm LLMClient, ledger Ledger, locks *UserLocks, paramPrefix string, costPerAnswer, contextWindow, maxInputLen int) (*ChatService, error) {
	if p == nil {
		return nil, errors.New("usecase: param getter must not be nil")
	}
	if llm == nil {
		return nil, errors.New("usecase: llm client must not be nil")
	}
	if ledger == nil {
		return nil, errors.New("usecase: ledger must not be nil")
	}
	if locks == nil {
		return nil, errors.New("usecase: user locks must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("usecase: parameter prefix must not be empty")
	}
	if costPerAnswer <= 0 {
		costPerAnswer = defaultCostPerAnswer
	}
	if contextWindow <= 0 {
		contextWindow = defaultContextWindow
	}
	if maxInputLen <= 0 {
		maxInputLen = defaultMaxInputLen
	}
	return &ChatService{
		params:        p,
		llm:           llm,
		ledger:        ledger,
		locks:         locks,
		paramPrefix:   paramPrefix,
		costPerAnswer: costPerAnswer,
		contextWindow: contextWindow,
		maxInputLen:   maxInputLen,
	}, nil
}

// Chat processes one user message. Nothing is persisted and nothing is
// debited until the generation backend has returned successfully; a denied or
// failed request leaves the ledger exactly as it was.
func (s *ChatService) Chat(ctx context.Context, in ChatInput) (ChatOutput, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return ChatOutput{}, newError(ErrorInvalidInput, "empty_message", nil)
	}
	if len(text) > s.maxInputLen {
		return ChatOutput{}, newError(ErrorInvalidInput, "message_too_long", nil)
	}
	if err := s.ensureConfig(ctx); err != nil {
		return ChatOutput{}, newError(ErrorInternal, "ssm_load_error", err)
	}

	acct, err := s.ledger.GetOrCreateAccount(ctx, in.UserID)
	if err != nil {
		return ChatOutput{}, newError(ErrorInternal, "ledger_account_error", err)
	}
	ent := Evaluate(acct, s.costPerAnswer)
	if !ent.Allowed {
		return ChatOutput{}, newError(ErrorNotEntitled, "insufficient_credits", nil)
	}

	history, err := s.ledger.RecentTurns(ctx, in.UserID, s.contextWindow)
	if err != nil {
		return ChatOutput{}, newError(ErrorInternal, "ledger_history_error", err)
	}

	reply, err := s.llm.Chat(ctx, s.model, buildChatMessages(s.systemPrompt, history, text))
	if err != nil {
		if status, ok := upstreamStatusCode(err); ok && status == 429 {
			return ChatOutput{}, newError(ErrorRateLimited, "openai_rate_limited", err)
		}
		return ChatOutput{}, newError(ErrorUpstream, "openai_error", err)
	}
	if strings.TrimSpace(reply) == "" {
		reply = emptyReplyFallback
	}

	if err := s.ledger.AppendTurn(ctx, in.UserID, domain.RoleUser, text); err != nil {
		return ChatOutput{}, newError(ErrorInternal, "ledger_append_error", err)
	}
	if err := s.ledger.AppendTurn(ctx, in.UserID, domain.RoleAssistant, reply); err != nil {
		return ChatOutput{}, newError(ErrorInternal, "ledger_append_error", err)
	}

	freeAfter, paidAfter, err := s.consume(ctx, in.UserID, ent.Kind)
	if err != nil {
		return ChatOutput{}, newError(ErrorInternal, "ledger_debit_error", err)
	}

	return ChatOutput{
		Reply:         reply,
		Kind:          ent.Kind,
		FreeRemaining: freeAfter,
		PaidCredits:   paidAfter,
	}, nil
}

// consume applies the debit for a successful generation. Balances are
// re-read under the user's lock rather than reusing the values captured
// before the backend call, so a concurrent debit that landed while the call
// was in flight is not overwritten. The zero floor is an invariant guard and
// should never trigger under correct sequencing.
func (s *ChatService) consume(ctx context.Context, userID int64, kind ConsumptionKind) (freeAfter, paidAfter int, err error) {
	unlock := s.locks.Lock(userID)
	defer unlock()

	acct, err := s.ledger.GetOrCreateAccount(ctx, userID)
	if err != nil {
		return 0, 0, fmt.Errorf("re-read balances: %w", err)
	}
	freeAfter, paidAfter = acct.FreeAnswers, acct.PaidCredits

	switch kind {
	case KindFree:
		freeAfter = max(0, acct.FreeAnswers-1)
		if err := s.ledger.SetFreeAnswers(ctx, userID, freeAfter); err != nil {
			return 0, 0, fmt.Errorf("debit free answer: %w", err)
		}
	case KindPaid:
		paidAfter = max(0, acct.PaidCredits-s.costPerAnswer)
		if err := s.ledger.SetPaidCredits(ctx, userID, paidAfter); err != nil {
			return 0, 0, fmt.Errorf("debit paid credits: %w", err)
		}
	default:
		return 0, 0, fmt.Errorf("unknown consumption kind %q", kind)
	}
	return freeAfter, paidAfter, nil
}

func (s *ChatService) ensureConfig(ctx context.Context) error {
	s.cacheMu.RLock()
	if s.cacheLoaded {
		s.cacheMu.RUnlock()
		return nil
	}
	s.cacheMu.RUnlock()

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.cacheLoaded {
		return nil
	}

	systemPrompt, err := s.params.GetParameter(ctx, s.paramPrefix+"/system_prompt")
	if err != nil {
		return fmt.Errorf("usecase: load system prompt: %w", err)
	}
	model, err := s.params.GetParameter(ctx, s.paramPrefix+"/config/openai_model")
	if err != nil {
		return fmt.Errorf("usecase: load openai model: %w", err)
	}

	s.systemPrompt = systemPrompt
	s.model = model
	s.cacheLoaded = true
	return nil
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}
