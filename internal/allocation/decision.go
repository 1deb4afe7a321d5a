package allocation

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pos-platform/stock-service/internal/domain"
)

// PromptKind identifies the question put to the operator.
type PromptKind string

const (
	// PromptTransfer asks to move the shelf shortfall up from MAIN_STORE.
	PromptTransfer PromptKind = "TRANSFER"
	// PromptTwoStepTransfer asks to move stock WEB -> MAIN_STORE -> SHELF.
	PromptTwoStepTransfer PromptKind = "TWO_STEP_TRANSFER"
	// PromptPartial asks whether to sell less than requested.
	PromptPartial PromptKind = "PARTIAL"
)

// ErrNoScriptedAnswer is returned by a ScriptedDecider that ran out of answers.
var ErrNoScriptedAnswer = errors.New("no scripted answer left")

// TransferLeg is one move of stock between two tiers.
type TransferLeg struct {
	From     domain.StockLocation `json:"from"`
	To       domain.StockLocation `json:"to"`
	Quantity int                  `json:"quantity"`
}

func (l TransferLeg) String() string {
	return fmt.Sprintf("%d %s->%s", l.Quantity, l.From, l.To)
}

// Prompt carries everything an operator needs to answer a question.
type Prompt struct {
	Kind        PromptKind                   `json:"kind"`
	ProductCode string                       `json:"productCode"`
	Requested   int                          `json:"requested"`
	Available   map[domain.StockLocation]int `json:"available"`
	Legs        []TransferLeg                `json:"legs,omitempty"`
	Offered     int                          `json:"offered,omitempty"`
	// Sellable is what an approved partial prompt takes. It is below
	// Offered when the offer counts stock in tiers the sale cannot draw on.
	Sellable int    `json:"sellable,omitempty"`
	Message  string `json:"message"`
}

// Decider answers prompts. Returning an error aborts the allocation.
type Decider interface {
	Decide(ctx context.Context, prompt Prompt) (bool, error)
}

// DecisionFunc adapts a function to Decider.
type DecisionFunc func(ctx context.Context, prompt Prompt) (bool, error)

func (f DecisionFunc) Decide(ctx context.Context, prompt Prompt) (bool, error) {
	return f(ctx, prompt)
}

var (
	// AlwaysApprove confirms every prompt.
	AlwaysApprove Decider = DecisionFunc(func(context.Context, Prompt) (bool, error) { return true, nil })
	// AlwaysDecline declines every prompt.
	AlwaysDecline Decider = DecisionFunc(func(context.Context, Prompt) (bool, error) { return false, nil })
)

// PolicyDecider answers from fixed flags. It is how non-interactive callers,
// such as the HTTP API, express the operator's intent up front.
type PolicyDecider struct {
	ApproveTransfers bool
	AcceptPartial    bool
}

func (p PolicyDecider) Decide(_ context.Context, prompt Prompt) (bool, error) {
	switch prompt.Kind {
	case PromptTransfer, PromptTwoStepTransfer:
		return p.ApproveTransfers, nil
	case PromptPartial:
		return p.AcceptPartial, nil
	default:
		return false, fmt.Errorf("unknown prompt kind %q", prompt.Kind)
	}
}

// ScriptedDecider replays a fixed list of answers and records the prompts
// it was asked.
type ScriptedDecider struct {
	mu      sync.Mutex
	answers []bool
	prompts []Prompt
}

// NewScriptedDecider creates a decider that answers in the given order.
func NewScriptedDecider(answers ...bool) *ScriptedDecider {
	return &ScriptedDecider{answers: answers}
}

func (s *ScriptedDecider) Decide(_ context.Context, prompt Prompt) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.prompts = append(s.prompts, prompt)
	if len(s.answers) == 0 {
		return false, fmt.Errorf("%w for %s prompt", ErrNoScriptedAnswer, prompt.Kind)
	}
	answer := s.answers[0]
	s.answers = s.answers[1:]
	return answer, nil
}

// Prompts returns the prompts asked so far.
func (s *ScriptedDecider) Prompts() []Prompt {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Prompt, len(s.prompts))
	copy(out, s.prompts)
	return out
}

// Kinds returns the kinds of the prompts asked so far.
func (s *ScriptedDecider) Kinds() []PromptKind {
	prompts := s.Prompts()
	kinds := make([]PromptKind, len(prompts))
	for i, p := range prompts {
		kinds[i] = p.Kind
	}
	return kinds
}
