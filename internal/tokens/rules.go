package tokens

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/tiktoken-go/tokenizer"
)

var (
	// ErrUnsupportedModel is returned when no counting rule matches a model.
	ErrUnsupportedModel = errors.New("tokens: unsupported model")

	// ErrInvalidRule is returned by NewRuleSet for unusable rules.
	ErrInvalidRule = errors.New("tokens: invalid counting rule")
)

// DefaultRulesVersion identifies the built-in overhead table.
const DefaultRulesVersion = "openai-2025-01"

// Rule holds the counting convention for a family of models.
//
// Overheads follow the chat markup OpenAI documents for its models: every
// message is wrapped in <|start|>{role}<|message|>{content}<|end|>, and every
// reply is primed with <|start|>assistant<|message|>.
type Rule struct {
	Name     string             `json:"name"`
	Models   []string           `json:"models,omitempty"`
	Prefixes []string           `json:"prefixes,omitempty"`
	Encoding tokenizer.Encoding `json:"encoding"`

	TokensPerMessage        int `json:"tokens_per_message"`
	TokensPerName           int `json:"tokens_per_name"`
	TokensPerToolCall       int `json:"tokens_per_tool_call"`
	TokensPerToolDefinition int `json:"tokens_per_tool_definition"`
	ReplyPriming            int `json:"reply_priming"`

	// ContextWindow is the model's total token limit, 0 if unknown.
	ContextWindow int `json:"context_window,omitempty"`
}

var knownEncodings = map[tokenizer.Encoding]struct{}{
	tokenizer.R50kBase:   {},
	tokenizer.P50kBase:   {},
	tokenizer.Cl100kBase: {},
	tokenizer.O200kBase:  {},
}

func (r Rule) validate() error {
	if r.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidRule)
	}
	if len(r.Models) == 0 && len(r.Prefixes) == 0 {
		return fmt.Errorf("%w: rule %q has no models or prefixes", ErrInvalidRule, r.Name)
	}
	for _, p := range r.Prefixes {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("%w: rule %q has an empty prefix", ErrInvalidRule, r.Name)
		}
	}
	if _, ok := knownEncodings[r.Encoding]; !ok {
		return fmt.Errorf("%w: rule %q has unknown encoding %q", ErrInvalidRule, r.Name, r.Encoding)
	}
	// Negative values here could make a split conversation cheaper than the
	// whole, or a tool call free.
	switch {
	case r.TokensPerMessage < 0:
		return fmt.Errorf("%w: rule %q tokens_per_message must be >= 0", ErrInvalidRule, r.Name)
	case r.TokensPerToolCall < 0:
		return fmt.Errorf("%w: rule %q tokens_per_tool_call must be >= 0", ErrInvalidRule, r.Name)
	case r.TokensPerToolDefinition < 0:
		return fmt.Errorf("%w: rule %q tokens_per_tool_definition must be >= 0", ErrInvalidRule, r.Name)
	case r.ReplyPriming < 0:
		return fmt.Errorf("%w: rule %q reply_priming must be >= 0", ErrInvalidRule, r.Name)
	case r.TokensPerName < -1:
		return fmt.Errorf("%w: rule %q tokens_per_name must be >= -1", ErrInvalidRule, r.Name)
	case r.ContextWindow < 0:
		return fmt.Errorf("%w: rule %q context_window must be >= 0", ErrInvalidRule, r.Name)
	}
	return nil
}

// RuleSet is an immutable, versioned table of counting rules.
type RuleSet struct {
	version  string
	rules    []Rule
	matchers []*ModelMatcher
}

// NewRuleSet validates rules and builds a lookup table.
func NewRuleSet(version string, rules []Rule) (*RuleSet, error) {
	if len(rules) == 0 {
		return nil, fmt.Errorf("%w: at least one rule is required", ErrInvalidRule)
	}

	rs := &RuleSet{version: version}
	seen := make(map[string]struct{}, len(rules))
	for _, r := range rules {
		if err := r.validate(); err != nil {
			return nil, err
		}
		if _, dup := seen[r.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate rule name %q", ErrInvalidRule, r.Name)
		}
		seen[r.Name] = struct{}{}

		r.Models = normalizeAll(r.Models)
		r.Prefixes = normalizeAll(r.Prefixes)
		rs.rules = append(rs.rules, r)
		rs.matchers = append(rs.matchers, NewModelMatcher(r.Prefixes, r.Models))
	}
	return rs, nil
}

// Version returns the rule table version.
func (rs *RuleSet) Version() string {
	return rs.version
}

// Rules returns a copy of the rules, sorted by name.
func (rs *RuleSet) Rules() []Rule {
	out := make([]Rule, len(rs.rules))
	copy(out, rs.rules)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Lookup returns the rule for model. Exact model names win over prefixes,
// and the longest matching prefix wins among prefixes.
func (rs *RuleSet) Lookup(model string) (Rule, error) {
	name := normalizeModel(model)
	if name == "" {
		return Rule{}, fmt.Errorf("%w: model is required", ErrUnsupportedModel)
	}

	best, bestScore := -1, 0
	for i, m := range rs.matchers {
		if score := m.Score(name); score > bestScore {
			best, bestScore = i, score
		}
	}
	if best < 0 {
		return Rule{}, fmt.Errorf("%w: %s", ErrUnsupportedModel, model)
	}
	return rs.rules[best], nil
}

// Supports reports whether a rule matches model.
func (rs *RuleSet) Supports(model string) bool {
	_, err := rs.Lookup(model)
	return err == nil
}

// normalizeModel lowercases the id and drops a provider prefix such as
// "openai/gpt-4o".
func normalizeModel(model string) string {
	model = strings.ToLower(strings.TrimSpace(model))
	if i := strings.LastIndex(model, "/"); i >= 0 {
		model = model[i+1:]
	}
	return model
}

func normalizeAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, strings.ToLower(strings.TrimSpace(s)))
	}
	return out
}

// DefaultRules returns the built-in rules for OpenAI chat models.
func DefaultRules() []Rule {
	chat := func(name string, enc tokenizer.Encoding, window int, models, prefixes []string) Rule {
		return Rule{
			Name:                    name,
			Models:                  models,
			Prefixes:                prefixes,
			Encoding:                enc,
			TokensPerMessage:        3,
			TokensPerName:           1,
			TokensPerToolCall:       3,
			TokensPerToolDefinition: 7,
			ReplyPriming:            3,
			ContextWindow:           window,
		}
	}

	legacy := chat("gpt-3.5-turbo-0301", tokenizer.Cl100kBase, 4096, []string{"gpt-3.5-turbo-0301"}, nil)
	// gpt-3.5-turbo-0301 wrapped every message in an extra token and the
	// role was dropped when a name was present.
	legacy.TokensPerMessage = 4
	legacy.TokensPerName = -1

	return []Rule{
		legacy,
		chat("gpt-3.5-turbo", tokenizer.Cl100kBase, 16385, nil, []string{"gpt-3.5-turbo"}),
		chat("gpt-4", tokenizer.Cl100kBase, 8192, nil, []string{"gpt-4"}),
		chat("gpt-4-32k", tokenizer.Cl100kBase, 32768, nil, []string{"gpt-4-32k"}),
		chat("gpt-4-turbo", tokenizer.Cl100kBase, 128000,
			[]string{"gpt-4-1106-preview", "gpt-4-0125-preview", "gpt-4-vision-preview"},
			[]string{"gpt-4-turbo"}),
		chat("gpt-4o", tokenizer.O200kBase, 128000, nil, []string{"gpt-4o", "chatgpt-4o"}),
		chat("gpt-4.1", tokenizer.O200kBase, 1047576, nil, []string{"gpt-4.1"}),
		chat("o-series", tokenizer.O200kBase, 200000, nil, []string{"o1", "o3", "o4-mini"}),
		chat("gpt-5", tokenizer.O200kBase, 400000, nil, []string{"gpt-5"}),
	}
}

// DefaultRuleSet returns the built-in rule set.
func DefaultRuleSet() *RuleSet {
	rs, err := NewRuleSet(DefaultRulesVersion, DefaultRules())
	if err != nil {
		panic(fmt.Sprintf("tokens: built-in rules are invalid: %v", err))
	}
	return rs
}
