package routing

import (
	"sort"
	"strings"

	"github.com/wolfman30/ciro-tutor/internal/agents"
	"github.com/wolfman30/ciro-tutor/internal/config"
	"github.com/wolfman30/ciro-tutor/pkg/logging"
)

// Rule names, also used as the decision label in logs and metrics.
const (
	RuleUrgent           = "urgent"
	RulePendingSelection = "pending-selection"
	RuleSingle           = "single"
	RuleMulti            = "multi"
	RuleContinuity       = "continuity"
	RuleClarify          = "clarify"
	RuleFallback         = "fallback"
)

// State is the slice of session state the resolver reads.
type State struct {
	AwaitingClarification bool
	Offered               []string
	ClarificationRounds   int
	LastHandlers          []string
	LastDispatchTurn      int
	// TurnIndex is the 1-based index of the current user turn.
	TurnIndex int
}

// Input is everything a rule may inspect.
type Input struct {
	Message    string
	Candidates []Candidate
	State      State
}

// Decision is the outcome of resolution: either handlers to dispatch or a
// clarification to ask.
type Decision struct {
	Rule     string
	Handlers []string
	Clarify  bool
	Offered  []string
	Urgent   bool
}

// Rule is one row of the resolution table. Apply reports whether it fired.
type Rule struct {
	Name  string
	Apply func(in *Input) (Decision, bool)
}

// Resolver evaluates its rule table in order; the first rule that fires wins.
type Resolver struct {
	rules    []Rule
	registry *agents.Registry
	logger   *logging.Logger
}

// ResolverOption customizes a Resolver.
type ResolverOption func(*resolverConfig)

type resolverConfig struct {
	overlap Overlap
	rules   []Rule
	logger  *logging.Logger
}

// WithOverlap swaps the overlap strategy used by the multi rule.
func WithOverlap(o Overlap) ResolverOption {
	return func(c *resolverConfig) {
		if o != nil {
			c.overlap = o
		}
	}
}

// WithRules replaces the rule table.
func WithRules(rules []Rule) ResolverOption {
	return func(c *resolverConfig) {
		c.rules = rules
	}
}

func WithResolverLogger(logger *logging.Logger) ResolverOption {
	return func(c *resolverConfig) {
		c.logger = logger
	}
}

func NewResolver(reg *agents.Registry, cfg *config.Routing, opts ...ResolverOption) *Resolver {
	if reg == nil {
		panic("routing: registry cannot be nil")
	}
	if cfg == nil {
		cfg = config.DefaultRouting()
	}
	rc := resolverConfig{overlap: KeywordOverlap{}}
	for _, opt := range opts {
		opt(&rc)
	}
	if rc.logger == nil {
		rc.logger = logging.Default()
	}
	rules := rc.rules
	if rules == nil {
		rules = DefaultRules(reg, cfg, rc.overlap)
	}
	return &Resolver{rules: rules, registry: reg, logger: rc.logger}
}

// Resolve runs the rule table once. When no rule fires the catch-all handler
// answers.
func (r *Resolver) Resolve(in Input) Decision {
	for _, rule := range r.rules {
		if d, ok := rule.Apply(&in); ok {
			if d.Rule == "" {
				d.Rule = rule.Name
			}
			r.logger.Debug("routing decision", "rule", d.Rule, "handlers", d.Handlers, "offered", d.Offered)
			return d
		}
	}
	return Decision{Rule: RuleFallback, Handlers: []string{r.registry.CatchAll()}}
}

// DefaultRules builds the standard table: urgent, pending-selection, single,
// multi, continuity, clarify, fallback.
func DefaultRules(reg *agents.Registry, cfg *config.Routing, overlap Overlap) []Rule {
	if overlap == nil {
		overlap = KeywordOverlap{}
	}
	rs := &ruleSet{
		reg:          reg,
		cfg:          cfg,
		overlap:      overlap,
		affirmatives: compilePhrases(cfg.Affirmatives),
		scopes:       make(map[string][]phrase),
	}
	for _, p := range reg.Routable() {
		rs.scopes[p.Name] = compilePhrases(p.Scope)
	}
	return []Rule{
		{Name: RuleUrgent, Apply: rs.urgent},
		{Name: RulePendingSelection, Apply: rs.pendingSelection},
		{Name: RuleSingle, Apply: rs.single},
		{Name: RuleMulti, Apply: rs.multi},
		{Name: RuleContinuity, Apply: rs.continuity},
		{Name: RuleClarify, Apply: rs.clarify},
		{Name: RuleFallback, Apply: rs.fallback},
	}
}

type ruleSet struct {
	reg          *agents.Registry
	cfg          *config.Routing
	overlap      Overlap
	affirmatives []phrase
	scopes       map[string][]phrase
}

func (rs *ruleSet) urgent(in *Input) (Decision, bool) {
	for _, c := range in.Candidates {
		if !c.Slots.Urgent || c.Confidence < rs.cfg.UrgentFloor {
			continue
		}
		handler := rs.reg.Urgent()
		if handler == "" {
			handler = c.Handler
		}
		return Decision{Handlers: []string{handler}, Urgent: true}, true
	}
	return Decision{}, false
}

var (
	firstOrdinals  = map[string]bool{"first": true, "1": true, "1st": true, "former": true}
	secondOrdinals = map[string]bool{"second": true, "2": true, "2nd": true, "latter": true}
	declines       = map[string]bool{"no": true, "nope": true, "neither": true, "none": true}
)

func (rs *ruleSet) pendingSelection(in *Input) (Decision, bool) {
	st := in.State
	if !st.AwaitingClarification || len(st.Offered) == 0 {
		return Decision{}, false
	}
	tokens := Tokenize(in.Message)
	if len(tokens) == 0 || len(tokens) > rs.cfg.ShortReplyWords {
		return Decision{}, false
	}

	if handler, ok := rs.namedSelection(tokens, st.Offered); ok {
		return Decision{Handlers: []string{handler}}, true
	}
	for _, tok := range tokens {
		if secondOrdinals[tok] && len(st.Offered) > 1 {
			return Decision{Handlers: []string{st.Offered[1]}}, true
		}
	}
	for _, tok := range tokens {
		if firstOrdinals[tok] {
			return Decision{Handlers: []string{st.Offered[0]}}, true
		}
	}
	for _, tok := range tokens {
		if declines[tok] {
			return Decision{}, false
		}
	}
	if containsAny(tokens, rs.affirmatives) {
		return Decision{Handlers: []string{st.Offered[0]}}, true
	}
	return Decision{}, false
}

// namedSelection scores each offered handler by its name, label words and
// scope keywords appearing in the reply. Only a unique best score selects.
func (rs *ruleSet) namedSelection(tokens []string, offered []string) (string, bool) {
	best, bestScore, tie := "", 0, false
	for _, name := range offered {
		score := 0
		if containsAny(tokens, compilePhrases([]string{name})) {
			score += 3
		}
		for _, w := range Tokenize(rs.reg.Label(name)) {
			if len(w) < 4 {
				continue
			}
			for _, tok := range tokens {
				if tokenMatches(tok, w) {
					score++
					break
				}
			}
		}
		if _, hits := matchPhrases(tokens, rs.scopes[name]); hits > 0 {
			score += 2 * hits
		}
		switch {
		case score > bestScore:
			best, bestScore, tie = name, score, false
		case score == bestScore && score > 0:
			tie = true
		}
	}
	if bestScore == 0 || tie {
		return "", false
	}
	return best, true
}

func (rs *ruleSet) confident(cands []Candidate) []Candidate {
	var out []Candidate
	for _, c := range cands {
		if c.Confidence >= rs.cfg.ConfidenceThreshold {
			out = append(out, c)
		}
	}
	return out
}

func (rs *ruleSet) single(in *Input) (Decision, bool) {
	confident := rs.confident(in.Candidates)
	if len(confident) != 1 {
		return Decision{}, false
	}
	top := confident[0]
	for _, c := range in.Candidates {
		if c.Handler == top.Handler {
			continue
		}
		if c.Confidence > top.Confidence-rs.cfg.DisjointMargin {
			return Decision{}, false
		}
	}
	return Decision{Handlers: []string{top.Handler}}, true
}

func (rs *ruleSet) multi(in *Input) (Decision, bool) {
	confident := rs.confident(in.Candidates)
	if len(confident) < 2 || !pairwiseDisjoint(confident, rs.overlap) {
		return Decision{}, false
	}
	handlers := make([]string, len(confident))
	for i, c := range confident {
		handlers[i] = c.Handler
	}
	rs.sortByRank(handlers)
	return Decision{Handlers: handlers}, true
}

func (rs *ruleSet) continuity(in *Input) (Decision, bool) {
	st := in.State
	if len(st.LastHandlers) == 0 || !hasFollowUp(in.Candidates) {
		return Decision{}, false
	}
	for _, c := range rs.confident(in.Candidates) {
		if c.Handler != rs.reg.CatchAll() {
			return Decision{}, false
		}
	}
	if st.TurnIndex-st.LastDispatchTurn > rs.cfg.ContinuityWindow {
		return Decision{}, false
	}
	var handlers []string
	for _, h := range st.LastHandlers {
		if _, ok := rs.reg.Profile(h); ok {
			handlers = appendUnique(handlers, h)
		}
	}
	if len(handlers) == 0 {
		return Decision{}, false
	}
	rs.sortByRank(handlers)
	return Decision{Handlers: handlers}, true
}

func (rs *ruleSet) clarify(in *Input) (Decision, bool) {
	if in.State.ClarificationRounds >= rs.cfg.ClarificationLimit {
		return Decision{}, false
	}
	plausible := rs.plausible(in.Candidates)
	if len(plausible) == 0 {
		return Decision{}, false
	}
	if len(plausible) > 2 {
		plausible = plausible[:2]
	}
	offered := make([]string, len(plausible))
	for i, c := range plausible {
		offered[i] = c.Handler
	}
	return Decision{Clarify: true, Offered: offered}, true
}

func (rs *ruleSet) fallback(in *Input) (Decision, bool) {
	st := in.State
	if st.AwaitingClarification && len(st.Offered) > 0 {
		best, bestConf := "", -1.0
		for _, name := range st.Offered {
			conf := 0.0
			if c, ok := findCandidate(in.Candidates, name); ok {
				conf = c.Confidence
			}
			if conf > bestConf || (conf == bestConf && rs.reg.Rank(name) < rs.reg.Rank(best)) {
				best, bestConf = name, conf
			}
		}
		return Decision{Handlers: []string{best}}, true
	}
	if plausible := rs.plausible(in.Candidates); len(plausible) > 0 {
		return Decision{Handlers: []string{plausible[0].Handler}}, true
	}
	return Decision{Handlers: []string{rs.reg.CatchAll()}}, true
}

// plausible returns candidates that scored above the catch-all floor, best
// first.
func (rs *ruleSet) plausible(cands []Candidate) []Candidate {
	var out []Candidate
	for _, c := range cands {
		if c.Confidence > rs.cfg.CatchAllConfidence {
			out = append(out, c)
		}
	}
	SortCandidates(out, rs.reg)
	return out
}

func (rs *ruleSet) sortByRank(handlers []string) {
	sort.SliceStable(handlers, func(i, j int) bool {
		return rs.reg.Rank(handlers[i]) < rs.reg.Rank(handlers[j])
	})
}

func hasFollowUp(cands []Candidate) bool {
	for _, c := range cands {
		if c.Slots.FollowUp {
			return true
		}
	}
	return false
}

// String renders a decision for logs.
func (d Decision) String() string {
	if d.Clarify {
		return d.Rule + "(" + strings.Join(d.Offered, "|") + ")"
	}
	s := d.Rule + "[" + strings.Join(d.Handlers, ",") + "]"
	if d.Urgent {
		s += " urgent"
	}
	return s
}
