package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Routing is the declarative routing table: the handler registry plus the
// thresholds and rulesets the resolver evaluates each turn.
type Routing struct {
	ConfidenceThreshold float64       `yaml:"confidence_threshold"`
	DisjointMargin      float64       `yaml:"disjoint_margin"`
	UrgentFloor         float64       `yaml:"urgent_floor"`
	CatchAllConfidence  float64       `yaml:"catch_all_confidence"`
	ContinuityWindow    int           `yaml:"continuity_window"`
	ClarificationLimit  int           `yaml:"clarification_limit"`
	ShortReplyWords     int           `yaml:"short_reply_words"`
	HistoryLength       int           `yaml:"history_length"`
	HandlerDeadline     time.Duration `yaml:"handler_deadline"`
	TurnDeadline        time.Duration `yaml:"turn_deadline"`
	// MaxConcurrent caps simultaneous handlers per turn; zero is unbounded.
	MaxConcurrent       int           `yaml:"max_concurrent_handlers"`

	UrgentKeywords []string `yaml:"urgent_keywords"`
	FollowUpCues   []string `yaml:"follow_up_cues"`
	Affirmatives   []string `yaml:"affirmatives"`

	Handlers []HandlerConfig `yaml:"handlers"`
}

// HandlerConfig declares one registry entry.
type HandlerConfig struct {
	Name        string        `yaml:"name"`
	Label       string        `yaml:"label"`
	Rank        int           `yaml:"rank"`
	Description string        `yaml:"description"`
	Scope       []string      `yaml:"scope"`
	Deadline    time.Duration `yaml:"deadline"`
	Urgent      bool          `yaml:"urgent"`
	CatchAll    bool          `yaml:"catch_all"`
	Retrieval   bool          `yaml:"retrieval"`
	Prompt      string        `yaml:"prompt"`
	// Kind selects the handler implementation; empty means a plain LLM agent.
	Kind string `yaml:"kind"`
	// DirectOnly handlers are reachable only by name, never by classification.
	DirectOnly bool `yaml:"direct_only"`
}

// ErrInvalidRouting is returned when a routing table fails validation.
var ErrInvalidRouting = errors.New("config: invalid routing table")

// LoadRouting reads a routing table from YAML. An empty path yields the
// built-in defaults. Scalars missing from the file keep their default values.
func LoadRouting(path string) (*Routing, error) {
	routing := DefaultRouting()
	if strings.TrimSpace(path) == "" {
		return routing, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read routing file: %w", err)
	}
	return ParseRouting(data)
}

// ParseRouting decodes a YAML routing table on top of the defaults.
func ParseRouting(data []byte) (*Routing, error) {
	routing := DefaultRouting()
	if err := yaml.Unmarshal(data, routing); err != nil {
		return nil, fmt.Errorf("config: decode routing file: %w", err)
	}
	routing.applyDefaults()
	if err := routing.Validate(); err != nil {
		return nil, err
	}
	return routing, nil
}

// Validate checks the registry invariants the resolver relies on.
func (r *Routing) Validate() error {
	if len(r.Handlers) == 0 {
		return fmt.Errorf("%w: no handlers declared", ErrInvalidRouting)
	}
	if r.ConfidenceThreshold <= 0 || r.ConfidenceThreshold > 1 {
		return fmt.Errorf("%w: confidence_threshold %.2f out of range", ErrInvalidRouting, r.ConfidenceThreshold)
	}

	seen := make(map[string]struct{}, len(r.Handlers))
	catchAll, urgent := 0, 0
	for _, h := range r.Handlers {
		name := strings.TrimSpace(h.Name)
		if name == "" {
			return fmt.Errorf("%w: handler without name", ErrInvalidRouting)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("%w: duplicate handler %q", ErrInvalidRouting, name)
		}
		seen[name] = struct{}{}
		if h.DirectOnly && (h.CatchAll || h.Urgent) {
			return fmt.Errorf("%w: direct_only handler %q cannot be catch_all or urgent", ErrInvalidRouting, name)
		}
		if h.CatchAll {
			catchAll++
		}
		if h.Urgent {
			urgent++
		}
	}
	if catchAll != 1 {
		return fmt.Errorf("%w: exactly one catch_all handler required, got %d", ErrInvalidRouting, catchAll)
	}
	if urgent == 0 {
		return fmt.Errorf("%w: at least one urgent handler required", ErrInvalidRouting)
	}
	return nil
}

// Handler returns the named entry.
func (r *Routing) Handler(name string) (HandlerConfig, bool) {
	for _, h := range r.Handlers {
		if h.Name == name {
			return h, true
		}
	}
	return HandlerConfig{}, false
}

func (r *Routing) applyDefaults() {
	if r.HandlerDeadline <= 0 {
		r.HandlerDeadline = 8 * time.Second
	}
	slowest := r.HandlerDeadline
	for i := range r.Handlers {
		h := &r.Handlers[i]
		h.Name = strings.TrimSpace(h.Name)
		if h.Label == "" {
			h.Label = strings.ReplaceAll(h.Name, "_", " ")
		}
		if h.Deadline <= 0 {
			h.Deadline = r.HandlerDeadline
		}
		if h.Deadline > slowest {
			slowest = h.Deadline
		}
		if h.Rank <= 0 {
			h.Rank = len(r.Handlers) + i + 1
		}
	}
	// The turn deadline must leave room for the slowest handler.
	if r.TurnDeadline <= slowest {
		r.TurnDeadline = slowest + 2*time.Second
	}
	if r.ClarificationLimit < 0 {
		r.ClarificationLimit = 0
	}
	if r.ContinuityWindow <= 0 {
		r.ContinuityWindow = 1
	}
	if r.ShortReplyWords <= 0 {
		r.ShortReplyWords = 6
	}
	if r.HistoryLength <= 0 {
		r.HistoryLength = 10
	}
}

// DefaultRouting returns the built-in registry for the student assistant.
func DefaultRouting() *Routing {
	r := &Routing{
		ConfidenceThreshold: 0.55,
		DisjointMargin:      0.25,
		UrgentFloor:         0.2,
		CatchAllConfidence:  0.1,
		ContinuityWindow:    1,
		ClarificationLimit:  1,
		ShortReplyWords:     6,
		HistoryLength:       10,
		HandlerDeadline:     8 * time.Second,
		TurnDeadline:        10 * time.Second,
		UrgentKeywords: []string{
			"suicidal", "suicide", "kill myself", "want to die", "ending it all", "end it all",
			"hopeless", "self-harm", "self harm", "hurt myself", "harm myself", "panic attack",
			"can't breathe", "no reason to live",
		},
		FollowUpCues: []string{
			"what we discussed", "we discussed", "we talked about", "discussed before", "you mentioned",
			"you said", "what about", "how about", "tell me more", "more about that", "as before",
			"earlier", "go on", "the other one", "that one", "same thing", "and also",
		},
		Affirmatives: []string{
			"yes", "yeah", "yep", "yup", "sure", "ok", "okay", "correct", "right", "exactly", "please",
		},
		Handlers: []HandlerConfig{
			{
				Name:        "motivator",
				Label:       "how you're feeling and emotional support",
				Rank:        1,
				Description: "Emotional support, stress management, anxiety, motivation and wellbeing.",
				Urgent:      true,
				Scope: []string{
					"stressed", "stress", "anxious", "anxiety", "overwhelmed", "sad", "depressed",
					"unmotivated", "demotivated", "motivation", "motivated", "struggling", "bad day",
					"can't focus", "lonely", "worried", "nervous", "burned out", "burnout", "upset",
					"frustrated", "scared", "afraid", "feeling down", "homesick",
				},
			},
			{
				Name:        "teacher",
				Label:       "course material and subject help",
				Rank:        2,
				Description: "Explains concepts, homework and assignment help, syllabus and course topics.",
				Retrieval:   true,
				Scope: []string{
					"explain", "homework", "quiz", "exam", "midterm", "math", "calculus", "algebra",
					"statistics", "physics", "chemistry", "biology", "programming", "coding", "python",
					"java", "recursion", "concept", "syllabus", "course content", "course topics",
					"assignment", "lecture", "problem set", "equation", "theorem", "essay",
				},
			},
			{
				Name:        "academic_coach",
				Label:       "study strategies and planning",
				Rank:        3,
				Description: "Study strategies, time management, goal setting and academic planning.",
				Scope: []string{
					"study plan", "study habits", "study strategies", "time management",
					"manage my time", "procrastinate", "procrastination", "goal", "organize",
					"planner", "prioritize", "productivity", "note taking", "schedule",
				},
			},
			{
				Name:        "university",
				Label:       "university services, careers and campus information",
				Rank:        4,
				Description: "Programs, deadlines, policies, campus resources, careers and internships.",
				Retrieval:   true,
				Scope: []string{
					"internship", "career", "career closet", "job", "resume", "major", "minor",
					"declare", "registration", "register", "deadline", "financial aid", "scholarship",
					"tuition", "housing", "dining", "campus", "office", "advisor", "admission",
					"policy", "library", "transcript", "graduation", "withdraw", "schedule",
				},
			},
			{
				Name:        "ciro",
				Label:       "general questions",
				Rank:        5,
				Description: "General conversation, introductions and anything not covered elsewhere.",
				CatchAll:    true,
				Scope: []string{
					"hello", "hi", "hey", "who are you", "thanks", "thank you", "good morning",
				},
			},
			{
				Name:        "knowledge_check",
				Label:       "a quick knowledge check",
				Rank:        6,
				Description: "Asks one question about a topic, then grades the student's answer with feedback.",
				Kind:        "knowledge_check",
				DirectOnly:  true,
			},
		},
	}
	r.applyDefaults()
	return r
}
