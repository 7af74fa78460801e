package core

import (
	"context"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/hieutrtr/ragforge/config"
	"github.com/hieutrtr/ragforge/internal/calc"
	"github.com/hieutrtr/ragforge/internal/retrieval"
)

// HeuristicPlanner routes questions on surface features alone. It needs no
// LLM, which makes it the strategy of choice for offline runs and tests.
type HeuristicPlanner struct {
	cfg    config.PlannerConfig
	logger *log.Logger
}

// NewHeuristicPlanner creates the rule-based planning strategy.
func NewHeuristicPlanner(cfg config.PlannerConfig) *HeuristicPlanner {
	return &HeuristicPlanner{
		cfg:    cfg,
		logger: log.New(log.Writer(), "[PLANNER] ", log.LstdFlags),
	}
}

var weatherHints = []string{"weather", "temperature", "forecast", "raining", "sunny", "humidity"}

var greetingHints = []string{"hello", "hi ", "hey", "thanks", "thank you", "good morning", "good evening", "how are you"}

// Plan splits the question into segments and classifies each one. The plan
// is never empty: an unclassifiable question becomes one direct task.
func (h *HeuristicPlanner) Plan(ctx context.Context, question string, history []retrieval.Message) ([]Task, error) {
	var tasks []Task
	for _, segment := range splitSegments(question) {
		tasks = append(tasks, h.classify(segment))
		if len(tasks) >= h.cfg.MaxTasks {
			break
		}
	}
	if len(tasks) == 0 {
		tasks = []Task{fallbackTask(question)}
	}
	h.logger.Printf("Heuristic plan: %d tasks for %q", len(tasks), question)
	return tasks, nil
}

func (h *HeuristicPlanner) classify(segment string) Task {
	lower := strings.ToLower(segment)

	if expr, ok := calc.Extract(segment); ok {
		return Task{ID: uuid.NewString(), Type: TaskArithmetic, Question: segment, Expression: expr}
	}

	for _, hint := range weatherHints {
		if strings.Contains(lower, hint) {
			return Task{
				ID:       uuid.NewString(),
				Type:     TaskWeather,
				Question: segment,
				Location: extractLocation(segment),
			}
		}
	}

	for _, hint := range greetingHints {
		if strings.HasPrefix(lower, hint) {
			return Task{ID: uuid.NewString(), Type: TaskDirect, Question: segment}
		}
	}

	return Task{ID: uuid.NewString(), Type: TaskRetrieval, Question: segment}
}

// splitSegments breaks a compound question into independently answerable
// pieces on question marks and coordinating "and also" joins.
func splitSegments(question string) []string {
	var segments []string
	for _, part := range strings.Split(question, "?") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		for _, sub := range strings.Split(part, " and also ") {
			sub = strings.TrimSpace(sub)
			if sub != "" {
				segments = append(segments, sub)
			}
		}
	}
	return segments
}

// extractLocation pulls the place name after "in" or "for", if any. An
// empty result means the default location applies.
func extractLocation(segment string) string {
	lower := strings.ToLower(segment)
	for _, marker := range []string{" in ", " for ", " at "} {
		idx := strings.LastIndex(lower, marker)
		if idx < 0 {
			continue
		}
		loc := strings.TrimSpace(segment[idx+len(marker):])
		loc = strings.Trim(loc, "?.!, ")
		loc = strings.TrimPrefix(loc, "the ")
		if loc != "" {
			return loc
		}
	}
	return ""
}
