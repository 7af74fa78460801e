package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hieutrtr/ragforge/config"
	"github.com/hieutrtr/ragforge/internal/calc"
	"github.com/hieutrtr/ragforge/internal/retrieval"
)

// NewPlanner selects a planning strategy from config.
func NewPlanner(cfg config.PlannerConfig, llm TextCompletion) (TaskPlanner, error) {
	switch cfg.Strategy {
	case "llm":
		return NewLLMPlanner(cfg, llm), nil
	case "heuristic":
		return NewHeuristicPlanner(cfg), nil
	default:
		return nil, fmt.Errorf("unknown planner strategy: %s", cfg.Strategy)
	}
}

// LLMPlanner decomposes questions into tasks with a planning prompt.
type LLMPlanner struct {
	cfg    config.PlannerConfig
	llm    TextCompletion
	logger *log.Logger
}

// NewLLMPlanner creates the LLM-backed planning strategy.
func NewLLMPlanner(cfg config.PlannerConfig, llm TextCompletion) *LLMPlanner {
	return &LLMPlanner{
		cfg:    cfg,
		llm:    llm,
		logger: log.New(log.Writer(), "[PLANNER] ", log.LstdFlags),
	}
}

// Plan decomposes a question into at most MaxTasks tasks. It never returns
// an empty plan for a non-empty question: any planning failure degrades to a
// single task routed from surface features of the question.
func (p *LLMPlanner) Plan(ctx context.Context, question string, history []retrieval.Message) ([]Task, error) {
	startTime := time.Now()

	response, err := p.llm.Generate(ctx, p.createPlanningPrompt(question, history))
	if err != nil {
		p.logger.Printf("Warning: planning failed, falling back to a single task: %v", err)
		return []Task{fallbackTask(question)}, nil
	}

	tasks, err := p.parsePlanningResponse(response)
	if err != nil {
		p.logger.Printf("Warning: could not parse plan, falling back to a single task: %v", err)
		return []Task{fallbackTask(question)}, nil
	}

	tasks = p.normalize(tasks, question)
	p.logger.Printf("Planning completed in %v with %d tasks", time.Since(startTime), len(tasks))
	return tasks, nil
}

// createPlanningPrompt builds the decomposition prompt.
func (p *LLMPlanner) createPlanningPrompt(question string, history []retrieval.Message) string {
	historyBlock := ""
	if len(history) > 0 {
		var sb strings.Builder
		for _, m := range history {
			role := "Human"
			if m.Role == "ai" {
				role = "AI"
			}
			fmt.Fprintf(&sb, "%s: %s\n", role, m.Content)
		}
		historyBlock = "\nCONVERSATION SO FAR:\n" + sb.String()
	}

	return fmt.Sprintf(`You are a planning agent that decomposes a user question into executable tasks.%s

USER QUESTION: %s

TASK TYPES:
- retrieval: answer requires looking up documents in the knowledge base
- arithmetic: answer requires evaluating a math expression
- weather: answer requires current weather conditions for a location
- direct: conversational or general-knowledge question needing no tool

PLANNING REQUIREMENTS:
1. Produce at most %d tasks, in the order they should run.
2. Each task's "question" must stand alone: resolve pronouns and references
   to earlier turns using the conversation above.
3. For arithmetic tasks include the bare expression in "expression".
4. For weather tasks include the location name in "location", or null when
   the user did not name one.
5. Do not invent tasks the question does not ask for.

OUTPUT FORMAT (JSON):
{
  "tasks": [
    {
      "type": "task_type",
      "question": "standalone question",
      "expression": "12 * 12",
      "location": "Hanoi"
    }
  ]
}`, historyBlock, question, p.cfg.MaxTasks)
}

// parsePlanningResponse extracts the first balanced JSON object from the
// response and decodes the task list.
func (p *LLMPlanner) parsePlanningResponse(response string) ([]Task, error) {
	jsonStr := ""
	start := -1
	depth := 0
	for i, ch := range response {
		if ch == '{' {
			if depth == 0 {
				start = i
			}
			depth++
		} else if ch == '}' {
			if depth > 0 {
				depth--
			}
			if depth == 0 && start != -1 {
				jsonStr = response[start : i+1]
				break
			}
		}
	}
	if jsonStr == "" {
		return nil, fmt.Errorf("no JSON found in response")
	}

	var rawPlan struct {
		Tasks []struct {
			Type       string  `json:"type"`
			Question   string  `json:"question"`
			Expression string  `json:"expression"`
			Location   *string `json:"location"`
		} `json:"tasks"`
	}
	if err := json.Unmarshal([]byte(jsonStr), &rawPlan); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}

	var tasks []Task
	for _, rawTask := range rawPlan.Tasks {
		task := Task{
			ID:         uuid.NewString(),
			Type:       TaskType(strings.ToLower(strings.TrimSpace(rawTask.Type))),
			Question:   strings.TrimSpace(rawTask.Question),
			Expression: strings.TrimSpace(rawTask.Expression),
		}
		if rawTask.Location != nil {
			task.Location = strings.TrimSpace(*rawTask.Location)
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// normalize enforces plan invariants: known task types, standalone questions,
// arithmetic expressions present, and the task cap.
func (p *LLMPlanner) normalize(tasks []Task, question string) []Task {
	var out []Task
	for _, task := range tasks {
		switch task.Type {
		case TaskRetrieval, TaskArithmetic, TaskWeather, TaskDirect:
		default:
			p.logger.Printf("Warning: dropping task with unknown type %q", task.Type)
			continue
		}
		if task.Question == "" {
			task.Question = question
		}
		if task.Type == TaskArithmetic && task.Expression == "" {
			if expr, ok := calc.Extract(task.Question); ok {
				task.Expression = expr
			}
		}
		out = append(out, task)
		if len(out) >= p.cfg.MaxTasks {
			break
		}
	}
	if len(out) == 0 {
		return []Task{fallbackTask(question)}
	}
	return out
}

// fallbackTask routes a question without the LLM: an embedded arithmetic
// expression becomes an arithmetic task, anything else a direct task.
func fallbackTask(question string) Task {
	if expr, ok := calc.Extract(question); ok {
		return Task{
			ID:         uuid.NewString(),
			Type:       TaskArithmetic,
			Question:   question,
			Expression: expr,
		}
	}
	return Task{
		ID:       uuid.NewString(),
		Type:     TaskDirect,
		Question: question,
	}
}
