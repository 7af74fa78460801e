package core

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hieutrtr/ragforge/internal/agent/telemetry"
	"github.com/hieutrtr/ragforge/internal/calc"
	"github.com/hieutrtr/ragforge/internal/retrieval"
)

// Dispatcher routes one task to the capability that can execute it and
// normalizes whatever comes back into a SubtaskResult. Capability errors
// become per-subtask error strings, never Go errors, so one failed task
// cannot abort a turn.
type Dispatcher struct {
	retriever Retriever
	weather   WeatherProvider
	llm       TextCompletion
	telemetry *telemetry.Telemetry
	logger    *log.Logger
}

// NewDispatcher wires the capabilities together. weather and telem may be
// nil; a nil capability reports itself unavailable at execution time.
func NewDispatcher(retriever Retriever, weather WeatherProvider, llm TextCompletion, telem *telemetry.Telemetry) *Dispatcher {
	return &Dispatcher{
		retriever: retriever,
		weather:   weather,
		llm:       llm,
		telemetry: telem,
		logger:    log.New(log.Writer(), "[DISPATCH] ", log.LstdFlags),
	}
}

// Execute runs one task against its capability.
func (d *Dispatcher) Execute(ctx context.Context, task Task, history []retrieval.Message) SubtaskResult {
	tracer := otel.Tracer("ragforge/agent")
	ctx, span := tracer.Start(ctx, "task")
	span.SetAttributes(
		attribute.String("task.id", task.ID),
		attribute.String("task.type", string(task.Type)),
	)
	defer span.End()

	startTime := time.Now()
	result := SubtaskResult{Task: task}

	switch task.Type {
	case TaskRetrieval:
		d.executeRetrieval(ctx, task, history, &result)
	case TaskArithmetic:
		d.executeArithmetic(task, &result)
	case TaskWeather:
		d.executeWeather(ctx, task, history, &result)
	case TaskDirect:
		d.executeDirect(ctx, task, history, &result)
	default:
		result.Error = fmt.Sprintf("no capability for task type %q", task.Type)
	}

	result.Duration = time.Since(startTime)

	if result.Error != "" {
		d.logger.Printf("task %s (%s) failed: %s", task.ID, task.Type, result.Error)
	}
	if d.telemetry != nil {
		d.telemetry.RecordTaskEvent(ctx, telemetry.TaskEvent{
			ID:       task.ID,
			TaskType: string(task.Type),
			Duration: result.Duration,
			Success:  result.Error == "",
			Error:    result.Error,
		})
	}
	return result
}

func (d *Dispatcher) executeRetrieval(ctx context.Context, task Task, history []retrieval.Message, result *SubtaskResult) {
	if d.retriever == nil {
		result.Error = "retrieval capability not configured"
		return
	}

	res, err := d.retriever.Retrieve(ctx, task.Question, history)
	if err != nil {
		result.Error = fmt.Sprintf("retrieval failed: %v", err)
		return
	}

	result.Passages = res.Passages
	result.EffectiveQuery = res.EffectiveQuery
	result.Stats = &res.Stats
	result.Degraded = res.Degraded
	result.Answer = summarizePassages(res.Passages)
}

func (d *Dispatcher) executeArithmetic(task Task, result *SubtaskResult) {
	expression := task.Expression
	if expression == "" {
		if expr, ok := calc.Extract(task.Question); ok {
			expression = expr
		} else {
			result.Error = "no arithmetic expression found in task"
			return
		}
	}

	value, err := calc.Evaluate(expression)
	if err != nil {
		result.Error = fmt.Sprintf("evaluating %q: %v", expression, err)
		return
	}
	result.Answer = fmt.Sprintf("%s = %s", expression, calc.FormatResult(value))
}

func (d *Dispatcher) executeWeather(ctx context.Context, task Task, history []retrieval.Message, result *SubtaskResult) {
	if d.weather == nil {
		result.Error = "weather capability not configured"
		return
	}

	location := task.Location
	if location == "" {
		location = d.resolveLocation(ctx, task.Question, history)
	}

	report, err := d.weather.Current(ctx, location)
	if err != nil {
		result.Error = fmt.Sprintf("weather lookup failed: %v", err)
		return
	}
	result.Answer = report.Summary()
}

const locationPromptTemplate = `Given the conversation below, name the city or place the final question
refers to. Output only the place name, nothing else. If the conversation
mentions no place, output NONE.

Conversation:
%s

Final question: %s`

// resolveLocation recovers a place name from the in-turn history when the
// plan left the location blank, so "weather there" works after an earlier
// task surfaced a city. Any failure returns the empty string and the weather
// client falls back to its configured default.
func (d *Dispatcher) resolveLocation(ctx context.Context, question string, history []retrieval.Message) string {
	if d.llm == nil || len(history) == 0 {
		return ""
	}

	var sb strings.Builder
	for _, m := range history {
		role := "Human"
		if m.Role == "ai" {
			role = "AI"
		}
		fmt.Fprintf(&sb, "%s: %s\n", role, m.Content)
	}

	answer, err := d.llm.Generate(ctx, fmt.Sprintf(locationPromptTemplate, sb.String(), question))
	if err != nil {
		d.logger.Printf("location resolution failed, using default location: %v", err)
		return ""
	}
	answer = strings.TrimSpace(answer)
	if answer == "" || strings.EqualFold(answer, "none") {
		return ""
	}
	return answer
}

func (d *Dispatcher) executeDirect(ctx context.Context, task Task, history []retrieval.Message, result *SubtaskResult) {
	if d.llm == nil {
		result.Error = "direct capability not configured"
		return
	}

	prompt := task.Question
	if len(history) > 0 {
		var sb strings.Builder
		sb.WriteString("Conversation so far:\n")
		for _, m := range history {
			role := "Human"
			if m.Role == "ai" {
				role = "AI"
			}
			fmt.Fprintf(&sb, "%s: %s\n", role, m.Content)
		}
		sb.WriteString("\nAnswer the following question directly and concisely.\n")
		sb.WriteString("Question: ")
		sb.WriteString(task.Question)
		prompt = sb.String()
	}

	answer, err := d.llm.Generate(ctx, prompt)
	if err != nil {
		result.Error = fmt.Sprintf("direct answer failed: %v", err)
		return
	}
	result.Answer = strings.TrimSpace(answer)
}

// summarizePassages gives a retrieval task a short textual answer built from
// its best evidence, used by the in-turn history accumulator.
func summarizePassages(passages []retrieval.PassageScore) string {
	if len(passages) == 0 {
		return ""
	}
	top := passages[0].Content
	if len(top) > 300 {
		top = top[:300]
	}
	return top
}
