package core

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hieutrtr/ragforge/internal/agent/telemetry"
	"github.com/hieutrtr/ragforge/internal/retrieval"
)

// Orchestrator drives one answering turn through planning, task execution
// and aggregation. Tasks run strictly in plan order because later tasks may
// refer to what earlier tasks found.
type Orchestrator struct {
	planner     TaskPlanner
	dispatcher  *Dispatcher
	synthesizer *Synthesizer
	telemetry   *telemetry.Telemetry
	logger      *log.Logger

	mu     sync.RWMutex
	states map[string]TurnState
	done   []string // finished turn ids, oldest first
}

// doneRetention caps how many finished turns keep a state entry. Older
// entries are evicted so the map cannot grow without bound.
const doneRetention = 64

// NewOrchestrator creates an orchestrator. telem may be nil.
func NewOrchestrator(planner TaskPlanner, dispatcher *Dispatcher, synthesizer *Synthesizer, telem *telemetry.Telemetry) *Orchestrator {
	return &Orchestrator{
		planner:     planner,
		dispatcher:  dispatcher,
		synthesizer: synthesizer,
		telemetry:   telem,
		logger:      log.New(log.Writer(), "[ORCH] ", log.LstdFlags),
		states:      make(map[string]TurnState),
	}
}

// State reports where a turn currently is in its lifecycle.
func (o *Orchestrator) State(turnID string) (TurnState, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	state, ok := o.states[turnID]
	return state, ok
}

func (o *Orchestrator) setState(turnID string, state TurnState) {
	o.mu.Lock()
	o.states[turnID] = state
	o.mu.Unlock()
}

// finishState marks a turn done and evicts the oldest finished turns beyond
// the retention cap.
func (o *Orchestrator) finishState(turnID string) {
	o.mu.Lock()
	o.states[turnID] = StateDone
	o.done = append(o.done, turnID)
	for len(o.done) > doneRetention {
		delete(o.states, o.done[0])
		o.done = o.done[1:]
	}
	o.mu.Unlock()
}

// Answer runs one full turn. The only error it returns before planning is
// ErrEmptyQuestion; everything downstream degrades into per-task error
// strings on the aggregate, and the synthesizer is called regardless of how
// much of the plan succeeded.
func (o *Orchestrator) Answer(ctx context.Context, question string, history []retrieval.Message) (*TurnAggregate, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}

	tracer := otel.Tracer("ragforge/agent")
	ctx, span := tracer.Start(ctx, "turn")
	defer span.End()

	aggregate := &TurnAggregate{
		TurnID:    uuid.NewString(),
		Question:  question,
		StartedAt: time.Now(),
	}
	span.SetAttributes(attribute.String("turn.id", aggregate.TurnID))
	o.logger.Printf("turn %s: %q", aggregate.TurnID, question)

	// Planning
	o.setState(aggregate.TurnID, StatePlanning)
	planCtx, planSpan := tracer.Start(ctx, "plan")
	tasks, err := o.planner.Plan(planCtx, question, history)
	planSpan.End()
	if err != nil || len(tasks) == 0 {
		if err != nil {
			o.logger.Printf("Warning: planner errored, using fallback task: %v", err)
		}
		tasks = []Task{fallbackTask(question)}
	}
	aggregate.Tasks = tasks
	span.SetAttributes(attribute.Int("turn.task_count", len(tasks)))

	// Executing: strict plan order, with an in-turn history view so later
	// tasks can resolve references to what earlier tasks found.
	o.setState(aggregate.TurnID, StateExecuting)
	localHistory := append([]retrieval.Message(nil), history...)
	for _, task := range tasks {
		result := o.dispatcher.Execute(ctx, task, localHistory)
		aggregate.Results = append(aggregate.Results, result)
		aggregate.RetrievalStats.add(result.Stats)

		for _, p := range result.Passages {
			if len(aggregate.MergedPassages) >= maxMergedPassages {
				break
			}
			aggregate.MergedPassages = append(aggregate.MergedPassages, p)
		}

		// Only retrieval and weather answers carry forward: those are the
		// findings later tasks may refer back to.
		carriesForward := task.Type == TaskRetrieval || task.Type == TaskWeather
		if carriesForward && result.Error == "" && result.Answer != "" {
			localHistory = append(localHistory,
				retrieval.Message{Role: "human", Content: task.Question},
				retrieval.Message{Role: "ai", Content: result.Answer},
			)
		}
	}

	// Aggregating
	o.setState(aggregate.TurnID, StateAggregating)
	aggregate.Sufficient = sufficient(aggregate.Results)
	aggregate.ToolsUsed = toolsUsed(aggregate.Results)

	synthCtx, synthSpan := tracer.Start(ctx, "synthesize")
	aggregate.Answer = o.synthesizer.Synthesize(synthCtx, aggregate, history)
	synthSpan.End()

	aggregate.FinishedAt = time.Now()
	o.finishState(aggregate.TurnID)

	if o.telemetry != nil {
		o.telemetry.RecordTurnEvent(ctx, telemetry.TurnEvent{
			ID:           aggregate.TurnID,
			Question:     question,
			StartTime:    aggregate.StartedAt,
			EndTime:      aggregate.FinishedAt,
			Duration:     aggregate.FinishedAt.Sub(aggregate.StartedAt),
			Sufficient:   aggregate.Sufficient,
			TasksPlanned: len(tasks),
			ToolsUsed:    aggregate.ToolsUsed,
		})
	}

	o.logger.Printf("turn %s done in %v (sufficient=%t, tools=%v)",
		aggregate.TurnID, aggregate.FinishedAt.Sub(aggregate.StartedAt),
		aggregate.Sufficient, aggregate.ToolsUsed)
	return aggregate, nil
}

// sufficient reports whether the collected results can fully answer the
// question: every arithmetic task must have succeeded and every retrieval
// task must have produced at least one passage.
func sufficient(results []SubtaskResult) bool {
	for _, r := range results {
		if r.Task.Type == TaskArithmetic && r.Error != "" {
			return false
		}
		if r.Task.Type == TaskRetrieval && len(r.Passages) == 0 {
			return false
		}
	}
	return true
}

// toolsUsed lists the distinct task types in execution order.
func toolsUsed(results []SubtaskResult) []string {
	seen := make(map[TaskType]bool)
	var out []string
	for _, r := range results {
		if !seen[r.Task.Type] {
			seen[r.Task.Type] = true
			out = append(out, string(r.Task.Type))
		}
	}
	return out
}
