package core

import (
	"context"
	"errors"
	"time"

	"github.com/hieutrtr/ragforge/internal/retrieval"
	"github.com/hieutrtr/ragforge/internal/weather"
)

// ErrEmptyQuestion is returned when a turn starts with no question text.
// It is the only error Answer returns before planning.
var ErrEmptyQuestion = errors.New("question is empty")

// TaskType identifies which capability handles a task.
type TaskType string

const (
	TaskRetrieval  TaskType = "retrieval"
	TaskArithmetic TaskType = "arithmetic"
	TaskWeather    TaskType = "weather"
	TaskDirect     TaskType = "direct"
)

// TurnState tracks where a turn is in its lifecycle.
type TurnState string

const (
	StatePlanning    TurnState = "planning"
	StateExecuting   TurnState = "executing"
	StateAggregating TurnState = "aggregating"
	StateDone        TurnState = "done"
)

// Task is one unit of work produced by planning. Question is always a
// standalone question with coreferences resolved against history.
type Task struct {
	ID         string   `json:"id"`
	Type       TaskType `json:"type"`
	Question   string   `json:"question"`
	Expression string   `json:"expression,omitempty"` // arithmetic only
	Location   string   `json:"location,omitempty"`   // weather only, empty means default
}

// SubtaskResult is the normalized outcome of executing one task.
type SubtaskResult struct {
	Task           Task                     `json:"task"`
	Answer         string                   `json:"answer,omitempty"`
	Passages       []retrieval.PassageScore `json:"passages,omitempty"`
	EffectiveQuery string                   `json:"effective_query,omitempty"`
	Stats          *retrieval.Stats         `json:"retrieval_stats,omitempty"`
	Degraded       bool                     `json:"degraded,omitempty"`
	Error          string                   `json:"error,omitempty"`
	Duration       time.Duration            `json:"duration"`
}

// RetrievalStats sums the pipeline-stage counters of every retrieval task in
// a turn, so callers can see the volume behind the answer without walking
// per-subtask stats.
type RetrievalStats struct {
	ExpandedQueryCount int `json:"expanded_query_count"`
	RetrievedCount     int `json:"retrieved_docs_count"`
	FusedCount         int `json:"fused_docs_count"`
	FinalCount         int `json:"final_docs_count"`
}

func (s *RetrievalStats) add(stats *retrieval.Stats) {
	if stats == nil {
		return
	}
	s.ExpandedQueryCount += len(stats.ExpandedQueries)
	s.RetrievedCount += stats.RetrievedCount
	s.FusedCount += stats.FusedCount
	s.FinalCount += stats.FinalCount
}

// TurnAggregate collects everything one turn produced.
type TurnAggregate struct {
	TurnID         string                   `json:"turn_id"`
	Question       string                   `json:"question"`
	Tasks          []Task                   `json:"tasks"`
	Results        []SubtaskResult          `json:"results"`
	MergedPassages []retrieval.PassageScore `json:"merged_passages"`
	ToolsUsed      []string                 `json:"tools_used"`
	RetrievalStats RetrievalStats           `json:"retrieval_stats"`
	Sufficient     bool                     `json:"sufficient"`
	Answer         string                   `json:"answer"`
	StartedAt      time.Time                `json:"started_at"`
	FinishedAt     time.Time                `json:"finished_at"`
}

// maxMergedPassages bounds how much evidence a turn carries forward.
const maxMergedPassages = 20

// TextCompletion is the single-prompt generation surface.
type TextCompletion = retrieval.TextCompletion

// TaskPlanner turns a raw question into an ordered task list. Implementations
// must never return an empty list for a non-empty question.
type TaskPlanner interface {
	Plan(ctx context.Context, question string, history []retrieval.Message) ([]Task, error)
}

// Retriever runs the retrieval pipeline for one standalone question.
type Retriever interface {
	Retrieve(ctx context.Context, question string, history []retrieval.Message) (retrieval.Result, error)
}

// WeatherProvider resolves current conditions for a location name.
type WeatherProvider interface {
	Current(ctx context.Context, location string) (weather.Report, error)
}
