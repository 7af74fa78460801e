package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/hieutrtr/ragforge/internal/retrieval"
	"github.com/hieutrtr/ragforge/internal/weather"
)

type stubPlanner struct {
	tasks []Task
	err   error
}

func (s *stubPlanner) Plan(ctx context.Context, question string, history []retrieval.Message) ([]Task, error) {
	return s.tasks, s.err
}

type stubRetriever struct {
	result    retrieval.Result
	err       error
	histories [][]retrieval.Message
}

func (s *stubRetriever) Retrieve(ctx context.Context, question string, history []retrieval.Message) (retrieval.Result, error) {
	s.histories = append(s.histories, append([]retrieval.Message(nil), history...))
	return s.result, s.err
}

type stubWeather struct {
	report    weather.Report
	err       error
	locations []string
}

func (s *stubWeather) Current(ctx context.Context, location string) (weather.Report, error) {
	s.locations = append(s.locations, location)
	return s.report, s.err
}

func passages(contents ...string) []retrieval.PassageScore {
	out := make([]retrieval.PassageScore, len(contents))
	for i, c := range contents {
		out[i] = retrieval.PassageScore{Content: c, Score: 0.9 - float64(i)*0.1, Rank: i}
	}
	return out
}

func newTestOrchestrator(planner TaskPlanner, r Retriever, w WeatherProvider, llm TextCompletion) *Orchestrator {
	dispatcher := NewDispatcher(r, w, llm, nil)
	synthesizer := NewSynthesizer(llm)
	return NewOrchestrator(planner, dispatcher, synthesizer, nil)
}

func TestAnswerEmptyQuestion(t *testing.T) {
	o := newTestOrchestrator(&stubPlanner{}, nil, nil, &recordingLLM{})

	for _, q := range []string{"", "   ", "\n\t"} {
		if _, err := o.Answer(context.Background(), q, nil); !errors.Is(err, ErrEmptyQuestion) {
			t.Fatalf("Answer(%q) error = %v, want ErrEmptyQuestion", q, err)
		}
	}
}

func TestAnswerMultiCapabilityTurn(t *testing.T) {
	planner := &stubPlanner{tasks: []Task{
		{ID: "t1", Type: TaskRetrieval, Question: "what is RRF"},
		{ID: "t2", Type: TaskArithmetic, Question: "what is 12 * 12", Expression: "12 * 12"},
		{ID: "t3", Type: TaskWeather, Question: "weather in Hanoi", Location: "Hanoi"},
	}}
	retriever := &stubRetriever{result: retrieval.Result{
		Passages:       passages("RRF merges ranked lists."),
		EffectiveQuery: "what is RRF",
		Stats:          retrieval.Stats{ExpandedQueries: []string{"what is RRF"}, RetrievedCount: 1, FusedCount: 1, FinalCount: 1},
	}}
	wthr := &stubWeather{report: weather.Report{Location: "Hanoi", Temperature: 30, Conditions: "clear sky"}}
	llm := &recordingLLM{response: "RRF merges ranked lists, 12 times 12 is 144, and Hanoi is clear at 30°C."}

	o := newTestOrchestrator(planner, retriever, wthr, llm)
	aggregate, err := o.Answer(context.Background(), "RRF? 12*12? weather in Hanoi?", nil)
	if err != nil {
		t.Fatalf("Answer returned error: %v", err)
	}

	if !aggregate.Sufficient {
		t.Fatal("turn with all tasks succeeding must be sufficient")
	}
	if len(aggregate.Results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(aggregate.Results))
	}
	if aggregate.Results[1].Answer != "12 * 12 = 144" {
		t.Fatalf("arithmetic answer = %q", aggregate.Results[1].Answer)
	}
	if len(aggregate.MergedPassages) != 1 {
		t.Fatalf("merged passages = %d, want 1", len(aggregate.MergedPassages))
	}
	wantTools := []string{"retrieval", "arithmetic", "weather"}
	if len(aggregate.ToolsUsed) != len(wantTools) {
		t.Fatalf("tools used = %v", aggregate.ToolsUsed)
	}
	for i, tool := range wantTools {
		if aggregate.ToolsUsed[i] != tool {
			t.Fatalf("tools used = %v, want %v", aggregate.ToolsUsed, wantTools)
		}
	}
	if aggregate.Answer == "" {
		t.Fatal("synthesized answer missing")
	}
	if state, ok := o.State(aggregate.TurnID); !ok || state != StateDone {
		t.Fatalf("turn state = %v, %t", state, ok)
	}
}

func TestAnswerArithmeticFailureIsInsufficientButCompletes(t *testing.T) {
	planner := &stubPlanner{tasks: []Task{
		{ID: "t1", Type: TaskArithmetic, Question: "what is 5 / 0", Expression: "5 / 0"},
	}}
	llm := &recordingLLM{response: "That division is undefined."}

	o := newTestOrchestrator(planner, nil, nil, llm)
	aggregate, err := o.Answer(context.Background(), "what is 5 / 0?", nil)
	if err != nil {
		t.Fatalf("per-task failure must not abort the turn: %v", err)
	}
	if aggregate.Sufficient {
		t.Fatal("failed arithmetic task must make the turn insufficient")
	}
	if aggregate.Results[0].Error == "" {
		t.Fatal("expected a per-subtask error string")
	}
	if aggregate.Answer == "" {
		t.Fatal("synthesizer must still produce an answer")
	}
}

func TestAnswerEmptyRetrievalIsInsufficient(t *testing.T) {
	planner := &stubPlanner{tasks: []Task{
		{ID: "t1", Type: TaskRetrieval, Question: "unknown topic"},
	}}
	retriever := &stubRetriever{result: retrieval.Result{EffectiveQuery: "unknown topic"}}
	llm := &recordingLLM{response: "I could not find anything about that."}

	o := newTestOrchestrator(planner, retriever, nil, llm)
	aggregate, err := o.Answer(context.Background(), "tell me about the unknown topic", nil)
	if err != nil {
		t.Fatalf("Answer returned error: %v", err)
	}
	if aggregate.Sufficient {
		t.Fatal("retrieval with no passages must make the turn insufficient")
	}
	if aggregate.Answer == "" {
		t.Fatal("synthesizer must still be called")
	}
}

func TestAnswerRetrievalErrorRecordedNotFatal(t *testing.T) {
	planner := &stubPlanner{tasks: []Task{
		{ID: "t1", Type: TaskRetrieval, Question: "anything"},
	}}
	retriever := &stubRetriever{err: fmt.Errorf("index down")}
	llm := &recordingLLM{response: "Sorry, I could not look that up."}

	o := newTestOrchestrator(planner, retriever, nil, llm)
	aggregate, err := o.Answer(context.Background(), "anything?", nil)
	if err != nil {
		t.Fatalf("capability error must not become a turn error: %v", err)
	}
	if !strings.Contains(aggregate.Results[0].Error, "index down") {
		t.Fatalf("subtask error = %q", aggregate.Results[0].Error)
	}
	if aggregate.Sufficient {
		t.Fatal("errored retrieval yields no passages, so the turn is insufficient")
	}
}

func TestAnswerAccumulatesInTurnHistory(t *testing.T) {
	planner := &stubPlanner{tasks: []Task{
		{ID: "t1", Type: TaskWeather, Question: "weather in Hanoi", Location: "Hanoi"},
		{ID: "t2", Type: TaskRetrieval, Question: "typical clothing for that weather"},
	}}
	retriever := &stubRetriever{result: retrieval.Result{Passages: passages("Light cotton works well in heat.")}}
	wthr := &stubWeather{report: weather.Report{Location: "Hanoi", Temperature: 34, Conditions: "clear sky"}}
	llm := &recordingLLM{response: "It is hot in Hanoi, wear light cotton."}

	o := newTestOrchestrator(planner, retriever, wthr, llm)
	if _, err := o.Answer(context.Background(), "weather in Hanoi and what to wear?", nil); err != nil {
		t.Fatalf("Answer returned error: %v", err)
	}

	if len(retriever.histories) != 1 {
		t.Fatalf("expected 1 retrieval call, got %d", len(retriever.histories))
	}
	// The second task must see the weather answer in its history view.
	history := retriever.histories[0]
	found := false
	for _, m := range history {
		if m.Role == "ai" && strings.Contains(m.Content, "Hanoi") {
			found = true
		}
	}
	if !found {
		t.Fatalf("in-turn history missing earlier task answer: %+v", history)
	}
}

func TestAnswerResolvesWeatherLocationFromEarlierFindings(t *testing.T) {
	planner := &stubPlanner{tasks: []Task{
		{ID: "t1", Type: TaskRetrieval, Question: "where was Acme Corp founded"},
		{ID: "t2", Type: TaskWeather, Question: "what is the weather there"},
	}}
	retriever := &stubRetriever{result: retrieval.Result{
		Passages: passages("Acme Corp was founded in 1947 in Paris."),
	}}
	wthr := &stubWeather{report: weather.Report{Location: "Paris", Temperature: 18, Conditions: "overcast"}}
	llm := &recordingLLM{response: "Paris"}

	o := newTestOrchestrator(planner, retriever, wthr, llm)
	if _, err := o.Answer(context.Background(), "where was Acme founded and what is the weather there?", nil); err != nil {
		t.Fatalf("Answer returned error: %v", err)
	}

	if len(wthr.locations) != 1 || wthr.locations[0] != "Paris" {
		t.Fatalf("weather locations = %v, want the place resolved from the retrieval answer", wthr.locations)
	}
	// The resolution prompt must have seen the earlier task's findings.
	seen := false
	for _, p := range llm.prompts {
		if strings.Contains(p, "founded in 1947 in Paris") {
			seen = true
		}
	}
	if !seen {
		t.Fatal("location resolution never saw the in-turn history")
	}
}

func TestDispatcherWeatherLocationResolutionDegrades(t *testing.T) {
	wthr := &stubWeather{report: weather.Report{Location: "Hanoi", Temperature: 30, Conditions: "clear sky"}}
	llm := &recordingLLM{err: fmt.Errorf("llm down")}
	d := NewDispatcher(nil, wthr, llm, nil)

	history := []retrieval.Message{{Role: "ai", Content: "The office is in Paris."}}
	result := d.Execute(context.Background(), Task{ID: "w", Type: TaskWeather, Question: "weather there?"}, history)
	if result.Error != "" {
		t.Fatalf("failed resolution must degrade, not error: %q", result.Error)
	}
	if len(wthr.locations) != 1 || wthr.locations[0] != "" {
		t.Fatalf("weather locations = %v, want empty string for the default fallback", wthr.locations)
	}
}

func TestDispatcherWeatherLocationResolutionNoPlace(t *testing.T) {
	wthr := &stubWeather{report: weather.Report{Location: "Hanoi", Temperature: 30, Conditions: "clear sky"}}
	llm := &recordingLLM{response: "NONE"}
	d := NewDispatcher(nil, wthr, llm, nil)

	history := []retrieval.Message{{Role: "ai", Content: "RRF merges ranked lists."}}
	result := d.Execute(context.Background(), Task{ID: "w", Type: TaskWeather, Question: "weather there?"}, history)
	if result.Error != "" {
		t.Fatalf("unexpected error: %q", result.Error)
	}
	if len(wthr.locations) != 1 || wthr.locations[0] != "" {
		t.Fatalf("weather locations = %v, want empty string when history names no place", wthr.locations)
	}
}

func TestAnswerSumsRetrievalStats(t *testing.T) {
	planner := &stubPlanner{tasks: []Task{
		{ID: "t1", Type: TaskRetrieval, Question: "what is RRF"},
		{ID: "t2", Type: TaskRetrieval, Question: "who introduced RRF"},
	}}
	retriever := &stubRetriever{result: retrieval.Result{
		Passages: passages("RRF merges ranked lists."),
		Stats: retrieval.Stats{
			ExpandedQueries: []string{"q", "q variant"},
			RetrievedCount:  6,
			FusedCount:      4,
			FinalCount:      1,
		},
	}}
	llm := &recordingLLM{response: "RRF merges ranked lists."}

	o := newTestOrchestrator(planner, retriever, nil, llm)
	aggregate, err := o.Answer(context.Background(), "what is RRF and who introduced it?", nil)
	if err != nil {
		t.Fatalf("Answer returned error: %v", err)
	}

	want := RetrievalStats{ExpandedQueryCount: 4, RetrievedCount: 12, FusedCount: 8, FinalCount: 2}
	if aggregate.RetrievalStats != want {
		t.Fatalf("turn retrieval stats = %+v, want %+v", aggregate.RetrievalStats, want)
	}
}

func TestAnswerDirectAnswersStayOutOfInTurnHistory(t *testing.T) {
	planner := &stubPlanner{tasks: []Task{
		{ID: "t1", Type: TaskDirect, Question: "say hello"},
		{ID: "t2", Type: TaskArithmetic, Question: "what is 2 + 2", Expression: "2 + 2"},
		{ID: "t3", Type: TaskRetrieval, Question: "what is RRF"},
	}}
	retriever := &stubRetriever{result: retrieval.Result{Passages: passages("RRF merges ranked lists.")}}
	llm := &recordingLLM{response: "Hello!"}

	o := newTestOrchestrator(planner, retriever, nil, llm)
	if _, err := o.Answer(context.Background(), "hello, 2+2, and RRF?", nil); err != nil {
		t.Fatalf("Answer returned error: %v", err)
	}

	if len(retriever.histories) != 1 {
		t.Fatalf("expected 1 retrieval call, got %d", len(retriever.histories))
	}
	if len(retriever.histories[0]) != 0 {
		t.Fatalf("direct and arithmetic answers leaked into the in-turn history: %+v", retriever.histories[0])
	}
}

func TestFinishedTurnStatesEvicted(t *testing.T) {
	planner := &stubPlanner{tasks: []Task{
		{ID: "t1", Type: TaskArithmetic, Question: "what is 1 + 1", Expression: "1 + 1"},
	}}
	llm := &recordingLLM{response: "two"}
	o := newTestOrchestrator(planner, nil, nil, llm)

	var first, last string
	for i := 0; i < doneRetention+5; i++ {
		aggregate, err := o.Answer(context.Background(), "what is 1 + 1?", nil)
		if err != nil {
			t.Fatalf("Answer returned error: %v", err)
		}
		if i == 0 {
			first = aggregate.TurnID
		}
		last = aggregate.TurnID
	}

	if _, ok := o.State(first); ok {
		t.Fatal("oldest finished turn must be evicted from the state map")
	}
	if state, ok := o.State(last); !ok || state != StateDone {
		t.Fatalf("latest turn state = %v, %t", state, ok)
	}
	o.mu.RLock()
	size := len(o.states)
	o.mu.RUnlock()
	if size > doneRetention {
		t.Fatalf("state map holds %d entries, cap is %d", size, doneRetention)
	}
}

func TestAnswerCapsMergedPassages(t *testing.T) {
	var contents []string
	for i := 0; i < 30; i++ {
		contents = append(contents, fmt.Sprintf("passage %d", i))
	}
	planner := &stubPlanner{tasks: []Task{
		{ID: "t1", Type: TaskRetrieval, Question: "broad question"},
	}}
	retriever := &stubRetriever{result: retrieval.Result{Passages: passages(contents...)}}
	llm := &recordingLLM{response: "summary"}

	o := newTestOrchestrator(planner, retriever, nil, llm)
	aggregate, err := o.Answer(context.Background(), "broad question", nil)
	if err != nil {
		t.Fatalf("Answer returned error: %v", err)
	}
	if len(aggregate.MergedPassages) != 20 {
		t.Fatalf("merged passages = %d, want cap of 20", len(aggregate.MergedPassages))
	}
}

func TestAnswerPlannerErrorUsesFallbackTask(t *testing.T) {
	planner := &stubPlanner{err: fmt.Errorf("planner exploded")}
	llm := &recordingLLM{response: "Hello!"}

	o := newTestOrchestrator(planner, nil, nil, llm)
	aggregate, err := o.Answer(context.Background(), "hello", nil)
	if err != nil {
		t.Fatalf("planner error must degrade, not fail the turn: %v", err)
	}
	if len(aggregate.Tasks) != 1 || aggregate.Tasks[0].Type != TaskDirect {
		t.Fatalf("expected single direct fallback task, got %+v", aggregate.Tasks)
	}
}

func TestDispatcherUnknownCapability(t *testing.T) {
	d := NewDispatcher(nil, nil, &recordingLLM{}, nil)
	result := d.Execute(context.Background(), Task{ID: "x", Type: TaskType("teleport")}, nil)
	if result.Error == "" {
		t.Fatal("unknown task type must produce a subtask error")
	}
}

func TestDispatcherWeatherUnavailable(t *testing.T) {
	d := NewDispatcher(nil, nil, &recordingLLM{}, nil)
	result := d.Execute(context.Background(), Task{ID: "w", Type: TaskWeather, Question: "weather?"}, nil)
	if result.Error == "" {
		t.Fatal("missing weather capability must produce a subtask error")
	}
}
