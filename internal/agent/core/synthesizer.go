package core

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/hieutrtr/ragforge/internal/retrieval"
)

// Synthesizer turns a turn's collected evidence into a final prose answer.
type Synthesizer struct {
	llm    TextCompletion
	logger *log.Logger
}

// NewSynthesizer creates an answer synthesizer.
func NewSynthesizer(llm TextCompletion) *Synthesizer {
	return &Synthesizer{
		llm:    llm,
		logger: log.New(log.Writer(), "[SYNTH] ", log.LstdFlags),
	}
}

// Synthesize produces the final answer for the aggregate. It is called on
// every turn, sufficient or not; when evidence is thin the prompt tells the
// model to say what is missing rather than invent facts. A generation
// failure falls back to the concatenated subtask answers so the turn always
// ends with some answer text.
func (s *Synthesizer) Synthesize(ctx context.Context, aggregate *TurnAggregate, history []retrieval.Message) string {
	prompt := s.createSynthesisPrompt(aggregate, history)

	answer, err := s.llm.Generate(ctx, prompt)
	if err != nil {
		s.logger.Printf("Warning: synthesis failed, falling back to subtask answers: %v", err)
		return fallbackAnswer(aggregate)
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return fallbackAnswer(aggregate)
	}
	return answer
}

func (s *Synthesizer) createSynthesisPrompt(aggregate *TurnAggregate, history []retrieval.Message) string {
	var sb strings.Builder

	sb.WriteString("You are answering a user's question using the findings below.\n")
	sb.WriteString("Write a natural, direct answer. Never mention tools, tasks,\n")
	sb.WriteString("retrieval or any internal step names. If the findings do not\n")
	sb.WriteString("cover part of the question, say so plainly instead of guessing.\n\n")

	if len(history) > 0 {
		sb.WriteString("CONVERSATION SO FAR:\n")
		for _, m := range history {
			role := "Human"
			if m.Role == "ai" {
				role = "AI"
			}
			fmt.Fprintf(&sb, "%s: %s\n", role, m.Content)
		}
		sb.WriteString("\n")
	}

	fmt.Fprintf(&sb, "QUESTION: %s\n\n", aggregate.Question)

	if len(aggregate.MergedPassages) > 0 {
		sb.WriteString("EVIDENCE:\n")
		for i, p := range aggregate.MergedPassages {
			fmt.Fprintf(&sb, "[%d] %s\n", i+1, p.Content)
		}
		sb.WriteString("\n")
	}

	var computations, observations, failures []string
	for _, r := range aggregate.Results {
		switch {
		case r.Error != "":
			failures = append(failures, fmt.Sprintf("%s: %s", r.Task.Question, r.Error))
		case r.Task.Type == TaskArithmetic:
			computations = append(computations, r.Answer)
		case r.Task.Type == TaskWeather || r.Task.Type == TaskDirect:
			observations = append(observations, r.Answer)
		}
	}
	if len(computations) > 0 {
		sb.WriteString("COMPUTATIONS:\n")
		for _, c := range computations {
			fmt.Fprintf(&sb, "- %s\n", c)
		}
		sb.WriteString("\n")
	}
	if len(observations) > 0 {
		sb.WriteString("OTHER FINDINGS:\n")
		for _, o := range observations {
			fmt.Fprintf(&sb, "- %s\n", o)
		}
		sb.WriteString("\n")
	}
	if len(failures) > 0 {
		sb.WriteString("UNANSWERED PARTS (acknowledge these, do not invent answers):\n")
		for _, f := range failures {
			fmt.Fprintf(&sb, "- %s\n", f)
		}
		sb.WriteString("\n")
	}

	sb.WriteString("ANSWER:")
	return sb.String()
}

func fallbackAnswer(aggregate *TurnAggregate) string {
	var parts []string
	for _, r := range aggregate.Results {
		if r.Error == "" && r.Answer != "" {
			parts = append(parts, r.Answer)
		}
	}
	if len(parts) == 0 {
		return "I could not find an answer to that question."
	}
	return strings.Join(parts, "\n")
}
