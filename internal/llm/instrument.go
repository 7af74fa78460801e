package llm

import (
	"context"
	"time"

	"github.com/hieutrtr/ragforge/internal/agent/telemetry"
)

// Completer is the generation and embedding surface Instrument decorates.
type Completer interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Embed(ctx context.Context, input []string) ([][]float32, error)
}

// Instrumented wraps a Completer and records the latency and outcome of
// every call against telemetry.
type Instrumented struct {
	client Completer
	telem  *telemetry.Telemetry
}

// Instrument wraps a client with call recording. A nil telem leaves calls
// unrecorded but still passes them through.
func Instrument(client Completer, telem *telemetry.Telemetry) *Instrumented {
	return &Instrumented{client: client, telem: telem}
}

// Generate delegates to the wrapped client and records the call.
func (i *Instrumented) Generate(ctx context.Context, prompt string) (string, error) {
	start := time.Now()
	out, err := i.client.Generate(ctx, prompt)
	i.record(ctx, "generate", start, err)
	return out, err
}

// Embed delegates to the wrapped client and records the call.
func (i *Instrumented) Embed(ctx context.Context, input []string) ([][]float32, error) {
	start := time.Now()
	out, err := i.client.Embed(ctx, input)
	i.record(ctx, "embed", start, err)
	return out, err
}

func (i *Instrumented) record(ctx context.Context, operation string, start time.Time, err error) {
	if i.telem == nil {
		return
	}
	i.telem.RecordLLMEvent(ctx, telemetry.LLMEvent{
		Operation: operation,
		Duration:  time.Since(start),
		Success:   err == nil,
	})
}
