package main

import (
	"fmt"

	"github.com/hieutrtr/ragforge/config"
	"github.com/hieutrtr/ragforge/internal/agent/core"
	"github.com/hieutrtr/ragforge/internal/agent/telemetry"
	"github.com/hieutrtr/ragforge/internal/index"
	"github.com/hieutrtr/ragforge/internal/llm"
	"github.com/hieutrtr/ragforge/internal/retrieval"
	"github.com/hieutrtr/ragforge/internal/scoring"
	"github.com/hieutrtr/ragforge/internal/weather"
)

// engine bundles everything a command needs to answer questions.
type engine struct {
	orchestrator *core.Orchestrator
	index        index.KnowledgeIndex
	telemetry    *telemetry.Telemetry
}

// buildEngine wires the full answering stack from config. This is the one
// place collaborators are constructed; everything downstream receives them
// as dependencies.
func buildEngine(cfg *config.Config) (*engine, error) {
	telem := telemetry.NewTelemetry(cfg.Telemetry)
	llmClient := llm.Instrument(llm.NewClient(cfg.LLM), telem)

	idx, err := buildIndex(cfg, llmClient)
	if err != nil {
		return nil, err
	}

	// A nil scorer is fine: the reranker degrades to pass-through.
	var scorer retrieval.Scorer
	if s := scoring.NewClient(cfg.Scoring); s != nil {
		scorer = s
	}

	retriever := retrieval.NewRetriever(llmClient, idx, scorer, cfg.Retrieval, telem)
	weatherClient := weather.NewClient(cfg.Weather)

	planner, err := core.NewPlanner(cfg.Planner, llmClient)
	if err != nil {
		return nil, err
	}
	dispatcher := core.NewDispatcher(retriever, weatherClient, llmClient, telem)
	synthesizer := core.NewSynthesizer(llmClient)
	orchestrator := core.NewOrchestrator(planner, dispatcher, synthesizer, telem)

	return &engine{
		orchestrator: orchestrator,
		index:        idx,
		telemetry:    telem,
	}, nil
}

func buildIndex(cfg *config.Config, embedder index.Embedder) (index.KnowledgeIndex, error) {
	switch cfg.Index.Backend {
	case "bleve":
		return index.NewBleveIndex(cfg.Index.Bleve.Path)
	case "pinecone":
		return index.NewPineconeIndex(cfg.Index.Pinecone, embedder)
	default:
		return nil, fmt.Errorf("unknown index backend: %s", cfg.Index.Backend)
	}
}
