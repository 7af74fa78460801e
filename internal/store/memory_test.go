package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/hieutrtr/ragforge/config"
	"github.com/hieutrtr/ragforge/internal/retrieval"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.AppendMessage(ctx, "sess1", retrieval.Message{Role: "human", Content: "hello"}); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if err := s.AppendMessage(ctx, "sess1", retrieval.Message{Role: "ai", Content: "hi there"}); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	msgs, err := s.History(ctx, "sess1", 20)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Role != "human" || msgs[1].Role != "ai" {
		t.Fatalf("messages out of order: %+v", msgs)
	}
}

func TestMemoryStoreHistoryLimit(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if err := s.AppendMessage(ctx, "sess1", retrieval.Message{Role: "human", Content: fmt.Sprintf("msg %d", i)}); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}

	msgs, err := s.History(ctx, "sess1", 3)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	if msgs[0].Content != "msg 7" || msgs[2].Content != "msg 9" {
		t.Fatalf("limit must keep the most recent messages: %+v", msgs)
	}
}

func TestMemoryStoreSessionsIsolated(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	s.AppendMessage(ctx, "a", retrieval.Message{Role: "human", Content: "for a"})
	s.AppendMessage(ctx, "b", retrieval.Message{Role: "human", Content: "for b"})

	msgs, err := s.History(ctx, "a", 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "for a" {
		t.Fatalf("session isolation broken: %+v", msgs)
	}

	empty, err := s.History(ctx, "missing", 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("unknown session should have no history, got %+v", empty)
	}
}

func TestNewSelectsBackend(t *testing.T) {
	s, err := New(config.StorageConfig{Backend: "memory"})
	if err != nil {
		t.Fatalf("New(memory): %v", err)
	}
	if _, ok := s.(*MemoryStore); !ok {
		t.Fatalf("expected *MemoryStore, got %T", s)
	}

	if _, err := New(config.StorageConfig{Backend: "cassandra"}); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}
