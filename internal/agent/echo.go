// ABOUTME: Built-in runner that echoes the user's text back word by word
// ABOUTME: Used for local development and end-to-end tests without a model backend

package agent

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// handoffPrefix lets tests and demos trigger an agent handoff: "/handoff Name".
const handoffPrefix = "/handoff "

// EchoRunner streams a canned reply derived from the input.
type EchoRunner struct {
	// Delay is slept between streamed words.
	Delay time.Duration
}

// Run implements Runner.
func (r *EchoRunner) Run(ctx context.Context, req RunRequest, emit func(StreamEvent)) (*Result, error) {
	if emit == nil {
		emit = func(StreamEvent) {}
	}

	var next *Handle
	input := req.Input
	if rest, ok := strings.CutPrefix(input, handoffPrefix); ok {
		name, remainder, _ := strings.Cut(strings.TrimSpace(rest), " ")
		if name != "" && name != req.Agent.Name {
			next = &Handle{Name: name}
			emit(StreamEvent{Kind: EventHandoff, ToAgent: name})
		}
		input = remainder
	}

	reply := EchoReply(input)
	if !req.Stream {
		return &Result{FinalText: reply, NextAgent: next}, nil
	}

	for _, word := range strings.SplitAfter(reply, " ") {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		emit(StreamEvent{Kind: EventTextDelta, Delta: word})
		if r.Delay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(r.Delay):
			}
		}
	}
	return &Result{FinalText: reply, NextAgent: next}, nil
}

// EchoReply is the reply the echo runner gives for input.
func EchoReply(input string) string {
	lower := strings.ToLower(input)
	if strings.Contains(lower, "markdown") || strings.Contains(lower, "bullet") || strings.Contains(lower, "list") {
		return "Here is a **markdown** response:\n\n- First item\n- Second item with `code`\n- Third item\n\n> This is a blockquote.\n"
	}
	if strings.TrimSpace(input) == "" {
		return "I received an empty message."
	}
	return fmt.Sprintf("Echo: %s\n\nI received your message and am responding with some *formatted* text.", input)
}
