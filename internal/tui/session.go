// Package tui is the interactive chat front end. Terminals get a Bubble
// Tea model; pipes and files are read one question per line.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/ragd/internal/pipeline"
)

// Service is the chat-facing subset of the pipeline.
type Service interface {
	Ask(ctx context.Context, question, contextHint string) (*pipeline.Answer, error)
	Health(ctx context.Context) pipeline.HealthStatus
	TryRebuild(ctx context.Context, opts pipeline.RebuildOptions) (*pipeline.RebuildResult, error)
}

// Action is what one line of input asks for.
type Action int

const (
	ActionNone Action = iota
	ActionQuit
	ActionHealth
	ActionRebuild
	ActionAsk
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionQuit:
		return "quit"
	case ActionHealth:
		return "health"
	case ActionRebuild:
		return "rebuild"
	case ActionAsk:
		return "ask"
	default:
		return "unknown"
	}
}

// Parse classifies a line of input and returns it trimmed.
func Parse(line string) (Action, string) {
	line = strings.TrimSpace(line)
	switch line {
	case "":
		return ActionNone, ""
	case "exit", "quit":
		return ActionQuit, line
	case ":health":
		return ActionHealth, line
	case ":rebuild":
		return ActionRebuild, line
	}
	return ActionAsk, line
}

// Reply is the rendered outcome of one line.
type Reply struct {
	Action Action
	Text   string
	// Failed marks a question or rebuild that failed. The session goes on.
	Failed bool
}

// Session routes chat input to a Service.
type Session struct {
	svc         Service
	contextHint string
}

// NewSession creates a Session. contextHint is echoed with every answer.
func NewSession(svc Service, contextHint string) *Session {
	return &Session{svc: svc, contextHint: contextHint}
}

// Handle runs one line of input. The error is non-nil only when ctx is
// done, which ends the session.
func (s *Session) Handle(ctx context.Context, line string) (Reply, error) {
	action, text := Parse(line)
	reply := Reply{Action: action}

	var b strings.Builder
	switch action {
	case ActionNone, ActionQuit:
		return reply, nil
	case ActionHealth:
		WriteHealth(&b, s.svc.Health(ctx))
	case ActionRebuild:
		res, err := s.svc.TryRebuild(ctx, pipeline.RebuildOptions{ForceRefresh: true})
		if err != nil {
			if ctx.Err() != nil {
				return reply, ctx.Err()
			}
			reply.Failed = true
			fmt.Fprintf(&b, "rebuild failed: %v\n", err)
			break
		}
		fmt.Fprintf(&b, "Rebuilt generation %s with %d chunks in %s\n",
			res.Partition.Generation, res.Chunks, res.Took.Round(time.Millisecond))
	case ActionAsk:
		ans, err := s.svc.Ask(ctx, text, s.contextHint)
		if err != nil {
			if ctx.Err() != nil {
				return reply, ctx.Err()
			}
			reply.Failed = true
			fmt.Fprintf(&b, "error: %v\n", err)
			break
		}
		WriteAnswer(&b, ans)
	}
	reply.Text = b.String()
	return reply, nil
}
