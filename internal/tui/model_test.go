package tui

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// readyModel returns a sized model, as after the first WindowSizeMsg.
func readyModel(t *testing.T, svc Service) Model {
	t.Helper()
	m := New(context.Background(), NewSession(svc, ""))
	next, cmd := m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	assert.Nil(t, cmd)
	return next.(Model)
}

// run executes cmd and returns every message it produces, expanding
// batches.
func run(cmd tea.Cmd) []tea.Msg {
	if cmd == nil {
		return nil
	}
	msg := cmd()
	if batch, ok := msg.(tea.BatchMsg); ok {
		var msgs []tea.Msg
		for _, c := range batch {
			msgs = append(msgs, run(c)...)
		}
		return msgs
	}
	return []tea.Msg{msg}
}

func findReply(t *testing.T, msgs []tea.Msg) replyMsg {
	t.Helper()
	for _, msg := range msgs {
		if r, ok := msg.(replyMsg); ok {
			return r
		}
	}
	require.FailNow(t, "no reply message", "got %v", msgs)
	return replyMsg{}
}

func enter(t *testing.T, m Model, line string) (Model, tea.Cmd) {
	t.Helper()
	m.input.SetValue(line)
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	return next.(Model), cmd
}

func TestModel_ViewBeforeResize(t *testing.T) {
	m := New(context.Background(), NewSession(&fakeService{}, ""))
	assert.Equal(t, "Loading...", m.View())
	assert.NotNil(t, m.Init())
}

func TestModel_QuestionRoundTrip(t *testing.T) {
	svc := &fakeService{}
	m := readyModel(t, svc)

	m, cmd := enter(t, m, "Who was the first President?")
	require.NotNil(t, cmd)
	assert.True(t, m.Busy())
	assert.Empty(t, m.input.Value())
	assert.Contains(t, m.View(), "Thinking...")

	reply := findReply(t, run(cmd))
	assert.Equal(t, ActionAsk, reply.reply.Action)

	next, cmd := m.Update(reply)
	m = next.(Model)
	assert.Nil(t, cmd)
	assert.False(t, m.Busy())
	assert.Equal(t, int32(1), svc.asks.Load())

	transcript := m.Transcript()
	require.Len(t, transcript, 2)
	assert.Contains(t, transcript[0], "Who was the first President?")
	assert.Contains(t, transcript[1], "George Washington was the first President.")
	assert.Contains(t, m.View(), "George Washington was the first President.")
}

func TestModel_Commands(t *testing.T) {
	svc := &fakeService{}
	m := readyModel(t, svc)

	m, cmd := enter(t, m, ":health")
	assert.Contains(t, m.View(), "Checking health...")
	next, _ := m.Update(findReply(t, run(cmd)))
	m = next.(Model)

	m, cmd = enter(t, m, ":rebuild")
	assert.Contains(t, m.View(), "Rebuilding index...")
	next, _ = m.Update(findReply(t, run(cmd)))
	m = next.(Model)

	joined := strings.Join(m.Transcript(), "\n")
	assert.Contains(t, joined, "Status:       online")
	assert.Contains(t, joined, "Rebuilt generation ba9876543210")
	assert.Equal(t, int32(1), svc.rebuilds.Load())
	assert.Zero(t, svc.asks.Load())
}

func TestModel_FailedQuestionKeepsRunning(t *testing.T) {
	m := readyModel(t, &fakeService{askErr: errors.New("model unavailable")})

	m, cmd := enter(t, m, "Who?")
	next, cmd := m.Update(findReply(t, run(cmd)))
	m = next.(Model)

	assert.Nil(t, cmd)
	assert.NoError(t, m.Err())
	assert.Contains(t, m.Transcript()[1], "error: model unavailable")
}

func TestModel_EnterIgnoredWhileBusy(t *testing.T) {
	svc := &fakeService{}
	m := readyModel(t, svc)

	m, _ = enter(t, m, "first")
	m, cmd := enter(t, m, "second")
	assert.Nil(t, cmd)
	assert.Len(t, m.Transcript(), 1)
}

func TestModel_BlankLineDoesNothing(t *testing.T) {
	m := readyModel(t, &fakeService{})
	m, cmd := enter(t, m, "   ")
	assert.Nil(t, cmd)
	assert.False(t, m.Busy())
	assert.Empty(t, m.Transcript())
}

func TestModel_Quit(t *testing.T) {
	for _, line := range []string{"exit", "quit"} {
		t.Run(line, func(t *testing.T) {
			m := readyModel(t, &fakeService{})
			_, cmd := enter(t, m, line)
			require.NotNil(t, cmd)
			assert.IsType(t, tea.QuitMsg{}, cmd())
		})
	}

	m := readyModel(t, &fakeService{})
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestModel_CancelledContextQuits(t *testing.T) {
	m := readyModel(t, &fakeService{})
	next, cmd := m.Update(replyMsg{err: context.Canceled})
	m = next.(Model)

	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.ErrorIs(t, m.Err(), context.Canceled)
}

func TestModel_SpinnerStopsWhenIdle(t *testing.T) {
	m := readyModel(t, &fakeService{})
	_, cmd := m.Update(spinner.TickMsg{})
	assert.Nil(t, cmd)
}
