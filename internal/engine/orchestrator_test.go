// ABOUTME: Tests for the sync orchestrator: optimistic sends, rollback,
// ABOUTME: stale-response discard across session switches, sources panel rules.

package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raglinehq/ragline/internal/chat"
)

// fakeAPI scripts the request/response surface. A gate channel, when set,
// blocks the corresponding call until the channel is closed.
type fakeAPI struct {
	mu sync.Mutex

	createID  string
	createErr error

	history     map[string][]chat.Message
	historyErr  error
	historyGate chan struct{}

	sendSources []chat.Source
	sendErr     error
	sendGate    chan struct{}

	clearErr   error
	clearCalls []string
}

func (a *fakeAPI) CreateSession(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.createID, a.createErr
}

func (a *fakeAPI) History(ctx context.Context, sessionID string) ([]chat.Message, error) {
	a.mu.Lock()
	gate := a.historyGate
	a.mu.Unlock()
	if gate != nil {
		<-gate
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.historyErr != nil {
		return nil, a.historyErr
	}
	return a.history[sessionID], nil
}

func (a *fakeAPI) SendMessage(ctx context.Context, sessionID, text string) ([]chat.Source, error) {
	a.mu.Lock()
	gate := a.sendGate
	a.mu.Unlock()
	if gate != nil {
		<-gate
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sendErr != nil {
		return nil, a.sendErr
	}
	return a.sendSources, nil
}

func (a *fakeAPI) ClearHistory(ctx context.Context, sessionID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.clearCalls = append(a.clearCalls, sessionID)
	return a.clearErr
}

// fakeChannel records binds and unbinds.
type fakeChannel struct {
	mu      sync.Mutex
	bound   []string
	unbinds int
	bindErr error
}

func (c *fakeChannel) Bind(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bound = append(c.bound, sessionID)
	return c.bindErr
}

func (c *fakeChannel) Unbind() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unbinds++
}

func (c *fakeChannel) boundSessions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.bound))
	copy(out, c.bound)
	return out
}

func assistantMsg(id, content string, sources ...chat.Source) chat.Message {
	return chat.Message{
		ID:        id,
		Role:      chat.RoleAssistant,
		Content:   content,
		Timestamp: time.Now().UTC(),
		Sources:   sources,
	}
}

func userMsg(id, content string) chat.Message {
	return chat.Message{
		ID:        id,
		Role:      chat.RoleUser,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
}

func TestOrchestrator_StartSessionCreatesAndBinds(t *testing.T) {
	api := &fakeAPI{createID: "sess-new"}
	ch := &fakeChannel{}
	o := New(api, ch, nil)

	require.NoError(t, o.StartSession(t.Context(), ""))

	assert.Equal(t, "sess-new", o.SessionID())
	assert.Equal(t, []string{"sess-new"}, ch.boundSessions())
	assert.Empty(t, o.Messages())
}

func TestOrchestrator_StartSessionLoadsHistory(t *testing.T) {
	api := &fakeAPI{history: map[string][]chat.Message{
		"sess-1": {
			userMsg("m1", "question"),
			assistantMsg("m2", "answer"),
		},
	}}
	ch := &fakeChannel{}
	o := New(api, ch, nil)

	require.NoError(t, o.StartSession(t.Context(), "sess-1"))

	msgs := o.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, "m2", msgs[1].ID)
	assert.Equal(t, []string{"sess-1"}, ch.boundSessions())
}

func TestOrchestrator_HistoryDerivesSourcesFromLastAssistantTurn(t *testing.T) {
	src := chat.Source{Title: "A", URL: "http://a.x"}
	api := &fakeAPI{history: map[string][]chat.Message{
		"sess-1": {
			assistantMsg("m1", "cited earlier", chat.Source{Title: "old", URL: "http://old.x"}),
			userMsg("m2", "next question"),
			assistantMsg("m3", "cited", src),
		},
		"sess-2": {
			assistantMsg("m1", "cited", src),
			userMsg("m2", "followup"),
			assistantMsg("m3", "no citations this time"),
		},
	}}
	o := New(api, &fakeChannel{}, nil)

	require.NoError(t, o.StartSession(t.Context(), "sess-1"))
	sources, open := o.Sources()
	assert.True(t, open)
	require.Len(t, sources, 1)
	assert.Equal(t, "A", sources[0].Title)

	// Only the LAST assistant message counts; a sourceless one means closed.
	require.NoError(t, o.StartSession(t.Context(), "sess-2"))
	sources, open = o.Sources()
	assert.False(t, open)
	assert.Empty(t, sources)
}

func TestOrchestrator_StaleHistoryResponseDiscarded(t *testing.T) {
	gate := make(chan struct{})
	api := &fakeAPI{
		historyGate: gate,
		history: map[string][]chat.Message{
			"sess-old": {userMsg("old-1", "stale payload")},
			"sess-new": {userMsg("new-1", "current payload")},
		},
	}
	o := New(api, &fakeChannel{}, nil)

	done := make(chan error, 1)
	go func() { done <- o.StartSession(context.Background(), "sess-old") }()

	// The session id is recorded at intent time, so this confirms the first
	// call is past its intent phase and parked on the gate.
	require.Eventually(t, func() bool {
		return o.SessionID() == "sess-old"
	}, time.Second, 2*time.Millisecond)
	api.mu.Lock()
	api.historyGate = nil
	api.mu.Unlock()
	require.NoError(t, o.StartSession(t.Context(), "sess-new"))

	close(gate)
	require.NoError(t, <-done, "superseded start resolves without error")

	assert.Equal(t, "sess-new", o.SessionID())
	msgs := o.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "new-1", msgs[0].ID, "stale history must not overwrite the active session")
}

func TestOrchestrator_SendAppendsOptimistically(t *testing.T) {
	api := &fakeAPI{createID: "sess-1"}
	o := New(api, &fakeChannel{}, nil)
	require.NoError(t, o.StartSession(t.Context(), ""))

	require.NoError(t, o.Send(t.Context(), "hello there"))

	msgs := o.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, chat.RoleUser, msgs[0].Role)
	assert.Equal(t, "hello there", msgs[0].Content)
	assert.NotEmpty(t, msgs[0].ID, "optimistic message carries a locally-assigned id")
}

func TestOrchestrator_SendFailureRollsBack(t *testing.T) {
	api := &fakeAPI{history: map[string][]chat.Message{
		"sess-1": {
			userMsg("m1", "earlier"),
			assistantMsg("m2", "reply"),
		},
	}}
	o := New(api, &fakeChannel{}, nil)
	require.NoError(t, o.StartSession(t.Context(), "sess-1"))
	before := o.Messages()

	api.mu.Lock()
	api.sendErr = errors.New("backend down")
	api.mu.Unlock()

	err := o.Send(t.Context(), "doomed")
	require.Error(t, err)

	assert.Equal(t, before, o.Messages(), "failed send must leave the exact prior state")

	// The rejected send releases the in-flight guard.
	api.mu.Lock()
	api.sendErr = nil
	api.mu.Unlock()
	require.NoError(t, o.Send(t.Context(), "retry"))
	assert.Len(t, o.Messages(), 3)
}

func TestOrchestrator_SendValidation(t *testing.T) {
	api := &fakeAPI{createID: "sess-1"}
	o := New(api, &fakeChannel{}, nil)

	assert.ErrorIs(t, o.Send(t.Context(), "   "), ErrEmptyMessage)
	assert.ErrorIs(t, o.Send(t.Context(), "no session yet"), ErrNoActiveSession)

	require.NoError(t, o.StartSession(t.Context(), ""))
	assert.ErrorIs(t, o.Send(t.Context(), "\t\n"), ErrEmptyMessage)
}

func TestOrchestrator_SendRejectsConcurrentSend(t *testing.T) {
	gate := make(chan struct{})
	api := &fakeAPI{createID: "sess-1", sendGate: gate}
	o := New(api, &fakeChannel{}, nil)
	require.NoError(t, o.StartSession(t.Context(), ""))

	done := make(chan error, 1)
	go func() { done <- o.Send(context.Background(), "first") }()

	// The optimistic append signals the first send is in flight.
	require.Eventually(t, func() bool {
		return len(o.Messages()) == 1
	}, time.Second, 2*time.Millisecond)
	assert.ErrorIs(t, o.Send(t.Context(), "second"), ErrSendInFlight)

	close(gate)
	require.NoError(t, <-done)

	// Guard released after the first send resolves.
	require.NoError(t, o.Send(t.Context(), "third"))
}

func TestOrchestrator_SendSetsSourcesEagerly(t *testing.T) {
	api := &fakeAPI{
		createID:    "sess-1",
		sendSources: []chat.Source{{Title: "A", URL: "http://a.x"}},
	}
	o := New(api, &fakeChannel{}, nil)
	require.NoError(t, o.StartSession(t.Context(), ""))

	require.NoError(t, o.Send(t.Context(), "cite me"))

	sources, open := o.Sources()
	assert.True(t, open)
	require.Len(t, sources, 1)
	assert.Equal(t, "A", sources[0].Title)
}

func TestOrchestrator_ArrivalOpensSourcesAndKeepsThemOpen(t *testing.T) {
	api := &fakeAPI{createID: "sess-1"}
	o := New(api, &fakeChannel{}, nil)
	require.NoError(t, o.StartSession(t.Context(), ""))

	o.OnMessageArrived(assistantMsg("m1", "cited", chat.Source{Title: "A", URL: "http://a.x"}))
	sources, open := o.Sources()
	require.True(t, open)
	require.Len(t, sources, 1)

	// A sourceless assistant turn must not close the panel or drop its content.
	o.OnMessageArrived(assistantMsg("m2", "plain answer"))
	sources, open = o.Sources()
	assert.True(t, open)
	require.Len(t, sources, 1)
	assert.Equal(t, "A", sources[0].Title)

	assert.Len(t, o.Messages(), 2)
}

func TestOrchestrator_ArrivalDeduplicatesById(t *testing.T) {
	api := &fakeAPI{createID: "sess-1"}
	o := New(api, &fakeChannel{}, nil)
	require.NoError(t, o.StartSession(t.Context(), ""))

	msg := assistantMsg("m1", "delivered twice")
	o.OnMessageArrived(msg)
	o.OnMessageArrived(msg)

	assert.Len(t, o.Messages(), 1)
}

func TestOrchestrator_ClearHistory(t *testing.T) {
	api := &fakeAPI{history: map[string][]chat.Message{
		"sess-1": {
			userMsg("m1", "q"),
			assistantMsg("m2", "a", chat.Source{Title: "A", URL: "http://a.x"}),
		},
	}}
	o := New(api, &fakeChannel{}, nil)
	require.NoError(t, o.StartSession(t.Context(), "sess-1"))

	require.NoError(t, o.ClearHistory(t.Context()))

	assert.Empty(t, o.Messages())
	_, open := o.Sources()
	assert.False(t, open, "clearing history closes the sources panel")
	assert.Equal(t, []string{"sess-1"}, api.clearCalls)

	// Clearing again with nothing left is a no-op, not an error.
	require.NoError(t, o.ClearHistory(t.Context()))
}

func TestOrchestrator_ClearHistoryRequiresSession(t *testing.T) {
	o := New(&fakeAPI{}, &fakeChannel{}, nil)
	assert.ErrorIs(t, o.ClearHistory(t.Context()), ErrNoActiveSession)
}

func TestOrchestrator_RemoteClearWipesStateAndSources(t *testing.T) {
	api := &fakeAPI{history: map[string][]chat.Message{
		"sess-1": {assistantMsg("m1", "a", chat.Source{Title: "A", URL: "http://a.x"})},
	}}
	o := New(api, &fakeChannel{}, nil)
	require.NoError(t, o.StartSession(t.Context(), "sess-1"))

	o.OnCleared()

	assert.Empty(t, o.Messages())
	_, open := o.Sources()
	assert.False(t, open)
	assert.Empty(t, api.clearCalls, "a remote clear must not call the API back")
}

func TestOrchestrator_SessionSwitchClosesSources(t *testing.T) {
	api := &fakeAPI{
		createID: "sess-2",
		history: map[string][]chat.Message{
			"sess-1": {assistantMsg("m1", "a", chat.Source{Title: "A", URL: "http://a.x"})},
		},
	}
	o := New(api, &fakeChannel{}, nil)
	require.NoError(t, o.StartSession(t.Context(), "sess-1"))
	_, open := o.Sources()
	require.True(t, open)

	require.NoError(t, o.StartSession(t.Context(), ""))
	_, open = o.Sources()
	assert.False(t, open)
}

func TestOrchestrator_ChangeObserverSeesSnapshots(t *testing.T) {
	api := &fakeAPI{createID: "sess-1"}
	o := New(api, &fakeChannel{}, nil)

	var mu sync.Mutex
	var last []chat.Message
	o.OnChange(func(msgs []chat.Message) {
		mu.Lock()
		last = msgs
		mu.Unlock()
	})

	require.NoError(t, o.StartSession(t.Context(), ""))
	o.OnMessageArrived(assistantMsg("m1", "pushed"))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, last, 1)
	assert.Equal(t, "m1", last[0].ID)
}

func TestOrchestrator_StopDeactivates(t *testing.T) {
	api := &fakeAPI{createID: "sess-1"}
	ch := &fakeChannel{}
	o := New(api, ch, nil)
	require.NoError(t, o.StartSession(t.Context(), ""))

	o.Stop()

	assert.Empty(t, o.SessionID())
	assert.Nil(t, o.Messages())
	assert.Equal(t, 1, ch.unbinds)
	assert.ErrorIs(t, o.Send(t.Context(), "after stop"), ErrNoActiveSession)
}
