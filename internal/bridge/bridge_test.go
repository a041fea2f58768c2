package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a3tai/papyrus-engine/internal/engine"
	"github.com/a3tai/papyrus-engine/internal/source"
)

func TestNewRequest(t *testing.T) {
	req, err := NewRequest("1", KindLoad, LoadPayload{Type: "text", Source: source.WireSource{Kind: source.WireText, Text: "hi"}})
	require.NoError(t, err)

	encoded, err := Encode(req)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(encoded), &decoded))
	assert.Equal(t, "1", decoded["id"])
	assert.Equal(t, "load", decoded["kind"])
	payload := decoded["payload"].(map[string]any)
	assert.Equal(t, "text", payload["type"])

	bare, err := NewRequest("2", KindGetOutline, nil)
	require.NoError(t, err)
	encoded, err = Encode(bare)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"2","kind":"get-outline"}`, encoded)
}

func TestMessages(t *testing.T) {
	resp, err := Response("7", PageResult{CurrentPage: 3})
	require.NoError(t, err)
	assert.True(t, resp.Succeeded())
	assert.JSONEq(t, `{"currentPage":3}`, string(resp.Data))

	fail := Failure("8", errors.New("boom"))
	assert.False(t, fail.Succeeded())
	assert.Equal(t, "boom", fail.Error)
	assert.Equal(t, "unknown error", Failure("9", nil).Error)

	ev, err := Event(EventDocumentLoaded, DocumentLoadedPayload{PageCount: 2})
	require.NoError(t, err)
	assert.Equal(t, TypeEvent, ev.Type)
	assert.Equal(t, EventDocumentLoaded, ev.Name)

	st, err := StateMessage(State{CurrentPage: IntPtr(4)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"currentPage":4}`, string(st.Payload))

	assert.False(t, Ready().Succeeded())
}

func TestPending_Resolve(t *testing.T) {
	p := NewPending("webview")
	call := p.Add("a", KindGoToPage, time.Minute)
	assert.Equal(t, 1, p.Len())

	msg, err := Response("a", PageResult{CurrentPage: 2})
	require.NoError(t, err)
	assert.True(t, p.Resolve(msg))
	assert.Equal(t, 0, p.Len())

	got, err := Decode[PageResult](context.Background(), call)
	require.NoError(t, err)
	assert.Equal(t, 2, got.CurrentPage)

	// Late or unknown responses are dropped.
	assert.False(t, p.Resolve(msg))
}

func TestPending_RemoteFailure(t *testing.T) {
	p := NewPending("webview")
	call := p.Add("a", KindLoad, time.Minute)

	assert.True(t, p.Resolve(Failure("a", errors.New("bad document"))))
	_, err := call.Wait(context.Background())
	require.Error(t, err)
	assert.True(t, engine.IsKind(err, engine.KindRemote))
	assert.Contains(t, err.Error(), "bad document")
}

func TestPending_Timeout(t *testing.T) {
	p := NewPending("webview")
	call := p.Add("a", KindGetOutline, 20*time.Millisecond)

	select {
	case <-call.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("call did not time out")
	}
	_, err := call.Result()
	assert.True(t, engine.IsKind(err, engine.KindTimeout))
	assert.Equal(t, 0, p.Len())

	msg, err := Response("a", nil)
	require.NoError(t, err)
	assert.False(t, p.Resolve(msg))
}

func TestPending_RejectAllAndCancel(t *testing.T) {
	p := NewPending("webview")
	a := p.Add("a", KindLoad, time.Minute)
	b := p.Add("b", KindGetOutline, 0)
	c := p.Add("c", KindGetOutline, 0)

	assert.True(t, p.Cancel("c", context.Canceled))
	assert.False(t, p.Cancel("c", context.Canceled))
	_, err := c.Result()
	assert.ErrorIs(t, err, context.Canceled)

	destroyed := engine.NewError(engine.KindDestroyed, "webview", "destroy", engine.ErrDestroyed)
	assert.Equal(t, 2, p.RejectAll(destroyed))
	assert.Equal(t, 0, p.Len())

	for _, call := range []*Call{a, b} {
		_, err := call.Wait(context.Background())
		assert.True(t, engine.IsKind(err, engine.KindDestroyed))
	}
}

func TestCall_WaitContext(t *testing.T) {
	p := NewPending("webview")
	call := p.Add("a", KindLoad, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := call.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, p.Len())
}

func TestPipe_OrderedDelivery(t *testing.T) {
	a, b := Pipe()
	defer a.Close()

	var (
		mu  sync.Mutex
		got []string
	)
	done := make(chan struct{})

	// Sent before the handler exists; must be queued.
	require.NoError(t, a.Send("0"))

	b.OnMessage(func(msg string) {
		mu.Lock()
		got = append(got, msg)
		n := len(got)
		mu.Unlock()
		if n == 4 {
			close(done)
		}
	})
	for _, msg := range []string{"1", "2", "3"} {
		require.NoError(t, a.Send(msg))
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("messages not delivered")
	}
	mu.Lock()
	assert.Equal(t, []string{"0", "1", "2", "3"}, got)
	mu.Unlock()
}

func TestPipe_Close(t *testing.T) {
	a, b := Pipe()
	b.Close()
	assert.ErrorIs(t, a.Send("x"), ErrClosed)
	assert.ErrorIs(t, b.Send("x"), ErrClosed)
}
