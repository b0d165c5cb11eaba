package hub

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sink struct {
	mu     sync.Mutex
	msgs   []string
	closed bool
}

func (s *sink) send(b []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, string(b))
	return nil
}

func (s *sink) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *sink) messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.msgs...)
}

func (s *sink) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func newTestManager(t *testing.T) *ClientManager {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	manager := NewClientManager(logger)
	ctx, cancel := context.WithCancel(context.Background())
	go manager.Run(ctx)
	t.Cleanup(cancel)
	return manager
}

func newTestClient(id string) (*Client, *sink) {
	s := &sink{}
	return NewClient(id, "127.0.0.1", "test", s.send, s.close), s
}

const account = "xrb_3t6k35gi95xu6tergt6p69ck76ogmitsa8mnijtpxm9fkcm736xtoncuohr3"

func TestPushReachesEverySubscriber(t *testing.T) {
	manager := newTestManager(t)
	a, sa := newTestClient("a")
	b, sb := newTestClient("b")
	c, sc := newTestClient("c")
	for _, client := range []*Client{a, b, c} {
		manager.Attach(client)
		manager.Subscribe(client, account)
	}
	manager.Detach(c)

	manager.PushToAccount(account, []byte(`{"hash":"1"}`))

	require.Eventually(t, func() bool {
		return len(sa.messages()) == 1 && len(sb.messages()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, sc.messages())
	assert.Equal(t, []string{"a", "b"}, manager.Subscribers(account))
}

func TestDetachCleansIndex(t *testing.T) {
	manager := newTestManager(t)
	a, _ := newTestClient("a")
	manager.Attach(a)
	manager.Subscribe(a, account)
	manager.Subscribe(a, "xrb_other")

	manager.Detach(a)
	assert.Nil(t, manager.Subscribers(account))
	assert.Nil(t, manager.Subscribers("xrb_other"))
	assert.Equal(t, 0, manager.Len())

	// unknown and repeated detaches are no-ops
	manager.Detach(a)
	ghost, _ := newTestClient("ghost")
	manager.Detach(ghost)
}

func TestSubscribeIgnoresUnregisteredClient(t *testing.T) {
	manager := newTestManager(t)
	a, _ := newTestClient("a")
	manager.Subscribe(a, account)
	assert.Nil(t, manager.Subscribers(account))
}

func TestRenameMovesSubscriptions(t *testing.T) {
	manager := newTestManager(t)
	a, _ := newTestClient("fresh")
	manager.Attach(a)
	manager.Subscribe(a, account)

	manager.Rename(a, "stored-uuid")
	assert.Equal(t, "stored-uuid", a.ID())
	assert.Equal(t, []string{"stored-uuid"}, manager.Subscribers(account))
	_, ok := manager.Get("fresh")
	assert.False(t, ok)
}

func TestRenameAfterDetachKeepsLiveSession(t *testing.T) {
	manager := newTestManager(t)
	gone, _ := newTestClient("fresh")
	manager.Attach(gone)
	manager.Detach(gone)

	live, liveSink := newTestClient("stored-uuid")
	manager.Attach(live)

	manager.Rename(gone, "stored-uuid")
	got, ok := manager.Get("stored-uuid")
	require.True(t, ok)
	assert.Same(t, live, got)
	assert.False(t, liveSink.isClosed())
	assert.Equal(t, 1, manager.Len())
}

func TestTakeoverClosesSupersededSocket(t *testing.T) {
	manager := newTestManager(t)
	old, oldSink := newTestClient("uuid-1")
	manager.Attach(old)
	manager.Subscribe(old, account)

	fresh, freshSink := newTestClient("tmp")
	manager.Attach(fresh)
	manager.Rename(fresh, "uuid-1")

	require.Eventually(t, oldSink.isClosed, time.Second, 5*time.Millisecond)
	assert.False(t, old.Connected())

	// the old connection going away must not detach the new one
	manager.Detach(old)
	current, ok := manager.Get("uuid-1")
	require.True(t, ok)
	assert.Same(t, fresh, current)
	assert.Equal(t, []string{"uuid-1"}, manager.Subscribers(account))

	manager.PushToAccount(account, []byte(`{}`))
	require.Eventually(t, func() bool { return len(freshSink.messages()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, oldSink.messages())
}

type currencyNote struct{}

func (currencyNote) AdjustForClient(client *Client) any {
	if client.Currency() == "" {
		return nil
	}
	return map[string]string{"currency": client.Currency()}
}

func TestBroadcastAdjustsPerClient(t *testing.T) {
	manager := newTestManager(t)
	a, sa := newTestClient("a")
	a.SetCurrency("eur")
	b, sb := newTestClient("b")
	manager.Attach(a)
	manager.Attach(b)

	manager.Broadcast(currencyNote{})
	require.Eventually(t, func() bool { return len(sa.messages()) == 1 }, time.Second, 5*time.Millisecond)
	assert.JSONEq(t, `{"currency":"eur"}`, sa.messages()[0])
	assert.Empty(t, sb.messages())
	assert.Equal(t, []string{"", "eur"}, manager.Currencies())
}

func TestReplyAfterDisconnect(t *testing.T) {
	a, s := newTestClient("a")
	require.NoError(t, a.Reply([]byte("x")))
	a.Disconnect()
	assert.ErrorIs(t, a.Reply([]byte("y")), ErrClientClosed)
	assert.Equal(t, []string{"x"}, s.messages())
}
