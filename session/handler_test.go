package session

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toncenter/nano-wallet-gateway/cache"
	"github.com/toncenter/nano-wallet-gateway/guard"
	"github.com/toncenter/nano-wallet-gateway/hub"
	"github.com/toncenter/nano-wallet-gateway/limiter"
	"github.com/toncenter/nano-wallet-gateway/rpc"
	"github.com/toncenter/nano-wallet-gateway/rpc/rpctest"
	"github.com/toncenter/nano-wallet-gateway/store"
)

const (
	account     = "xrb_3t6k35gi95xu6tergt6p69ck76ogmitsa8mnijtpxm9fkcm736xtoncuohr3"
	nanoAccount = "nano_3t6k35gi95xu6tergt6p69ck76ogmitsa8mnijtpxm9fkcm736xtoncuohr3"
	burn        = "xrb_1111111111111111111111111111111111111111111111111111hifc8npp"
)

type fixture struct {
	handler *Handler
	manager *hub.ClientManager
	node    *rpctest.Node
	mr      *miniredis.Miniredis
	fcm     *miniredis.Miniredis
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	node := rpctest.NewNode()
	t.Cleanup(node.Close)
	node.Reply("account_info", map[string]any{"frontier": "F", "balance": "1000"})
	node.Reply("pending", map[string]any{"blocks": map[string]string{"A": "1"}})

	mr := miniredis.RunT(t)
	fcm := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	fcmRdb := redis.NewClient(&redis.Options{Addr: fcm.Addr()})
	mr.HSet("prices", "coingecko:nano-usd", "1.5", "coingecko:nano-eur", "1.25", "coingecko:nano-btc", "0.00002")

	manager := hub.NewClientManager(logger)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go manager.Run(ctx)

	client := rpc.NewClient(rpc.Settings{URL: node.URL, Timeout: 5 * time.Second}, logger)
	work := rpc.NewWorkDispatcher(client, "", logger)
	handler := NewHandler(Deps{
		Manager:      manager,
		Node:         client,
		Work:         work,
		Guard:        guard.New(client, work, cache.NewLinkCache(rdb), false, logger),
		Sessions:     store.NewSessionStore(rdb),
		Prices:       store.NewPriceStore(rdb, false),
		LegacyTokens: store.NewRedisTokenStore(rdb),
		Tokens:       store.NewRedisTokenStore(fcmRdb),
		Limiter:      limiter.New(limiter.Config{Interval: time.Microsecond, Grace: 1000}),
		Logger:       logger,
	})
	return &fixture{handler: handler, manager: manager, node: node, mr: mr, fcm: fcm}
}

func (f *fixture) connect(id string) *hub.Client {
	client := hub.NewClient(id, "10.0.0.1", "test", func([]byte) error { return nil }, func() {})
	f.manager.Attach(client)
	return client
}

func (f *fixture) send(t *testing.T, client *hub.Client, msg string) map[string]any {
	t.Helper()
	reply := f.handler.HandleMessage(context.Background(), client, client.Source(), []byte(msg))
	require.NotNil(t, reply)
	var out map[string]any
	require.NoError(t, json.Unmarshal(reply, &out))
	return out
}

func TestFreshSubscribe(t *testing.T) {
	f := newFixture(t)
	client := f.connect("first")

	reply := f.send(t, client, `{"action":"account_subscribe","account":"`+nanoAccount+`","currency":"EUR","request_id":7}`)
	assert.Equal(t, "first", reply["uuid"])
	assert.Equal(t, "eur", reply["currency"])
	assert.Equal(t, 1.25, reply["price"])
	assert.Equal(t, 0.00002, reply["btc"])
	assert.EqualValues(t, 1, reply["pending_count"])
	assert.Equal(t, "F", reply["frontier"])
	assert.EqualValues(t, 7, reply["request_id"])

	assert.Equal(t, []string{"first"}, f.manager.Subscribers(account))
	assert.Equal(t, `["`+account+`"]`, f.mr.HGet("first", "account"))
	assert.Equal(t, "eur", f.mr.HGet("first", "currency"))
	assert.NotEmpty(t, f.mr.HGet("first", "last-connect"))
	assert.Equal(t, account, f.node.Requests("account_info")[0]["account"])
}

func TestSubscribeInvalidAccount(t *testing.T) {
	f := newFixture(t)
	client := f.connect("first")

	reply := f.send(t, client, `{"action":"account_subscribe","account":"xrb_nope"}`)
	assert.Equal(t, "Invalid account", reply["error"])
	assert.Equal(t, 0, f.node.Count("account_info"))
	assert.Empty(t, f.manager.Subscribers(account))
}

func TestSubscribeUpstreamFailureRegistersNothing(t *testing.T) {
	f := newFixture(t)
	f.node.Reply("account_info", `{"error":"Bad account number"}`)
	client := f.connect("first")

	reply := f.send(t, client, `{"action":"account_subscribe","account":"`+account+`"}`)
	assert.Equal(t, "Invalid account", reply["error"])
	assert.Empty(t, f.manager.Subscribers(account))
	assert.False(t, f.mr.Exists("first"))
}

func TestReconnectRecoversSession(t *testing.T) {
	f := newFixture(t)
	first := f.connect("first")
	f.send(t, first, `{"action":"account_subscribe","account":"`+account+`","currency":"eur"}`)
	f.handler.Disconnect(context.Background(), first)
	assert.Empty(t, f.manager.Subscribers(account))
	assert.NotEmpty(t, f.mr.HGet("first", "last-disconnect"))

	second := f.connect("second")
	reply := f.send(t, second, `{"action":"account_subscribe","uuid":"first"}`)
	assert.Equal(t, "eur", reply["currency"])
	assert.Equal(t, 1.25, reply["price"])
	assert.Nil(t, reply["uuid"])

	assert.Equal(t, "first", second.ID())
	assert.Equal(t, []string{"first"}, f.manager.Subscribers(account))
	got, ok := f.manager.Get("first")
	require.True(t, ok)
	assert.Same(t, second, got)
	_, ok = f.manager.Get("second")
	assert.False(t, ok)
}

func TestReconnectAppendsAccount(t *testing.T) {
	f := newFixture(t)
	f.mr.HSet("stored", "account", `["`+account+`"]`, "currency", "usd")
	client := f.connect("c")

	f.send(t, client, `{"action":"account_subscribe","uuid":"stored","account":"`+burn+`"}`)
	assert.Equal(t, `["`+account+`","`+burn+`"]`, f.mr.HGet("stored", "account"))
	assert.Equal(t, []string{"stored"}, f.manager.Subscribers(burn))
}

func TestReconnectMigratesLegacyRecord(t *testing.T) {
	f := newFixture(t)
	f.mr.HSet("legacy", "account", account)
	client := f.connect("c")

	reply := f.send(t, client, `{"action":"account_subscribe","uuid":"legacy"}`)
	assert.Equal(t, "usd", reply["currency"])
	assert.Equal(t, `["`+account+`"]`, f.mr.HGet("legacy", "account"))
	assert.Equal(t, "usd", f.mr.HGet("legacy", "currency"))
}

func TestReconnectLegacyConflictResubscribes(t *testing.T) {
	f := newFixture(t)
	f.mr.HSet("legacy", "account", burn, "currency", "eur")
	client := f.connect("c")

	reply := f.send(t, client, `{"action":"account_subscribe","uuid":"legacy","account":"`+account+`"}`)
	assert.Equal(t, "legacy", reply["uuid"])
	assert.Equal(t, `["`+account+`"]`, f.mr.HGet("legacy", "account"))
	assert.Equal(t, "legacy", client.ID())
}

func TestReconnectUnknownUUIDSubscribes(t *testing.T) {
	f := newFixture(t)
	client := f.connect("c")

	reply := f.send(t, client, `{"action":"account_subscribe","uuid":"restarted","account":"`+account+`"}`)
	assert.Equal(t, "restarted", reply["uuid"])
	assert.Equal(t, []string{"restarted"}, f.manager.Subscribers(account))
}

func TestReconnectEmptyRecordSubscribes(t *testing.T) {
	f := newFixture(t)
	f.mr.HSet("sess-1", "account", "[]")
	client := f.connect("c")

	reply := f.send(t, client, `{"action":"account_subscribe","uuid":"sess-1"}`)
	assert.Equal(t, "Invalid account", reply["error"])
	assert.Empty(t, f.manager.Subscribers(account))

	reply = f.send(t, client, `{"action":"account_subscribe","uuid":"sess-1","account":"`+account+`"}`)
	assert.Equal(t, "sess-1", reply["uuid"])
	assert.Equal(t, []string{"sess-1"}, f.manager.Subscribers(account))
}

func TestSubscribeStoresPushTokens(t *testing.T) {
	f := newFixture(t)
	client := f.connect("c")

	f.send(t, client, `{"action":"account_subscribe","account":"`+account+`","fcm_token_v2":"tok","notification_enabled":true}`)
	got, _ := f.fcm.Get("tok")
	assert.Equal(t, `["`+account+`"]`, got)
	assert.False(t, f.mr.Exists("tok"))

	other := f.connect("d")
	f.send(t, other, `{"action":"account_subscribe","account":"`+account+`","fcm_token":"old"}`)
	assert.True(t, f.mr.Exists("old"))
}

func TestFcmUpdate(t *testing.T) {
	f := newFixture(t)
	client := f.connect("c")

	reply := f.send(t, client, `{"action":"fcm_update","fcm_token_v2":"tok","account":"`+account+`","enabled":true}`)
	assert.Equal(t, "ok", reply["status"])
	assert.True(t, f.fcm.Exists("tok"))

	f.send(t, client, `{"action":"fcm_update","fcm_token_v2":"tok","account":"`+account+`","enabled":false}`)
	assert.False(t, f.fcm.Exists("tok"))
}

func TestCountIsClamped(t *testing.T) {
	f := newFixture(t)
	f.node.Reply("account_history", `{"history":[]}`)
	client := f.connect("c")

	f.send(t, client, `{"action":"account_history","account":"`+account+`","count":-1}`)
	f.send(t, client, `{"action":"account_history","account":"`+account+`","count":10000}`)
	f.send(t, client, `{"action":"account_history","account":"`+account+`","count":"20"}`)

	reqs := f.node.Requests("account_history")
	require.Len(t, reqs, 3)
	for _, req := range reqs[:2] {
		count := req["count"].(float64)
		assert.True(t, count >= 0 && count <= 3500, "count %v out of range", count)
	}
	assert.Equal(t, "20", reqs[2]["count"])
}

func TestAccountHistoryRecordsAccount(t *testing.T) {
	f := newFixture(t)
	f.node.Reply("account_history", `{"history":[]}`)
	client := f.connect("c")

	reply := f.send(t, client, `{"action":"account_history","account":"`+account+`"}`)
	assert.NotNil(t, reply["history"])
	assert.Equal(t, `["`+account+`"]`, f.mr.HGet("c", "account"))
}

func TestDuplicateBodyIsRejected(t *testing.T) {
	f := newFixture(t)
	release := make(chan struct{})
	f.node.Handle("block_count", func(map[string]any) any {
		<-release
		return `{"count":"10"}`
	})
	client := f.connect("c")
	msg := `{"action":"block_count"}`

	var wg sync.WaitGroup
	wg.Add(1)
	var firstRaw []byte
	go func() {
		defer wg.Done()
		firstRaw = f.handler.HandleMessage(context.Background(), client, client.Source(), []byte(msg))
	}()
	require.Eventually(t, func() bool { return f.node.Count("block_count") == 1 }, time.Second, 5*time.Millisecond)

	second := f.send(t, client, msg)
	assert.Equal(t, "already active", second["error"])

	close(release)
	wg.Wait()
	var first map[string]any
	require.NoError(t, json.Unmarshal(firstRaw, &first))
	assert.Equal(t, "10", first["count"])
	assert.Equal(t, 1, f.node.Count("block_count"))

	again := f.send(t, client, msg)
	assert.Equal(t, "10", again["count"])
}

func TestActionNotAllowed(t *testing.T) {
	f := newFixture(t)
	client := f.connect("c")

	reply := f.send(t, client, `{"action":"wallet_create","request_id":"x"}`)
	assert.Equal(t, "rpc command not allowed", reply["error"])
	assert.Equal(t, "x", reply["request_id"])
	assert.Equal(t, 0, f.node.Count(""))
}

func TestMalformedMessage(t *testing.T) {
	f := newFixture(t)
	client := f.connect("c")

	reply := f.send(t, client, `{"action":`)
	assert.Equal(t, "general error", reply["error"])
	assert.NotEmpty(t, reply["detail"])
}

func TestDuplicateBodyEchoesRequestID(t *testing.T) {
	f := newFixture(t)
	release := make(chan struct{})
	f.node.Handle("block_count", func(map[string]any) any {
		<-release
		return `{"count":"10"}`
	})
	client := f.connect("c")
	msg := `{"action":"block_count","request_id":42}`

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.handler.HandleMessage(context.Background(), client, client.Source(), []byte(msg))
	}()
	require.Eventually(t, func() bool { return f.node.Count("block_count") == 1 }, time.Second, 5*time.Millisecond)

	second := f.send(t, client, msg)
	assert.Equal(t, "already active", second["error"])
	assert.Equal(t, 42.0, second["request_id"])

	close(release)
	<-done
}

func TestUndecodableRequestEchoesRequestID(t *testing.T) {
	f := newFixture(t)
	client := f.connect("c")

	reply := f.send(t, client, `{"action":7,"request_id":"r1"}`)
	assert.Equal(t, "general error", reply["error"])
	assert.Equal(t, "r1", reply["request_id"])
}

func TestPanickingActionRepliesGeneralError(t *testing.T) {
	f := newFixture(t)
	f.handler.actions["block_count"] = action{func(context.Context, *call) (any, error) {
		panic("index out of range")
	}, ""}
	client := f.connect("c")

	reply := f.send(t, client, `{"action":"block_count","request_id":3}`)
	assert.Equal(t, "general error", reply["error"])
	assert.Equal(t, "index out of range", reply["detail"])
	assert.Equal(t, 3.0, reply["request_id"])

}

func TestPriceData(t *testing.T) {
	f := newFixture(t)
	client := f.connect("c")

	reply := f.send(t, client, `{"action":"price_data","currency":"EUR"}`)
	assert.Equal(t, "eur", reply["currency"])
	assert.Equal(t, 1.25, reply["price"])

	reply = f.send(t, client, `{"action":"price_data","currency":"XYZ"}`)
	assert.Equal(t, "unknown currency", reply["error"])
}

func TestAccountCheck(t *testing.T) {
	f := newFixture(t)
	client := f.connect("c")

	reply := f.send(t, client, `{"action":"account_check","account":"`+account+`"}`)
	assert.Equal(t, true, reply["ready"])

	f.node.Reply("account_info", `{"error":"Account not found"}`)
	reply = f.send(t, client, `{"action":"account_check","account":"`+burn+`"}`)
	assert.Equal(t, false, reply["ready"])
}

func TestWorkGenerateOverSession(t *testing.T) {
	f := newFixture(t)
	f.node.Reply("work_generate", `{"work":"abc"}`)
	client := f.connect("c")

	reply := f.send(t, client, `{"action":"work_generate","hash":"H"}`)
	assert.Equal(t, "abc", reply["work"])
	assert.Equal(t, true, f.node.Requests("work_generate")[0]["use_peers"])
}

func TestHTTPRejectsSubscribe(t *testing.T) {
	f := newFixture(t)
	f.node.Reply("version", `{"node_vendor":"test"}`)

	var reply map[string]any
	require.NoError(t, json.Unmarshal(f.handler.HandleHTTP(context.Background(), "10.0.0.2", []byte(`{"action":"account_subscribe","account":"`+account+`"}`)), &reply))
	assert.Equal(t, "rpc command not allowed", reply["error"])

	require.NoError(t, json.Unmarshal(f.handler.HandleHTTP(context.Background(), "10.0.0.2", []byte(`{"action":"version"}`)), &reply))
	assert.Equal(t, "test", reply["node_vendor"])
}

func TestRateLimitDropsMessage(t *testing.T) {
	f := newFixture(t)
	f.handler.Limiter = limiter.New(limiter.Config{Interval: time.Hour, Grace: 1})
	f.node.Reply("version", `{"node_vendor":"test"}`)
	client := f.connect("c")

	assert.NotNil(t, f.handler.HandleMessage(context.Background(), client, "10.0.0.9", []byte(`{"action":"version"}`)))
	assert.Nil(t, f.handler.HandleMessage(context.Background(), client, "10.0.0.9", []byte(`{"action":"version","x":1}`)))
	assert.Equal(t, 1, f.node.Count("version"))
}
