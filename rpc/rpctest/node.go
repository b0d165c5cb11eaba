// Package rpctest provides an in-process fake node for tests.
package rpctest

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
)

// HandlerFunc answers one action. Returning a []byte writes it verbatim,
// anything else is JSON encoded.
type HandlerFunc func(req map[string]any) any

type Node struct {
	*httptest.Server

	mu       sync.Mutex
	handlers map[string]HandlerFunc
	requests []map[string]any
	status   int
}

func NewNode() *Node {
	n := &Node{handlers: make(map[string]HandlerFunc), status: http.StatusOK}
	n.Server = httptest.NewServer(http.HandlerFunc(n.serve))
	return n
}

// Handle registers the answer for action.
func (n *Node) Handle(action string, h HandlerFunc) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers[action] = h
}

// Reply registers a fixed answer for action.
func (n *Node) Reply(action string, resp any) {
	n.Handle(action, func(map[string]any) any { return resp })
}

// FailWith makes every following request answer with status.
func (n *Node) FailWith(status int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.status = status
}

// Requests returns the received requests for action, or all of them when action is empty.
func (n *Node) Requests(action string) []map[string]any {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []map[string]any
	for _, r := range n.requests {
		if action == "" || r["action"] == action {
			out = append(out, r)
		}
	}
	return out
}

func (n *Node) Count(action string) int {
	return len(n.Requests(action))
}

func (n *Node) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	var req map[string]any
	_ = json.Unmarshal(body, &req)

	n.mu.Lock()
	n.requests = append(n.requests, req)
	status := n.status
	action, _ := req["action"].(string)
	h := n.handlers[action]
	n.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"error":"unavailable"}`))
		return
	}
	if h == nil {
		_, _ = w.Write([]byte(`{"error":"Unknown command"}`))
		return
	}
	switch resp := h(req).(type) {
	case []byte:
		_, _ = w.Write(resp)
	case string:
		_, _ = w.Write([]byte(resp))
	default:
		_ = json.NewEncoder(w).Encode(resp)
	}
}
