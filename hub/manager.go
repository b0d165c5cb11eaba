// Package hub keeps the registry of live sessions and the account subscription index.
// Both are owned by the ClientManager goroutine and only change through its channels.
package hub

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/sirupsen/logrus"
)

// Notification is a broadcast message rendered separately for every client.
// AdjustForClient returns nil to skip the client.
type Notification interface {
	AdjustForClient(client *Client) any
}

type command struct {
	client  *Client
	arg     string
	payload []byte
	note    Notification
	done    chan struct{}
}

// ClientManager manages all connected clients
type ClientManager struct {
	clients  map[string]*Client
	accounts map[string]mapset.Set[string]

	register    chan *command
	unregister  chan *command
	rename      chan *command
	subscribe   chan *command
	unsubscribe chan *command
	push        chan *command
	broadcast   chan *command

	stopped chan struct{}
	logger  *logrus.Logger
	mu      sync.RWMutex
}

func NewClientManager(logger *logrus.Logger) *ClientManager {
	return &ClientManager{
		clients:     make(map[string]*Client),
		accounts:    make(map[string]mapset.Set[string]),
		register:    make(chan *command),
		unregister:  make(chan *command),
		rename:      make(chan *command),
		subscribe:   make(chan *command),
		unsubscribe: make(chan *command),
		push:        make(chan *command),
		broadcast:   make(chan *command),
		stopped:     make(chan struct{}),
		logger:      logger,
	}
}

// Run starts the client manager. It returns when ctx is done.
func (manager *ClientManager) Run(ctx context.Context) {
	defer close(manager.stopped)
	for {
		var cmd *command
		select {
		case <-ctx.Done():
			manager.shutdown()
			return
		case cmd = <-manager.register:
			manager.attach(cmd.client, cmd.client.ID())
		case cmd = <-manager.unregister:
			manager.detach(cmd.client)
		case cmd = <-manager.rename:
			manager.renameClient(cmd.client, cmd.arg)
		case cmd = <-manager.subscribe:
			manager.addSubscription(cmd.client, cmd.arg)
		case cmd = <-manager.unsubscribe:
			manager.removeSubscription(cmd.client, cmd.arg)
		case cmd = <-manager.push:
			manager.pushToAccount(cmd.arg, cmd.payload)
		case cmd = <-manager.broadcast:
			manager.broadcastNotification(cmd.note)
		}
		close(cmd.done)
	}
}

// send hands cmd to the Run loop and waits until it has been applied.
func (manager *ClientManager) send(ch chan *command, cmd *command) bool {
	cmd.done = make(chan struct{})
	select {
	case ch <- cmd:
	case <-manager.stopped:
		return false
	}
	select {
	case <-cmd.done:
		return true
	case <-manager.stopped:
		return false
	}
}

// Attach registers client under its current id, superseding any other client holding the id.
func (manager *ClientManager) Attach(client *Client) {
	manager.send(manager.register, &command{client: client})
}

// Detach removes client and drops its id from every account it watched.
// Nothing happens if the id has been taken over by another client in the meantime.
func (manager *ClientManager) Detach(client *Client) {
	manager.send(manager.unregister, &command{client: client})
}

// Rename moves client from its current id to id in one step.
func (manager *ClientManager) Rename(client *Client, id string) {
	manager.send(manager.rename, &command{client: client, arg: id})
}

// Subscribe adds the client's id to the watchers of account.
func (manager *ClientManager) Subscribe(client *Client, account string) {
	manager.send(manager.subscribe, &command{client: client, arg: account})
}

func (manager *ClientManager) Unsubscribe(client *Client, account string) {
	manager.send(manager.unsubscribe, &command{client: client, arg: account})
}

// PushToAccount queues payload for every live session watching account.
func (manager *ClientManager) PushToAccount(account string, payload []byte) {
	manager.send(manager.push, &command{arg: account, payload: payload})
}

// Broadcast queues n for every live session.
func (manager *ClientManager) Broadcast(n Notification) {
	manager.send(manager.broadcast, &command{note: n})
}

// Get returns the client registered under id.
func (manager *ClientManager) Get(id string) (*Client, bool) {
	manager.mu.RLock()
	defer manager.mu.RUnlock()
	c, ok := manager.clients[id]
	return c, ok
}

func (manager *ClientManager) Len() int {
	manager.mu.RLock()
	defer manager.mu.RUnlock()
	return len(manager.clients)
}

// Subscribers returns the sorted session ids watching account.
func (manager *ClientManager) Subscribers(account string) []string {
	manager.mu.RLock()
	defer manager.mu.RUnlock()
	ids, ok := manager.accounts[account]
	if !ok {
		return nil
	}
	res := ids.ToSlice()
	sort.Strings(res)
	return res
}

// Currencies returns the distinct currency preferences of live clients.
func (manager *ClientManager) Currencies() []string {
	manager.mu.RLock()
	defer manager.mu.RUnlock()
	set := mapset.NewThreadUnsafeSet[string]()
	for _, c := range manager.clients {
		set.Add(c.Currency())
	}
	res := set.ToSlice()
	sort.Strings(res)
	return res
}

func (manager *ClientManager) attach(client *Client, id string) {
	manager.mu.Lock()
	prev := manager.putLocked(client, id)
	manager.mu.Unlock()
	manager.supersede(prev, client, id)
}

func (manager *ClientManager) putLocked(client *Client, id string) *Client {
	prev, ok := manager.clients[id]
	manager.clients[id] = client
	if !ok || prev == client {
		return nil
	}
	return prev
}

func (manager *ClientManager) supersede(prev, client *Client, id string) {
	if prev != nil {
		manager.logger.WithFields(logrus.Fields{
			"id":     id,
			"source": prev.Source(),
		}).Info("session taken over by a new connection, closing the old one")
		prev.Disconnect()
		if prev.CloseConn != nil {
			go prev.CloseConn()
		}
	}
	client.startSender(manager)
	manager.logger.WithFields(logrus.Fields{"id": id, "source": client.Source()}).Debug("client attached")
}

func (manager *ClientManager) detach(client *Client) {
	id := client.ID()
	client.Disconnect()

	manager.mu.Lock()
	defer manager.mu.Unlock()
	if current, ok := manager.clients[id]; !ok || current != client {
		return
	}
	delete(manager.clients, id)
	manager.dropIndexLocked(id)
	manager.logger.WithFields(logrus.Fields{"id": id, "source": client.Source()}).Debug("client detached")
}

func (manager *ClientManager) renameClient(client *Client, id string) {
	if !client.Connected() {
		return
	}
	oldID := client.ID()
	if oldID == id {
		manager.attach(client, id)
		return
	}

	manager.mu.Lock()
	if current, ok := manager.clients[oldID]; ok && current == client {
		delete(manager.clients, oldID)
		for _, ids := range manager.accounts {
			if ids.Contains(oldID) {
				ids.Remove(oldID)
				ids.Add(id)
			}
		}
	}
	client.setID(id)
	prev := manager.putLocked(client, id)
	manager.mu.Unlock()

	manager.supersede(prev, client, id)
}

func (manager *ClientManager) addSubscription(client *Client, account string) {
	id := client.ID()
	manager.mu.Lock()
	defer manager.mu.Unlock()
	if current, ok := manager.clients[id]; !ok || current != client {
		return
	}
	manager.indexLocked(account, id)
	client.accounts.Add(account)
}

func (manager *ClientManager) removeSubscription(client *Client, account string) {
	id := client.ID()
	manager.mu.Lock()
	defer manager.mu.Unlock()
	client.accounts.Remove(account)
	if ids, ok := manager.accounts[account]; ok {
		ids.Remove(id)
		if ids.Cardinality() == 0 {
			delete(manager.accounts, account)
		}
	}
}

func (manager *ClientManager) indexLocked(account, id string) {
	ids, ok := manager.accounts[account]
	if !ok {
		ids = mapset.NewThreadUnsafeSet[string]()
		manager.accounts[account] = ids
	}
	ids.Add(id)
}

func (manager *ClientManager) dropIndexLocked(id string) {
	for account, ids := range manager.accounts {
		if ids.Contains(id) {
			ids.Remove(id)
			if ids.Cardinality() == 0 {
				delete(manager.accounts, account)
			}
		}
	}
}

func (manager *ClientManager) pushToAccount(account string, payload []byte) {
	manager.mu.RLock()
	defer manager.mu.RUnlock()
	ids, ok := manager.accounts[account]
	if !ok {
		return
	}
	ids.Each(func(id string) bool {
		client, ok := manager.clients[id]
		if !ok || !client.Connected() {
			return false
		}
		if !client.enqueue(payload) {
			manager.logger.WithField("id", id).Warn("client send buffer full, dropping event")
		}
		return false
	})
}

func (manager *ClientManager) broadcastNotification(n Notification) {
	manager.mu.RLock()
	defer manager.mu.RUnlock()
	for id, client := range manager.clients {
		if !client.Connected() {
			continue
		}
		event := n.AdjustForClient(client)
		if event == nil {
			continue
		}
		msg, err := json.Marshal(event)
		if err != nil {
			manager.logger.WithError(err).Error("error marshalling event")
			continue
		}
		if !client.enqueue(msg) {
			manager.logger.WithField("id", id).Warn("client send buffer full, dropping event")
		}
	}
}

func (manager *ClientManager) shutdown() {
	manager.mu.Lock()
	defer manager.mu.Unlock()
	for _, client := range manager.clients {
		client.Disconnect()
	}
	manager.logger.WithField("clients", len(manager.clients)).Info("client manager stopped")
}
