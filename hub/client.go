package hub

import (
	"errors"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
)

const sendBufferSize = 64

var ErrClientClosed = errors.New("client connection closed")

// Client is one live wallet connection (a session).
type Client struct {
	id        string
	source    string
	userAgent string
	currency  string
	connected bool
	accounts  mapset.Set[string]

	// SendEvent writes one frame to the socket. Calls are serialized by writeMu.
	SendEvent func([]byte) error
	// CloseConn closes the socket, used when another connection takes over the session id.
	CloseConn func()

	sendChan chan []byte
	quit     chan struct{}
	once     sync.Once
	started  sync.Once
	writeMu  sync.Mutex
	mu       sync.Mutex
}

func NewClient(id, source, userAgent string, send func([]byte) error, closeConn func()) *Client {
	return &Client{
		id:        id,
		source:    source,
		userAgent: userAgent,
		connected: true,
		accounts:  mapset.NewSet[string](),
		SendEvent: send,
		CloseConn: closeConn,
		sendChan:  make(chan []byte, sendBufferSize),
		quit:      make(chan struct{}),
	}
}

func (c *Client) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

func (c *Client) setID(id string) {
	c.mu.Lock()
	c.id = id
	c.mu.Unlock()
}

// Source is the remote address the connection came from.
func (c *Client) Source() string {
	return c.source
}

func (c *Client) UserAgent() string {
	return c.userAgent
}

func (c *Client) Currency() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currency
}

func (c *Client) SetCurrency(currency string) {
	c.mu.Lock()
	c.currency = currency
	c.mu.Unlock()
}

// Accounts returns the accounts this session is subscribed to.
func (c *Client) Accounts() []string {
	return c.accounts.ToSlice()
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Reply writes msg to the socket right away.
func (c *Client) Reply(msg []byte) error {
	if !c.Connected() {
		return ErrClientClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.SendEvent(msg)
}

// Disconnect marks the client closed and stops its sender.
func (c *Client) Disconnect() {
	c.once.Do(func() {
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
		close(c.quit)
	})
}

// enqueue hands msg to the sender goroutine without blocking.
func (c *Client) enqueue(msg []byte) bool {
	select {
	case <-c.quit:
		return false
	default:
	}
	select {
	case c.sendChan <- msg:
		return true
	default:
		return false
	}
}

func (c *Client) startSender(manager *ClientManager) {
	c.started.Do(func() {
		go func() {
			for {
				select {
				case <-c.quit:
					return
				case msg := <-c.sendChan:
					if err := c.Reply(msg); err != nil {
						if !errors.Is(err, ErrClientClosed) {
							manager.Detach(c)
						}
						return
					}
				}
			}
		}()
	})
}
