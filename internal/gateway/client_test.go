package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/soyeahso/kassa/internal/logging"
)

func testLog() *logging.Logger {
	return logging.New(nil, "silent")
}

func TestClientRegistryLifecycle(t *testing.T) {
	reg := NewClientRegistry(testLog())
	assert.Equal(t, 0, reg.Count())

	reg.Add(&Client{ConnID: "conn-1", Info: ClientInfo{ID: "web-1", Mode: "web"}})
	reg.Add(&Client{ConnID: "conn-2", Info: ClientInfo{ID: "cli-1", Mode: "cli"}})
	assert.Equal(t, 2, reg.Count())

	got, ok := reg.Get("conn-1")
	assert.True(t, ok)
	assert.Equal(t, "web-1", got.Info.ID)

	reg.Remove("conn-1")
	reg.Remove("conn-1")
	reg.Remove("never-added")
	assert.Equal(t, 1, reg.Count())
	_, ok = reg.Get("conn-1")
	assert.False(t, ok)
}

func TestClientRegistryCloseAll(t *testing.T) {
	reg := NewClientRegistry(testLog())
	// Without sockets, Close only marks the clients closed.
	a := &Client{ConnID: "conn-1"}
	b := &Client{ConnID: "conn-2", closed: true}
	reg.Add(a)
	reg.Add(b)

	reg.CloseAll()
	assert.Equal(t, 0, reg.Count())
	assert.ErrorIs(t, a.Send(Frame{}), ErrClientClosed)
	assert.NoError(t, a.Close())
}

func TestClientWatch(t *testing.T) {
	c := &Client{ConnID: "conn-1"}
	assert.False(t, c.Watching("gateway:shared"))

	c.Watch("gateway:shared")
	assert.True(t, c.Watching("gateway:shared"))
	assert.False(t, c.Watching("gateway:other"))
}

func TestClientRegistryEventsSkipUnreachableClients(t *testing.T) {
	reg := NewClientRegistry(testLog())
	closed := &Client{ConnID: "conn-1", closed: true}
	closed.Watch("gateway:s1")
	reg.Add(closed)
	reg.Add(&Client{ConnID: "conn-2"})

	assert.Equal(t, 0, reg.Broadcast("knowledge.synced", map[string]int{"files": 1}, 1))
	assert.Equal(t, 0, reg.Publish("gateway:s1", "chat.turn", map[string]string{"sessionId": "s1"}, 2))
}

func TestClientRegistryEventEncodingFailure(t *testing.T) {
	reg := NewClientRegistry(testLog())
	reg.Add(&Client{ConnID: "conn-1"})

	assert.Equal(t, 0, reg.Broadcast("bad", map[string]any{"ch": make(chan int)}, 1))
}
