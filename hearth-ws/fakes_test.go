package hearthws

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/Hearth-Social/hearth-go-realtime/hearth-ws/connectiondao"
	"github.com/Hearth-Social/hearth-go-realtime/hearth-ws/presencedao"
	"github.com/Hearth-Social/hearth-go-realtime/hearth-ws/publish"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/apigatewaymanagementapi"
	"github.com/aws/aws-sdk-go/service/apigatewaymanagementapi/apigatewaymanagementapiiface"
	"github.com/rs/zerolog"
)

// In-memory doubles for the store and transport interfaces, so the lifecycle,
// routing, and fan-out logic can be tested without AWS.

type memConnections struct {
	mu    sync.Mutex
	conns map[string]connectiondao.Connection
}

func newMemConnections() *memConnections {
	return &memConnections{conns: map[string]connectiondao.Connection{}}
}

func (m *memConnections) Put(_ context.Context, conn connectiondao.Connection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conns[conn.ConnectionID] = conn
	return nil
}

func (m *memConnections) Get(_ context.Context, connectionID string) (*connectiondao.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conn, ok := m.conns[connectionID]
	if !ok {
		return nil, nil
	}
	return &conn, nil
}

func (m *memConnections) Delete(_ context.Context, connectionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.conns[connectionID]; !ok {
		return false, nil
	}
	delete(m.conns, connectionID)
	return true, nil
}

func (m *memConnections) QueryByUser(_ context.Context, userID string) ([]connectiondao.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var conns []connectiondao.Connection
	for _, conn := range m.conns {
		if conn.UserID == userID {
			conns = append(conns, conn)
		}
	}
	sort.Slice(conns, func(i, j int) bool { return conns[i].ConnectionID < conns[j].ConnectionID })
	return conns, nil
}

func (m *memConnections) Touch(_ context.Context, connectionID string, lastSeen int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	conn, ok := m.conns[connectionID]
	if !ok {
		return nil
	}
	conn.LastSeenAt = lastSeen
	m.conns[connectionID] = conn
	return nil
}

func (m *memConnections) AddSubscription(_ context.Context, connectionID, chatID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	conn, ok := m.conns[connectionID]
	if !ok {
		return nil
	}
	conn.Subscriptions = append(conn.Subscriptions, chatID)
	m.conns[connectionID] = conn
	return nil
}

type memPresence struct {
	mu     sync.Mutex
	counts map[string]int64
	online map[string]bool
}

func newMemPresence() *memPresence {
	return &memPresence{counts: map[string]int64{}, online: map[string]bool{}}
}

func (m *memPresence) Get(_ context.Context, userID string) (*presencedao.Presence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.counts[userID]; !ok {
		return nil, nil
	}
	return &presencedao.Presence{
		UserID:    userID,
		ConnCount: m.counts[userID],
		Online:    m.online[userID],
	}, nil
}

func (m *memPresence) Increment(_ context.Context, userID string, _ int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[userID]++
	if m.counts[userID] == 1 {
		m.online[userID] = true
	}
	return m.counts[userID], nil
}

func (m *memPresence) Decrement(_ context.Context, userID string, _ int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts[userID] < 1 {
		return -1, nil
	}
	m.counts[userID]--
	if m.counts[userID] == 0 {
		m.online[userID] = false
	}
	return m.counts[userID], nil
}

func (m *memPresence) OnlineUsers(_ context.Context) ([]presencedao.Presence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []presencedao.Presence
	for userID, online := range m.online {
		if online {
			out = append(out, presencedao.Presence{UserID: userID, ConnCount: m.counts[userID], Online: true})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (m *memPresence) ForceOffline(_ context.Context, userID string, observedCount, _ int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts[userID] != observedCount {
		return false, nil
	}
	m.counts[userID] = 0
	m.online[userID] = false
	return true, nil
}

type memMembers struct {
	chats map[string][]string
}

func (m *memMembers) IsMember(_ context.Context, chatID, userID string) (bool, error) {
	for _, member := range m.chats[chatID] {
		if member == userID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memMembers) Recipients(_ context.Context, chatID string) ([]string, error) {
	return m.chats[chatID], nil
}

func (m *memMembers) ContactsForUser(_ context.Context, userID string) ([]string, error) {
	seen := map[string]struct{}{}
	var contacts []string
	for _, members := range m.chats {
		var mine bool
		for _, member := range members {
			if member == userID {
				mine = true
			}
		}
		if !mine {
			continue
		}
		for _, member := range members {
			if member == userID {
				continue
			}
			if _, dup := seen[member]; dup {
				continue
			}
			seen[member] = struct{}{}
			contacts = append(contacts, member)
		}
	}
	sort.Strings(contacts)
	return contacts, nil
}

type capturePublisher struct {
	mu   sync.Mutex
	sent []publish.Envelope
	err  error
}

func (p *capturePublisher) Send(_ context.Context, env publish.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, env)
	return nil
}

func (p *capturePublisher) envelopes() []publish.Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]publish.Envelope(nil), p.sent...)
}

// fakeManagement stands in for the API Gateway Management API. Connections
// marked gone respond with a GoneException; failWith injects a transient
// error for every other connection.
type fakeManagement struct {
	apigatewaymanagementapiiface.ApiGatewayManagementApiAPI

	mu       sync.Mutex
	posted   map[string][][]byte
	gone     map[string]bool
	failWith error
}

func newFakeManagement() *fakeManagement {
	return &fakeManagement{posted: map[string][][]byte{}, gone: map[string]bool{}}
}

func (f *fakeManagement) PostToConnectionWithContext(_ aws.Context, input *apigatewaymanagementapi.PostToConnectionInput, _ ...request.Option) (*apigatewaymanagementapi.PostToConnectionOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := aws.StringValue(input.ConnectionId)
	if f.gone[id] {
		return nil, errors.New("GoneException: connection no longer exists")
	}
	if f.failWith != nil {
		return nil, f.failWith
	}
	f.posted[id] = append(f.posted[id], input.Data)
	return &apigatewaymanagementapi.PostToConnectionOutput{}, nil
}

func (f *fakeManagement) frames(connectionID string) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.posted[connectionID]...)
}

func connectionFixture(connectionID, userID string) connectiondao.Connection {
	return connectiondao.Connection{
		ConnectionID: connectionID,
		UserID:       userID,
		Endpoint:     "https://example.execute-api.us-east-2.amazonaws.com/dev",
		ConnectedAt:  1700000000,
		LastSeenAt:   1700000000,
	}
}

func newTestRegistry() (*Registry, *memConnections, *memPresence) {
	conns := newMemConnections()
	presence := newMemPresence()
	registry := &Registry{
		Connections: conns,
		Presence:    &PresenceTracker{Store: presence, Logger: zerolog.Nop()},
		Logger:      zerolog.Nop(),
	}
	return registry, conns, presence
}
