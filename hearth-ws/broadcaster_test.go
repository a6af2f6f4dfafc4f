package hearthws

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go/service/apigatewaymanagementapi/apigatewaymanagementapiiface"
	"github.com/rs/zerolog"
	"github.com/tj/assert"
)

func newTestBroadcaster(registry *Registry, mgmt *fakeManagement) *Broadcaster {
	return &Broadcaster{
		Registry: registry,
		Logger:   zerolog.Nop(),
		Management: func(string) apigatewaymanagementapiiface.ApiGatewayManagementApiAPI {
			return mgmt
		},
	}
}

func TestBroadcaster(t *testing.T) {
	ctx := context.Background()
	event, err := NewEvent(EventMessageSent, map[string]string{"messageId": "m1"})
	assert.NoError(t, err)

	t.Run("delivers to every connection of every recipient", func(t *testing.T) {
		registry, _, _ := newTestRegistry()
		registry.Register(ctx, connectionFixture("a-1", "alice"))
		registry.Register(ctx, connectionFixture("a-2", "alice"))
		registry.Register(ctx, connectionFixture("b-1", "bob"))

		mgmt := newFakeManagement()
		report, err := newTestBroadcaster(registry, mgmt).BroadcastToUsers(ctx, []string{"alice", "bob"}, event)
		assert.NoError(t, err)
		assert.Equal(t, 3, report.Delivered)
		assert.Len(t, mgmt.frames("a-1"), 1)
		assert.Len(t, mgmt.frames("a-2"), 1)
		assert.Len(t, mgmt.frames("b-1"), 1)
	})

	t.Run("duplicate and excluded users skipped", func(t *testing.T) {
		registry, _, _ := newTestRegistry()
		registry.Register(ctx, connectionFixture("a-1", "alice"))
		registry.Register(ctx, connectionFixture("b-1", "bob"))

		mgmt := newFakeManagement()
		report, err := newTestBroadcaster(registry, mgmt).BroadcastToUsers(
			ctx, []string{"alice", "alice", "bob"}, event, WithExcludeUser("alice"))
		assert.NoError(t, err)
		assert.Equal(t, 1, report.Delivered)
		assert.Empty(t, mgmt.frames("a-1"))
		assert.Len(t, mgmt.frames("b-1"), 1)
	})

	t.Run("recipient with no connections delivers nothing", func(t *testing.T) {
		registry, _, _ := newTestRegistry()

		mgmt := newFakeManagement()
		report, err := newTestBroadcaster(registry, mgmt).BroadcastToUsers(ctx, []string{"nobody"}, event)
		assert.NoError(t, err)
		assert.Equal(t, 0, report.Delivered)
		assert.Empty(t, report.Failures)
	})

	t.Run("gone connection pruned, rest still delivered", func(t *testing.T) {
		registry, conns, _ := newTestRegistry()
		registry.Register(ctx, connectionFixture("a-1", "alice"))
		registry.Register(ctx, connectionFixture("a-2", "alice"))
		registry.Register(ctx, connectionFixture("b-1", "bob"))

		mgmt := newFakeManagement()
		mgmt.gone["a-1"] = true

		report, err := newTestBroadcaster(registry, mgmt).BroadcastToUsers(ctx, []string{"alice", "bob"}, event)
		assert.NoError(t, err)
		assert.Equal(t, 2, report.Delivered)
		assert.Equal(t, 1, report.Stale)
		assert.Empty(t, report.WentOffline)

		pruned, err := conns.Get(ctx, "a-1")
		assert.NoError(t, err)
		assert.Nil(t, pruned)
	})

	t.Run("pruning the last connection reports went offline", func(t *testing.T) {
		registry, _, presence := newTestRegistry()
		registry.Register(ctx, connectionFixture("a-1", "alice"))

		mgmt := newFakeManagement()
		mgmt.gone["a-1"] = true

		report, err := newTestBroadcaster(registry, mgmt).BroadcastToUsers(ctx, []string{"alice"}, event)
		assert.NoError(t, err)
		assert.Equal(t, 1, report.Stale)
		assert.Equal(t, []string{"alice"}, report.WentOffline)
		assert.False(t, presence.online["alice"])
	})

	t.Run("transient failure recorded, not pruned", func(t *testing.T) {
		registry, conns, _ := newTestRegistry()
		registry.Register(ctx, connectionFixture("a-1", "alice"))

		mgmt := newFakeManagement()
		mgmt.failWith = errors.New("throttled")

		report, err := newTestBroadcaster(registry, mgmt).BroadcastToUsers(ctx, []string{"alice"}, event)
		assert.NoError(t, err)
		assert.Equal(t, 0, report.Delivered)
		assert.Equal(t, 0, report.Stale)
		assert.Len(t, report.Failures, 1)
		assert.Equal(t, "a-1", report.Failures[0].ConnectionID)

		kept, err := conns.Get(ctx, "a-1")
		assert.NoError(t, err)
		assert.NotNil(t, kept)
	})
}
