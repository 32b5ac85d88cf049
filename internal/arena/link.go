package arena

//go:generate go tool mockgen -destination=./mocks/link_mock.go -package=mocks . Link

import (
	"context"

	"arenaclash/server/internal/state"
)

// Link carries requests from a client to the authority.
type Link interface {
	Send(ctx context.Context, msg Message) error
}

// InProcessLink submits straight into a world running in the same process. Bots and tests
// use it; remote players reach the world through the transport hub instead.
type InProcessLink struct {
	world *World
	from  state.Handle
}

// NewInProcessLink binds a link to the actor behind from.
func NewInProcessLink(world *World, from state.Handle) *InProcessLink {
	return &InProcessLink{world: world, from: from}
}

// Send implements Link.
func (l *InProcessLink) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if msg.Actor == "" {
		msg.Actor = l.from.String()
	}
	return l.world.Submit(l.from, msg)
}
