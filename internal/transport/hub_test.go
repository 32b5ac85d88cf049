package transport

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"arenaclash/server/internal/arena"
	"arenaclash/server/internal/logging"
	"arenaclash/server/internal/match"
	"arenaclash/server/internal/tuning"
	"arenaclash/server/internal/wire"
)

func newWorld(t *testing.T) *arena.World {
	t.Helper()
	world, err := arena.NewWorld(tuning.NewPanel(tuning.Baked()), arena.Config{
		Heal: match.HazardConfig{Cooldown: time.Hour, Countdown: 1, DropDuration: time.Second},
	}, arena.WithLogger(logging.NewTestLogger()))
	if err != nil {
		t.Fatalf("new world: %v", err)
	}
	t.Cleanup(world.Close)
	return world
}

func testPeer(actor string, buffer int) *peer {
	return &peer{id: "peer-" + actor, actor: actor, codec: wire.JSON{}, send: make(chan []byte, buffer)}
}

func TestDispatchHonoursOwnerAudience(t *testing.T) {
	hub := NewHub(newWorld(t), WithLogger(logging.NewTestLogger()))
	owner, other := testPeer("1.1", 4), testPeer("2.1", 4)
	hub.peers[owner] = struct{}{}
	hub.peers[other] = struct{}{}

	hub.dispatch(arena.Message{Kind: arena.KindCooldownAdjust, Audience: arena.AudienceOwner, Actor: "1.1", Mode: arena.AdjustReset})
	if len(owner.send) != 1 || len(other.send) != 0 {
		t.Fatalf("owner-only broadcast leaked: owner=%d other=%d", len(owner.send), len(other.send))
	}
	hub.dispatch(arena.Message{Kind: arena.KindHealCountdown, Value: 3})
	if len(owner.send) != 2 || len(other.send) != 1 {
		t.Fatalf("broadcast to all missed someone: owner=%d other=%d", len(owner.send), len(other.send))
	}
}

func TestDispatchDropsSlowObservers(t *testing.T) {
	hub := NewHub(newWorld(t), WithLogger(logging.NewTestLogger()))
	slow := testPeer("1.1", 1)
	hub.peers[slow] = struct{}{}

	hub.dispatch(arena.Message{Kind: arena.KindHealCountdown, Value: 2})
	hub.dispatch(arena.Message{Kind: arena.KindHealCountdown, Value: 1})

	if hub.Connected() != 0 || hub.Dropped() != 1 {
		t.Fatalf("expected the slow observer to be dropped, connected=%d dropped=%d", hub.Connected(), hub.Dropped())
	}
	<-slow.send
	if _, open := <-slow.send; open {
		t.Fatalf("expected the send queue to be closed")
	}
}

type brokenCodec struct{ wire.JSON }

func (brokenCodec) Name() string { return "broken" }

func (brokenCodec) Encode(arena.Message) ([]byte, error) { return nil, errors.New("encoder down") }

func TestDispatchSkipsOnlyFailingCodec(t *testing.T) {
	hub := NewHub(newWorld(t), WithLogger(logging.NewTestLogger()))
	for i := 0; i < 3; i++ {
		broken := testPeer(fmt.Sprintf("9.%d", i), 4)
		broken.codec = brokenCodec{}
		hub.peers[broken] = struct{}{}
	}
	healthy := []*peer{testPeer("1.1", 4), testPeer("2.1", 4)}
	binary := testPeer("3.1", 4)
	binary.codec = wire.Msgpack{}
	healthy = append(healthy, binary)
	for _, p := range healthy {
		hub.peers[p] = struct{}{}
	}

	hub.dispatch(arena.Message{Kind: arena.KindHealCountdown, Value: 3})
	for _, p := range healthy {
		if len(p.send) != 1 {
			t.Fatalf("peer %s on %s missed the broadcast", p.actor, p.codec.Name())
		}
	}
	if hub.Connected() != 6 {
		t.Fatalf("encode failures must not drop observers, connected=%d", hub.Connected())
	}
}

func TestDispatchShedsStateStreamsOverBudget(t *testing.T) {
	current := time.Unix(0, 0)
	regulator := NewBandwidthRegulator(1, func() time.Time { return current })
	hub := NewHub(newWorld(t), WithLogger(logging.NewTestLogger()), WithBandwidth(regulator))
	observer := testPeer("1.1", 8)
	hub.peers[observer] = struct{}{}

	hub.dispatch(arena.Message{Kind: arena.KindActorMoved, Actor: "2.1"})
	hub.dispatch(arena.Message{Kind: arena.KindMatchOver, Winner: "A"})
	if len(observer.send) != 1 {
		t.Fatalf("expected only match_over to be delivered, got %d frames", len(observer.send))
	}
	if usage := hub.Bandwidth()[observer.id]; usage.Shed != 1 {
		t.Fatalf("expected one shed broadcast, got %+v", usage)
	}
	if hub.Connected() != 1 {
		t.Fatalf("shedding must not disconnect the observer")
	}
}

func readUntil(t *testing.T, conn *websocket.Conn, codec wire.Codec, want func(arena.Message) bool) arena.Message {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		msg, err := codec.Decode(data)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if want(msg) {
			return msg
		}
	}
}

func TestHubJoinsPlayersAndForwardsRequests(t *testing.T) {
	world := newWorld(t)
	hub := NewHub(world, WithLogger(logging.NewTestLogger()), WithGate(NewGate(GateConfig{}, nil)))
	server := httptest.NewServer(hub)
	defer server.Close()
	defer hub.Close()

	//1.- Step the world in the background the way the simulation loop does.
	var tick atomic.Uint64
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				world.Step(tick.Add(1), 50*time.Millisecond)
			}
		}
	}()
	defer func() {
		close(stop)
		<-done
	}()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "?player=alice&team=A&codec=msgpack"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	actorID, ok := world.ActorID("alice")
	if !ok {
		t.Fatalf("expected alice to be spawned on connect")
	}
	codec := wire.Msgpack{}

	welcome := readUntil(t, conn, codec, func(msg arena.Message) bool { return msg.Kind == arena.KindMatchState })
	if welcome.Actor != actorID || welcome.Match == nil || len(welcome.Match.Players) != 1 {
		t.Fatalf("unexpected welcome %+v", welcome)
	}

	//2.- Broadcast kinds sent upstream are dropped; the select request goes through.
	for _, msg := range []arena.Message{
		{Kind: arena.KindHealthChanged, Value: 999},
		{Kind: arena.KindSelect, Variant: "Mortar", Ability: "Parry"},
	} {
		data, err := codec.Encode(msg)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	equipped := readUntil(t, conn, codec, func(msg arena.Message) bool { return msg.Kind == arena.KindAbilityEquipped })
	if equipped.Actor != actorID || equipped.Ability != "Parry" || equipped.Variant != "Mortar" {
		t.Fatalf("unexpected equip broadcast %+v", equipped)
	}

	//3.- Closing the socket despawns the actor.
	conn.Close()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := world.ActorID("alice"); !ok {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected alice to leave after disconnect")
}

func TestHubWelcomesThroughSmallSendBuffer(t *testing.T) {
	world := newWorld(t)
	hub := NewHub(world, WithLogger(logging.NewTestLogger()), WithSendBuffer(1))
	server := httptest.NewServer(hub)
	defer server.Close()
	defer hub.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "?player=carol&team=B"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	//1.- Both welcome frames arrive although the queue only holds one at a time.
	codec := wire.JSON{}
	readUntil(t, conn, codec, func(msg arena.Message) bool { return msg.Kind == arena.KindMatchState })
	readUntil(t, conn, codec, func(msg arena.Message) bool { return msg.Kind == arena.KindTickDiff })

	deadline := time.Now().Add(3 * time.Second)
	for hub.Connected() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("expected the observer to be registered after the welcome")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHubRejectsUnknownCodecAndMissingPlayer(t *testing.T) {
	hub := NewHub(newWorld(t), WithLogger(logging.NewTestLogger()))
	server := httptest.NewServer(hub)
	defer server.Close()
	base := "ws" + strings.TrimPrefix(server.URL, "http")

	if _, resp, err := websocket.DefaultDialer.Dial(base+"?player=bob&codec=xml", nil); err == nil || resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected a bad request for an unknown codec")
	}
	if _, resp, err := websocket.DefaultDialer.Dial(base, nil); err == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized without a player id")
	}
}
