package main

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"arenaclash/server/internal/config"
	"arenaclash/server/internal/logging"
	"arenaclash/server/internal/match"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		TickHz:          60,
		MaxPayloadBytes: config.DefaultMaxPayloadBytes,
		PingInterval:    config.DefaultPingInterval,
		MaxClients:      8,
		AuthSecret:      "player-secret",
		AdminToken:      "admin-token",
		ChannelDuration: config.DefaultChannelDuration,
		ServerCooldowns: true,
		TuningWindow:    time.Minute,
		TuningBurst:     10,
		Heal: config.HealConfig{
			Cooldown:     time.Hour,
			Countdown:    3,
			DropDuration: time.Second,
			Amount:       20,
		},
		BotPopulation: 2,
		ReplayDir:     t.TempDir(),
	}
}

func listen(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	return ln
}

func TestServerRunsBotMatchAndRecordsIt(t *testing.T) {
	server, err := NewServer(testConfig(t), logging.NewTestLogger())
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	httpListener, grpcListener := listen(t), listen(t)
	base := "http://" + httpListener.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.serve(ctx, httpListener, grpcListener) }()

	//1.- The controller fills the empty lobby with bots and the match auto starts.
	deadline := time.Now().Add(5 * time.Second)
	var snapshot match.Snapshot
	for time.Now().Before(deadline) {
		resp, err := http.Get(base + "/match")
		if err == nil {
			_ = json.NewDecoder(resp.Body).Decode(&snapshot)
			resp.Body.Close()
			if snapshot.State != match.StateWaiting && len(snapshot.Players) == 2 {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	if len(snapshot.Players) != 2 || snapshot.State == match.StateWaiting {
		t.Fatalf("expected a running bot match, got %+v", snapshot)
	}

	//2.- Operators can mint player tokens once the server is up.
	req, _ := http.NewRequest(http.MethodPost, base+"/token", strings.NewReader(`{"player":"alice"}`))
	req.Header.Set("Authorization", "Bearer admin-token")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("token request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected token to be issued, got %d", resp.StatusCode)
	}

	resp, err = http.Get(base + "/readyz")
	if err != nil {
		t.Fatalf("readyz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected ready server, got %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("server did not shut down")
	}
	if stats := server.recorder.Snapshot(); stats.Bundles < 1 || stats.Recording {
		t.Fatalf("expected the match to be saved on shutdown, got %+v", stats)
	}
}

func TestNewServerRejectsBadTuningFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.TuningPath = t.TempDir()
	if _, err := NewServer(cfg, logging.NewTestLogger()); err == nil {
		t.Fatalf("expected a directory tuning path to fail")
	}
}
