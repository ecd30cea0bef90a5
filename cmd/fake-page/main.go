// ABOUTME: Minimal fake execution client for E2E testing: joins the relay and answers chat commands.
// ABOUTME: Usage: fake-page [-relay ws://localhost:8765] [-tools=false]
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
)

func main() {
	relayURL := flag.String("relay", "ws://localhost:8765", "relay WebSocket URL")
	useTools := flag.Bool("tools", true, "call the first offered tool before answering")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, *relayURL, newPage(*useTools)); err != nil {
		log.Fatal(err)
	}
}

// run keeps a session with the relay open, reconnecting with backoff.
func run(ctx context.Context, url string, p *page) error {
	b := backoff.NewExponentialBackOff()
	b.MaxInterval = 10 * time.Second

	for {
		connected, err := session(ctx, url, p)
		if ctx.Err() != nil {
			return nil // graceful shutdown
		}
		if connected {
			b.Reset()
		}
		wait := b.NextBackOff()
		log.Printf("relay session ended: %v (reconnecting in %s)", err, wait.Round(time.Millisecond))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

// session runs one connection. connected reports whether the handshake succeeded.
func session(ctx context.Context, url string, p *page) (connected bool, err error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return false, fmt.Errorf("failed to connect: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	// Any first frame that is not a caller command registers an execution client.
	if err := conn.WriteJSON(map[string]string{"type": "page", "name": "fake-page"}); err != nil {
		return true, fmt.Errorf("failed to register: %w", err)
	}
	fmt.Fprintf(os.Stderr, "registered with relay %s\n", url)

	for {
		var cmd command
		if err := conn.ReadJSON(&cmd); err != nil {
			return true, fmt.Errorf("recv error: %w", err)
		}
		log.Printf("received %s [%s]", cmd.Command, cmd.RequestID)

		// Small delay to simulate the page thinking
		time.Sleep(50 * time.Millisecond)

		if err := conn.WriteJSON(p.handle(cmd)); err != nil {
			return true, fmt.Errorf("send error: %w", err)
		}
	}
}
