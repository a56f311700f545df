// invoicex-client — tails the exchange event stream.
//
// Connects to /ws, subscribes to the requested channels, and prints every
// event as one JSON line on stdout. The connection auto-reconnects with
// exponential backoff (1s → 30s max) and re-subscribes on reconnection.
//
// Usage:
//
//	client -addr localhost:8080 -channels trading_updates,orderbook:invoice-42
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"invoicex/pkg/types"
)

const (
	pingInterval     = 50 * time.Second // app-level ping keeps the session warm
	readTimeout      = 90 * time.Second // server pings well inside this window
	writeTimeout     = 10 * time.Second // deadline for outgoing messages
	maxReconnectWait = 30 * time.Second // cap on exponential backoff
)

func main() {
	addr := flag.String("addr", "localhost:8080", "exchange host:port")
	channels := flag.String("channels", types.ChannelTradingUpdates, "comma-separated channels to subscribe")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	url := fmt.Sprintf("ws://%s/ws", *addr)
	var subs []string
	for _, ch := range strings.Split(*channels, ",") {
		if ch = strings.TrimSpace(ch); ch != "" {
			subs = append(subs, ch)
		}
	}
	if len(subs) == 0 {
		logger.Error("no channels requested")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := run(ctx, url, subs, logger); err != nil && ctx.Err() == nil {
		logger.Error("stream failed", "error", err)
		os.Exit(1)
	}
}

// run maintains the connection with auto-reconnect. Blocks until ctx is
// cancelled.
func run(ctx context.Context, url string, channels []string, logger *slog.Logger) error {
	backoff := time.Second

	for {
		err := connectAndTail(ctx, url, channels, logger)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		logger.Warn("disconnected, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		// Exponential backoff: 1s, 2s, 4s, 8s, ..., 30s max
		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

func connectAndTail(ctx context.Context, url string, channels []string, logger *slog.Logger) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	// Unblock the read loop when ctx ends.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for _, ch := range channels {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(types.ControlMessage{Type: types.MsgSubscribe, Channel: ch}); err != nil {
			return fmt.Errorf("subscribe %s: %w", ch, err)
		}
	}

	logger.Info("connected", "url", url, "channels", channels)

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go pingLoop(pingCtx, conn)

	enc := json.NewEncoder(os.Stdout)
	for {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		var ev types.Event
		if err := conn.ReadJSON(&ev); err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if err := enc.Encode(ev); err != nil {
			return fmt.Errorf("write stdout: %w", err)
		}
	}
}

func pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(types.ControlMessage{Type: types.MsgPing}); err != nil {
				return
			}
		}
	}
}
