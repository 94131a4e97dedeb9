package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/vovakirdan/staffchat-server/internal/auth"
	"github.com/vovakirdan/staffchat-server/internal/config"
	"github.com/vovakirdan/staffchat-server/internal/proto"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_chat: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "ws://localhost:8080/ws", "WebSocket address")
	token := flag.String("token", "", "access token (minted from -secret when empty)")
	secret := flag.String("secret", "change-me", "JWT secret used to mint a token")
	userID := flag.Int64("user-id", 1, "user id to mint a token for")
	username := flag.String("username", "cli-user", "username to mint a token for")
	channel := flag.Int64("channel", 1, "channel to talk in")
	flag.Parse()

	if *token == "" {
		defaults := config.Default()
		minted, err := auth.GenerateToken(&auth.JWTConfig{
			Secret:   []byte(*secret),
			Issuer:   defaults.JWT.Issuer,
			Audience: defaults.JWT.Audience,
			TTL:      24 * time.Hour,
		}, *userID, *username, auth.RoleStaff)
		if err != nil {
			return fmt.Errorf("mint token: %w", err)
		}
		*token = minted
	}

	baseCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, *addr+"?token="+url.QueryEscape(*token), nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	fmt.Printf("Connected to %s in channel %d\n", *addr, *channel)
	fmt.Println("Type messages and press Enter to send. /typing toggles the typing indicator. Ctrl+C to exit.")

	go func() {
		defer cancel()
		readLoop(ctx, conn)
	}()
	go heartbeatLoop(ctx, conn)

	writeLoop(ctx, conn, *channel)

	stop()
	cancel()
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
	return nil
}

func readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		var f proto.Frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			// Treat expected shutdowns quietly.
			if errors.Is(err, context.Canceled) {
				return
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return
			}
			log.Printf("read error: %v", err)
			return
		}

		switch f.Type {
		case proto.TypeChatMessage:
			var msg proto.ChatMessage
			if err := json.Unmarshal(f.Payload, &msg); err != nil {
				log.Printf("unmarshal message: %v", err)
				continue
			}
			fmt.Printf("[#%d] %s: %s\n", f.ChannelID, msg.SenderName, msg.Content)
		case proto.TypePresence:
			var p proto.Presence
			if err := json.Unmarshal(f.Payload, &p); err != nil {
				log.Printf("unmarshal presence: %v", err)
				continue
			}
			fmt.Printf("* %s is %s\n", p.Name, p.Status)
		case proto.TypeTyping:
			var t proto.Typing
			if err := json.Unmarshal(f.Payload, &t); err == nil && t.Typing {
				fmt.Printf("* %s is typing...\n", t.Name)
			}
		case proto.TypeAlert:
			var a proto.Alert
			if err := json.Unmarshal(f.Payload, &a); err == nil {
				fmt.Printf("!!! [%s] %s: %s\n", strings.ToUpper(a.Severity), a.Title, a.Body)
			}
		case proto.TypeError:
			fmt.Printf("error %s: %s\n", f.ErrorCode, f.ErrorMessage)
		case proto.TypeAck:
			// quiet
		default:
			fmt.Printf("type=%s payload=%s\n", f.Type, string(f.Payload))
		}
	}
}

func heartbeatLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := wsjson.Write(ctx, conn, proto.Frame{Type: proto.TypeHeartbeat, Timestamp: proto.Now()}); err != nil {
				return
			}
		}
	}
}

func writeLoop(ctx context.Context, conn *websocket.Conn, channel int64) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	typing := false
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}

			var payload proto.Payload = proto.ChatMessage{Content: text, DedupeID: uuid.NewString()}
			if text == "/typing" {
				typing = !typing
				payload = proto.Typing{Typing: typing}
			}

			f, err := proto.NewFrame("", payload)
			if err != nil {
				log.Printf("build frame: %v", err)
				return
			}
			f.ChannelID = channel
			f.CorrelationID = uuid.NewString()
			if err := wsjson.Write(ctx, conn, f); err != nil {
				log.Printf("send error: %v", err)
				return
			}
		}
	}
}
