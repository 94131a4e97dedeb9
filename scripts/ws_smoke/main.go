package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
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
		log.Printf("ws_smoke: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "ws://localhost:8080/ws", "WebSocket address")
	token := flag.String("token", "", "access token (minted from -secret when empty)")
	secret := flag.String("secret", "change-me", "JWT secret used to mint a token")
	userID := flag.Int64("user-id", 1, "user id to mint a token for")
	username := flag.String("username", "tester", "username to mint a token for")
	channel := flag.Int64("channel", 1, "channel id")
	text := flag.String("text", "hello from smoke test", "message text to send")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	flag.Parse()

	if *token == "" {
		defaults := config.Default()
		minted, err := auth.GenerateToken(&auth.JWTConfig{
			Secret:   []byte(*secret),
			Issuer:   defaults.JWT.Issuer,
			Audience: defaults.JWT.Audience,
			TTL:      time.Hour,
		}, *userID, *username, auth.RoleStaff)
		if err != nil {
			return fmt.Errorf("mint token: %w", err)
		}
		*token = minted
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, *addr+"?token="+url.QueryEscape(*token), nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	frame, err := proto.NewFrame("", proto.ChatMessage{Content: *text, DedupeID: uuid.NewString()})
	if err != nil {
		return err
	}
	frame.ChannelID = *channel
	frame.CorrelationID = uuid.NewString()
	if err := wsjson.Write(ctx, conn, frame); err != nil {
		return fmt.Errorf("send: %w", err)
	}

	for {
		var f proto.Frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			return fmt.Errorf("read: %w", err)
		}

		fmt.Printf("Received frame: type=%s", f.Type)
		if f.Action != "" {
			fmt.Printf(" action=%s", f.Action)
		}
		fmt.Println()

		switch f.Type {
		case proto.TypeError:
			return fmt.Errorf("server error %s: %s", f.ErrorCode, f.ErrorMessage)
		case proto.TypeChatMessage:
			var msg proto.ChatMessage
			if err := json.Unmarshal(f.Payload, &msg); err != nil {
				fmt.Printf("Raw payload: %s\n", string(f.Payload))
				return fmt.Errorf("unmarshal message: %w", err)
			}
			fmt.Printf("ChatMessage: channel=%d from=%s text=%q id=%d\n", f.ChannelID, msg.SenderName, msg.Content, msg.MessageID)
			return nil
		default:
			// keep looping for the echoed message
		}
	}
}
