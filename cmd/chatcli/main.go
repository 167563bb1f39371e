// chatcli is a minimal consumer of the messaging client: it connects,
// optionally sends one direct message, and prints the ledger as events
// arrive. Useful against the dev server for manual testing.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"campuschat-client/internal/config"
	"campuschat-client/internal/models"
	"campuschat-client/internal/store"
	"campuschat-client/internal/transport"
	"campuschat-client/internal/utils"
)

func main() {
	userID := flag.String("user", "demo-user", "local user id")
	userName := flag.String("name", "Demo User", "local display name")
	userRole := flag.String("role", "student", "local user role")
	to := flag.String("to", "", "recipient user id for a one-shot message")
	content := flag.String("content", "", "message content for the one-shot message")
	flag.Parse()

	cfg := config.Load(".env")

	manager := transport.NewManager(transport.Config{
		URL: cfg.WebSocketURL,
		Token: func(uid, role string) (string, error) {
			return utils.MintToken(cfg.JWTSecret, uid, role, cfg.TokenMaxAge)
		},
		ReconnectAttempts: cfg.ReconnectAttempts,
		ReconnectDelay:    cfg.ReconnectDelay,
	})

	st := store.New(manager, store.Self{ID: *userID, Name: *userName, Role: *userRole}, store.Options{
		TypingTimeout: cfg.TypingTimeout,
	})
	defer st.Close()
	manager.SetHandler(st)

	manager.Connect(*userID, *userRole)
	waitForConnection(manager)

	if state := manager.State(); !state.Connected {
		log.Fatalf("Could not connect: %s", state.LastError)
	}
	log.Printf("Connected as %s", *userID)

	if *to != "" && *content != "" {
		msg, err := st.SendMessage(models.Draft{
			RecipientID: to,
			Content:     *content,
		})
		if err != nil {
			log.Fatalf("Send failed: %v", err)
		}
		log.Printf("Sent %s (status %s), waiting for ack...", msg.ID, msg.Status)
	}

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-ticker.C:
			for _, m := range st.Messages() {
				log.Printf("  [%s] %s: %s", m.Status, m.SenderID, m.Content)
			}
		case <-quit:
			manager.Disconnect()
			log.Println("Disconnected, bye")
			return
		}
	}
}

func waitForConnection(m *transport.Manager) {
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if m.Connected() {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
}
