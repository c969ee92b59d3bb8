package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/mbeoliero/kit/log"

	"github.com/mbeoliero/prolinq/internal/api"
	"github.com/mbeoliero/prolinq/internal/bus"
	"github.com/mbeoliero/prolinq/internal/config"
	"github.com/mbeoliero/prolinq/internal/conn"
	"github.com/mbeoliero/prolinq/internal/session"
	"github.com/mbeoliero/prolinq/internal/store"
	"github.com/mbeoliero/prolinq/pkg/localstate"
)

func main() {
	ctx := context.TODO()

	// Load configuration
	cfg, err := config.Load("config/config.yaml")
	if err != nil {
		log.CtxWarn(ctx, "failed to load config, using defaults: %v", err)
		cfg = config.Default()
	}

	// Open persisted local state
	state, err := localstate.Open(cfg.State.FilePath)
	if err != nil {
		log.CtxError(ctx, "failed to open local state: %v", err)
		panic(err)
	}

	// REST client and session
	apiClient := api.MustNewClient(&cfg.API)
	sess, err := session.Restore(state, apiClient, cfg.API.LogoutTimeout)
	if err != nil {
		log.CtxError(ctx, "no restorable session, sign in first: %v", err)
		os.Exit(1)
	}
	log.CtxInfo(ctx, "session restored: user_id=%d", sess.UserID())

	// Event bus and realtime connection
	eventBus := bus.New()
	manager := conn.NewManager(&cfg.Socket, eventBus)

	eventBus.On(bus.SignalNewMessage, func(p interface{}) {
		if msg, ok := p.(*api.Message); ok {
			log.CtxInfo(ctx, "message received: id=%d, sender_id=%d", msg.ID, msg.SenderID)
		}
	})
	eventBus.On(bus.SignalNotification, func(p interface{}) {
		if n, ok := p.(*api.Notification); ok {
			log.CtxInfo(ctx, "notification received: id=%d, type=%s", n.ID, n.Type)
		}
	})
	eventBus.On(bus.EventReconnecting, func(p interface{}) {
		log.CtxWarn(ctx, "socket reconnecting: attempt=%v", p)
	})

	// Stores
	conversations := store.NewConversationStore(apiClient, eventBus, state, sess.UserID())
	// The thread store subscribes itself to the bus; it is driven by push
	// events until a frontend opens a thread through it.
	store.NewThreadStore(apiClient, eventBus, manager, sess.UserID(),
		cfg.Messaging.HighlightWindow, cfg.Messaging.TypingIdleTimeout)
	badges := store.NewBadgeStore(apiClient, eventBus, cfg.Badge.PollInterval)

	// Initial data load
	if err := conversations.Refresh(ctx); err != nil {
		log.CtxWarn(ctx, "initial conversation load failed: %v", err)
	}
	if err := badges.RefreshNotifications(ctx); err != nil {
		log.CtxWarn(ctx, "initial notification load failed: %v", err)
	}

	// Connect the socket and start badge polling
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := manager.Connect(runCtx, sess.UserID()); err != nil {
		log.CtxError(ctx, "socket connect failed: %v", err)
	}
	go badges.Run(runCtx)

	log.CtxInfo(ctx, "messaging core running")

	// Wait for interrupt signal to shut down
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.CtxInfo(ctx, "shutting down...")
	cancel()
	manager.Disconnect()
	log.CtxInfo(ctx, "messaging core stopped")
}
