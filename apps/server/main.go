package main

import (
	"log"
	"net/http"
	"os"
	"strings"

	"crash-lite/apps/server/internal/auth"
	"crash-lite/apps/server/internal/gateway"
	"crash-lite/apps/server/internal/scheduler"
	"crash-lite/apps/server/internal/store"
	"crash-lite/apps/server/internal/wallet"
)

func main() {
	authService, authMode, err := auth.NewServiceFromEnv()
	if err != nil {
		log.Fatalf("[Server] Failed to init auth manager: %v", err)
	}
	defer authService.Close()
	walletService, walletMode, err := wallet.NewServiceFromEnv()
	if err != nil {
		log.Fatalf("[Server] Failed to init wallet service: %v", err)
	}
	defer walletService.Close()
	storeService, storeMode, err := store.NewServiceFromEnv()
	if err != nil {
		log.Fatalf("[Server] Failed to init store service: %v", err)
	}
	defer storeService.Close()

	gw := gateway.New(authService)
	sched, err := scheduler.New(scheduler.ConfigFromEnv(), walletService, storeService,
		gw.Broadcast, gw.SendTo)
	if err != nil {
		log.Fatalf("[Server] Failed to start scheduler: %v", err)
	}
	defer sched.Stop()
	gw.SetScheduler(sched)

	authHTTP := auth.NewHTTPHandler(authService)
	historyHTTP := store.NewHandler(storeService, auth.BearerUser(authService))

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", gw.HandleWebSocket)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	authHTTP.RegisterRoutes(mux)
	historyHTTP.Register(mux)

	addr := listenAddr()
	log.Printf("[Server] Auth mode: %s", authMode)
	log.Printf("[Server] Wallet mode: %s", walletMode)
	log.Printf("[Server] Store mode: %s", storeMode)
	log.Printf("[Server] Starting WebSocket server on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("[Server] Failed to start: %v", err)
	}
}

func listenAddr() string {
	if v := strings.TrimSpace(os.Getenv("LISTEN_ADDR")); v != "" {
		return v
	}
	return ":8080"
}
