package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/closetswap/swapchat/internal/chat"
	"github.com/closetswap/swapchat/internal/config"
	"github.com/closetswap/swapchat/internal/database"
	"github.com/closetswap/swapchat/internal/server"
	"github.com/closetswap/swapchat/internal/trade"
	"github.com/gorilla/handlers"
)

type SwapChatApp struct {
	log            *log.Logger
	db             database.SwapChatRepository
	chat           *chat.Service
	trades         *trade.Service
	hub            *server.Hub
	srv            *http.Server
	signingKey     []byte
	allowedOrigins []string
}

func NewSwapChatApp(
	mux *http.ServeMux,
	logger *log.Logger,
	hub *server.Hub,
	db database.SwapChatRepository,
	chatSvc *chat.Service,
	tradeSvc *trade.Service,
	cfg *config.Config,
) *SwapChatApp {
	s := &SwapChatApp{
		log:            logger,
		db:             db,
		chat:           chatSvc,
		trades:         tradeSvc,
		hub:            hub,
		signingKey:     cfg.SigningKey,
		allowedOrigins: cfg.AllowedOrigins,
	}

	mux.HandleFunc("GET /healthz", s.healthCheck)
	mux.Handle("GET /api/matches/{id}/messages", s.authMiddleware(s.getMessages))
	mux.Handle("POST /api/matches/{id}/messages", s.authMiddleware(s.postMessage))
	mux.Handle("GET /api/matches/{id}/trades", s.authMiddleware(s.listTrades))
	mux.Handle("POST /api/trades", s.authMiddleware(s.createTrade))
	mux.Handle("POST /api/trades/accept", s.authMiddleware(s.acceptTrade))
	mux.Handle("POST /api/trades/decline", s.authMiddleware(s.declineTrade))
	mux.Handle("GET /ws", s.authMiddleware(s.serveWs))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
		handlers.ExposedHeaders([]string{ClientMsgIdHeader}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(s.accessLog(h))

	s.srv = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	return s
}

func (s *SwapChatApp) Handler() http.Handler {
	return s.srv.Handler
}

func (s *SwapChatApp) Start() error {
	s.log.Printf("starting server on %s\n", s.srv.Addr)
	return s.srv.ListenAndServe()
}

func (s *SwapChatApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
