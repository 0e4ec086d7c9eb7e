package api

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"strconv"

	"github.com/closetswap/swapchat/internal/database"
	"github.com/closetswap/swapchat/internal/server"
	"github.com/closetswap/swapchat/internal/types"
	"github.com/gorilla/websocket"
)

// ClientMsgIdHeader echoes the client_msg_id of a fallback send, the way
// message_sent does on the websocket.
const ClientMsgIdHeader = "X-Client-Msg-Id"

type SendMessageRequest struct {
	Content     string `json:"content"`
	ClientMsgId string `json:"client_msg_id,omitempty"`
}

type CreateTradeRequest struct {
	MatchId        int `json:"match_id"`
	ClothingFromId int `json:"clothing_from_id"`
	ClothingToId   int `json:"clothing_to_id"`
}

type TradeActionRequest struct {
	TradeId int `json:"trade_id"`
}

type TradeActionResponse struct {
	Success bool             `json:"success"`
	Offer   types.TradeOffer `json:"offer"`
}

func (s *SwapChatApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func (s *SwapChatApp) writeError(w http.ResponseWriter, errResp *ApiError) {
	if errResp.StatusCode >= http.StatusInternalServerError {
		s.log.Println(errResp.Error())
	}

	s.writeJson(w, errResp.StatusCode, errResp)
}

func (s *SwapChatApp) healthCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(); err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func matchIdFromPath(r *http.Request) (int, bool) {
	matchId, err := strconv.Atoi(r.PathValue("id"))
	if err != nil || matchId <= 0 {
		return 0, false
	}

	return matchId, true
}

func (s *SwapChatApp) getMessages(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	matchId, ok := matchIdFromPath(r)
	if !ok {
		s.writeError(w, NewBadRequestError())
		return
	}

	var limit int
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		var err error
		limit, err = strconv.Atoi(limitStr)
		if err != nil || limit < 0 {
			s.writeError(w, NewBadRequestError())
			return
		}
	}

	order := database.MessageOrder(r.URL.Query().Get("order"))
	switch order {
	case "", database.OrderAsc, database.OrderDesc:
	default:
		s.writeError(w, NewBadRequestError())
		return
	}

	messages, err := s.chat.History(r.Context(), matchId, userId, limit, order)
	if err != nil {
		s.writeError(w, serviceError(err))
		return
	}

	s.writeJson(w, http.StatusOK, messages)
}

// postMessage is the synchronous send path used when the client has no live
// connection. The stored message is still delivered to the room.
func (s *SwapChatApp) postMessage(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	matchId, ok := matchIdFromPath(r)
	if !ok {
		s.writeError(w, NewBadRequestError())
		return
	}

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	if req.ClientMsgId != "" {
		w.Header().Set(ClientMsgIdHeader, req.ClientMsgId)
	}

	msg, err := s.chat.Send(r.Context(), matchId, userId, req.Content)
	if err != nil {
		s.writeError(w, serviceError(err))
		return
	}

	s.hub.PublishMessage(msg, nil)
	s.writeJson(w, http.StatusCreated, msg)
}

func (s *SwapChatApp) listTrades(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	matchId, ok := matchIdFromPath(r)
	if !ok {
		s.writeError(w, NewBadRequestError())
		return
	}

	offers, err := s.trades.List(r.Context(), matchId, userId)
	if err != nil {
		s.writeError(w, serviceError(err))
		return
	}

	s.writeJson(w, http.StatusOK, offers)
}

func (s *SwapChatApp) createTrade(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	var req CreateTradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	offer, err := s.trades.Create(r.Context(), req.MatchId, req.ClothingFromId, req.ClothingToId, userId)
	if err != nil {
		s.writeError(w, serviceError(err))
		return
	}

	s.writeJson(w, http.StatusCreated, offer)
}

func (s *SwapChatApp) acceptTrade(w http.ResponseWriter, r *http.Request) {
	s.tradeAction(w, r, s.trades.Accept)
}

func (s *SwapChatApp) declineTrade(w http.ResponseWriter, r *http.Request) {
	s.tradeAction(w, r, s.trades.Decline)
}

func (s *SwapChatApp) tradeAction(w http.ResponseWriter, r *http.Request, action func(ctx context.Context, tradeId, userId int) (types.TradeOffer, error)) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	var req TradeActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TradeId <= 0 {
		s.writeError(w, NewBadRequestError())
		return
	}

	offer, err := action(r.Context(), req.TradeId, userId)
	if err != nil {
		s.writeError(w, serviceError(err))
		return
	}

	s.writeJson(w, http.StatusOK, TradeActionResponse{Success: true, Offer: offer})
}

func (s *SwapChatApp) serveWs(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				// non-browser clients do not send an origin
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	client := server.NewClient(userId, conn, s.hub, s.log)
	if err := s.hub.Register(client); err != nil {
		s.log.Println("register client:", err)
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()))
		conn.Close()
		return
	}

	go client.Write()
	go client.Read()
}
