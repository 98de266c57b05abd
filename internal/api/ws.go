package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/careline/concierge/internal/domain"
	"github.com/careline/concierge/internal/identity"
	"github.com/careline/concierge/internal/orchestrator"
)

const approvalReplyTimeout = 2 * time.Minute

// wsFrame is the wire shape for both directions of the chat socket.
type wsFrame struct {
	Type      string               `json:"type"`
	SessionID string               `json:"session_id,omitempty"`
	Message   string               `json:"message,omitempty"`
	Response  *domain.ChatResponse `json:"response,omitempty"`
	Error     string               `json:"error,omitempty"`
}

// wsConn is one live chat socket. While an approval prompt is outstanding
// the next inbound message is routed to the waiter instead of the
// orchestrator.
type wsConn struct {
	ws  *websocket.Conn
	wmu sync.Mutex

	mu       sync.Mutex
	awaiting chan string
}

func (c *wsConn) writeJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.ws.Write(ctx, websocket.MessageText, data)
}

// Ask sends an approval prompt and waits for the user's next message.
func (c *wsConn) Ask(ctx context.Context, prompt string) (string, error) {
	c.mu.Lock()
	if c.awaiting != nil {
		c.mu.Unlock()
		return "", errors.New("an approval prompt is already outstanding")
	}
	ch := make(chan string, 1)
	c.awaiting = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.awaiting = nil
		c.mu.Unlock()
	}()

	if err := c.writeJSON(ctx, wsFrame{Type: "approval_request", Message: prompt}); err != nil {
		return "", err
	}

	select {
	case reply := <-ch:
		return reply, nil
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(approvalReplyTimeout):
		return "", errors.New("approval reply timed out")
	}
}

// deliverReply hands an inbound message to an outstanding approval waiter.
// Returns false when no prompt is pending.
func (c *wsConn) deliverReply(text string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.awaiting == nil {
		return false
	}
	select {
	case c.awaiting <- text:
	default:
	}
	return true
}

// Hub tracks live sockets by conversation id so the approval handler can
// reach the user mid-turn.
type Hub struct {
	mu    sync.Mutex
	conns map[string]*wsConn
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{conns: make(map[string]*wsConn)}
}

func (h *Hub) register(sessionID string, c *wsConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[sessionID] = c
}

func (h *Hub) unregister(sessionID string, c *wsConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[sessionID] == c {
		delete(h.conns, sessionID)
	}
}

func (h *Hub) get(sessionID string) *wsConn {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conns[sessionID]
}

// ApprovalInterpreter turns a free-text reply to a confirmation prompt into
// a decision. Implemented by llm.ApprovalInterpreter.
type ApprovalInterpreter interface {
	Interpret(ctx context.Context, prompt, reply string) (bool, error)
}

// NewApprovalHandler collects approval decisions over the user's live
// socket. Without one, or on any failure, the decision is denial.
func NewApprovalHandler(hub *Hub, interp ApprovalInterpreter) orchestrator.ApprovalHandler {
	return orchestrator.ApprovalHandlerFunc(func(ctx context.Context, prompt string) (bool, error) {
		sessionID := identity.SessionIDFromContext(ctx)
		conn := hub.get(sessionID)
		if conn == nil {
			return false, errors.New("no interactive channel to collect approval")
		}
		reply, err := conn.Ask(ctx, prompt)
		if err != nil {
			return false, err
		}
		return interp.Interpret(ctx, prompt, reply)
	})
}

// WSHandler serves the websocket chat transport.
type WSHandler struct {
	orch        *orchestrator.Orchestrator
	hub         *Hub
	limiter     *RateLimiter
	turnTimeout time.Duration
	isDev       bool
}

// NewWSHandler creates the websocket handler.
func NewWSHandler(orch *orchestrator.Orchestrator, hub *Hub, limiter *RateLimiter, turnTimeout time.Duration, isDev bool) *WSHandler {
	if turnTimeout <= 0 {
		turnTimeout = 60 * time.Second
	}
	return &WSHandler{orch: orch, hub: hub, limiter: limiter, turnTimeout: turnTimeout, isDev: isDev}
}

// ServeHTTP upgrades to a websocket and pumps chat turns.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	opts := &websocket.AcceptOptions{}
	if h.isDev {
		opts.OriginPatterns = []string{"*"}
	}
	ws, err := websocket.Accept(w, r, opts)
	if err != nil {
		slog.Warn("websocket accept failed", "error", err)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "conversation ended"); closeErr != nil {
			slog.Debug("websocket close", "error", closeErr)
		}
	}()

	sessionID := identity.SessionIDFromContext(r.Context())
	if sessionID == "" {
		sessionID = identity.NewSessionID()
	}

	conn := &wsConn{ws: ws}
	h.hub.register(sessionID, conn)
	defer h.hub.unregister(sessionID, conn)

	ctx := r.Context()
	if err := conn.writeJSON(ctx, wsFrame{Type: "session", SessionID: sessionID}); err != nil {
		return
	}

	var turns sync.WaitGroup
	defer turns.Wait()

	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				slog.Debug("websocket read ended", "session_id", sessionID, "error", err)
			}
			return
		}

		var frame wsFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			_ = conn.writeJSON(ctx, wsFrame{Type: "error", Error: "invalid frame"})
			continue
		}
		if conn.deliverReply(frame.Message) {
			continue
		}
		if h.limiter != nil && !h.limiter.Allow(sessionID) {
			_ = conn.writeJSON(ctx, wsFrame{Type: "error", Error: "too many requests, slow down"})
			continue
		}

		// Turns run off the read loop: an approval exchange inside
		// ProcessMessage needs the loop free to route the reply.
		turns.Add(1)
		go func(text string) {
			defer turns.Done()
			turnCtx, cancel := context.WithTimeout(identity.WithSessionID(context.Background(), sessionID), h.turnTimeout)
			defer cancel()

			resp, err := h.orch.ProcessMessage(turnCtx, sessionID, text)
			if err != nil {
				_ = conn.writeJSON(ctx, wsFrame{Type: "error", Error: "failed to process message"})
				return
			}
			if resp.Message == "" && resp.RequiredAction == domain.ActionNone {
				return
			}
			_ = conn.writeJSON(ctx, wsFrame{Type: "response", SessionID: sessionID, Response: &resp})
		}(frame.Message)
	}
}
