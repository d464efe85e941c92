package ws

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chatcore/internal/chat"
	"chatcore/internal/domain"
	"chatcore/internal/security"
)

// Gateway terminates WebSocket connections and translates client intents
// into core operations. Per connection it runs the session state machine
// Connecting -> Active -> (Joined | Idle) -> Closed.
type Gateway struct {
	hub        *Hub
	dispatcher *chat.Dispatcher
	presence   *chat.PresenceTracker
	typing     *chat.TypingCoordinator
	directory  *chat.Directory
	tokens     *security.TokenService
	users      domain.UserRepository
	bufSize    int
	logger     *zap.Logger
}

func NewGateway(
	hub *Hub,
	dispatcher *chat.Dispatcher,
	presence *chat.PresenceTracker,
	typing *chat.TypingCoordinator,
	directory *chat.Directory,
	tokens *security.TokenService,
	users domain.UserRepository,
	bufSize int,
	logger *zap.Logger,
) *Gateway {
	if bufSize <= 0 {
		bufSize = 256
	}
	return &Gateway{
		hub:        hub,
		dispatcher: dispatcher,
		presence:   presence,
		typing:     typing,
		directory:  directory,
		tokens:     tokens,
		users:      users,
		bufSize:    bufSize,
		logger:     logger,
	}
}

func normalizeAllowedOrigins(origins []string) map[string]struct{} {
	res := make(map[string]struct{}, len(origins))
	for _, origin := range origins {
		o := strings.TrimSpace(strings.ToLower(origin))
		if o != "" {
			res[o] = struct{}{}
		}
	}
	return res
}

func makeCheckOrigin(allowedOrigins []string) func(r *http.Request) bool {
	allowed := normalizeAllowedOrigins(allowedOrigins)
	if len(allowed) == 0 {
		return func(r *http.Request) bool {
			return false
		}
	}

	return func(r *http.Request) bool {
		origin := strings.TrimSpace(strings.ToLower(r.Header.Get("Origin")))
		if origin == "" {
			return false
		}
		if _, ok := allowed[origin]; ok {
			return true
		}

		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return false
		}
		normalized := strings.ToLower(fmt.Sprintf("%s://%s", u.Scheme, u.Host))
		_, ok := allowed[normalized]
		return ok
	}
}

func extractToken(r *http.Request) string {
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		if token := strings.TrimSpace(authHeader[len("Bearer "):]); token != "" {
			return token
		}
	}

	// Browsers cannot set arbitrary headers on WS upgrades; accept the token
	// via the subprotocol list instead.
	protocolHeader := r.Header.Get("Sec-WebSocket-Protocol")
	if protocolHeader != "" {
		parts := strings.Split(protocolHeader, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		if len(parts) >= 2 && strings.EqualFold(parts[0], "bearer") {
			return parts[1]
		}
	}
	return ""
}

// MakeHandler returns the HTTP handler for the /ws endpoint. The upgrade
// itself is the connect intent; closing the socket is the disconnect.
// Inbound frames are JSON objects dispatched on their "type" key:
//   - join       -> subscribe the session to a conversation
//   - leave      -> drop the subscription
//   - message    -> send through the dispatcher
//   - typing     -> typing indicator on/off
//   - mark_read  -> clear unread + promote lagging messages to read
//   - heartbeat  -> refresh the presence idle timer
func (g *Gateway) MakeHandler(allowedOrigins []string) http.HandlerFunc {
	checkOrigin := makeCheckOrigin(allowedOrigins)
	upgrader := websocket.Upgrader{
		CheckOrigin:  checkOrigin,
		Subprotocols: []string{"bearer"},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if !checkOrigin(r) {
			http.Error(w, "origin not allowed", http.StatusForbidden)
			return
		}

		tokenStr := extractToken(r)
		if tokenStr == "" {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		userID, err := g.tokens.ParseUserID(tokenStr)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		ctx := r.Context()
		user, err := g.users.GetByID(ctx, userID)
		if err != nil || user == nil || !user.IsActive {
			http.Error(w, "user not found or inactive", http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		sess := newSession(user.ID, conn, g.hub, g.bufSize, g.logger)
		g.hub.register(sess)
		if err := sess.activate(); err != nil {
			sess.Close()
			return
		}
		if err := g.presence.MarkOnline(sess.Context(), user.ID, sess.ID); err != nil {
			g.logger.Error("mark online", zap.Int64("user_id", user.ID), zap.Error(err))
		}
		go sess.writePump()

		g.dispatcher.OnConnect(sess.Context(), user.ID)

		defer func() {
			joined := sess.Joined()
			if joined != 0 {
				g.typing.SetTyping(joined, user.ID, false)
			}
			sess.Close()
			// The session context is canceled by Close; deregistering
			// presence must still run.
			if err := g.presence.MarkOffline(context.Background(), user.ID, sess.ID); err != nil {
				g.logger.Error("mark offline", zap.Int64("user_id", user.ID), zap.Error(err))
			}
		}()

		conn.SetReadLimit(int64(maxFrameSize))
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongWait))
			// A pong proves the client alive even when it sends no intents.
			g.presence.Heartbeat(user.ID)
			return nil
		})
		g.readLoop(sess, user.ID)
	}
}

type intentFrame struct {
	Type           string `json:"type"`
	ConversationID int64  `json:"conversation_id"`
	Content        string `json:"content"`
	IsTyping       bool   `json:"is_typing"`
}

func (g *Gateway) readLoop(sess *Session, userID int64) {
	ctx := sess.Context()
	for {
		var frame intentFrame
		if err := sess.conn.ReadJSON(&frame); err != nil {
			return
		}
		if sess.State() == StateClosed {
			return
		}
		sess.conn.SetReadDeadline(time.Now().Add(pongWait))
		// Reading any intent counts as a heartbeat.
		g.presence.Heartbeat(userID)

		switch frame.Type {

		case "join":
			if frame.ConversationID == 0 {
				g.sendError(sess, "join requires conversation_id")
				continue
			}
			ok, err := g.directory.IsParticipant(ctx, frame.ConversationID, userID)
			if err != nil || !ok {
				g.sendError(sess, "not allowed for this conversation")
				continue
			}
			if err := sess.Join(frame.ConversationID); err != nil {
				return
			}
			if err := g.dispatcher.OnView(ctx, frame.ConversationID, userID); err != nil {
				g.logger.Error("on view", zap.Int64("conversation_id", frame.ConversationID), zap.Error(err))
			}

		case "leave":
			joined := sess.Joined()
			if joined != 0 {
				g.typing.SetTyping(joined, userID, false)
			}
			if err := sess.Leave(); err != nil {
				return
			}

		case "message":
			if frame.ConversationID == 0 || frame.Content == "" {
				g.sendError(sess, "message requires conversation_id and non-empty content")
				continue
			}
			if _, err := g.dispatcher.Send(ctx, frame.ConversationID, userID, frame.Content); err != nil {
				g.logger.Warn("send rejected",
					zap.Int64("conversation_id", frame.ConversationID),
					zap.Error(err))
				g.sendError(sess, "failed to send message")
			}

		case "typing":
			if frame.ConversationID == 0 {
				continue
			}
			ok, err := g.directory.IsParticipant(ctx, frame.ConversationID, userID)
			if err != nil || !ok {
				g.sendError(sess, "not allowed for this conversation")
				continue
			}
			g.typing.SetTyping(frame.ConversationID, userID, frame.IsTyping)

		case "mark_read":
			if frame.ConversationID == 0 {
				continue
			}
			if err := g.dispatcher.MarkRead(ctx, frame.ConversationID, userID); err != nil {
				g.logger.Warn("mark_read rejected",
					zap.Int64("conversation_id", frame.ConversationID),
					zap.Error(err))
				g.sendError(sess, "failed to mark conversation read")
			}

		case "heartbeat":
			// Already counted above.

		default:
			g.logger.Debug("unknown intent", zap.String("type", frame.Type), zap.Int64("user_id", userID))
		}
	}
}

func (g *Gateway) sendError(sess *Session, msg string) {
	sess.enqueue(chat.Event{"type": chat.EventError, "message": msg})
}
