package httpserver

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"chatcore/internal/chat"
	"chatcore/internal/domain"
)

type conversationCreateRequest struct {
	PeerID int64 `json:"peer_id"`
}

// conversationSummary is what the sidebar needs: the conversation, its
// participants, the latest message, and the caller's unread counter.
type conversationSummary struct {
	ID             int64             `json:"id"`
	IsGroup        bool              `json:"is_group"`
	CreatedAt      time.Time         `json:"created_at"`
	LastActivityAt time.Time         `json:"last_activity_at"`
	Participants   []*domain.User    `json:"participants"`
	LastMessage    *chat.MessageView `json:"last_message,omitempty"`
	UnreadCount    int               `json:"unread_count"`
}

func handleFindOrCreateConversation(directory *chat.Directory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		currentUser := CurrentUser(r)
		if currentUser == nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		var req conversationCreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}

		conv, err := directory.FindOrCreateDirect(r.Context(), currentUser.ID, req.PeerID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, conv)
	}
}

func handleListConversations(directory *chat.Directory, messages *chat.MessageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		currentUser := CurrentUser(r)
		if currentUser == nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		convs, err := directory.ListForUser(r.Context(), currentUser.ID)
		if err != nil {
			writeError(w, err)
			return
		}

		summaries := make([]*conversationSummary, 0, len(convs))
		for _, conv := range convs {
			summary, err := buildSummary(r, directory, messages, conv, currentUser.ID)
			if err != nil {
				writeError(w, err)
				return
			}
			summaries = append(summaries, summary)
		}
		writeJSON(w, http.StatusOK, summaries)
	}
}

func handleGetConversation(directory *chat.Directory, messages *chat.MessageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		currentUser := CurrentUser(r)
		if currentUser == nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		id, err := strconv.ParseInt(chi.URLParam(r, "conversationID"), 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid conversation id"})
			return
		}
		conv, err := directory.Get(r.Context(), id, currentUser.ID)
		if err != nil {
			writeError(w, err)
			return
		}
		summary, err := buildSummary(r, directory, messages, conv, currentUser.ID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, summary)
	}
}

func handleMarkConversationRead(dispatcher *chat.Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		currentUser := CurrentUser(r)
		if currentUser == nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		id, err := strconv.ParseInt(chi.URLParam(r, "conversationID"), 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid conversation id"})
			return
		}
		if err := dispatcher.MarkRead(r.Context(), id, currentUser.ID); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
	}
}

type messagePage struct {
	Messages   []*chat.MessageView `json:"messages"`
	NextCursor string              `json:"next_cursor,omitempty"`
}

func handleListMessages(messages *chat.MessageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		currentUser := CurrentUser(r)
		if currentUser == nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		id, err := strconv.ParseInt(chi.URLParam(r, "conversationID"), 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid conversation id"})
			return
		}

		cursor := r.URL.Query().Get("cursor")
		limit := 0
		if v := r.URL.Query().Get("limit"); v != "" {
			limit, _ = strconv.Atoi(v)
		}

		page, next, err := messages.ListSince(r.Context(), id, currentUser.ID, cursor, limit)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, messagePage{Messages: page, NextCursor: next})
	}
}

func buildSummary(r *http.Request, directory *chat.Directory, messages *chat.MessageService, conv *domain.Conversation, userID int64) (*conversationSummary, error) {
	participants, err := directory.Participants(r.Context(), conv.ID)
	if err != nil {
		return nil, err
	}
	last, err := messages.Latest(r.Context(), conv.ID)
	if err != nil {
		return nil, err
	}
	unread, err := directory.UnreadCount(r.Context(), conv.ID, userID)
	if err != nil {
		return nil, err
	}
	return &conversationSummary{
		ID:             conv.ID,
		IsGroup:        conv.IsGroup,
		CreatedAt:      conv.CreatedAt,
		LastActivityAt: conv.LastActivityAt,
		Participants:   participants,
		LastMessage:    last,
		UnreadCount:    unread,
	}, nil
}
