// ABOUTME: HTTP handlers for health, readiness and announcements
// ABOUTME: Announcements post a message into a chat room on behalf of an authenticated caller

package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/2389/coven-relay/internal/auth"
)

// maxAnnouncementBytes caps the announcement request body.
const maxAnnouncementBytes = 64 << 10

type announcementRequest struct {
	ChannelID string `json:"channelId"`
	Message   string `json:"message"`
}

// handleHealth returns 200 OK if the server is alive.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if the session store answers.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.opts.Store == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("no store configured"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.opts.Store.Ping(ctx); err != nil {
		s.logger.Warn("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// handleAnnouncement posts {channelId, message} into the named room.
func (s *Server) handleAnnouncement(w http.ResponseWriter, r *http.Request) {
	var req announcementRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAnnouncementBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	req.ChannelID = strings.TrimSpace(req.ChannelID)
	if req.ChannelID == "" || strings.TrimSpace(req.Message) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "channelId and message are required"})
		return
	}
	if s.opts.Announcer == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no chat frontend running"})
		return
	}

	logger := s.logger.With("channel_id", req.ChannelID, "caller", auth.CallerFromContext(r.Context()))
	if err := s.opts.Announcer.Announce(r.Context(), req.ChannelID, req.Message); err != nil {
		logger.Error("announcement failed", "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "failed to post announcement"})
		return
	}

	logger.Info("announcement posted")
	writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
