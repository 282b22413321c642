package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/vadiminshakov/fxdesk/internal/domain"
)

func (s *Server) handleBalanceStream(w http.ResponseWriter, r *http.Request) {
	if s.Store == nil {
		respondError(w, http.StatusServiceUnavailable, "snapshot store not available")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	userID := r.URL.Query().Get("user_id")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// send a comment heartbeat every 30s so proxies keep connection
	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	pollTicker := time.NewTicker(snapshotPollInterval)
	defer pollTicker.Stop()

	// nil channel blocks forever when no broadcaster is wired
	var published chan domain.BalanceSnapshot
	if s.balances != nil {
		published = s.balances.Subscribe()
		defer s.balances.Unsubscribe(published)
	}

	lastIndex := uint64(0)
	sendSnapshots := func() error {
		records, err := s.Store.SnapshotsAfter(lastIndex)
		if err != nil {
			return err
		}
		for _, record := range records {
			lastIndex = record.Index
			if userID != "" && record.Snapshot.UserID != userID {
				continue
			}
			payload, err := json.Marshal(record.Snapshot)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "id: %d\n", record.Index)
			fmt.Fprintf(w, "event: balance\n")
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
		return nil
	}

	if err := sendSnapshots(); err != nil {
		s.logger.Error("balance stream initial load", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to load snapshots")
		return
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		case <-pollTicker.C:
			if err := sendSnapshots(); err != nil {
				s.logger.Warn("balance stream poll", zap.Error(err))
			}
		case <-published:
			if err := sendSnapshots(); err != nil {
				s.logger.Warn("balance stream push", zap.Error(err))
			}
		}
	}
}
