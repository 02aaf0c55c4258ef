package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/momcore/internal/event"
	"github.com/nerrad567/momcore/internal/journal"
)

// handleListEvents pages over the session's journal.
//
// Query parameters: type, name, since (RFC 3339), limit, offset.
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeNotFound(w, "journal is disabled")
		return
	}

	q := r.URL.Query()
	filter := journal.Filter{
		Namespace: s.session.TopicNames().Namespace(),
		Type:      event.Type(q.Get("type")),
		Name:      q.Get("name"),
	}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeBadRequest(w, "since must be an RFC 3339 timestamp")
			return
		}
		filter.Since = since
	}
	var err error
	if filter.Limit, err = intParam(q.Get("limit")); err != nil {
		writeBadRequest(w, "limit must be an integer")
		return
	}
	if filter.Offset, err = intParam(q.Get("offset")); err != nil {
		writeBadRequest(w, "offset must be an integer")
		return
	}

	result, err := s.journal.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing journal entries", "error", err)
		writeInternalError(w, "failed to list events")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleQueues reports the queue-broker backlog per user.
func (s *Server) handleQueues(w http.ResponseWriter, r *http.Request) {
	if s.queues == nil {
		writeNotFound(w, "queue broker is not in use")
		return
	}
	users, err := s.session.Users(r.Context())
	if err != nil {
		writeSessionError(w, err)
		return
	}
	names := make([]string, 0, len(users))
	for _, u := range users {
		names = append(names, u.Name)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"queues": s.queues.QueueDepths(names),
	})
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}
