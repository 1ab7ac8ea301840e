package dashboard

import (
	"log/slog"

	"github.com/rotaworks/schedsync/internal/engine"
	"github.com/rotaworks/schedsync/internal/logging"
)

// Handler turns engine events into dashboard messages.
//
//	h := dashboard.NewHandler(srv, logger)
//	unsubscribe := eng.Subscribe(h.OnEvent)
//	defer unsubscribe()
type Handler struct {
	server *Server
	logger *slog.Logger
}

// NewHandler creates a new event handler connected to a dashboard server
func NewHandler(server *Server, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Handler{server: server, logger: logger}
}

// OnEvent broadcasts the new state, followed by the conflict list when
// the engine starts waiting for resolutions.
func (h *Handler) OnEvent(ev engine.Event) {
	data := StatusData{
		Author:    h.server.source.Author(),
		State:     ev.State.String(),
		Status:    string(ev.Status),
		Message:   ev.Message,
		Conflicts: ev.Conflicts,
	}
	if ev.Err != nil {
		data.Error = ev.Err.Error()
	}

	msg, err := newMessage(MessageTypeStatus, data)
	if err != nil {
		h.logger.Warn("failed to build status message", "error", err)
		return
	}
	msg.Timestamp = ev.Time
	h.server.Broadcast(msg)

	if ev.State != engine.StateAwaitingResolution {
		return
	}
	msg, err = newMessage(MessageTypeConflicts, ConflictsData{Conflicts: h.server.source.PendingConflicts()})
	if err != nil {
		h.logger.Warn("failed to build conflicts message", "error", err)
		return
	}
	msg.Timestamp = ev.Time
	h.server.Broadcast(msg)
}
