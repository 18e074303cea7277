package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/screwyforcepush/claude-comms-sub001/internal/domain/event"
	"github.com/screwyforcepush/claude-comms-sub001/internal/domain/timeline"
)

// EventLister supplies the initial backlog for firehose connections.
// Satisfied by the event service.
type EventLister interface {
	Recent(ctx context.Context, limit int) ([]event.HookEvent, error)
}

// HandleStream upgrades a firehose connection: an initial backlog of
// recent events, then every mutation as it lands.
func (h *Hub) HandleStream(events EventLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true, // CORS handled by middleware
		})
		if err != nil {
			h.logger.Error("websocket accept failed", "error", err)
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		c := newClient(uuid.NewString(), conn, h.cfg.QueueBound, cancel)

		// Snapshot the backlog and enqueue initial before joining live
		// fan-out. An event stored during the query lands in the backlog
		// only; registering first would deliver it twice and ahead of
		// initial.
		backlog, err := events.Recent(ctx, h.cfg.RecentLimit)
		if err != nil {
			h.logger.Error("initial backlog failed", "conn_id", c.id, "error", err)
			backlog = nil
		}
		if data, err := encode(EventInitial, backlog); err == nil {
			c.trySend(data)
		}
		h.addFirehose(c)
		h.logger.Info("firehose connected", "conn_id", c.id, "remote", r.RemoteAddr)

		go c.writePump(ctx, h.cfg.IdleTimeout/3)

		// Reads only consume control frames and detect disconnects.
		defer func() {
			h.remove(c)
			c.close(websocket.StatusNormalClosure, "")
			h.logger.Info("firehose disconnected", "conn_id", c.id)
		}()
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}
}

// HandleMultistream upgrades a scoped connection. Clients manage their
// subscription set with subscribe/unsubscribe commands; each confirmed
// subscribe also queues a progressive timeline replay.
func (h *Hub) HandleMultistream() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true, // CORS handled by middleware
		})
		if err != nil {
			h.logger.Error("websocket accept failed", "error", err)
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		c := newClient(uuid.NewString(), conn, h.cfg.QueueBound, cancel)
		h.addScoped(c)
		h.logger.Info("multistream connected", "conn_id", c.id, "remote", r.RemoteAddr)

		go c.writePump(ctx, h.cfg.IdleTimeout/3)

		defer func() {
			h.remove(c)
			c.close(websocket.StatusNormalClosure, "")
			h.logger.Info("multistream disconnected", "conn_id", c.id)
		}()
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var cmd command
			if err := json.Unmarshal(data, &cmd); err != nil {
				h.logger.Debug("bad multistream command", "conn_id", c.id, "error", err)
				continue
			}
			h.handleCommand(c, cmd)
		}
	}
}

// handleCommand applies one subscription command and acknowledges it with
// the connection's full subscription set.
func (h *Hub) handleCommand(c *client, cmd command) {
	added := h.updateSubs(c, cmd)

	current := c.subscriptions()
	sort.Strings(current)
	if data, err := encode(EventSubscriptionConfirmed, subscriptionConfirmed{SessionIDs: current}); err == nil {
		if !c.trySend(data) {
			h.evict(c)
			return
		}
	}

	if h.replayer != nil {
		for _, sessionID := range added {
			h.replayer.EnqueueReplay(c.id, sessionID, timeline.Window{})
		}
	}
}
