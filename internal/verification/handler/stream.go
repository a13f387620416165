package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	officemodels "civic/internal/offices/models"
	"civic/internal/verification/flow"
	"civic/internal/verification/service"
	id "civic/pkg/domain"
	"civic/pkg/platform/httputil"
	"civic/pkg/requestcontext"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = (streamPongWait * 9) / 10
	maxClientMessage = 512
)

// Server frame types.
const (
	frameState       = "state"
	frameCountdown   = "countdown"
	frameOffices     = "offices"
	frameSearchError = "search_error"
)

// Client frame types.
const (
	clientSearch  = "search"
	clientRefresh = "refresh"
)

type streamMessage struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// clientMessage carries a keystroke ("search") or asks for the flow state
// again after a mutation ("refresh").
type clientMessage struct {
	Type  string `json:"type"`
	Query string `json:"query,omitempty"`
}

type searchEvent struct {
	Query   string                           `json:"query"`
	Offices []*officemodels.GovernmentOffice `json:"offices"`
}

// handleStream upgrades to a websocket that carries the official's flow:
// the snapshot, a resend countdown while a code is outstanding, and
// debounced office search for the queries the client types. ?q= seeds the
// first search. The session is torn down when either side goes away.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	officialID, ok := h.official(w, r)
	if !ok {
		return
	}
	snap, err := h.service.State(r.Context(), officialID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered the client.
		h.logger.WarnContext(r.Context(), "flow stream upgrade failed",
			"request_id", requestcontext.RequestID(r.Context()),
			"error", err,
		)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	session := flow.NewSession(ctx, h.search, flow.WithTick(h.tick), flow.WithSearchDelay(h.delay))
	refresh := make(chan struct{}, 1)
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		defer cancel()
		h.readStream(ctx, conn, session, refresh)
	}()
	defer func() {
		_ = conn.Close()
		<-readDone
		_ = session.Close()
	}()

	if q := strings.TrimSpace(r.URL.Query().Get("q")); q != "" {
		session.Search(q)
	}
	h.writeStream(ctx, conn, session, officialID, snap, refresh)
}

// readStream is the only reader of conn. It returns when the client closes
// or stops answering pings.
func (h *Handler) readStream(ctx context.Context, conn *websocket.Conn, session *flow.Session, refresh chan<- struct{}) {
	conn.SetReadLimit(maxClientMessage)
	_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.DebugContext(ctx, "flow stream read failed", "error", err)
			}
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case clientSearch:
			if q := strings.TrimSpace(msg.Query); q != "" {
				session.Search(q)
			}
		case clientRefresh:
			select {
			case refresh <- struct{}{}:
			default:
			}
		}
	}
}

// writeStream is the only writer of conn.
func (h *Handler) writeStream(ctx context.Context, conn *websocket.Conn, session *flow.Session, officialID id.OfficialID, snap *service.Snapshot, refresh <-chan struct{}) {
	ping := time.NewTicker(streamPingPeriod)
	defer ping.Stop()

	send := func(typ string, data any) error {
		_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
		return conn.WriteJSON(streamMessage{Type: typ, Data: data})
	}
	sendState := func(snap *service.Snapshot) error {
		if snap.ResendAvailableAt != nil {
			session.StartCountdown(*snap.ResendAvailableAt)
		}
		return send(frameState, snap)
	}

	err := sendState(snap)
	ticks, results := session.Ticks(), session.SearchResults()
	for err == nil {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(streamWriteWait))
			return
		case <-refresh:
			var next *service.Snapshot
			if next, err = h.service.State(ctx, officialID); err == nil {
				err = sendState(next)
			}
		case t := <-ticks:
			err = send(frameCountdown, t)
		case res := <-results:
			if res.Err != nil {
				err = send(frameSearchError, searchEvent{Query: res.Query})
				break
			}
			offices := res.Offices
			if offices == nil {
				offices = []*officemodels.GovernmentOffice{}
			}
			err = send(frameOffices, searchEvent{Query: res.Query, Offices: offices})
		case <-ping.C:
			err = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait))
		}
	}
	h.logger.DebugContext(ctx, "flow stream closed",
		"request_id", requestcontext.RequestID(ctx),
		"error", err,
	)
}
