package pickup_api

import (
	"net/http"
	"time"

	"github.com/BearBump/PickupBox/internal/feed"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = 30 * time.Second
	maxMessageSize = 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// pushMessage is one frame sent to a websocket subscriber.
type pushMessage struct {
	Kind feed.Kind `json:"kind"`
	Data any       `json:"data"`
}

// subscribe streams the request state and live positions until the client
// goes away. The first frame is the current state.
func (a *PickupAPI) subscribe(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	id := chi.URLParam(r, "id")

	sub, req, err := a.lc.Subscribe(r.Context(), actor, id)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	defer sub.Close()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("request_id", id).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	log.Info().Str("request_id", id).Str("actor", actor.ID).Msg("websocket subscribed")

	closed := make(chan struct{})
	go readPump(conn, closed)

	send := func(m pushMessage) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(m); err != nil {
			log.Debug().Err(err).Str("request_id", id).Msg("websocket write failed")
			return false
		}
		return true
	}

	if !send(pushMessage{Kind: feed.KindRequest, Data: a.enrich.Enrich(r.Context(), req)}) {
		return
	}
	if pos, err := a.tracking.Position(r.Context(), id); err == nil {
		if !send(pushMessage{Kind: feed.KindPosition, Data: pos}) {
			return
		}
	}

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-closed:
			return
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			var m pushMessage
			switch ev.Kind {
			case feed.KindRequest:
				m = pushMessage{Kind: ev.Kind, Data: a.enrich.Enrich(r.Context(), ev.Request)}
			case feed.KindPosition:
				m = pushMessage{Kind: ev.Kind, Data: ev.Position}
			default:
				continue
			}
			if !send(m) {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains client frames so pongs and close frames are processed.
func readPump(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
