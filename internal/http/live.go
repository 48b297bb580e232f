package http

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gestaozabele/manutencao/internal/directory"
	"github.com/gestaozabele/manutencao/internal/events"
	"github.com/gestaozabele/manutencao/internal/metrics"
	"github.com/gestaozabele/manutencao/internal/session"
)

const (
	liveWriteWait  = 10 * time.Second
	livePongWait   = 60 * time.Second
	livePingPeriod = (livePongWait * 9) / 10
)

type liveMessage struct {
	Type  string        `json:"type"`
	Event *events.Event `json:"event,omitempty"`
}

// Live mantém um websocket com as mudanças de chamados visíveis à sessão:
// administradores recebem tudo; os demais, o que abriram ou o que lhes foi atribuído.
func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	s, _ := session.FromContext(r.Context())
	if !s.Authorized() {
		WriteError(w, http.StatusForbidden, "FORBIDDEN", "acesso aguardando aprovação", nil)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("live: upgrade falhou")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	stream, unsubscribe := h.bus.Subscribe(ctx, liveFilter(s))
	defer unsubscribe()

	metrics.LiveSubscriberDelta(1)
	defer metrics.LiveSubscriberDelta(-1)

	logger := h.logger.With().Str("identity_id", s.IdentityID).Logger()
	logger.Debug().Msg("live: conectado")

	// Leitura só para processar pong e fechamento; mensagens do cliente são ignoradas.
	go func() {
		defer cancel()
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(livePongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(livePongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logger.Debug().Err(err).Msg("live: leitura encerrada")
				}
				return
			}
		}
	}()

	if err := h.writeLive(conn, liveMessage{Type: "connected"}); err != nil {
		return
	}

	ticker := time.NewTicker(livePingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(liveWriteWait))
			return
		case event, ok := <-stream:
			if !ok {
				return
			}
			if err := h.writeLive(conn, liveMessage{Type: "event", Event: &event}); err != nil {
				logger.Debug().Err(err).Msg("live: escrita falhou")
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(liveWriteWait)); err != nil {
				return
			}
		}
	}
}

func (h *Handler) writeLive(conn *websocket.Conn, msg liveMessage) error {
	_ = conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
	return conn.WriteJSON(msg)
}

func liveFilter(s session.Session) events.Filter {
	if s.IsAdmin() {
		return events.Filter{All: true}
	}
	filter := events.Filter{ReporterID: s.IdentityID}
	if s.HasRole(directory.RoleContractor) {
		filter.AssignedTo = s.Email
	}
	return filter
}

// checkOrigin aplica a mesma allow-list do CORS; clientes sem Origin (CLI, testes) passam.
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || h.origins.Allows(origin) {
		return true
	}
	u, err := url.Parse(origin)
	return err == nil && strings.EqualFold(u.Host, r.Host)
}
