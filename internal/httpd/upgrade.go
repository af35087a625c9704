package httpd

import (
	"net/http"
	"strings"
	"time"

	"github.com/bamlan/hive/internal/h2"
	"github.com/bamlan/hive/internal/ws"
)

const http2UpgradeResponse = "HTTP/1.1 101 Switching Protocols\r\n" +
	"Connection: Upgrade\r\n" +
	"Upgrade: h2c\r\n\r\n"

// handleUpgrade services an Upgrade request header: websocket and h2/h2c
// are supported, anything else is an invalid protocol.
func (h *Handler) handleUpgrade(proto string) bool {
	switch {
	case strings.EqualFold(proto, "websocket"):
		return h.upgradeWebSocket()
	case len(proto) >= 2 && strings.EqualFold(proto[:2], "h2"):
		return h.upgradeHTTP2()
	default:
		h.svc.logger().Printf("[%s:%d] unsupported Upgrade: %s", h.ip, h.port, proto)
		h.err = ErrInvalidProtocol
		return false
	}
}

func (h *Handler) upgradeWebSocket() bool {
	resp := h.resp
	resp.Status = http.StatusSwitchingProtocols
	resp.Headers.Set("Connection", "Upgrade")
	resp.Headers.Set("Upgrade", "websocket")
	if key := h.req.Headers.Get("Sec-WebSocket-Key"); key != "" {
		resp.Headers.Set("Sec-WebSocket-Accept", ws.AcceptKey(key))
	}
	if protos := h.req.Headers.Get("Sec-WebSocket-Protocol"); protos != "" {
		first := strings.TrimSpace(strings.SplitN(protos, ",", 2)[0])
		if first != "" {
			h.svc.logger().Printf("Sec-WebSocket-Protocol: %s => selecting %s", protos, first)
			resp.Headers.Set("Sec-WebSocket-Protocol", first)
		}
	}
	h.sendResponseLocked()

	if !h.switchWebSocket() {
		h.svc.logger().Printf("[%s:%d] unsupported websocket", h.ip, h.port)
		h.err = ErrInvalidProtocol
		return false
	}
	if h.svc != nil && h.svc.WS != nil && h.svc.WS.OnOpen != nil {
		h.svc.WS.OnOpen(h.wsChannel, h.req)
	}
	return true
}

func (h *Handler) switchWebSocket() bool {
	if h.t == nil {
		return false
	}
	h.protocol = ProtocolWebSocket
	h.wsChannel = ws.NewChannel(h.t)
	h.wsParser = ws.NewParser(h.onWebSocketMessage)

	// Heartbeat replaces the generic keep-alive timeout: ping on each tick,
	// close when the previous ping went unanswered.
	if h.svc != nil && h.svc.WS != nil && h.svc.WS.PingInterval > 0 {
		interval := h.svc.WS.PingInterval
		if interval < time.Second {
			interval = time.Second
		}
		ch := h.wsChannel
		h.wsChannel.SetHeartbeat(interval, func() {
			h.mu.Lock()
			if h.lastPong.Before(h.lastPing) {
				h.svc.logger().Printf("[%s:%d] websocket no pong", h.ip, h.port)
				h.mu.Unlock()
				_ = ch.Close()
				return
			}
			h.lastPing = time.Now()
			h.mu.Unlock()
			_ = ch.SendPing()
		})
	}
	return true
}

// onWebSocketMessage runs under the handler lock, inside FeedRecvData.
func (h *Handler) onWebSocketMessage(opcode ws.Opcode, payload []byte) {
	ch := h.wsChannel
	ch.Opcode = opcode
	switch opcode {
	case ws.OpcodeClose:
		_ = ch.Close()
		h.state = stateWantClose
	case ws.OpcodePing:
		_ = ch.SendPong(payload)
	case ws.OpcodePong:
		h.lastPong = time.Now()
	case ws.OpcodeText, ws.OpcodeBinary:
		if h.svc != nil && h.svc.WS != nil && h.svc.WS.OnMessage != nil {
			h.svc.WS.OnMessage(ch, opcode, payload)
		}
	}
}

func (h *Handler) upgradeHTTP2() bool {
	if h.t != nil {
		_ = h.t.Write([]byte(http2UpgradeResponse), nil)
	}
	h.protocol = ProtocolHTTP2
	h.parser = h2.NewCodec()
	h.req.Reset()
	h.resp.Reset()
	h.req.Major, h.req.Minor = 2, 0
	h.resp.Major, h.resp.Minor = 2, 0
	h.parser.Init(h.req, h.onParserEvent)
	return true
}
