package network

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"gomint/auth"
)

// WebSocketHandler upgrades HTTP requests and authenticates them into
// Connections handed to onConnection.
type WebSocketHandler struct {
	options      HandshakeOptions
	limiter      *ipLimiter
	upgrader     websocket.Upgrader
	onConnection func(*Connection)
}

// NewWebSocketHandler builds a handler. An empty allowedOrigins list or one
// containing "*" accepts every origin.
func NewWebSocketHandler(options HandshakeOptions, allowedOrigins []string, onConnection func(*Connection)) (*WebSocketHandler, error) {
	opts := options.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}

	h := &WebSocketHandler{
		options:      opts,
		limiter:      newIPLimiter(opts.ConnectionRateLimitPerIP, opts.ConnectionRateLimitWindow),
		onConnection: onConnection,
	}
	h.upgrader = websocket.Upgrader{
		HandshakeTimeout: opts.ConnectionTimeout,
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
		CheckOrigin:      originChecker(allowedOrigins),
	}
	return h, nil
}

func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	remote := r.RemoteAddr
	if !h.limiter.Allow(remote, time.Now()) {
		if h.options.OnInboundConnectionRateLimit != nil {
			h.options.OnInboundConnectionRateLimit(remote)
		}
		http.Error(w, "too many connections", http.StatusTooManyRequests)
		return
	}

	preset := credentialsFromRequest(r)

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		h.options.Logger.Debug("websocket upgrade failed", zap.String("remote", remote), zap.Error(err))
		return
	}

	connection, err := accept(NewWebSocketTransport(ws, remote, h.options.MaxFrameSize), h.options, preset)
	if err != nil {
		_ = ws.Close()
		h.options.Logger.Debug("websocket authentication failed", zap.String("remote", remote), zap.Error(err))
		return
	}

	if h.onConnection != nil {
		h.onConnection(connection)
	}
}

// credentialsFromRequest reads credentials presented on the upgrade request.
// It returns nil when the client will authenticate in-band.
func credentialsFromRequest(r *http.Request) *auth.Credentials {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if token, ok := strings.CutPrefix(header, "Bearer "); ok && strings.TrimSpace(token) != "" {
		return &auth.Credentials{Token: strings.TrimSpace(token)}
	}

	query := r.URL.Query()
	if token := strings.TrimSpace(query.Get("token")); token != "" {
		return &auth.Credentials{Token: token}
	}
	if wallet := strings.TrimSpace(query.Get("walletAddress")); wallet != "" {
		return &auth.Credentials{WalletAddress: wallet}
	}
	return nil
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		origin = strings.TrimSpace(origin)
		if origin == "*" {
			return func(*http.Request) bool { return true }
		}
		if origin != "" {
			set[strings.ToLower(origin)] = struct{}{}
		}
	}
	if len(set) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[strings.ToLower(origin)]
		return ok
	}
}
