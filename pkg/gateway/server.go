// Package gateway implements a local WebSocket-to-network gateway: it
// accepts WebSocket clients on a loopback port and executes HTTP requests
// and raw TCP/TLS streams on their behalf, multiplexed over each
// connection as JSON frames (see [pkg/proto]).
//
// [pkg/proto]: https://pkg.go.dev/github.com/tzrikka/netduct/pkg/proto
package gateway

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lithammer/shortuuid/v4"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
)

const handshakeTimeout = 3 * time.Second

// Server accepts WebSocket clients on the loopback interface and runs a
// gateway session for each of them.
type Server struct {
	wsPort     int
	upgrader   websocket.Upgrader
	httpClient *http.Client
}

func NewServer(cmd *cli.Command) *Server {
	return &Server{
		wsPort: cmd.Int("ws-port"),
		upgrader: websocket.Upgrader{
			HandshakeTimeout: handshakeTimeout,
			// The expected clients are browser pages and sandboxes which
			// cannot reach the network themselves, so cross-origin
			// upgrades to this loopback service are allowed.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		httpClient: &http.Client{},
	}
}

// Run starts the WebSocket listener on the loopback interface, and blocks
// until the given context is canceled or the listener fails. Sessions that
// are already open keep running until their clients disconnect.
func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              net.JoinHostPort("127.0.0.1", strconv.Itoa(s.wsPort)),
		Handler:           s,
		ReadHeaderTimeout: handshakeTimeout,
	}

	go func() {
		<-ctx.Done()
		_ = server.Shutdown(context.Background())
	}()

	log.Info().Msgf("WebSocket gateway listening on ws://%s", server.Addr)
	err := server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// ServeHTTP upgrades an incoming request to a WebSocket connection, and
// runs a gateway session on it until the client disconnects.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	l := log.With().Str("conn_id", shortuuid.New()).Str("remote_addr", r.RemoteAddr).Logger()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	newSession(conn, s.httpClient, l).run(r.Context())
}
