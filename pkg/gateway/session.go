package gateway

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/tzrikka/netduct/pkg/metrics"
	"github.com/tzrikka/netduct/pkg/proto"
)

// session is the per-connection state of one WebSocket client: its stream
// table, its outbound frame queue, and the HTTP client used for fetches.
// It lives from the handshake until the WebSocket closes or fails.
type session struct {
	conn       *websocket.Conn
	logger     zerolog.Logger
	out        *outbound
	streams    *streamTable
	httpClient *http.Client
}

func newSession(conn *websocket.Conn, client *http.Client, l zerolog.Logger) *session {
	return &session{
		conn:       conn,
		logger:     l,
		out:        newOutbound(l),
		streams:    newStreamTable(),
		httpClient: client,
	}
}

// run processes inbound frames until the client disconnects or the
// WebSocket fails, then tears down all streams opened through this
// connection.
func (s *session) run(ctx context.Context) {
	s.logger.Info().Msg("WebSocket session opened")
	go s.out.run(s.conn)

	for {
		mt, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn().Err(err).Msg("WebSocket receive error")
			}
			break
		}

		switch mt {
		case websocket.TextMessage:
		case websocket.BinaryMessage:
			// Tolerated: the payload is coerced to valid UTF-8
			// and handled as if it had been a text frame.
			data = []byte(strings.ToValidUTF8(string(data), "�"))
		default:
			continue
		}

		s.dispatch(ctx, data)
	}

	s.teardown()
}

// dispatch decodes one inbound frame and routes it by type. Malformed JSON,
// unknown types, and malformed payloads for known types are logged and
// dropped without a response; the session continues.
func (s *session) dispatch(ctx context.Context, data []byte) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		s.logger.Warn().Err(err).Msg("dropping frame with malformed JSON")
		return
	}
	s.logger.Debug().Str("type", probe.Type).Msg("routing inbound frame")

	switch probe.Type {
	case proto.TypeFetch:
		req := proto.FetchRequest{}
		if s.decode(data, &req) {
			s.handleFetch(ctx, req)
		}
	case proto.TypeTCPOpen:
		req := proto.TCPOpenRequest{}
		if s.decode(data, &req) {
			s.handleTCPOpen(ctx, req)
		}
	case proto.TypeTCPWrite:
		req := proto.TCPWriteRequest{}
		if s.decode(data, &req) {
			s.handleTCPWrite(req)
		}
	case proto.TypeTCPClose:
		req := proto.TCPCloseRequest{}
		if s.decode(data, &req) {
			s.handleTCPClose(req)
		}
	default:
		s.logger.Warn().Str("type", probe.Type).Msg("dropping frame with missing or unknown type")
	}
}

func (s *session) decode(data []byte, req any) bool {
	if err := json.Unmarshal(data, req); err != nil {
		s.logger.Warn().Err(err).Msg("dropping frame with malformed payload")
		return false
	}
	return true
}

// handleTCPOpen connects to the requested host and port, optionally wraps
// the connection in TLS, registers it in the stream table, and starts its
// reader goroutine.
func (s *session) handleTCPOpen(ctx context.Context, req proto.TCPOpenRequest) {
	t := time.Now().UTC()
	addr := net.JoinHostPort(req.Host, strconv.Itoa(req.Port))

	conn, err := new(net.Dialer).DialContext(ctx, "tcp", addr)
	if err != nil {
		metrics.CountStreamOpen(t, addr, req.TLS, err)
		s.out.send(tcpOpenFailure(req.ID, "connect error: "+err.Error()))
		return
	}

	// The ID is consumed as soon as the TCP connect succeeds, even if TLS
	// setup fails below. IDs are unique and monotonic, never dense.
	id := s.streams.allocateID()

	sc, errMsg := s.wrapTLS(ctx, conn.(*net.TCPConn), req)
	if errMsg != "" {
		_ = conn.Close()
		metrics.CountStreamOpen(t, addr, req.TLS, errors.New(errMsg))
		s.out.send(tcpOpenFailure(req.ID, errMsg))
		return
	}

	s.streams.insert(id, sc)
	go s.readStream(id, sc)

	metrics.CountStreamOpen(t, addr, req.TLS, nil)
	s.logger.Debug().Uint64("stream_id", id).Str("addr", addr).Bool("tls", req.TLS).Msg("stream opened")
	s.out.send(proto.TCPOpenResponse{Type: proto.TypeTCPOpen, ID: req.ID, StreamID: &id, OK: true})
}

// wrapTLS upgrades a fresh TCP connection to TLS if the open request asked
// for it. Failures are reported as client-facing error strings.
func (s *session) wrapTLS(ctx context.Context, conn *net.TCPConn, req proto.TCPOpenRequest) (streamConn, string) {
	if !req.TLS {
		return conn, ""
	}

	serverName := req.ServerName
	if serverName == "" {
		serverName = req.Host
	}
	if err := checkServerName(serverName); err != nil {
		return nil, "bad server name: " + err.Error()
	}

	tconn := tls.Client(conn, clientTLSConfig(serverName, req.Insecure))
	if err := tconn.HandshakeContext(ctx); err != nil {
		return nil, "tls handshake error: " + err.Error()
	}

	return tconn, ""
}

// handleTCPWrite decodes the payload and writes it to the stream's
// outbound half, reporting "unknown stream" if the stream is not (or no
// longer) in the table.
func (s *session) handleTCPWrite(req proto.TCPWriteRequest) {
	data, err := proto.DecodeBody(req.Data, req.DataEncoding)
	if err != nil {
		s.out.send(tcpWriteFailure(req.ID, err.Error()))
		return
	}

	if err := s.streams.write(req.StreamID, data); err != nil {
		msg := "write error: " + err.Error()
		if errors.Is(err, errUnknownStream) {
			msg = errUnknownStream.Error()
		}
		s.out.send(tcpWriteFailure(req.ID, msg))
		return
	}

	s.out.send(proto.TCPWriteResponse{Type: proto.TypeTCPWrite, ID: req.ID, OK: true})
}

// handleTCPClose removes the stream's writer and half-closes the
// connection. The stream's reader usually observes EOF shortly after, and
// then emits its own terminal tcp_close frame - clients must treat these
// frames as idempotent.
func (s *session) handleTCPClose(req proto.TCPCloseRequest) {
	s.streams.closeWrite(req.StreamID)
	s.out.send(proto.TCPCloseMessage{Type: proto.TypeTCPClose, StreamID: req.StreamID})
}

// teardown closes every stream still alive on this session. Blocked
// readers fail their next read and exit; their final frames are dropped
// silently by the stopped outbound queue.
func (s *session) teardown() {
	s.out.stop()
	s.streams.closeAll()
	s.logger.Info().Msg("WebSocket session closed")
}

func tcpOpenFailure(id uint64, msg string) proto.TCPOpenResponse {
	return proto.TCPOpenResponse{Type: proto.TypeTCPOpen, ID: id, Error: &msg}
}

func tcpWriteFailure(id uint64, msg string) proto.TCPWriteResponse {
	return proto.TCPWriteResponse{Type: proto.TypeTCPWrite, ID: id, Error: &msg}
}
