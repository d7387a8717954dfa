// Package proto defines the JSON frames that gateway clients exchange with
// netduct over a WebSocket connection, and the encoding rules for their
// binary payloads.
//
// All frames are JSON objects with a "type" field. Requests also carry a
// numeric "id" which correlates them with their response frame. The
// tcp_data and tcp_close frames may also be sent unsolicited, driven by
// remote peers rather than client requests.
package proto

// Frame type identifiers, on the wire in the "type" field.
const (
	TypeFetch    = "fetch"
	TypeTCPOpen  = "tcp_open"
	TypeTCPWrite = "tcp_write"
	TypeTCPClose = "tcp_close"
	TypeTCPData  = "tcp_data"
)

// FetchRequest asks the gateway to execute a single HTTP request on the
// client's behalf. The method defaults to GET, and the optional body is
// interpreted according to [DecodeBody].
type FetchRequest struct {
	Type         string            `json:"type"`
	ID           uint64            `json:"id"`
	URL          string            `json:"url"`
	Method       string            `json:"method,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"`
	Body         *string           `json:"body,omitempty"`
	BodyEncoding string            `json:"bodyEncoding,omitempty"`
}

// FetchResponse reports the result of a [FetchRequest]. On any failure the
// status is 0 and the error field describes the problem, except body-read
// failures, which preserve the status and headers of the response.
type FetchResponse struct {
	Type         string            `json:"type"`
	ID           uint64            `json:"id"`
	Status       int               `json:"status"`
	Headers      map[string]string `json:"headers"`
	Body         *string           `json:"body,omitempty"`
	BodyEncoding *string           `json:"bodyEncoding,omitempty"`
	Error        *string           `json:"error"`
}

// TCPOpenRequest asks the gateway to open a TCP connection, optionally
// wrapped in TLS. The TLS server name defaults to the host, and certificate
// verification can be disabled explicitly with the insecure flag.
type TCPOpenRequest struct {
	Type       string `json:"type"`
	ID         uint64 `json:"id"`
	Host       string `json:"host"`
	Port       int    `json:"port"`
	TLS        bool   `json:"tls,omitempty"`
	ServerName string `json:"serverName,omitempty"`
	Insecure   bool   `json:"insecure,omitempty"`
}

// TCPOpenResponse reports the result of a [TCPOpenRequest]. The stream ID
// is set only on success, and identifies the stream in all subsequent
// frames until a terminal [TCPCloseMessage].
type TCPOpenResponse struct {
	Type     string  `json:"type"`
	ID       uint64  `json:"id"`
	StreamID *uint64 `json:"streamId"`
	OK       bool    `json:"ok"`
	Error    *string `json:"error"`
}

// TCPWriteRequest asks the gateway to write bytes to an open stream.
// The payload is interpreted according to [DecodeBody].
type TCPWriteRequest struct {
	Type         string  `json:"type"`
	ID           uint64  `json:"id"`
	StreamID     uint64  `json:"streamId"`
	Data         *string `json:"data,omitempty"`
	DataEncoding string  `json:"dataEncoding,omitempty"`
}

// TCPWriteResponse reports the result of a [TCPWriteRequest].
type TCPWriteResponse struct {
	Type  string  `json:"type"`
	ID    uint64  `json:"id"`
	OK    bool    `json:"ok"`
	Error *string `json:"error"`
}

// TCPCloseRequest asks the gateway to close the outbound half of an open
// stream. The inbound half keeps relaying data until the peer hangs up.
type TCPCloseRequest struct {
	Type     string `json:"type"`
	ID       uint64 `json:"id"`
	StreamID uint64 `json:"streamId"`
}

// TCPDataMessage is an unsolicited frame relaying bytes received from a
// stream's remote peer. The payload is always base64-encoded.
type TCPDataMessage struct {
	Type         string `json:"type"`
	StreamID     uint64 `json:"streamId"`
	Data         string `json:"data"`
	DataEncoding string `json:"dataEncoding"`
}

// TCPCloseMessage announces that a stream is gone. It is sent in response
// to a [TCPCloseRequest], and unsolicited when the remote peer hangs up or
// a read fails (in which case the error field is set).
type TCPCloseMessage struct {
	Type     string  `json:"type"`
	StreamID uint64  `json:"streamId"`
	Error    *string `json:"error"`
}
