package gateway

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestSessionFetchAfterMalformedJSON(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		_, _ = w.Write(b)
	}))
	defer backend.Close()

	conn := dialGateway(t)

	// Malformed JSON is dropped without a response, and the
	// session keeps serving subsequent requests.
	writeText(t, conn, "not-json")

	writeText(t, conn, fmt.Sprintf(
		`{"type":"fetch","id":1,"url":"%s","method":"POST","body":"aGk=","bodyEncoding":"base64"}`, backend.URL))

	frame := awaitFrameType(t, conn, "fetch")
	if frame["id"] != float64(1) {
		t.Errorf("fetch response id = %v, want 1", frame["id"])
	}
	if frame["status"] != float64(200) {
		t.Errorf("fetch response status = %v, want 200", frame["status"])
	}
	if frame["body"] != "aGk=" || frame["bodyEncoding"] != "base64" {
		t.Errorf("fetch response body = %v (%v)", frame["body"], frame["bodyEncoding"])
	}
	if frame["error"] != nil {
		t.Errorf("fetch response error = %v, want null", frame["error"])
	}
}

func TestSessionFetchTransportError(t *testing.T) {
	conn := dialGateway(t)

	writeText(t, conn, fmt.Sprintf(`{"type":"fetch","id":2,"url":"http://%s/"}`, unusedAddr(t)))

	frame := awaitFrameType(t, conn, "fetch")
	if frame["status"] != float64(0) {
		t.Errorf("fetch response status = %v, want 0", frame["status"])
	}
	msg, ok := frame["error"].(string)
	if !ok || !strings.HasPrefix(msg, "fetch error: ") {
		t.Errorf(`fetch response error = %v, want "fetch error: ..."`, frame["error"])
	}

	// The session survives the failure.
	writeText(t, conn, `{"type":"tcp_write","id":3,"streamId":999}`)
	frame = awaitFrameType(t, conn, "tcp_write")
	if frame["id"] != float64(3) {
		t.Errorf("follow-up response id = %v, want 3", frame["id"])
	}
}

func TestSessionTCPEcho(t *testing.T) {
	addr := echoServer(t)
	conn := dialGateway(t)

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatal(err)
	}
	writeText(t, conn, fmt.Sprintf(`{"type":"tcp_open","id":1,"host":"%s","port":%s}`, host, port))

	frame := awaitFrameType(t, conn, "tcp_open")
	if frame["ok"] != true {
		t.Fatalf("tcp_open response = %v", frame)
	}
	if frame["streamId"] != float64(1) {
		t.Errorf("tcp_open streamId = %v, want 1", frame["streamId"])
	}

	writeText(t, conn, `{"type":"tcp_write","id":10,"streamId":1,"data":"cGluZw==","dataEncoding":"base64"}`)

	// The write acknowledgement and the echoed data are from different
	// producers, so they may arrive in either order.
	var gotWrite, gotData map[string]any
	for gotWrite == nil || gotData == nil {
		frame := readFrame(t, conn)
		switch frame["type"] {
		case "tcp_write":
			gotWrite = frame
		case "tcp_data":
			gotData = frame
		}
	}
	if gotWrite["ok"] != true || gotWrite["id"] != float64(10) {
		t.Errorf("tcp_write response = %v", gotWrite)
	}
	if gotData["streamId"] != float64(1) || gotData["data"] != "cGluZw==" {
		t.Errorf("tcp_data frame = %v", gotData)
	}

	writeText(t, conn, `{"type":"tcp_close","id":11,"streamId":1}`)
	frame = awaitFrameType(t, conn, "tcp_close")
	if frame["streamId"] != float64(1) {
		t.Errorf("tcp_close streamId = %v, want 1", frame["streamId"])
	}

	// The stream is gone from the table.
	writeText(t, conn, `{"type":"tcp_write","id":12,"streamId":1}`)
	for {
		frame = awaitFrameType(t, conn, "tcp_write")
		if frame["id"] == float64(12) {
			break
		}
	}
	if frame["ok"] != false || frame["error"] != "unknown stream" {
		t.Errorf("tcp_write after close = %v", frame)
	}
}

func TestSessionUnknownStreamWrite(t *testing.T) {
	conn := dialGateway(t)

	writeText(t, conn, `{"type":"tcp_write","id":7,"streamId":999,"data":"cGluZw==","dataEncoding":"base64"}`)

	frame := awaitFrameType(t, conn, "tcp_write")
	if frame["ok"] != false || frame["error"] != "unknown stream" {
		t.Errorf("tcp_write response = %v", frame)
	}
}

func TestSessionTLSBadServerName(t *testing.T) {
	addr := echoServer(t)
	conn := dialGateway(t)

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatal(err)
	}
	writeText(t, conn, fmt.Sprintf(
		`{"type":"tcp_open","id":1,"host":"%s","port":%s,"tls":true,"serverName":"not a hostname!"}`, host, port))

	frame := awaitFrameType(t, conn, "tcp_open")
	if frame["ok"] != false {
		t.Fatalf("tcp_open response = %v", frame)
	}
	msg, ok := frame["error"].(string)
	if !ok || !strings.HasPrefix(msg, "bad server name: ") {
		t.Errorf(`tcp_open error = %v, want "bad server name: ..."`, frame["error"])
	}
	if frame["streamId"] != nil {
		t.Errorf("tcp_open streamId = %v, want null", frame["streamId"])
	}

	// The consumed ID never became visible, and is not writable.
	writeText(t, conn, `{"type":"tcp_write","id":2,"streamId":1}`)
	frame = awaitFrameType(t, conn, "tcp_write")
	if frame["ok"] != false || frame["error"] != "unknown stream" {
		t.Errorf("tcp_write response = %v", frame)
	}
}

func TestSessionIgnoresUnknownType(t *testing.T) {
	conn := dialGateway(t)

	writeText(t, conn, `{"type":"bogus","id":1}`)
	writeText(t, conn, `{"id":2}`)
	writeText(t, conn, `{"type":"tcp_write","id":3,"streamId":1}`)

	// Only the last frame gets a response.
	frame := readFrame(t, conn)
	if frame["type"] != "tcp_write" || frame["id"] != float64(3) {
		t.Errorf("first response = %v, want the tcp_write response", frame)
	}
}

func TestSessionBinaryFrameToleration(t *testing.T) {
	conn := dialGateway(t)

	// A binary frame with a JSON payload is handled as if it were text.
	err := conn.WriteMessage(websocket.BinaryMessage, []byte(`{"type":"tcp_write","id":5,"streamId":1}`))
	if err != nil {
		t.Fatal(err)
	}

	frame := awaitFrameType(t, conn, "tcp_write")
	if frame["id"] != float64(5) {
		t.Errorf("response id = %v, want 5", frame["id"])
	}
}

// dialGateway connects a WebSocket client to a freshly started gateway.
func dialGateway(t *testing.T) *websocket.Conn {
	t.Helper()

	s := &Server{
		upgrader:   websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		httpClient: &http.Client{},
	}
	ts := httptest.NewServer(s)
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })

	return conn
}

// echoServer starts a loopback TCP server that echoes
// everything back, and closes when its peer hangs up.
func echoServer(t *testing.T) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				_, _ = io.Copy(conn, conn)
				conn.Close()
			}()
		}
	}()

	return ln.Addr().String()
}

// unusedAddr returns a loopback address with nothing listening on it.
func unusedAddr(t *testing.T) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func writeText(t *testing.T, conn *websocket.Conn, msg string) {
	t.Helper()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		t.Fatal(err)
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, b, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}

	frame := map[string]any{}
	if err := json.Unmarshal(b, &frame); err != nil {
		t.Fatal(err)
	}
	return frame
}

// awaitFrameType reads frames until one with the wanted type arrives,
// skipping unsolicited frames of other types.
func awaitFrameType(t *testing.T, conn *websocket.Conn, typ string) map[string]any {
	t.Helper()

	for range 20 {
		frame := readFrame(t, conn)
		if frame["type"] == typ {
			return frame
		}
	}
	t.Fatalf("no %s frame arrived", typ)
	return nil
}
