// Package dispatch implements the Dispatch Server (C12): a single
// listening socket serving both an HTTP/1.1 subset and a plain
// line-oriented "OP JSON" protocol, bearer-authenticated, routed to the
// rest of the components. Grounded on the teacher's pkg/webui/server.go
// (explicit net.Listener + struct-held mutable server state), reworked
// around spec's protocol-sniffing single port instead of the teacher's
// dedicated HTTP+WebSocket server.
package dispatch

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/brindlewood/taskloom/pkg/engine"
	"github.com/brindlewood/taskloom/pkg/logging"
	"github.com/brindlewood/taskloom/pkg/roots"
)

// Request is the decoded operation envelope, shared by both protocols.
type Request struct {
	Operation string          `json:"operation"`
	Payload   json.RawMessage `json:"payload"`
}

// Response is the JSON object every operation returns.
type Response map[string]any

func ok(fields map[string]any) Response {
	r := Response{"status": "ok"}
	for k, v := range fields {
		r[k] = v
	}
	return r
}

func errResp(tag, message string) Response {
	return Response{"status": "error", "error": tag, "message": message}
}

// Server owns the listener and routes every accepted connection.
type Server struct {
	Addr      string
	Token     string
	Engine    *engine.Engine
	Executor  *engine.Executor
	RootsSet  *roots.Set
	Log       *logging.Logger

	listener net.Listener
	quit     chan struct{}
}

// New builds a Server bound to host:port.
func New(host string, port int, token string, eng *engine.Engine, exec *engine.Executor, rs *roots.Set, log *logging.Logger) *Server {
	return &Server{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Token:    token,
		Engine:   eng,
		Executor: exec,
		RootsSet: rs,
		Log:      log,
		quit:     make(chan struct{}),
	}
}

// ListenAndServe accepts connections until the listener is closed or
// Quit is invoked, spawning one handler goroutine per connection.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return err
	}
	s.listener = ln
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return nil
			default:
				return err
			}
		}
		go s.handle(conn)
	}
}

// Quit initiates graceful shutdown: stops the executor from accepting
// new work, waits up to 30s, then closes the listener.
func (s *Server) Quit() {
	close(s.quit)
	s.Executor.Shutdown(30 * time.Second)
	if s.listener != nil {
		s.listener.Close()
	}
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(30 * time.Second))

	reader := bufio.NewReader(conn)
	firstLine, err := reader.ReadString('\n')
	if err != nil {
		return
	}

	if isHTTPRequestLine(firstLine) {
		s.handleHTTP(conn, reader, firstLine)
		return
	}
	s.handleLine(conn, firstLine)
}

func isHTTPRequestLine(line string) bool {
	trimmed := strings.TrimRight(line, "\r\n")
	return strings.HasSuffix(trimmed, "HTTP/1.1") || strings.HasSuffix(trimmed, "HTTP/1.0")
}

func (s *Server) handleLine(conn net.Conn, firstLine string) {
	line := strings.TrimRight(firstLine, "\r\n")
	op, payload, found := strings.Cut(line, " ")
	if !found {
		op, payload = line, "{}"
	}
	resp := s.dispatch(context.Background(), op, []byte(payload))
	data, _ := json.Marshal(resp)
	conn.Write(append(data, '\n'))
}

func (s *Server) handleHTTP(conn net.Conn, reader *bufio.Reader, firstLine string) {
	s.serveHTTPRaw(conn, reader, firstLine)
}

// serveHTTPRaw implements the HTTP subset directly (spec §4.12/§6):
// it does not need full net/http routing, only one POST endpoint plus
// CORS preflight.
func (s *Server) serveHTTPRaw(conn net.Conn, reader *bufio.Reader, requestLine string) {
	headers := map[string]string{}
	method := strings.Fields(requestLine)[0]
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		k, v, ok := strings.Cut(line, ":")
		if ok {
			headers[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
		}
	}

	corsHeaders := "Access-Control-Allow-Origin: *\r\n" +
		"Access-Control-Allow-Methods: POST, OPTIONS\r\n" +
		"Access-Control-Allow-Headers: Authorization, Content-Type\r\n"

	if method == "OPTIONS" {
		fmt.Fprintf(conn, "HTTP/1.1 204 No Content\r\n%sContent-Length: 0\r\n\r\n", corsHeaders)
		return
	}

	auth := headers["authorization"]
	if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != s.Token {
		writeHTTPJSON(conn, corsHeaders, 401, errResp("Unauthorized", "missing or invalid bearer token"))
		return
	}

	body := make([]byte, 0)
	if n := headers["content-length"]; n != "" {
		var length int
		fmt.Sscanf(n, "%d", &length)
		buf := make([]byte, length)
		read := 0
		for read < length {
			k, err := reader.Read(buf[read:])
			if err != nil {
				break
			}
			read += k
		}
		body = buf[:read]
	}

	var envelope Request
	if err := json.Unmarshal(body, &envelope); err != nil {
		writeHTTPJSON(conn, corsHeaders, 400, errResp("ParseError", "malformed JSON body"))
		return
	}

	resp := s.dispatch(context.Background(), envelope.Operation, envelope.Payload)
	writeHTTPJSON(conn, corsHeaders, 200, resp)
}

func writeHTTPJSON(conn net.Conn, corsHeaders string, status int, resp Response) {
	data, _ := json.Marshal(resp)
	statusText := "200 OK"
	if status == 401 {
		statusText = "401 Unauthorized"
	} else if status == 400 {
		statusText = "400 Bad Request"
	} else if status == 204 {
		statusText = "204 No Content"
	}
	fmt.Fprintf(conn, "HTTP/1.1 %s\r\nContent-Type: application/json\r\n%sContent-Length: %d\r\n\r\n%s",
		statusText, corsHeaders, len(data), data)
}
