package dispatch

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brindlewood/taskloom/pkg/config"
	"github.com/brindlewood/taskloom/pkg/engine"
	"github.com/brindlewood/taskloom/pkg/filestore"
	"github.com/brindlewood/taskloom/pkg/include"
	"github.com/brindlewood/taskloom/pkg/llmclient"
	"github.com/brindlewood/taskloom/pkg/logging"
	"github.com/brindlewood/taskloom/pkg/roots"
)

type fakeChat struct{ reply string }

func (f *fakeChat) Chat(ctx context.Context, messages []llmclient.Message, params llmclient.Params, onChunk llmclient.ChunkFunc) (string, error) {
	return f.reply, nil
}

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	root := t.TempDir()

	cfg := config.Default()
	cfg.Roots = []string{root}
	cfg.Token = "secret-token"
	cfg.BackupRoot = filepath.Join(root, ".taskloom", "backups")

	rs, err := roots.NewSet(cfg.Roots)
	require.NoError(t, err)
	store := filestore.New()
	includer := &include.Resolver{Roots: rs, Store: store, Exclusions: cfg.ExcludeDirs, TokenBudget: cfg.TokenBudget}
	eng := engine.New(cfg, rs, store, includer, &fakeChat{reply: "# file: out.txt\nhi\n"}, logging.Nop(), nil)
	exec := engine.NewExecutor(eng)

	s := New("127.0.0.1", 0, cfg.Token, eng, exec, rs, logging.Nop())
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s.listener = ln
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go s.handle(conn)
		}
	}()
	return s, ln.Addr().String()
}

func dialLine(t *testing.T, addr, line string) map[string]any {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	require.NoError(t, err)
	defer conn.Close()

	fmt.Fprintf(conn, "%s\n", line)
	resp, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(resp), &out))
	return out
}

func TestLineProtocolReadFile(t *testing.T) {
	s, addr := newTestServer(t)
	defer s.listener.Close()

	root := s.Engine.Roots.Roots()[0]
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello"), 0o644))

	resp := dialLine(t, addr, `READ_FILE {"path":"a.txt"}`)
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, "hello", resp["content"])
}

func TestLineProtocolUnknownOperation(t *testing.T) {
	s, addr := newTestServer(t)
	defer s.listener.Close()

	resp := dialLine(t, addr, `BOGUS {}`)
	assert.Equal(t, "error", resp["status"])
	assert.Equal(t, "unknown", resp["error"])
}

func TestHTTPRequiresBearerToken(t *testing.T) {
	s, addr := newTestServer(t)
	defer s.listener.Close()

	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	require.NoError(t, err)
	defer conn.Close()

	body := `{"operation":"READ_FILE","payload":{"path":"a.txt"}}`
	fmt.Fprintf(conn, "POST / HTTP/1.1\r\nContent-Length: %d\r\n\r\n%s", len(body), body)

	reader := bufio.NewReader(conn)
	statusLine, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, statusLine, "401")
}

func TestHTTPWithBearerTokenSucceeds(t *testing.T) {
	s, addr := newTestServer(t)
	defer s.listener.Close()

	root := s.Engine.Roots.Roots()[0]
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello"), 0o644))

	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	require.NoError(t, err)
	defer conn.Close()

	body := `{"operation":"READ_FILE","payload":{"path":"a.txt"}}`
	fmt.Fprintf(conn, "POST / HTTP/1.1\r\nAuthorization: Bearer secret-token\r\nContent-Length: %d\r\n\r\n%s", len(body), body)

	reader := bufio.NewReader(conn)
	statusLine, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, statusLine, "200")
}

func TestHTTPOptionsPreflightReturnsCORSHeaders(t *testing.T) {
	s, addr := newTestServer(t)
	defer s.listener.Close()

	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	require.NoError(t, err)
	defer conn.Close()

	fmt.Fprintf(conn, "OPTIONS / HTTP/1.1\r\n\r\n")

	reader := bufio.NewReader(conn)
	var lines []string
	for {
		line, err := reader.ReadString('\n')
		if err != nil || line == "\r\n" {
			break
		}
		lines = append(lines, line)
	}
	joined := ""
	for _, l := range lines {
		joined += l
	}
	assert.Contains(t, joined, "204")
	assert.Contains(t, joined, "Access-Control-Allow-Origin: *")
}

func TestTodoOperationRunsNextTask(t *testing.T) {
	s, addr := newTestServer(t)
	defer s.listener.Close()

	root := s.Engine.Roots.Roots()[0]
	todoPath := filepath.Join(root, "todo.md")
	require.NoError(t, os.WriteFile(todoPath, []byte("- [ ][ ][ ] demo task\n  out: out.txt\n"), 0o644))

	resp := dialLine(t, addr, fmt.Sprintf(`TODO {"todo_file":%q}`, todoPath))
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, "demo task", resp["task"])

	data, err := os.ReadFile(filepath.Join(root, "out.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hi\n", string(data))
}
