package dispatch

import (
	"context"
	"encoding/json"
	"os"
	"strings"

	"github.com/brindlewood/taskloom/pkg/include"
	"github.com/brindlewood/taskloom/pkg/taskerr"
)

// dispatch routes one decoded operation to its handler. The line
// protocol carries no bearer header (spec §6's wire format gives it
// none); it is trusted on the strength of the listening socket being
// local-only, the same trust boundary the HTTP path's bearer check
// guards at the network edge.
func (s *Server) dispatch(ctx context.Context, op string, payload json.RawMessage) Response {
	switch op {
	case "TODO":
		return s.opTodo(ctx, payload)
	case "LIST_FILES":
		return s.opListFiles(payload)
	case "READ_FILE":
		return s.opReadFile(payload)
	case "UPDATE_FILE":
		return s.opUpdateFile(payload)
	case "CREATE_FILE":
		return s.opCreateFile(payload)
	case "APPEND_FILE":
		return s.opAppendFile(payload)
	case "DELETE_FILE":
		return s.opDeleteFile(payload)
	case "RENAME", "MOVE":
		return s.opRename(payload)
	case "COPY_FILE":
		return s.opCopyFile(payload)
	case "CREATE_DIR":
		return s.opCreateDir(payload)
	case "DELETE_DIR":
		return s.opDeleteDir(payload)
	case "CHECKSUM":
		return s.opChecksum(payload)
	case "SEARCH":
		return s.opSearch(payload)
	case "INCLUDE":
		return s.opInclude(payload)
	case "SET_ROOTS":
		return s.opSetRoots(payload)
	case "QUIT", "EXIT":
		go s.Quit()
		return ok(nil)
	default:
		return errResp("unknown", "unrecognized operation: "+op)
	}
}

func decode[T any](payload json.RawMessage, out *T) error {
	if len(payload) == 0 {
		return nil
	}
	return json.Unmarshal(payload, out)
}

func (s *Server) resolvePath(raw, baseDir string) (string, error) {
	r, err := s.RootsSet.Resolve(raw, baseDir)
	if err != nil {
		return "", err
	}
	return r.Resolved, nil
}

func fromErr(err error) Response {
	return errResp(string(taskerr.KindOf(err)), err.Error())
}

func (s *Server) opTodo(ctx context.Context, payload json.RawMessage) Response {
	var req struct {
		TodoFile string `json:"todo_file"`
	}
	if err := decode(payload, &req); err != nil {
		return errResp("ParseError", err.Error())
	}
	res, err := s.Executor.Submit(ctx, req.TodoFile)
	if err != nil {
		return fromErr(err)
	}
	if res.NoPending {
		return ok(Response{"pending": false})
	}
	return ok(Response{
		"todo_file": res.TodoFile,
		"task":      res.TaskDesc,
		"outcome":   res.Outcome,
		"edited":    res.EditedPath,
	})
}

func (s *Server) opListFiles(payload json.RawMessage) Response {
	var req struct {
		Root      string `json:"root"`
		Recursive bool   `json:"recursive"`
	}
	if err := decode(payload, &req); err != nil {
		return errResp("ParseError", err.Error())
	}
	root := req.Root
	if root == "" && len(s.RootsSet.Roots()) > 0 {
		root = s.RootsSet.Roots()[0]
	}
	excl := map[string]bool{}
	for _, d := range []string{".git", "node_modules", ".taskloom"} {
		excl[d] = true
	}
	paths, err := s.RootsSet.Enumerate(root, req.Recursive, excl)
	if err != nil {
		return fromErr(err)
	}
	return ok(Response{"files": paths})
}

func (s *Server) opReadFile(payload json.RawMessage) Response {
	var req struct {
		Path string `json:"path"`
	}
	if err := decode(payload, &req); err != nil {
		return errResp("ParseError", err.Error())
	}
	path, err := s.resolvePath(req.Path, "")
	if err != nil {
		return fromErr(err)
	}
	content, err := s.Engine.Store.Read(path)
	if err != nil {
		return fromErr(err)
	}
	return ok(Response{"content": content})
}

func (s *Server) opUpdateFile(payload json.RawMessage) Response {
	var req struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := decode(payload, &req); err != nil {
		return errResp("ParseError", err.Error())
	}
	path, err := s.resolvePath(req.Path, "")
	if err != nil {
		return fromErr(err)
	}
	if err := s.Engine.Store.Write(path, req.Content); err != nil {
		return fromErr(err)
	}
	return ok(nil)
}

func (s *Server) opCreateFile(payload json.RawMessage) Response {
	return s.opUpdateFile(payload)
}

func (s *Server) opAppendFile(payload json.RawMessage) Response {
	var req struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := decode(payload, &req); err != nil {
		return errResp("ParseError", err.Error())
	}
	path, err := s.resolvePath(req.Path, "")
	if err != nil {
		return fromErr(err)
	}
	if err := s.Engine.Store.Append(path, req.Content); err != nil {
		return fromErr(err)
	}
	return ok(nil)
}

func (s *Server) opDeleteFile(payload json.RawMessage) Response {
	var req struct {
		Path string `json:"path"`
	}
	if err := decode(payload, &req); err != nil {
		return errResp("ParseError", err.Error())
	}
	path, err := s.resolvePath(req.Path, "")
	if err != nil {
		return fromErr(err)
	}
	if err := s.Engine.Store.Delete(path); err != nil {
		return fromErr(err)
	}
	return ok(nil)
}

func (s *Server) opRename(payload json.RawMessage) Response {
	var req struct {
		From string `json:"from"`
		To   string `json:"to"`
	}
	if err := decode(payload, &req); err != nil {
		return errResp("ParseError", err.Error())
	}
	from, err := s.resolvePath(req.From, "")
	if err != nil {
		return fromErr(err)
	}
	to, err := s.resolvePath(req.To, "")
	if err != nil {
		return fromErr(err)
	}
	if err := s.Engine.Store.Rename(from, to); err != nil {
		return fromErr(err)
	}
	return ok(nil)
}

func (s *Server) opCopyFile(payload json.RawMessage) Response {
	var req struct {
		From string `json:"from"`
		To   string `json:"to"`
	}
	if err := decode(payload, &req); err != nil {
		return errResp("ParseError", err.Error())
	}
	from, err := s.resolvePath(req.From, "")
	if err != nil {
		return fromErr(err)
	}
	to, err := s.resolvePath(req.To, "")
	if err != nil {
		return fromErr(err)
	}
	content, err := s.Engine.Store.Read(from)
	if err != nil {
		return fromErr(err)
	}
	if err := s.Engine.Store.Write(to, content); err != nil {
		return fromErr(err)
	}
	return ok(nil)
}

func (s *Server) opCreateDir(payload json.RawMessage) Response {
	var req struct {
		Path string `json:"path"`
	}
	if err := decode(payload, &req); err != nil {
		return errResp("ParseError", err.Error())
	}
	path, err := s.resolvePath(req.Path, "")
	if err != nil && path == "" {
		return fromErr(err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return errResp(string(taskerr.IO), err.Error())
	}
	return ok(nil)
}

func (s *Server) opDeleteDir(payload json.RawMessage) Response {
	var req struct {
		Path string `json:"path"`
	}
	if err := decode(payload, &req); err != nil {
		return errResp("ParseError", err.Error())
	}
	path, err := s.resolvePath(req.Path, "")
	if err != nil {
		return fromErr(err)
	}
	if !s.RootsSet.WithinRoots(path) {
		return errResp(string(taskerr.OutOfRoots), "path outside configured roots")
	}
	if err := os.RemoveAll(path); err != nil {
		return errResp(string(taskerr.IO), err.Error())
	}
	return ok(nil)
}

func (s *Server) opChecksum(payload json.RawMessage) Response {
	var req struct {
		Path string `json:"path"`
	}
	if err := decode(payload, &req); err != nil {
		return errResp("ParseError", err.Error())
	}
	path, err := s.resolvePath(req.Path, "")
	if err != nil {
		return fromErr(err)
	}
	sum, err := s.Engine.Store.Checksum(path)
	if err != nil {
		return fromErr(err)
	}
	return ok(Response{"checksum": sum})
}

// opSearch implements the SEARCH operation (supplemented per §12 of the
// expanded spec): a pure-Go substring search over the files of one root
// (the payload's root, else the first configured root; recursive when
// asked or when no root is given), returning every matching line as a
// {path, line, text} record with a 1-based line number.
func (s *Server) opSearch(payload json.RawMessage) Response {
	var req struct {
		Query     string `json:"query"`
		Root      string `json:"root"`
		Recursive bool   `json:"recursive"`
	}
	if err := decode(payload, &req); err != nil {
		return errResp("ParseError", err.Error())
	}
	if req.Query == "" {
		return errResp("ParseError", "query is required")
	}
	root := req.Root
	if root == "" && len(s.RootsSet.Roots()) > 0 {
		root = s.RootsSet.Roots()[0]
	}
	excl := map[string]bool{".git": true, "node_modules": true, ".taskloom": true}
	recursive := req.Recursive || req.Root == ""
	paths, err := s.RootsSet.Enumerate(root, recursive, excl)
	if err != nil {
		return fromErr(err)
	}

	type hit struct {
		Path string `json:"path"`
		Line int    `json:"line"`
		Text string `json:"text"`
	}
	var hits []hit
	for _, p := range paths {
		content, err := s.Engine.Store.Read(p)
		if err != nil {
			continue
		}
		for i, line := range strings.Split(content, "\n") {
			if strings.Contains(line, req.Query) {
				hits = append(hits, hit{Path: p, Line: i + 1, Text: line})
			}
		}
	}
	return ok(Response{"matches": hits})
}

func (s *Server) opInclude(payload json.RawMessage) Response {
	var req struct {
		Spec    string `json:"spec"`
		BaseDir string `json:"base_dir"`
	}
	if err := decode(payload, &req); err != nil {
		return errResp("ParseError", err.Error())
	}
	spec, err := include.ParseSpec(req.Spec)
	if err != nil {
		return fromErr(err)
	}
	paths, err := s.Engine.Includer.Expand(spec, req.BaseDir)
	if err != nil {
		return fromErr(err)
	}
	blob, err := s.Engine.Includer.Build(paths)
	if err != nil {
		return fromErr(err)
	}
	return ok(Response{
		"content":        blob.Text,
		"files":          blob.Files,
		"dropped":        blob.Dropped,
		"token_estimate": blob.TokenEstimate,
		"byte_count":     blob.ByteCount,
	})
}

func (s *Server) opSetRoots(payload json.RawMessage) Response {
	var req struct {
		Roots []string `json:"roots"`
	}
	if err := decode(payload, &req); err != nil {
		return errResp("ParseError", err.Error())
	}
	if len(req.Roots) == 0 {
		return errResp("ParseError", "roots must be non-empty")
	}
	if err := s.RootsSet.Replace(req.Roots); err != nil {
		return fromErr(err)
	}
	return ok(nil)
}
