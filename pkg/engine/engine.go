// Package engine implements the Task Engine (C11): the orchestrator
// that picks the next runnable task, drives the LLM, applies its edits,
// and rewrites the todo file with outcome metrics. Grounded on the
// teacher's top-level agent run loop (pkg/agent), reworked around the
// explicit component seams (C1-C10) named by the rest of this module
// instead of the teacher's single monolithic Process function.
package engine

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/brindlewood/taskloom/pkg/config"
	"github.com/brindlewood/taskloom/pkg/diffbackup"
	"github.com/brindlewood/taskloom/pkg/filestore"
	"github.com/brindlewood/taskloom/pkg/include"
	"github.com/brindlewood/taskloom/pkg/llmclient"
	"github.com/brindlewood/taskloom/pkg/llmoutput"
	"github.com/brindlewood/taskloom/pkg/logging"
	"github.com/brindlewood/taskloom/pkg/merge"
	"github.com/brindlewood/taskloom/pkg/prompt"
	"github.com/brindlewood/taskloom/pkg/roots"
	"github.com/brindlewood/taskloom/pkg/taskerr"
	"github.com/brindlewood/taskloom/pkg/todo"
	"github.com/brindlewood/taskloom/pkg/watcher"
)

// WriteIgnorer is satisfied by *watcher.Watcher; a narrow seam so the
// engine doesn't need the whole watcher package wired for tests.
type WriteIgnorer interface {
	IgnoreNextWrite(path string)
}

// Engine is the stateless operator over the config, store, roots, and
// chat client it was constructed with; all mutable state is the
// caller's (the todo files on disk, the Executor's queue).
type Engine struct {
	Config   *config.Config
	Roots    *roots.Set
	Store    *filestore.Store
	Includer *include.Resolver
	Chat     llmclient.ChatClient
	Log      *logging.Logger
	Ignorer  WriteIgnorer
}

// New builds an Engine from its collaborators.
func New(cfg *config.Config, rs *roots.Set, store *filestore.Store, includer *include.Resolver, chat llmclient.ChatClient, log *logging.Logger, ignorer WriteIgnorer) *Engine {
	return &Engine{Config: cfg, Roots: rs, Store: store, Includer: includer, Chat: chat, Log: log, Ignorer: ignorer}
}

// RunResult summarizes one run_next invocation.
type RunResult struct {
	NoPending  bool
	TodoFile   string
	TaskDesc   string
	Outcome    todo.Outcome
	Error      error
	EditedPath []string
}

// RunNext implements spec §4.11. When todoFilePath is empty, every
// todo.md under the roots is considered and the earliest pending task
// across them (files in discovery order, earliest line within a file)
// is selected.
func (e *Engine) RunNext(ctx context.Context, todoFilePath string) (RunResult, error) {
	candidates, err := e.candidateFiles(todoFilePath)
	if err != nil {
		return RunResult{}, err
	}

	for _, path := range candidates {
		raw, err := e.Store.Read(path)
		if err != nil {
			continue
		}
		f, err := todo.Parse(path, raw, filepath.Dir(path))
		if err != nil {
			continue
		}
		task := f.FindEnabled()
		if task == nil {
			continue
		}
		return e.runTask(ctx, f, task)
	}

	return RunResult{NoPending: true}, nil
}

// Peek reports the next runnable task without invoking the LLM or
// writing anything, for the CLI's --dry-run flag.
func (e *Engine) Peek(todoFilePath string) (RunResult, error) {
	candidates, err := e.candidateFiles(todoFilePath)
	if err != nil {
		return RunResult{}, err
	}
	for _, path := range candidates {
		raw, err := e.Store.Read(path)
		if err != nil {
			continue
		}
		f, err := todo.Parse(path, raw, filepath.Dir(path))
		if err != nil {
			continue
		}
		task := f.FindEnabled()
		if task == nil {
			continue
		}
		return RunResult{TodoFile: f.Path, TaskDesc: task.CleanDesc}, nil
	}
	return RunResult{NoPending: true}, nil
}

func (e *Engine) candidateFiles(todoFilePath string) ([]string, error) {
	if todoFilePath != "" {
		return []string{todoFilePath}, nil
	}
	excl := make(map[string]bool, len(e.Config.ExcludeDirs))
	for _, d := range e.Config.ExcludeDirs {
		excl[d] = true
	}
	w := watcher.New(e.Roots.Roots(), 0)
	return w.Discover(excl), nil
}

func (e *Engine) runTask(ctx context.Context, f *todo.File, task *todo.Task) (RunResult, error) {
	runID := uuid.NewString()
	log := e.Log.WithCorrelationID(runID)
	log.Info("starting task %q in %s", task.CleanDesc, f.Path)

	result := RunResult{TodoFile: f.Path, TaskDesc: task.CleanDesc}

	blob, knowledgeTokens, includeTokens, err := e.resolveKnowledge(task)
	if err != nil {
		return e.failTask(f, task, result, err)
	}

	focusPath, focusContents := e.readFocus(task)

	sections := e.buildPrompt(task, blob, focusPath, focusContents)
	result.Error = nil

	todo.Begin(f, task, time.Now(), knowledgeTokens, includeTokens, sections.TotalTokens(), e.Config.LLMModel)
	if err := e.writeTodoFile(f); err != nil {
		return e.failTask(f, task, result, err)
	}

	baseDir := task.BaseDir
	if baseDir == "" {
		baseDir = filepath.Dir(f.Path)
	}

	edited, err := e.executeWithRetry(ctx, sections.Text(), baseDir)
	if err != nil {
		return e.failTask(f, task, result, err)
	}

	result.EditedPath = edited
	result.Outcome = todo.OutcomeDone
	todo.Finish(f, task, time.Now(), todo.OutcomeDone, sections.TotalTokens(), "")
	if err := e.writeTodoFile(f); err != nil {
		result.Error = err
	}
	log.Info("task done, edited %d file(s)", len(edited))
	return result, nil
}

func (e *Engine) failTask(f *todo.File, task *todo.Task, result RunResult, cause error) (RunResult, error) {
	e.Log.Error("task %q failed: %v", task.CleanDesc, cause)
	result.Outcome = todo.OutcomeFatal
	result.Error = cause
	todo.Finish(f, task, time.Now(), todo.OutcomeFatal, 0, shortMessage(cause))
	_ = e.writeTodoFile(f)
	return result, nil
}

func shortMessage(err error) string {
	kind := taskerr.KindOf(err)
	if kind == "" {
		return err.Error()
	}
	return string(kind)
}

func (e *Engine) writeTodoFile(f *todo.File) error {
	if err := e.Store.Write(f.Path, f.Render()); err != nil {
		return err
	}
	if e.Ignorer != nil {
		e.Ignorer.IgnoreNextWrite(f.Path)
	}
	return nil
}

func (e *Engine) resolveKnowledge(task *todo.Task) (string, int, int, error) {
	if task.IncludeSpec == "" {
		return "", 0, 0, nil
	}
	spec, err := include.ParseSpec(task.IncludeSpec)
	if err != nil {
		return "", 0, 0, err
	}
	paths, err := e.Includer.Expand(spec, task.BaseDir)
	if err != nil {
		return "", 0, 0, err
	}
	blob, err := e.Includer.Build(paths)
	if err != nil {
		return "", 0, 0, err
	}
	return blob.Text, tokenEstimate(task.Knowledge), blob.TokenEstimate, nil
}

func tokenEstimate(s string) int {
	if s == "" {
		return 0
	}
	return (len(s) + 3) / 4
}

func (e *Engine) readFocus(task *todo.Task) (string, string) {
	if task.FocusSpec == "" {
		return "", ""
	}
	resolved, err := e.Roots.Resolve(task.FocusSpec, task.BaseDir)
	if err != nil || resolved.NewFile {
		return task.FocusSpec, ""
	}
	content, err := e.Store.Read(resolved.Resolved)
	if err != nil {
		return task.FocusSpec, ""
	}
	return task.FocusSpec, content
}

func (e *Engine) buildPrompt(task *todo.Task, blob, focusPath, focusContents string) prompt.Sections {
	return prompt.Build(task.CleanDesc, task.Knowledge, focusPath, focusContents, blob)
}

// applyEdit writes one resolved edit record, following spec §4.11 step
// 6: new files get no backup of a prior version, partial records go
// through Smart Merge, everything else is a full overwrite. A new file
// is written first and then gets an empty diff sidecar; an existing
// file gets its backup copy and diff sidecar before it is overwritten.
func (e *Engine) applyEdit(run *diffbackup.Run, rec llmoutput.Record) (string, error) {
	if rec.NewFile {
		if err := e.Store.Write(rec.ResolvedPath, rec.Content); err != nil {
			return "", err
		}
		rel := e.relToRoot(rec.ResolvedPath)
		// A new file has no prior version to diff against (spec §8
		// scenario 1: "a backup directory appears with an empty diff
		// file"), so the sidecar compares the content to itself.
		if err := run.Backup(rel, rec.Content, rec.Content, false); err != nil {
			return "", err
		}
		return rec.ResolvedPath, nil
	}

	original, err := e.Store.Read(rec.ResolvedPath)
	if err != nil {
		return "", err
	}

	finalContent := rec.Content
	if rec.Partial {
		res, err := merge.Merge(original, rec.Content, e.Config.SmartMerge.Threshold, e.Config.SmartMerge.ContextLines, merge.ShouldCheckBalance(filepath.Ext(rec.ResolvedPath)))
		if err != nil {
			return "", err
		}
		finalContent = res.Content
	}

	rel := e.relToRoot(rec.ResolvedPath)
	if err := run.Backup(rel, original, finalContent, true); err != nil {
		return "", err
	}
	if err := e.Store.Write(rec.ResolvedPath, finalContent); err != nil {
		return "", err
	}
	return rec.ResolvedPath, nil
}

func (e *Engine) relToRoot(path string) string {
	for _, root := range e.Roots.Roots() {
		if rel, err := filepath.Rel(root, path); err == nil && !strings.HasPrefix(rel, "..") {
			return rel
		}
	}
	return filepath.Base(path)
}

// executeWithRetry wraps spec §4.11 steps 4-6 (call LLM, parse its
// output, resolve paths, apply edits including Smart Merge) in the
// retry policy: up to RetryAttempts attempts, RetryDelayS between them,
// retrying only taskerr.Retryable errors. A failed Smart Merge or a
// transient read/write in applyEdit re-enters the whole sequence with a
// fresh LLM call, not just the call itself.
func (e *Engine) executeWithRetry(ctx context.Context, promptText, baseDir string) ([]string, error) {
	attempts := e.Config.RetryAttempts
	if attempts <= 0 {
		attempts = 3
	}
	delay := time.Duration(e.Config.RetryDelayS) * time.Second

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		edited, err := e.runOnce(ctx, promptText, baseDir)
		if err == nil {
			return edited, nil
		}
		lastErr = err
		if !taskerr.Retryable(err, attempt == 0) {
			return nil, err
		}
		if attempt == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, lastErr
}

// runOnce performs one attempt of steps 4-6: call the LLM, split and
// resolve its output, then apply every edit record.
func (e *Engine) runOnce(ctx context.Context, promptText, baseDir string) ([]string, error) {
	output, err := e.callLLM(ctx, promptText)
	if err != nil {
		return nil, err
	}

	records := llmoutput.Split(output)
	if llmoutput.EmptyOutput(records) {
		return nil, taskerr.New(taskerr.EmptyOutput, "LLM produced no file sections")
	}

	resolved, err := llmoutput.Resolve(records, e.Roots, baseDir)
	if err != nil {
		return nil, err
	}

	run := diffbackup.NewRun(e.Config.BackupRoot, time.Now())
	var edited []string
	for _, rec := range resolved {
		path, err := e.applyEdit(run, rec)
		if err != nil {
			return nil, err
		}
		edited = append(edited, path)
	}
	return edited, nil
}

// callLLM issues one chat request bounded by TaskTimeoutS (spec §5, §6;
// default 120s when unset), so a hung provider can't block a task
// forever.
func (e *Engine) callLLM(ctx context.Context, promptText string) (string, error) {
	timeout := time.Duration(e.Config.TaskTimeoutS) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return e.Chat.Chat(callCtx, []llmclient.Message{{Role: "user", Content: promptText}}, llmclient.Params{Model: e.Config.LLMModel}, nil)
}
