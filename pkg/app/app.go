// Package app wires the components (C1-C12) into a runnable instance
// from a loaded Config, the single composition root the CLI commands
// call into. Grounded on the teacher's cmd/root.go pattern of building
// shared collaborators (logger, agent) once in init/Execute before
// dispatching to a subcommand.
package app

import (
	"os"
	"time"

	ignore "github.com/sabhiram/go-gitignore"

	"github.com/brindlewood/taskloom/pkg/config"
	"github.com/brindlewood/taskloom/pkg/dispatch"
	"github.com/brindlewood/taskloom/pkg/engine"
	"github.com/brindlewood/taskloom/pkg/filestore"
	"github.com/brindlewood/taskloom/pkg/include"
	"github.com/brindlewood/taskloom/pkg/llmclient"
	"github.com/brindlewood/taskloom/pkg/logging"
	"github.com/brindlewood/taskloom/pkg/roots"
	"github.com/brindlewood/taskloom/pkg/taskerr"
	"github.com/brindlewood/taskloom/pkg/watcher"
)

// App holds every long-lived collaborator built from one Config.
type App struct {
	Config   *config.Config
	Log      *logging.Logger
	Roots    *roots.Set
	Store    *filestore.Store
	Includer *include.Resolver
	Watcher  *watcher.Watcher
	Engine   *engine.Engine
	Executor *engine.Executor
}

// Build constructs every component from cfg, choosing the LLM adapter
// named by cfg.LLMProvider.
func Build(cfg *config.Config) (*App, error) {
	log := logging.New(logging.DefaultOptions(cfg.LogPath))

	rs, err := roots.NewSet(cfg.Roots)
	if err != nil {
		return nil, err
	}
	store := filestore.New()

	var gi *ignore.GitIgnore
	if patterns := buildIgnorePatterns(cfg.ExcludeDirs); len(patterns) > 0 {
		gi = ignore.CompileIgnoreLines(patterns...)
	}
	includer := &include.Resolver{
		Roots:       rs,
		Store:       store,
		Exclusions:  cfg.ExcludeDirs,
		Ignore:      gi,
		TokenBudget: cfg.TokenBudget,
	}

	w := watcher.NewFunc(rs.Roots, secondsToDuration(cfg.PollIntervalS))

	chat, err := buildChatClient(cfg)
	if err != nil {
		return nil, err
	}

	eng := engine.New(cfg, rs, store, includer, chat, log, w)
	exec := engine.NewExecutor(eng)

	return &App{
		Config:   cfg,
		Log:      log,
		Roots:    rs,
		Store:    store,
		Includer: includer,
		Watcher:  w,
		Engine:   eng,
		Executor: exec,
	}, nil
}

func secondsToDuration(s int) time.Duration {
	if s <= 0 {
		return 0
	}
	return time.Duration(s) * time.Second
}

func buildIgnorePatterns(dirs []string) []string {
	out := make([]string, 0, len(dirs))
	for _, d := range dirs {
		out = append(out, d+"/")
	}
	return out
}

func buildChatClient(cfg *config.Config) (llmclient.ChatClient, error) {
	switch cfg.LLMProvider {
	case "ollama":
		return llmclient.NewOllamaClient(cfg.LLMBaseURL)
	case "openai", "":
		return llmclient.NewOpenAIClient(os.Getenv("OPENAI_API_KEY"), cfg.LLMBaseURL), nil
	default:
		return nil, taskerr.New(taskerr.Validation, "unknown llm_provider: "+cfg.LLMProvider)
	}
}

// NewDispatchServer builds the dispatch server bound to this App.
func (a *App) NewDispatchServer() *dispatch.Server {
	return dispatch.New(a.Config.Host, a.Config.Port, a.Config.Token, a.Engine, a.Executor, a.Roots, a.Log)
}
