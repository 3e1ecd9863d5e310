package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/brindlewood/taskloom/pkg/app"
	"github.com/brindlewood/taskloom/pkg/config"
	"github.com/brindlewood/taskloom/pkg/watcher"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the watcher and dispatch server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		a, err := app.Build(cfg)
		if err != nil {
			return err
		}
		defer a.Log.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		excl := make(map[string]bool, len(cfg.ExcludeDirs))
		for _, d := range cfg.ExcludeDirs {
			excl[d] = true
		}
		go a.Watcher.Run(ctx, excl, func(ev watcher.Event) {
			a.Log.Info("todo changed: %s", ev.Path)
			go a.Executor.Submit(context.Background(), ev.Path)
		})

		server := a.NewDispatchServer()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-sigCh
			server.Quit()
		}()

		fmt.Printf("taskloom listening on %s:%d\n", cfg.Host, cfg.Port)
		return server.ListenAndServe()
	},
}
