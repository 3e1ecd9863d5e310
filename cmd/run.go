package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/brindlewood/taskloom/pkg/app"
	"github.com/brindlewood/taskloom/pkg/config"
)

var dryRun bool

var runCmd = &cobra.Command{
	Use:   "run [todo-file]",
	Short: "Run the next pending task once",
	Args:  cobra.MaximumNArgs(1),
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

		var todoFile string
		if len(args) == 1 {
			todoFile = args[0]
		}

		if dryRun {
			peek, err := a.Engine.Peek(todoFile)
			if err != nil {
				return err
			}
			if peek.NoPending {
				fmt.Println("dry-run: no pending task")
				return nil
			}
			fmt.Printf("dry-run: would run %q in %s; no files will be written\n", peek.TaskDesc, peek.TodoFile)
			return nil
		}

		result, err := a.Executor.Submit(context.Background(), todoFile)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "select the next pending task without calling the LLM or writing any file")
}
