/*
Package main provides the entry point for the taskloom CLI.

taskloom watches Markdown todo files, drives an LLM to produce source
edits for pending tasks, and applies them with backup and diff
discipline.
*/
package main

import (
	"github.com/brindlewood/taskloom/cmd"
)

func main() {
	cmd.Execute()
}
