// The main package for the govnews executable.
package main

import (
	"github.com/govnewsbr/pipeline/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
