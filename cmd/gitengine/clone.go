package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rybkr/gitengine/internal/progress"
	"github.com/rybkr/gitengine/internal/repotransport"
)

// runClone implements "gitengine clone <source> <dest>": a local
// directory-to-directory copy of a repository, the same transport the
// server uses to register repos, exposed here as a standalone command with
// a terminal progress bar.
func runClone(args []string) int {
	if len(args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: gitengine clone <source> <dest>")
		return 2
	}
	sourcePath, destPath := args[0], args[1]

	if _, err := repotransport.ValidateSource(sourcePath); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		return 128
	}

	bar := progress.NewBar("cloning", 100)
	err := repotransport.Clone(context.Background(), sourcePath, destPath, func(p repotransport.Progress) {
		bar.SetCurrent(p.Percent)
	})
	bar.Stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		return 128
	}

	fmt.Printf("cloned %s into %s\n", sourcePath, destPath)
	return 0
}
