package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/rybkr/gitengine/internal/cli"
	"github.com/rybkr/gitengine/internal/gitcore"
	"github.com/rybkr/gitengine/internal/termcolor"
)

// Build-time variables set via -ldflags.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	gf, args := parseGlobalFlags(os.Args[1:])

	// --version is handled before app.Run because "--" prefixed args
	// would be treated as unknown commands by the dispatcher.
	for _, a := range args {
		if a == "--version" {
			printVersion()
			os.Exit(0)
		}
	}

	cw := termcolor.NewWriter(os.Stdout, gf.colorMode)

	app := cli.NewApp("gitengine", version)
	app.Stderr = os.Stderr

	// repo is declared here and assigned after dispatch determines that
	// the matched command needs it (NeedsRepo). Closures capture the
	// pointer variable, which is populated before they execute.
	var repo *gitcore.Repository

	app.Register(&cli.Command{
		Name:      "branch",
		Summary:   "List branches",
		Usage:     "gitengine branch",
		NeedsRepo: true,
		Run:       func(args []string) int { return runBranch(repo, args, cw) },
	})

	app.Register(&cli.Command{
		Name:      "log",
		Summary:   "Show commit log",
		Usage:     "gitengine log [--oneline] [-n <count>]",
		Examples:  []string{"gitengine log", "gitengine log --oneline -n5"},
		NeedsRepo: true,
		Run:       func(args []string) int { return runLog(repo, args, cw) },
	})

	app.Register(&cli.Command{
		Name:      "cat-file",
		Summary:   "Show object content, type, or size",
		Usage:     "gitengine cat-file (-t|-s|-p) <object>",
		Examples:  []string{"gitengine cat-file -p HEAD", "gitengine cat-file -t abc1234"},
		NeedsRepo: true,
		Run:       func(args []string) int { return runCatFile(repo, args) },
	})

	app.Register(&cli.Command{
		Name:      "diff",
		Summary:   "Show diff between two commits",
		Usage:     "gitengine diff [--stat] <commit1> <commit2>",
		Examples:  []string{"gitengine diff abc1234 HEAD", "gitengine diff --stat main dev"},
		NeedsRepo: true,
		Run:       func(args []string) int { return runDiff(repo, args, cw) },
	})

	app.Register(&cli.Command{
		Name:      "show",
		Summary:   "Show commit details and diff",
		Usage:     "gitengine show [--stat] [<commit>]",
		Examples:  []string{"gitengine show", "gitengine show --stat HEAD"},
		NeedsRepo: true,
		Run:       func(args []string) int { return runShow(repo, args, cw) },
	})

	app.Register(&cli.Command{
		Name:      "stash",
		Summary:   "List stash entries",
		Usage:     "gitengine stash list",
		NeedsRepo: true,
		Run:       func(args []string) int { return runStash(repo, args, cw) },
	})

	app.Register(&cli.Command{
		Name:      "status",
		Summary:   "Show working tree status",
		Usage:     "gitengine status [-s|--porcelain]",
		Examples:  []string{"gitengine status", "gitengine status --porcelain"},
		NeedsRepo: true,
		Run:       func(args []string) int { return runStatus(repo, args) },
	})

	app.Register(&cli.Command{
		Name:      "tag",
		Summary:   "List, create, or delete lightweight tags",
		Usage:     "gitengine tag [<name> [<commit>] | -d <name>]",
		NeedsRepo: true,
		Run:       func(args []string) int { return runTag(repo, args, cw) },
	})

	app.Register(&cli.Command{
		Name:     "clone",
		Summary:  "Copy a local repository into a new directory",
		Usage:    "gitengine clone <source> <dest>",
		Examples: []string{"gitengine clone ../other-repo ./mirror"},
		Run:      func(args []string) int { return runClone(args) },
	})

	app.Register(&cli.Command{
		Name:      "facade",
		Summary:   "File-level read/write/delete/rename/ls/log/merge/grep/reset/restore operations",
		Usage:     "gitengine facade <read|write|delete|rename|ls|log|branches|merge|grep|reset|restore> [--branch NAME] ...",
		Examples:  []string{"gitengine facade write README.md 'hello'", "gitengine facade ls --branch dev", "gitengine facade merge --branch main feature"},
		NeedsRepo: true,
		Run:       func(args []string) int { return runFacade(repo, args) },
	})

	app.Register(&cli.Command{
		Name:    "update",
		Summary: "Update to the latest release",
		Usage:   "gitengine update [--check]",
		Examples: []string{
			"gitengine update",
			"gitengine update --check",
		},
		Run: func(args []string) int { return runUpdate(args) },
	})

	app.Register(&cli.Command{
		Name:    "version",
		Summary: "Show version information",
		Usage:   "gitengine version",
		Run:     func([]string) int { printVersion(); return 0 },
	})

	// Determine which command will run so we can load the repo only when needed.
	if len(args) > 0 {
		cmd := app.Lookup(args[0])
		if cmd != nil && cmd.NeedsRepo {
			repoPath := os.Getenv("GIT_DIR")
			if repoPath == "" {
				repoPath = "."
			}
			var err error
			repo, err = gitcore.NewRepository(repoPath)
			if err != nil {
				fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
				os.Exit(128)
			}
		}
	}

	os.Exit(app.Run(args, cw))
}

func printVersion() {
	fmt.Printf("gitengine %s\n", version)
	fmt.Printf("  commit:     %s\n", commit)
	fmt.Printf("  built:      %s\n", buildDate)
	fmt.Printf("  go version: %s\n", runtime.Version())
	fmt.Printf("  platform:   %s/%s\n", runtime.GOOS, runtime.GOARCH)
}
