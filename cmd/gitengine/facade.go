package main

import (
	"fmt"
	"io"
	"os"

	"github.com/rybkr/gitengine/internal/facade"
	"github.com/rybkr/gitengine/internal/gitcore"
)

// runFacade dispatches the "facade" command's subcommands onto internal/facade,
// the file-level layer the server and any scripting caller also use.
func runFacade(repo *gitcore.Repository, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: gitengine facade <read|write|delete|rename|ls|log|branches|merge|grep|reset|restore> ...")
		return 2
	}

	f, err := facade.New(repo)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		return 128
	}

	sub, rest := args[0], args[1:]
	switch sub {
	case "read":
		return runFacadeRead(f, rest)
	case "write":
		return runFacadeWrite(f, rest)
	case "delete":
		return runFacadeDelete(f, rest)
	case "rename":
		return runFacadeRename(f, rest)
	case "ls":
		return runFacadeLs(f, rest)
	case "log":
		return runFacadeLog(f, rest)
	case "branches":
		return runFacadeBranches(f)
	case "merge":
		return runFacadeMerge(f, rest)
	case "grep":
		return runFacadeGrep(f, rest)
	case "reset":
		return runFacadeReset(f, rest)
	case "restore":
		return runFacadeRestore(f, rest)
	default:
		fmt.Fprintf(os.Stderr, "fatal: unknown facade subcommand %q\n", sub)
		return 2
	}
}

func branchFlag(args []string) (branch string, rest []string) {
	branch = "main"
	for i := 0; i < len(args); i++ {
		if args[i] == "--branch" && i+1 < len(args) {
			branch = args[i+1]
			rest = append(rest, args[:i]...)
			rest = append(rest, args[i+2:]...)
			return branch, rest
		}
	}
	return branch, args
}

func runFacadeRead(f *facade.Facade, args []string) int {
	branch, args := branchFlag(args)
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: gitengine facade read [--branch NAME] <path>")
		return 2
	}
	res := f.Read(args[0], branch, "")
	if !res.Success {
		fmt.Fprintf(os.Stderr, "fatal: %s\n", res.Message)
		return 1
	}
	os.Stdout.Write(res.Content)
	return 0
}

func runFacadeWrite(f *facade.Facade, args []string) int {
	branch, args := branchFlag(args)
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: gitengine facade write [--branch NAME] <path> [content read from stdin if omitted]")
		return 2
	}
	var content []byte
	if len(args) >= 2 {
		content = []byte(args[1])
	} else {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			fmt.Fprintf(os.Stderr, "fatal: reading stdin: %v\n", err)
			return 1
		}
		content = data
	}
	res := f.Write(args[0], content, branch, "")
	printEnvelope(res.Envelope)
	if !res.Success {
		return 1
	}
	return 0
}

func runFacadeDelete(f *facade.Facade, args []string) int {
	branch, args := branchFlag(args)
	killEmptyBranch := false
	filtered := args[:0]
	for _, a := range args {
		if a == "--kill-empty-branch" {
			killEmptyBranch = true
			continue
		}
		filtered = append(filtered, a)
	}
	args = filtered
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: gitengine facade delete [--branch NAME] [--kill-empty-branch] <path>")
		return 2
	}
	res := f.Delete(args[0], branch, "", killEmptyBranch)
	printEnvelope(res.Envelope)
	if !res.Success {
		return 1
	}
	return 0
}

func runFacadeRename(f *facade.Facade, args []string) int {
	branch, args := branchFlag(args)
	if len(args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: gitengine facade rename [--branch NAME] <old> <new>")
		return 2
	}
	res := f.Rename(args[0], args[1], branch, "")
	printEnvelope(res.Envelope)
	if !res.Success {
		return 1
	}
	return 0
}

func runFacadeLs(f *facade.Facade, args []string) int {
	branch, args := branchFlag(args)
	dir := ""
	if len(args) == 1 {
		dir = args[0]
	}
	res := f.Ls(dir, branch)
	if !res.Success {
		fmt.Fprintf(os.Stderr, "fatal: %s\n", res.Message)
		return 1
	}
	for _, e := range res.Entries {
		marker := "-"
		if e.IsDir {
			marker = "d"
		}
		fmt.Printf("%s %s\n", marker, e.Name)
	}
	return 0
}

func runFacadeLog(f *facade.Facade, args []string) int {
	branch, _ := branchFlag(args)
	res := f.Logs(branch, 0)
	if !res.Success {
		fmt.Fprintf(os.Stderr, "fatal: %s\n", res.Message)
		return 1
	}
	for _, e := range res.Logs {
		fmt.Printf("%s %s\n", e.ID, e.Message)
	}
	return 0
}

func runFacadeBranches(f *facade.Facade) int {
	for _, b := range f.Branches().Branches {
		fmt.Println(b)
	}
	return 0
}

func runFacadeMerge(f *facade.Facade, args []string) int {
	branch, args := branchFlag(args)
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: gitengine facade merge [--branch NAME] <other-branch>")
		return 2
	}
	res := f.Merge(branch, args[0], "")
	printEnvelope(res.Envelope)
	if !res.Success {
		return 1
	}
	return 0
}

func runFacadeGrep(f *facade.Facade, args []string) int {
	branch, args := branchFlag(args)
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: gitengine facade grep [--branch NAME] <pattern>")
		return 2
	}
	res := f.Grep(args[0], branch)
	if !res.Success {
		fmt.Fprintf(os.Stderr, "fatal: %s\n", res.Message)
		return 1
	}
	for _, m := range res.Matches {
		fmt.Printf("%s:%d:%s\n", m.Path, m.Line, m.Text)
	}
	return 0
}

func runFacadeReset(f *facade.Facade, args []string) int {
	branch, args := branchFlag(args)
	hard := false
	filtered := args[:0]
	for _, a := range args {
		if a == "--hard" {
			hard = true
			continue
		}
		filtered = append(filtered, a)
	}
	args = filtered
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: gitengine facade reset [--branch NAME] [--hard] <commit>")
		return 2
	}
	res := f.Reset(branch, gitcore.Hash(args[0]), hard)
	printEnvelope(res)
	if !res.Success {
		return 1
	}
	return 0
}

func runFacadeRestore(f *facade.Facade, args []string) int {
	branch, args := branchFlag(args)
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: gitengine facade restore [--branch NAME] <path>")
		return 2
	}
	res := f.Restore(args[0], branch)
	printEnvelope(res)
	if !res.Success {
		return 1
	}
	return 0
}

func printEnvelope(e facade.Envelope) {
	if e.Success {
		fmt.Printf("%s (branch %s", e.Message, e.Branch)
		if e.Commit != "" {
			fmt.Printf(", commit %s", e.Commit)
		}
		fmt.Println(")")
		return
	}
	fmt.Fprintf(os.Stderr, "fatal: %s\n", e.Message)
}
