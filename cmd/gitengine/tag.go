package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/rybkr/gitengine/internal/gitcore"
	"github.com/rybkr/gitengine/internal/termcolor"
)

// runTag lists tags with no arguments, deletes one with "-d <name>", or
// creates a lightweight tag with "<name> [<commit>]" (defaulting to HEAD).
func runTag(repo *gitcore.Repository, args []string, _ *termcolor.Writer) int {
	switch {
	case len(args) == 0:
		return listTags(repo)
	case args[0] == "-d":
		if len(args) != 2 {
			fmt.Fprintln(os.Stderr, "usage: gitengine tag -d <name>")
			return 1
		}
		return deleteTag(repo, args[1])
	default:
		rev := "HEAD"
		if len(args) == 2 {
			rev = args[1]
		} else if len(args) != 1 {
			fmt.Fprintln(os.Stderr, "usage: gitengine tag <name> [<commit>]")
			return 1
		}
		return createTag(repo, args[0], rev)
	}
}

func listTags(repo *gitcore.Repository) int {
	names := repo.TagNames()
	sort.Strings(names)

	for _, name := range names {
		fmt.Println(name)
	}

	return 0
}

func createTag(repo *gitcore.Repository, name, rev string) int {
	target, err := resolveHash(repo, rev)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gitengine: %v\n", err)
		return 1
	}

	if err := repo.CreateTag(name, target); err != nil {
		fmt.Fprintf(os.Stderr, "gitengine: %v\n", err)
		return 1
	}

	return 0
}

func deleteTag(repo *gitcore.Repository, name string) int {
	if err := repo.DeleteTag(name); err != nil {
		fmt.Fprintf(os.Stderr, "gitengine: %v\n", err)
		return 1
	}

	fmt.Printf("Deleted tag '%s'\n", name)
	return 0
}
