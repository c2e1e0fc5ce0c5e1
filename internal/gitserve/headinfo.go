package gitserve

import (
	"sort"
	"strings"

	"github.com/rybkr/gitengine/internal/gitcore"
)

const recentTagsLimit = 5

// buildHeadInfo assembles a HeadInfo snapshot from repo for the WebSocket
// broadcast path, reusing the same accessors handleRepository exposes over
// REST so both surfaces agree on current branch/detached/counts semantics.
func buildHeadInfo(repo *gitcore.Repository) *HeadInfo {
	branchName := ""
	if ref := repo.HeadRef(); ref != "" {
		if name, ok := strings.CutPrefix(ref, "refs/heads/"); ok {
			branchName = name
		}
	}

	tags := repo.TagNames()
	sort.Strings(tags)
	recent := tags
	if len(recent) > recentTagsLimit {
		recent = recent[len(recent)-recentTagsLimit:]
	}

	return &HeadInfo{
		Hash:        string(repo.Head()),
		Ref:         repo.HeadRef(),
		BranchName:  branchName,
		IsDetached:  repo.HeadDetached(),
		CommitCount: len(repo.Commits()),
		BranchCount: len(repo.Branches()),
		TagCount:    len(tags),
		Description: repo.Description(),
		Remotes:     repo.Remotes(),
		RecentTags:  recent,
	}
}
