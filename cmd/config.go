// Package cmd defines core data structures for recombine project configuration.
package cmd

// RepoType represents the integration model of an upstream repository
type RepoType string

const (
	// RepoTypeGerrit indicates an upstream tracked by a review system; commits carry Change-Id trailers
	RepoTypeGerrit RepoType = "gerrit"
	// RepoTypeGit indicates a plain upstream repository; commit hashes are identities
	RepoTypeGit RepoType = "git"
	// RepoTypeGitHub indicates a plain upstream hosted on GitHub; hashes are identities, PRs enrich metadata
	RepoTypeGitHub RepoType = "github"
	// RepoTypeUnknown indicates an unrecognized repository type
	RepoTypeUnknown RepoType = "unknown"
)

// ParseRepoType converts a string to RepoType
func ParseRepoType(s string) RepoType {
	switch s {
	case "gerrit":
		return RepoTypeGerrit
	case "git":
		return RepoTypeGit
	case "github":
		return RepoTypeGitHub
	default:
		return RepoTypeUnknown
	}
}

// WatchMethod selects the replication strategy used for a project
type WatchMethod string

const (
	// WatchChangeByChange creates one recombination review per upstream commit
	WatchChangeByChange WatchMethod = "change-by-change"
	// WatchLockAndBackports keeps a single dependency chain of backports on top of a lock point
	WatchLockAndBackports WatchMethod = "lock-and-backports"
)

// ParseWatchMethod converts a string to WatchMethod, defaulting to change-by-change
func ParseWatchMethod(s string) WatchMethod {
	switch s {
	case "lock-and-backports":
		return WatchLockAndBackports
	default:
		return WatchChangeByChange
	}
}

// Config represents the structure of projects.yaml
type Config struct {
	BaseDir  string             `yaml:"base-dir,omitempty"`
	Projects map[string]Project `yaml:"projects"`
}

// Project holds the original and replica definitions of one tracked project
type Project struct {
	Original Original `yaml:"original"`
	Replica  Replica  `yaml:"replica"`
}

// Original describes the upstream repository and the branches being watched
type Original struct {
	Type          string          `yaml:"type"`
	Location      string          `yaml:"location"`
	Name          string          `yaml:"name"`
	WatchMethod   string          `yaml:"watch-method,omitempty"`
	WatchBranches []BranchMapping `yaml:"watch-branches"`
}

// Replica describes the downstream review system project
type Replica struct {
	Location string `yaml:"location"`
	Name     string `yaml:"name"`
	Mirror   string `yaml:"mirror,omitempty"` // Optional remote holding service branches
}

// BranchMapping maps one original branch to its replica, patches and target branches
type BranchMapping struct {
	Name          string `yaml:"name"`
	ReplicaBranch string `yaml:"replica-branch,omitempty"`
	PatchesBranch string `yaml:"patches-branch,omitempty"`
	TargetBranch  string `yaml:"target-branch,omitempty"`
	Lock          string `yaml:"lock,omitempty"`     // Explicit start revision
	BaseTag       string `yaml:"base-tag,omitempty"` // Start tag, advanced as changes merge
	WedgePorts    int    `yaml:"wedge-ports,omitempty"`
}

// Replica returns the replica branch, defaulting to the original name
func (b BranchMapping) Replica() string {
	if b.ReplicaBranch != "" {
		return b.ReplicaBranch
	}
	return b.Name
}

// Patches returns the patches branch, defaulting to the replica branch
func (b BranchMapping) Patches() string {
	if b.PatchesBranch != "" {
		return b.PatchesBranch
	}
	return b.Replica()
}

// Target returns the target branch, defaulting to the replica branch
func (b BranchMapping) Target() string {
	if b.TargetBranch != "" {
		return b.TargetBranch
	}
	return b.Replica()
}
