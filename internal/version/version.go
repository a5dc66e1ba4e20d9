// Package version exposes build metadata injected through -ldflags.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

// Name is the program name used in version output and the tracing resource
const Name = "timetracker-jira"

const (
	// ShortCommitHashLength is the length commits are shortened to
	ShortCommitHashLength = 7
	// UnknownValue marks build information that was not injected
	UnknownValue = "unknown"
)

// Set by linker flags
var (
	Version = "dev"
	Commit  = UnknownValue
	Date    = UnknownValue
)

// BuildInfo contains build information
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// Get returns the build information. When no commit was injected the VCS
// revision recorded by the Go toolchain is used.
func Get() *BuildInfo {
	commit := Commit
	if commit == UnknownValue || commit == "" {
		commit = vcsRevision()
	}
	return &BuildInfo{
		Version:   Version,
		Commit:    commit,
		Date:      Date,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// ShortCommit returns the abbreviated commit or an empty string
func (bi *BuildInfo) ShortCommit() string {
	if bi.Commit == UnknownValue || bi.Commit == "" {
		return ""
	}
	if len(bi.Commit) > ShortCommitHashLength {
		return bi.Commit[:ShortCommitHashLength]
	}
	return bi.Commit
}

// String renders the multi-line output of the version command
func (bi *BuildInfo) String() string {
	head := bi.Short()
	if c := bi.ShortCommit(); c != "" {
		head += fmt.Sprintf(" (%s)", c)
	}

	var details []string
	if bi.Date != UnknownValue && bi.Date != "" {
		details = append(details, "built "+strings.ReplaceAll(bi.Date, "_", " "))
	}
	details = append(details, "with "+bi.GoVersion, "for "+bi.Platform)

	return head + "\n" + strings.Join(details, " ")
}

// Short returns "<name> <version>"
func (bi *BuildInfo) Short() string {
	return fmt.Sprintf("%s %s", Name, bi.Version)
}

func vcsRevision() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return UnknownValue
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && s.Value != "" {
			return s.Value
		}
	}
	return UnknownValue
}
