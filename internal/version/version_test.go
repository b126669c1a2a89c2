package version

import (
	"strings"
	"testing"
)

func TestVersion_DefaultValues(t *testing.T) {
	if Version == "" {
		t.Error("Version should have a default value")
	}
	if !strings.Contains(Version, ".") {
		t.Errorf("Version %q does not look like a semantic version", Version)
	}

	// GitCommit, GitMessage and BuildDate can be empty (optional)
	_ = GitCommit
	_ = GitMessage
	_ = BuildDate
}

func TestVersion_CanBeOverridden(t *testing.T) {
	origVersion := Version
	origGitCommit := GitCommit
	origGitMessage := GitMessage
	origBuildDate := BuildDate
	defer func() {
		Version = origVersion
		GitCommit = origGitCommit
		GitMessage = origGitMessage
		BuildDate = origBuildDate
	}()

	// Simulating build-time ldflags
	Version = "1.2.3"
	GitCommit = "abc123def456"
	GitMessage = "emit tables before metadata"
	BuildDate = "2026-01-15T10:30:00Z"

	if Version != "1.2.3" {
		t.Errorf("Version = %q, want %q", Version, "1.2.3")
	}
	if GitCommit != "abc123def456" {
		t.Errorf("GitCommit = %q, want %q", GitCommit, "abc123def456")
	}
	if GitMessage != "emit tables before metadata" {
		t.Errorf("GitMessage = %q", GitMessage)
	}
	if BuildDate != "2026-01-15T10:30:00Z" {
		t.Errorf("BuildDate = %q", BuildDate)
	}
}

func TestVersion_EmptyOptionalFields(t *testing.T) {
	origGitCommit := GitCommit
	origBuildDate := BuildDate
	defer func() {
		GitCommit = origGitCommit
		BuildDate = origBuildDate
	}()

	GitCommit = ""
	BuildDate = ""
	if GitCommit != "" || BuildDate != "" {
		t.Error("optional fields should accept empty values")
	}
}
