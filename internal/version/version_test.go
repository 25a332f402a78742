package version

import "testing"

func TestFullAndUserAgent(t *testing.T) {
	prevVersion, prevCommit := Version, Commit
	t.Cleanup(func() { Version, Commit = prevVersion, prevCommit })

	Version, Commit = "1.2.3", "abc123"
	if got := Full(); got != "ticks 1.2.3 (abc123)" {
		t.Fatalf("unexpected full version: %s", got)
	}
	if got := UserAgent(); got != "ticks/1.2.3" {
		t.Fatalf("unexpected user agent: %s", got)
	}
}
