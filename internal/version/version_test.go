package version

import "testing"

func TestString(t *testing.T) {
	defer func(v, s, b string) { Version, GitSHA, BuildTime = v, s, b }(Version, GitSHA, BuildTime)

	Version, GitSHA, BuildTime = "1.2.0", "0123456789abcdef0123", "2026-03-14T12:00:00Z"
	want := "xrbridge 1.2.0 (0123456789ab, built 2026-03-14T12:00:00Z)"
	if got := String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}

	GitSHA = "abc"
	if got := String(); got != "xrbridge 1.2.0 (abc, built 2026-03-14T12:00:00Z)" {
		t.Errorf("short sha: %q", got)
	}
}
