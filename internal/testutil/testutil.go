// Package testutil provides shared test fixtures: synthetic recordings on
// disk and requests that pass the debug route access check.
package testutil

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/banshee-data/cellglm/internal/axona"
	"github.com/banshee-data/cellglm/internal/fsutil"
	"github.com/banshee-data/cellglm/internal/synth"
)

// FixtureSeconds is the length of the recordings WriteSession generates.
const FixtureSeconds = 60

// WriteSession generates a synthetic recording from seed and writes it under
// dir. configure, when non-nil, adjusts the generator first.
func WriteSession(tb testing.TB, fsys fsutil.FileSystem, dir string, seed int64, configure func(*synth.Generator)) *axona.SessionFiles {
	tb.Helper()
	g := synth.NewGenerator(seed)
	g.Seconds = FixtureSeconds
	if configure != nil {
		configure(g)
	}
	files, err := g.Generate().Write(fsys, dir)
	if err != nil {
		tb.Fatalf("write synthetic session: %v", err)
	}
	return files
}

// LocalRequest creates an httptest request that appears to come from
// localhost, which tsweb requires for /debug/ pages.
func LocalRequest(method, path string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, path, body)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(tb testing.TB, got, want int) {
	tb.Helper()
	if got != want {
		tb.Errorf("status code = %d, want %d", got, want)
	}
}
