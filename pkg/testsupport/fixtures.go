package testsupport

import (
	_ "embed"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-query-cache/catalog"
)

//go:embed testdata/books.json
var booksFixture []byte

// Books returns the shared catalog fixture. Each call returns a fresh copy.
func Books() []catalog.Book {
	var books []catalog.Book
	if err := json.Unmarshal(booksFixture, &books); err != nil {
		panic("testsupport: invalid books fixture: " + err.Error())
	}
	return books
}

// LoadFixture loads test data from a fixture file.
// The path is relative to the test package directory.
func LoadFixture(t testing.TB, path string) []byte {
	t.Helper()

	data, err := os.ReadFile(path)
	require.NoError(t, err, "load fixture %s", path)
	return data
}

// LoadFixtureJSON loads JSON test data from a fixture file and unmarshals it.
func LoadFixtureJSON(t testing.TB, path string, dest any) {
	t.Helper()

	data := LoadFixture(t, path)
	require.NoError(t, json.Unmarshal(data, dest), "unmarshal fixture %s", path)
}

// TempFile writes content to a file under t.TempDir and returns its path.
func TempFile(t testing.TB, name string, content []byte) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

// FixturePath constructs a path to a fixture file relative to the testdata directory.
func FixturePath(filename string) string {
	return filepath.Join("testdata", filename)
}
