package sources

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBookSourceFetchSplitsChapters(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "book.txt")
	content := "Chapter one text.\n\n\nChapter two text.\n\n\n\nChapter three text."
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	src := NewBookSource("Acme", "library", "My Book", path)
	require.Equal(t, "book:library", src.Name())

	candidates, err := src.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, candidates, 3)

	require.Equal(t, "My Book - Chapter 1", candidates[0].Title)
	require.True(t, candidates[0].NeedsTTS)
	require.Equal(t, "Chapter one text.", candidates[0].RawText)
	require.Equal(t, "en", candidates[0].LanguageCode)

	require.Equal(t, "My Book - Chapter 2", candidates[1].Title)
	require.Equal(t, "Chapter two text.", candidates[1].RawText)

	require.Equal(t, "My Book - Chapter 3", candidates[2].Title)
	require.Equal(t, "Chapter three text.", candidates[2].RawText)
}

func TestBookSourceCustomSeparator(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "book.txt")
	content := "one===two===three"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	src := NewBookSource("Acme", "library", "Book", path)
	src.ChapterSeparator = "==="

	candidates, err := src.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, candidates, 3)
	require.Equal(t, "one", candidates[0].RawText)
	require.Equal(t, "two", candidates[1].RawText)
	require.Equal(t, "three", candidates[2].RawText)
}

func TestBookSourceSkipsBlankChapters(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "book.txt")
	content := "Chapter one.\n\n\n\n\n\nChapter two."
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	src := NewBookSource("Acme", "library", "Book", path)
	candidates, err := src.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, candidates, 2)
}

func TestBookSourceFetchMissingFile(t *testing.T) {
	src := NewBookSource("Acme", "library", "Book", "/nonexistent/book.txt")
	_, err := src.Fetch(context.Background())
	require.Error(t, err)
}
