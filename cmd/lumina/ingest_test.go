package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joss/lumina/internal/ingest"
	"github.com/joss/lumina/internal/render"
)

func TestIngesterLocal(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "notes.md")
	require.NoError(t, os.WriteFile(good, []byte("# Notes\n\n\n\nfirst point"), 0644))
	binary := filepath.Join(dir, "blob.txt")
	require.NoError(t, os.WriteFile(binary, []byte{0xff, 0xfe}, 0644))

	var out bytes.Buffer
	g := &ingester{
		extract: localExtractor(ingest.NewService(nil, ingest.WithRegistry(ingest.NewRegistry()))),
		render:  render.New(&out, false, 0),
		out:     &out,
		print:   true,
	}

	err := g.run(context.Background(), []string{good, binary, filepath.Join(dir, "gone.pdf")})
	assert.EqualError(t, err, "2 of 3 files failed")
	assert.Contains(t, out.String(), "notes.md: 20 characters extracted")
	assert.Contains(t, out.String(), "# Notes\n\nfirst point")
	assert.Contains(t, out.String(), "blob.txt: file is not valid UTF-8 text")
	assert.Contains(t, out.String(), "gone.pdf: file not found")
}
