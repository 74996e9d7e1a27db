package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/joss/lumina/internal/client"
	"github.com/joss/lumina/internal/ingest"
	"github.com/joss/lumina/internal/render"
)

func ingestCmd() *cobra.Command {
	var local bool
	var printText bool

	cmd := &cobra.Command{
		Use:   "ingest <file|glob>...",
		Short: "Extract text from documents",
		Long: `Extract text from documents, either through the server's upload
endpoint or locally. Arguments may be globs such as "docs/**/*.pdf".`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := expandPaths(args)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			ing := &ingester{render: newRenderer(out), out: out, print: printText}
			if local {
				ing.extract = localExtractor(ingest.NewService(nil, ingest.WithRegistry(ingest.NewRegistry())))
			} else {
				ing.extract = remoteExtractor(newClient())
			}
			return ing.run(cmd.Context(), paths)
		},
	}

	cmd.Flags().BoolVar(&local, "local", false, "Extract without contacting the server")
	cmd.Flags().BoolVar(&printText, "print", false, "Print the extracted text")
	return cmd
}

type extractFunc func(ctx context.Context, filename string, r io.Reader) (string, error)

func localExtractor(svc *ingest.Service) extractFunc {
	return func(ctx context.Context, filename string, r io.Reader) (string, error) {
		data, err := io.ReadAll(r)
		if err != nil {
			return "", err
		}
		doc, err := svc.Ingest(ctx, filename, data)
		if err != nil {
			return "", err
		}
		return doc.Text, nil
	}
}

func remoteExtractor(c *client.Client) extractFunc {
	return func(ctx context.Context, filename string, r io.Reader) (string, error) {
		res, err := c.Upload(ctx, nil, filename, r)
		if err != nil {
			return "", err
		}
		return res.Text, nil
	}
}

// ingester extracts each file in turn, reporting failures per file.
type ingester struct {
	extract extractFunc
	render  *render.Renderer
	out     io.Writer
	print   bool
}

func (g *ingester) run(ctx context.Context, paths []string) error {
	var failed int
	for _, path := range paths {
		text, err := g.one(ctx, path)
		if err != nil {
			failed++
			fmt.Fprintln(g.out, g.render.Error(fmt.Sprintf("%s: %v", path, err)))
			continue
		}
		fmt.Fprintln(g.out, g.render.Upload(filepath.Base(path), text))
		if g.print {
			fmt.Fprintln(g.out, text)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(paths))
	}
	return nil
}

func (g *ingester) one(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", errors.New("file not found")
		}
		return "", err
	}
	defer f.Close()
	return g.extract(ctx, filepath.Base(path), f)
}
