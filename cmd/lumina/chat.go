package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joss/lumina/internal/client"
	"github.com/joss/lumina/internal/domain"
	"github.com/joss/lumina/internal/render"
)

const replHelp = `Commands:
  /upload <file>   Attach a document to the conversation
  /clear           Clear history here and on the server
  /history         Show the conversation so far
  /regenerate      Ask the last question again
  /quit            Leave`

func chatCmd() *cobra.Command {
	var docPath string

	cmd := &cobra.Command{
		Use:   "chat [question]",
		Short: "Chat with Lumina (interactive without a question)",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			r := &repl{
				client:     newClient(),
				transcript: client.NewTranscript(),
				render:     newRenderer(out),
				out:        out,
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			if docPath != "" {
				if err := r.upload(ctx, docPath); err != nil {
					return err
				}
			}
			if len(args) > 0 {
				return r.ask(ctx, strings.Join(args, " "))
			}
			return r.run(ctx, cmd.InOrStdin())
		},
	}

	cmd.Flags().StringVar(&docPath, "doc", "", "Document to attach before chatting")
	return cmd
}

// repl drives one interactive conversation against the server.
type repl struct {
	client     *client.Client
	transcript *client.Transcript
	render     *render.Renderer
	out        io.Writer
}

// run reads commands and questions until EOF or /quit. Errors from one
// turn are printed and the loop continues.
func (r *repl) run(ctx context.Context, in io.Reader) error {
	fmt.Fprintln(r.out, "Lumina chat. Type /help for commands.")
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(r.out, r.render.Prompt())
		if !scanner.Scan() {
			fmt.Fprintln(r.out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		quit, err := r.handle(ctx, line)
		if err != nil {
			fmt.Fprintln(r.out, r.render.Error(err.Error()))
		}
		if quit {
			return nil
		}
	}
}

// handle runs one input line and reports whether the session should end.
func (r *repl) handle(ctx context.Context, line string) (bool, error) {
	if !strings.HasPrefix(line, "/") {
		return false, r.ask(ctx, line)
	}

	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch name {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		fmt.Fprintln(r.out, replHelp)
	case "/upload":
		if arg == "" {
			return false, errors.New("usage: /upload <file>")
		}
		return false, r.upload(ctx, arg)
	case "/clear":
		msg, err := r.client.Clear(ctx)
		if err != nil {
			return false, err
		}
		r.transcript.Reset()
		fmt.Fprintln(r.out, r.render.Success(msg))
	case "/history":
		fmt.Fprintln(r.out, r.render.Transcript(r.transcript.Messages()))
	case "/regenerate":
		return false, r.stream(ctx, func(ctx context.Context, onEvent func(domain.Event)) error {
			_, err := r.client.Regenerate(ctx, r.transcript, onEvent)
			return err
		})
	default:
		return false, fmt.Errorf("unknown command %s (try /help)", name)
	}
	return false, nil
}

func (r *repl) ask(ctx context.Context, query string) error {
	return r.stream(ctx, func(ctx context.Context, onEvent func(domain.Event)) error {
		_, err := r.client.Chat(ctx, r.transcript, query, onEvent)
		return err
	})
}

// stream runs one turn, rendering events as they arrive. Interrupt cancels
// the turn without leaving the session.
func (r *repl) stream(ctx context.Context, turn func(context.Context, func(domain.Event)) error) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	err := turn(ctx, r.render.Event)
	var streamErr *client.StreamError
	switch {
	case errors.As(err, &streamErr):
		// Already rendered from the error event.
		return nil
	case errors.Is(err, context.Canceled):
		fmt.Fprintln(r.out)
		return errors.New("interrupted")
	}
	return err
}

func (r *repl) upload(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	res, err := r.client.Upload(ctx, r.transcript, filepath.Base(path), f)
	if err != nil {
		return err
	}
	fmt.Fprintln(r.out, r.render.Upload(res.Filename, res.Text))
	return nil
}
