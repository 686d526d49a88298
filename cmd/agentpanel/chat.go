package main

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/IncredibleDevHQ/agent-panel/internal/core"
	"github.com/IncredibleDevHQ/agent-panel/internal/reply"
)

// ChatCmd sends one prompt and prints the reply.
type ChatCmd struct {
	Model     string   `short:"m" help:"Model as provider:name, or a bare name"`
	Stream    bool     `short:"s" help:"Print the reply as it arrives; Ctrl-C stops it"`
	System    string   `help:"System prompt"`
	File      []string `short:"f" help:"Attach an image: local path, data URL or http(s) URL"`
	MaxTokens int      `help:"Cap the reply length"`
	Prompt    []string `arg:"" optional:"" help:"Prompt text; read from stdin when omitted"`
}

// Run executes the chat command.
func (c *ChatCmd) Run(cli *CLI) error {
	prompt, err := c.promptText(os.Stdin)
	if err != nil {
		return err
	}
	messages, err := c.messages(prompt)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := cli.setup(ctx)
	if err != nil {
		return err
	}
	defer shutdown(a)

	req := a.NewRequest(messages, nil)
	if c.MaxTokens > 0 {
		req.MaxTokens = &c.MaxTokens
	}
	model, err := a.ResolveModel(c.Model, req)
	if err != nil {
		return err
	}

	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interrupts)

	if !c.Stream {
		go func() {
			select {
			case <-interrupts:
				cancel()
			case <-ctx.Done():
			}
		}()
		out, err := a.Client().SendOnce(ctx, model, req)
		if err != nil {
			return err
		}
		return printOutput(os.Stdout, out)
	}

	abort := reply.NewAbortSignal()
	go func() {
		select {
		case <-interrupts:
			abort.Abort()
		case <-ctx.Done():
		}
	}()

	sink := reply.NewSink(64, abort)
	errCh := make(chan error, 1)
	go func() { errCh <- a.Client().SendStreaming(ctx, model, req, sink, abort) }()

	printEvents(os.Stdout, sink.Events())
	return <-errCh
}

// promptText joins the positional arguments, falling back to piped stdin.
func (c *ChatCmd) promptText(stdin *os.File) (string, error) {
	if len(c.Prompt) > 0 {
		return strings.Join(c.Prompt, " "), nil
	}
	if term.IsTerminal(int(stdin.Fd())) {
		return "", errors.New("a prompt is required")
	}
	raw, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("failed to read stdin: %w", err)
	}
	prompt := strings.TrimSpace(string(raw))
	if prompt == "" {
		return "", errors.New("a prompt is required")
	}
	return prompt, nil
}

func (c *ChatCmd) messages(prompt string) ([]core.Message, error) {
	var messages []core.Message
	if c.System != "" {
		messages = append(messages, core.System(c.System))
	}
	if len(c.File) == 0 {
		return append(messages, core.User(prompt)), nil
	}

	images := make([]string, 0, len(c.File))
	for _, f := range c.File {
		url, err := imageURL(f)
		if err != nil {
			return nil, err
		}
		images = append(images, url)
	}
	return append(messages, core.UserWithImages(prompt, images...)), nil
}

// imageURL passes URLs through and inlines local files as data URLs.
func imageURL(path string) (string, error) {
	if strings.HasPrefix(path, "data:") || strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path, nil
	}
	mediaType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if !strings.HasPrefix(mediaType, "image/") {
		return "", fmt.Errorf("%s: unsupported image type", path)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read image: %w", err)
	}
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(raw), nil
}

func printOutput(w io.Writer, out *core.Output) error {
	if out.Text != "" {
		if _, err := fmt.Fprintln(w, out.Text); err != nil {
			return err
		}
	}
	for _, call := range out.ToolCalls {
		if _, err := fmt.Fprintln(w, formatCall(call)); err != nil {
			return err
		}
	}
	return nil
}

// printEvents drains events until the sink closes. An aborted stream closes
// without EventDone.
func printEvents(w io.Writer, events <-chan reply.Event) {
	midLine := false
	for ev := range events {
		switch ev.Kind {
		case reply.EventText:
			fmt.Fprint(w, ev.Text)
			midLine = !strings.HasSuffix(ev.Text, "\n")
		case reply.EventToolCall:
			if midLine {
				fmt.Fprintln(w)
			}
			fmt.Fprintln(w, formatCall(ev.ToolCall))
			midLine = false
		}
	}
	if midLine {
		fmt.Fprintln(w)
	}
}

func formatCall(call core.ToolCall) string {
	return fmt.Sprintf("[call] %s(%s)", call.Name, call.Arguments)
}
