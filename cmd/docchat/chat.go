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
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/xhad/docchat/pkg/rag"
	"github.com/xhad/docchat/pkg/scraper"
)

const chatHelp = `Commands:
  /upload <path>   index a document (pdf, txt, md, html)
  /fetch <url>     index a web page and the pages it links to
  /remove          forget the document and chat without it
  /clear           forget the conversation, keep the document
  /reset           forget both
  /history         show the remembered conversation
  /status          show the current mode and document
  exit             quit`

func newChatCommand(opts *rootOptions) *cobra.Command {
	var file, docsURL string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat interactively in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.close()

			session, err := a.newSession()
			if err != nil {
				return err
			}
			defer session.Reset(context.Background())

			c := &chat{app: a, session: session, out: cmd.OutOrStdout()}
			if file != "" {
				c.upload(ctx, file)
			}
			if docsURL != "" {
				c.fetch(ctx, docsURL)
			}
			return c.loop(ctx, cmd.InOrStdin())
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Document to index before chatting")
	cmd.Flags().StringVar(&docsURL, "docs-url", "", "Web page to index before chatting")
	return cmd
}

type chat struct {
	app     *app
	session *rag.Session
	out     io.Writer
}

func getProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString("pages"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func getSpinner(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(color.CyanString(description)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(20),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// spin keeps spinner moving until stop is called.
func spin(spinner *progressbar.ProgressBar) (stop func()) {
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				spinner.Add(1)
			}
		}
	}()

	var once atomic.Bool
	return func() {
		if once.CompareAndSwap(false, true) {
			close(done)
			<-finished
			spinner.Finish()
			spinner.Clear()
			fmt.Print("\r")
		}
	}
}

// interruptible returns a context that Ctrl-C cancels, so an interrupt stops
// the running request and returns to the prompt.
func interruptible(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt)
}

func cancelled(ctx context.Context, err error) bool {
	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		color.Yellow("Cancelled")
		return true
	}
	return false
}

func (c *chat) loop(ctx context.Context, in io.Reader) error {
	color.Cyan("\nChat with your documents (type /help for commands, 'exit' to quit)")

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	userPrompt := color.New(color.FgGreen).PrintfFunc()

	for {
		userPrompt("\nYou: ")
		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if lower := strings.ToLower(line); lower == "exit" || lower == "quit" {
			break
		}

		if strings.HasPrefix(line, "/") {
			c.command(ctx, line)
			continue
		}
		c.ask(ctx, line)

		if ctx.Err() != nil {
			break
		}
	}
	return scanner.Err()
}

func (c *chat) command(ctx context.Context, line string) {
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "/upload":
		if arg == "" {
			color.Red("Usage: /upload <path>")
			return
		}
		c.upload(ctx, arg)
	case "/fetch":
		if arg == "" {
			color.Red("Usage: /fetch <url>")
			return
		}
		c.fetch(ctx, arg)
	case "/remove":
		if err := c.session.RemoveDocument(ctx); err != nil {
			color.Red("Error: %v", err)
			return
		}
		color.Green("✓ Document removed, chatting without it")
	case "/clear":
		c.session.ClearHistory()
		color.Green("✓ Conversation cleared")
	case "/reset":
		if err := c.session.Reset(ctx); err != nil {
			color.Red("Error: %v", err)
			return
		}
		color.Green("✓ Session reset")
	case "/history":
		for _, turn := range c.session.History() {
			fmt.Fprintf(c.out, "%s: %s\n", turn.Role, turn.Text)
		}
	case "/status":
		if doc, ok := c.session.Document(); ok {
			fmt.Fprintf(c.out, "Mode: %s (%s, %d chunks)\n", c.session.Mode(), doc.Filename, doc.Chunks)
		} else {
			fmt.Fprintf(c.out, "Mode: %s\n", c.session.Mode())
		}
		fmt.Fprintf(c.out, "Remembered turns: %d\n", len(c.session.History()))
	case "/help":
		fmt.Fprintln(c.out, chatHelp)
	default:
		color.Red("Unknown command %s", name)
		fmt.Fprintln(c.out, chatHelp)
	}
}

func (c *chat) upload(ctx context.Context, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		color.Red("Error: %v", err)
		return
	}
	c.index(ctx, filepath.Base(path), data)
}

func (c *chat) index(ctx context.Context, filename string, data []byte) {
	ctx, cancel := interruptible(ctx)
	defer cancel()

	stop := spin(getSpinner(fmt.Sprintf("📄 Indexing %s...", filename)))
	doc, err := c.session.Upload(ctx, filename, data)
	stop()

	if err != nil {
		if cancelled(ctx, err) {
			return
		}
		color.Red("Error: %v", err)
		if c.session.Mode() == rag.ModePlain {
			color.Yellow("Chatting without a document")
		}
		return
	}
	color.Green("✓ Indexed %s into %d chunks", doc.Filename, doc.Chunks)
}

func (c *chat) fetch(ctx context.Context, url string) {
	var processedCount int32
	s, err := c.app.newScraper(func(string) {
		atomic.AddInt32(&processedCount, 1)
	})
	if err != nil {
		color.Red("Error: %v", err)
		return
	}

	scrapeCtx, cancel := interruptible(ctx)
	defer cancel()

	color.Blue("\nFetching %s", url)
	bar := getProgressBar(-1, "🌐 Scraping...")
	startTime := time.Now()
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				count := atomic.LoadInt32(&processedCount)
				bar.Set(int(count))
				if count > 0 {
					rate := float64(count) / time.Since(startTime).Seconds()
					bar.Describe(color.BlueString("🌐 Scraping... (%.1f pages/sec)", rate))
				}
			}
		}
	}()

	pages, err := s.Scrape(scrapeCtx, url)
	close(done)
	bar.Finish()
	fmt.Println()
	if err != nil {
		if cancelled(scrapeCtx, err) {
			return
		}
		color.Red("Error: %v", err)
		return
	}
	color.Green("✓ Scraped %d pages", len(pages))

	c.index(ctx, scraper.Filename(url), []byte(scraper.Join(pages)))
}

func (c *chat) ask(ctx context.Context, query string) {
	ctx, cancel := interruptible(ctx)
	defer cancel()

	assistantPrompt := color.New(color.FgCyan).PrintfFunc()

	if !c.app.config.UI.Streaming {
		stop := spin(getSpinner("🤖 Generating response..."))
		answer, err := c.session.Ask(ctx, query)
		stop()
		if err != nil {
			if cancelled(ctx, err) {
				return
			}
			color.Red("Error: %v", err)
			return
		}
		assistantPrompt("Assistant: %s\n", answer)
		return
	}

	stop := spin(getSpinner("🤖 Generating response..."))
	started, done := false, false
	for ev := range c.session.AskStream(ctx, query) {
		switch ev.Type {
		case rag.EventFragment:
			if !started {
				stop()
				assistantPrompt("Assistant: ")
				started = true
			}
			assistantPrompt("%s", ev.Text)
		case rag.EventComplete:
			stop()
			done = true
			if !started {
				assistantPrompt("Assistant: %s", ev.Text)
			}
			fmt.Println()
		case rag.EventFailed:
			stop()
			done = true
			if started {
				fmt.Println()
			}
			if !cancelled(ctx, ev.Err) {
				color.Red("Error: %v", ev.Err)
			}
		}
	}
	// The stream may end without a terminal event when ctx is cancelled.
	stop()
	if !done && ctx.Err() != nil {
		fmt.Println()
		color.Yellow("Cancelled")
	}
}
