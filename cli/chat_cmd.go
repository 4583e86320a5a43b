package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/nox-hq/streamchat/cli/tui"
	"github.com/nox-hq/streamchat/client"
	"github.com/nox-hq/streamchat/core"
	"github.com/nox-hq/streamchat/core/conversation"
	"github.com/nox-hq/streamchat/internal/logger"
)

const defaultConnectTimeout = 10 * time.Second

var errNoReply = errors.New("no reply before the timeout")

func runChat(args []string) int {
	fs := flag.NewFlagSet("chat", flag.ContinueOnError)
	var (
		url            string
		seedPath       string
		configDir      string
		plain          bool
		connectTimeout time.Duration
		replyTimeout   time.Duration
	)
	fs.StringVar(&url, "url", "", "relay base URL (overrides client.url)")
	fs.StringVar(&seedPath, "seed", "", "seed conversation file (YAML or JSON)")
	fs.StringVar(&configDir, "config", ".", "directory holding "+core.ConfigFile)
	fs.BoolVar(&plain, "plain", false, "line-oriented chat even on a terminal")
	fs.DurationVar(&connectTimeout, "connect-timeout", defaultConnectTimeout, "time allowed to reach the relay")
	fs.DurationVar(&replyTimeout, "reply-timeout", 2*time.Minute, "time to wait for each reply in plain mode")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := core.LoadConfig(configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}
	if url == "" {
		url = cfg.Client.URL
	}
	if seedPath == "" {
		seedPath = cfg.Client.Seed
	}

	seed := conversation.DefaultSeed()
	if seedPath != "" {
		seed, err = conversation.LoadSeed(seedPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 2
		}
	}

	interactive := !plain && isTerminal()
	log := logger.Nop()
	if !interactive {
		log = logger.New(logger.Config{Level: "warn", Output: os.Stderr})
	}

	ctl := client.New(url, seed,
		client.WithBootstrapPath(cfg.Server.BootstrapPath),
		client.WithSocketPath(cfg.Server.SocketPath),
		client.WithHTTPClient(&http.Client{Timeout: connectTimeout}),
		client.WithLogger(log),
	)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	err = ctl.Connect(ctx)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}
	defer func() { _ = ctl.Close() }()

	if interactive {
		return runChatTUI(ctl)
	}

	ui := newLineUI(ctl, os.Stdout, replyTimeout)
	if err := ui.Run(os.Stdin); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}
	return 0
}

func runChatTUI(ctl *client.Controller) int {
	p := tea.NewProgram(tui.New(ctl), tea.WithAltScreen())
	ctl.OnChange(func() { p.Send(tui.ChangedMsg{}) })
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: TUI failed: %v\n", err)
		return 2
	}
	return 0
}

// isTerminal returns true if stdout is connected to a terminal.
func isTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// lineUI is the plain-text chat front end. It prints reply fragments as
// they arrive and blocks the prompt until each reply is committed.
type lineUI struct {
	ctl     *client.Controller
	out     io.Writer
	timeout time.Duration

	you  func(a ...interface{}) string
	bot  func(a ...interface{}) string
	dim  func(a ...interface{}) string
	fail func(a ...interface{}) string

	mu      sync.Mutex
	printed int // bytes of the streaming buffer already written
	seen    int // committed messages already accounted for
	replies chan struct{}
}

func newLineUI(ctl *client.Controller, out io.Writer, timeout time.Duration) *lineUI {
	ui := &lineUI{
		ctl:     ctl,
		out:     out,
		timeout: timeout,
		you:     color.New(color.FgGreen, color.Bold).SprintFunc(),
		bot:     color.New(color.FgCyan, color.Bold).SprintFunc(),
		dim:     color.New(color.Faint).SprintFunc(),
		fail:    color.New(color.FgRed).SprintFunc(),
		seen:    len(ctl.Messages()),
		replies: make(chan struct{}, 1),
	}
	ctl.OnChange(ui.onChange)
	return ui
}

// Run reads commands and prompts from in until EOF or /quit.
func (ui *lineUI) Run(in io.Reader) error {
	ui.printBanner()

	scanner := bufio.NewScanner(in)
	for {
		ui.printf("%s", ui.you("you> "))
		if !scanner.Scan() {
			ui.printf("\n")
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())

		switch {
		case line == "/quit" || line == "/exit":
			return nil
		case line == "/history":
			ui.printHistory()
		case strings.HasPrefix(line, "/delete"):
			ui.delete(strings.TrimSpace(strings.TrimPrefix(line, "/delete")))
		default:
			if err := ui.send(line); err != nil {
				ui.printf("%s\n", ui.fail("error: "+err.Error()))
			}
		}
	}
}

func (ui *lineUI) send(text string) error {
	// Drop a stale signal from a reply that arrived after its wait expired.
	select {
	case <-ui.replies:
	default:
	}

	if err := ui.ctl.Submit(text); err != nil {
		if errors.Is(err, client.ErrEmptyInput) {
			return nil
		}
		return err
	}

	select {
	case <-ui.replies:
		return nil
	case <-time.After(ui.timeout):
		ui.printf("\n")
		return errNoReply
	}
}

func (ui *lineUI) delete(arg string) {
	pos, err := strconv.Atoi(arg)
	if err != nil {
		ui.printf("%s\n", ui.fail("usage: /delete <position>"))
		return
	}
	if !ui.ctl.Delete(pos) {
		ui.printf("%s\n", ui.fail(fmt.Sprintf("no message at position %d", pos)))
		return
	}
	ui.printf("%s\n", ui.dim(fmt.Sprintf("deleted message %d", pos)))
}

// onChange writes whatever the controller has received since the last call.
func (ui *lineUI) onChange() {
	ui.mu.Lock()
	defer ui.mu.Unlock()

	buf := ui.ctl.Buffer()
	if len(buf) > ui.printed {
		if ui.printed == 0 {
			fmt.Fprint(ui.out, ui.bot("bot> "))
		}
		fmt.Fprint(ui.out, buf[ui.printed:])
		ui.printed = len(buf)
	}

	msgs := ui.ctl.Messages()
	if len(msgs) > ui.seen {
		last := msgs[len(msgs)-1]
		if last.Role == conversation.RoleAssistant {
			if ui.printed == 0 {
				fmt.Fprint(ui.out, ui.bot("bot> "))
			}
			if len(last.Content) > ui.printed {
				fmt.Fprint(ui.out, last.Content[ui.printed:])
			}
			fmt.Fprintln(ui.out)
			ui.printed = 0
			select {
			case ui.replies <- struct{}{}:
			default:
			}
		}
	}
	ui.seen = len(msgs)
}

// printf writes under mu so prompts and replies never interleave with
// fragments printed from the channel's read goroutine.
func (ui *lineUI) printf(format string, a ...any) {
	ui.mu.Lock()
	defer ui.mu.Unlock()
	fmt.Fprintf(ui.out, format, a...)
}

func (ui *lineUI) printBanner() {
	var b strings.Builder
	for _, e := range ui.ctl.Render() {
		if e.Position >= 0 || e.Streaming {
			continue
		}
		text := e.Content
		if text == "" {
			text = e.Label
		}
		fmt.Fprintln(&b, ui.dim(text))
	}
	fmt.Fprintln(&b, ui.dim("Commands: /history, /delete <position>, /quit"))
	ui.printf("%s", b.String())
}

func (ui *lineUI) printHistory() {
	var b strings.Builder
	for _, e := range ui.ctl.Render() {
		switch {
		case e.Streaming:
			fmt.Fprintf(&b, "  %s %s\n", ui.dim(e.Label), e.Content)
		case e.Deletable:
			fmt.Fprintf(&b, "%3d %-9s %s\n", e.Position, e.Role, e.Content)
		}
	}
	ui.printf("%s", b.String())
}
