// chatcli - interactive terminal client for the chatrelay server.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// USABILITY: Markdown rendering and input history for a better CLI experience
//
// Interactive Commands (during chat):
//   /help, /h           Show available commands
//   /new                Start a new session
//   /sessions           List sessions
//   /switch N           Switch to session N
//   /rename TITLE       Rename the current session
//   /delete [N]         Delete a session (current by default)
//   /history            Show the current conversation
//   /edit N TEXT        Edit message N and re-send
//   /regen [N]          Regenerate the response for message N (last by default)
//   /delmsg N           Delete message N
//   /prompt [TEXT]      Show or set the system prompt
//   /temp [X]           Show or set the sampling temperature
//   /model [NAME]       Show or switch model
//   /export [FILE]      Export the conversation (markdown, or JSON for .json files)
//   /quit, /q           Exit
//   Ctrl+C              Cancel current generation
//   Ctrl+D              Exit
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/mattn/go-runewidth"
	"github.com/peterh/liner"

	"github.com/jeranaias/chatrelay/internal/client"
	"github.com/jeranaias/chatrelay/internal/config"
	"github.com/jeranaias/chatrelay/internal/controller"
	"github.com/jeranaias/chatrelay/internal/model"
	"github.com/jeranaias/chatrelay/internal/storage"
	"github.com/jeranaias/chatrelay/internal/util"
)

// =============================================================================
// STYLES
// =============================================================================

var (
	promptStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Bold(true)
	welcomeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("13")).Bold(true)
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	commandStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
)

// =============================================================================
// INPUT HISTORY
// =============================================================================

// inputReader provides input history and line editing for the REPL.
// USABILITY: Supports arrow keys for history navigation and line editing.
type inputReader struct {
	line        *liner.State
	historyFile string
}

func newInputReader() *inputReader {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	configDir, err := config.ConfigDir()
	if err != nil {
		configDir = os.TempDir()
	}
	r := &inputReader{
		line:        line,
		historyFile: filepath.Join(configDir, "chat_history"),
	}
	if f, err := os.Open(r.historyFile); err == nil {
		r.line.ReadHistory(f)
		f.Close()
	}
	return r
}

func (r *inputReader) ReadInput(prompt string) (string, error) {
	input, err := r.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		r.line.AppendHistory(input)
	}
	return input, nil
}

func (r *inputReader) Close() {
	if err := config.EnsureConfigDir(); err == nil {
		if f, err := os.OpenFile(r.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600); err == nil {
			r.line.WriteHistory(f)
			f.Close()
		}
	}
	r.line.Close()
}

// =============================================================================
// APP STATE
// =============================================================================

// app holds the state for an interactive chat session.
type app struct {
	ctrl     *controller.Controller
	store    storage.Store
	cfg      *config.Config
	input    *inputReader
	active   *model.Session
	renderer *glamour.TermRenderer

	// Cancel function for the current stream
	cancelFunc context.CancelFunc

	// Bytes of the in-flight draft already printed
	printed int
}

func main() {
	var (
		relayURL   = flag.String("relay", "", "relay base URL (overrides config)")
		configPath = flag.String("config", "", "config file path (default ~/.chatrelay/config.toml)")
		plain      = flag.Bool("plain", false, "disable markdown rendering")
	)
	flag.Parse()

	if err := run(*relayURL, *configPath, *plain); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", errorStyle.Render("[Error]"), err)
		os.Exit(1)
	}
}

func run(relayURL, configPath string, plain bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if relayURL == "" {
		relayURL = cfg.Client.RelayURL
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	a := &app{
		store: store,
		cfg:   cfg,
		input: newInputReader(),
	}
	defer a.input.Close()

	// USABILITY: Render markdown on TTY for better formatting
	if !plain && cfg.Client.RenderMarkdown && isatty.IsTerminal(os.Stdout.Fd()) {
		renderer, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(100),
		)
		if err == nil {
			a.renderer = renderer
		}
	}

	consumer := client.NewConsumer(relayURL)
	a.ctrl = controller.New(store, consumer).WithEvents(controller.Events{
		OnDraft: func(_, accumulated string) {
			fmt.Print(accumulated[a.printed:])
			a.printed = len(accumulated)
		},
		OnStreamError: func(_, message string) {
			fmt.Fprintf(os.Stderr, "\n%s %s\n", errorStyle.Render("[Error]"), message)
		},
	})

	if err := a.resumeOrCreateSession(); err != nil {
		return err
	}

	// First Ctrl+C cancels the current generation instead of exiting.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		for range sigChan {
			if a.cancelFunc != nil {
				a.cancelFunc()
				a.cancelFunc = nil
				fmt.Fprintln(os.Stderr, "\n"+warningStyle.Render("[Cancelled]"))
			}
		}
	}()

	a.printWelcome(relayURL)
	return a.repl()
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromPath(path)
	}
	return config.Load()
}

// openStore opens the configured storage backend.
func openStore(cfg *config.Config) (storage.Store, error) {
	dir := cfg.Storage.Dir
	if dir == "" {
		configDir, err := config.ConfigDir()
		if err != nil {
			return nil, err
		}
		dir = filepath.Join(configDir, "data")
	}

	if strings.EqualFold(cfg.Storage.Backend, "sqlite") {
		return storage.NewSQLiteStore(filepath.Join(dir, "chatrelay.db"))
	}
	return storage.NewFileStore(dir)
}

// resumeOrCreateSession loads the active session or starts a fresh one.
func (a *app) resumeOrCreateSession() error {
	sess := a.ctrl.ActiveSession()
	if sess == nil {
		var err error
		sess, err = a.ctrl.NewSession()
		if err != nil {
			return err
		}
	}
	a.active = sess
	return nil
}

// refreshActive reloads the active session from storage.
func (a *app) refreshActive() {
	if sess := a.ctrl.ActiveSession(); sess != nil {
		a.active = sess
	}
}

// =============================================================================
// REPL
// =============================================================================

func (a *app) repl() error {
	for {
		input, err := a.input.ReadInput(promptStyle.Render("you> "))
		if err != nil {
			// Ctrl+C at the prompt or Ctrl+D both exit.
			fmt.Println()
			fmt.Println(infoStyle.Render("Goodbye!"))
			return nil
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			cont, err := a.handleSlashCommand(input)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s %v\n", errorStyle.Render("[Error]"), err)
			}
			if !cont {
				fmt.Println(infoStyle.Render("Goodbye!"))
				return nil
			}
			continue
		}

		if strings.EqualFold(input, "exit") || strings.EqualFold(input, "quit") {
			fmt.Println(infoStyle.Render("Goodbye!"))
			return nil
		}

		if err := a.send(input); err != nil {
			fmt.Fprintf(os.Stderr, "%s %v\n", errorStyle.Render("[Error]"), err)
		}
	}
}

// send streams a user message and displays the response.
func (a *app) send(input string) error {
	msg, err := a.stream(func(ctx context.Context) (*model.Message, error) {
		return a.ctrl.SendMessage(ctx, a.active.ID, input)
	})
	if err != nil {
		return err
	}
	a.renderCompleted(msg)
	return nil
}

// stream runs one streaming operation with cancellation and draft output.
func (a *app) stream(op func(ctx context.Context) (*model.Message, error)) (*model.Message, error) {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancelFunc = cancel
	a.printed = 0
	defer func() {
		a.cancelFunc = nil
		cancel()
	}()

	fmt.Println()
	msg, err := op(ctx)
	fmt.Println()
	a.refreshActive()
	if err != nil {
		var streamErr *client.StreamError
		if errors.As(err, &streamErr) && streamErr.Partial != "" {
			// Partial output was already printed; just report the cause.
			return nil, streamErr.Err
		}
		return nil, err
	}
	return msg, nil
}

// renderCompleted re-renders the finished assistant message as markdown.
func (a *app) renderCompleted(msg *model.Message) {
	if msg == nil || a.renderer == nil {
		fmt.Println()
		return
	}
	rendered, err := a.renderer.Render(msg.Content)
	if err != nil {
		fmt.Println()
		return
	}
	// Replace the raw streamed text with the formatted version.
	fmt.Println()
	fmt.Print(rendered)
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

// handleSlashCommand processes slash commands.
// Returns (shouldContinue, error) where shouldContinue=false means exit.
func (a *app) handleSlashCommand(cmd string) (bool, error) {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return true, nil
	}
	command := strings.ToLower(parts[0])
	args := parts[1:]

	switch command {
	case "/help", "/h", "/?":
		a.printHelp()
		return true, nil

	case "/new":
		sess, err := a.ctrl.NewSession()
		if err != nil {
			return true, err
		}
		a.active = sess
		fmt.Println(commandStyle.Render("[New session started]"))
		return true, nil

	case "/sessions":
		return true, a.printSessions()

	case "/switch":
		if len(args) == 0 {
			return true, errors.New("usage: /switch N")
		}
		return true, a.switchSession(args[0])

	case "/rename":
		if len(args) == 0 {
			return true, errors.New("usage: /rename TITLE")
		}
		title := strings.Join(args, " ")
		if err := a.ctrl.RenameSession(a.active.ID, title); err != nil {
			return true, err
		}
		a.refreshActive()
		fmt.Printf("%s Renamed to: %s\n", commandStyle.Render("[OK]"), a.active.Title)
		return true, nil

	case "/delete":
		return true, a.deleteSession(args)

	case "/history":
		a.printHistory()
		return true, nil

	case "/edit":
		if len(args) < 2 {
			return true, errors.New("usage: /edit N TEXT")
		}
		return true, a.editMessage(args[0], strings.Join(args[1:], " "))

	case "/regen", "/regenerate":
		return true, a.regenerateMessage(args)

	case "/delmsg":
		if len(args) == 0 {
			return true, errors.New("usage: /delmsg N")
		}
		return true, a.deleteMessage(args[0])

	case "/prompt":
		return true, a.systemPromptCommand(args)

	case "/temp":
		return true, a.temperatureCommand(args)

	case "/model", "/m":
		return true, a.modelCommand(args)

	case "/export":
		return true, a.exportCommand(args)

	case "/quit", "/q", "/exit":
		return false, nil

	case "/":
		a.printHelp()
		return true, nil

	default:
		return true, fmt.Errorf("unknown command: %s (type /help for commands)", command)
	}
}

// messageAt resolves a 1-based message number in the active session.
func (a *app) messageAt(arg string) (*model.Message, error) {
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 || n > len(a.active.Messages) {
		return nil, fmt.Errorf("invalid message number %q (1-%d)", arg, len(a.active.Messages))
	}
	return &a.active.Messages[n-1], nil
}

func (a *app) editMessage(numArg, newContent string) error {
	target, err := a.messageAt(numArg)
	if err != nil {
		return err
	}
	msg, err := a.stream(func(ctx context.Context) (*model.Message, error) {
		return a.ctrl.EditMessage(ctx, a.active.ID, target.ID, newContent)
	})
	if err != nil {
		return err
	}
	a.renderCompleted(msg)
	return nil
}

func (a *app) regenerateMessage(args []string) error {
	if len(a.active.Messages) == 0 {
		return errors.New("no messages to regenerate")
	}

	target := &a.active.Messages[len(a.active.Messages)-1]
	if len(args) > 0 {
		var err error
		target, err = a.messageAt(args[0])
		if err != nil {
			return err
		}
	}

	msg, err := a.stream(func(ctx context.Context) (*model.Message, error) {
		return a.ctrl.RegenerateMessage(ctx, a.active.ID, target.ID)
	})
	if err != nil {
		return err
	}
	if msg == nil {
		fmt.Println(infoStyle.Render("[Nothing to regenerate]"))
		return nil
	}
	a.renderCompleted(msg)
	return nil
}

func (a *app) deleteMessage(numArg string) error {
	target, err := a.messageAt(numArg)
	if err != nil {
		return err
	}
	if err := a.ctrl.DeleteMessage(a.active.ID, target.ID); err != nil {
		return err
	}
	a.refreshActive()
	fmt.Println(commandStyle.Render("[Message deleted]"))
	return nil
}

// switchSession switches by list number or session id.
func (a *app) switchSession(arg string) error {
	sessions := a.ctrl.Sessions()

	id := arg
	if n, err := strconv.Atoi(arg); err == nil {
		if n < 1 || n > len(sessions) {
			return fmt.Errorf("invalid session number %d (1-%d)", n, len(sessions))
		}
		id = sessions[n-1].ID
	}

	if err := a.ctrl.SwitchSession(id); err != nil {
		return err
	}
	a.refreshActive()
	fmt.Printf("%s Switched to: %s\n", commandStyle.Render("[OK]"), a.active.Title)
	return nil
}

func (a *app) deleteSession(args []string) error {
	id := a.active.ID
	if len(args) > 0 {
		sessions := a.ctrl.Sessions()
		if n, err := strconv.Atoi(args[0]); err == nil && n >= 1 && n <= len(sessions) {
			id = sessions[n-1].ID
		} else {
			id = args[0]
		}
	}

	if err := a.ctrl.DeleteSession(id); err != nil {
		return err
	}
	if err := a.resumeOrCreateSession(); err != nil {
		return err
	}
	fmt.Printf("%s Session deleted, now on: %s\n", commandStyle.Render("[OK]"), a.active.Title)
	return nil
}

func (a *app) systemPromptCommand(args []string) error {
	if len(args) == 0 {
		fmt.Printf("%s %s\n", infoStyle.Render("[System prompt]"), a.ctrl.SystemPrompt())
		return nil
	}
	prompt := strings.Join(args, " ")
	if err := a.ctrl.SetSystemPrompt(prompt); err != nil {
		return err
	}
	fmt.Println(commandStyle.Render("[System prompt updated]"))
	return nil
}

func (a *app) temperatureCommand(args []string) error {
	if len(args) == 0 {
		fmt.Printf("%s %.2f\n", infoStyle.Render("[Temperature]"), a.ctrl.Settings().Temperature)
		return nil
	}
	temp, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return fmt.Errorf("invalid temperature %q", args[0])
	}
	if temp < model.MinTemperature || temp > model.MaxTemperature {
		return fmt.Errorf("temperature must be %g-%g", model.MinTemperature, model.MaxTemperature)
	}
	if err := a.ctrl.SetTemperature(temp); err != nil {
		return err
	}
	fmt.Printf("%s Temperature set to %.2f\n", commandStyle.Render("[OK]"), temp)
	return nil
}

func (a *app) modelCommand(args []string) error {
	if len(args) == 0 {
		fmt.Printf("%s %s\n", infoStyle.Render("[Model]"), commandStyle.Render(a.ctrl.Settings().SelectedModel))
		return nil
	}
	if err := a.ctrl.SetModel(args[0]); err != nil {
		return err
	}
	fmt.Printf("%s Switched to model: %s\n", commandStyle.Render("[OK]"), args[0])
	return nil
}

func (a *app) exportCommand(args []string) error {
	path := ""
	if len(args) > 0 {
		path = args[0]
	} else {
		name := strings.ReplaceAll(strings.ToLower(a.active.Title), " ", "-")
		path = name + ".md"
	}

	format := "markdown"
	if strings.HasSuffix(path, ".json") {
		format = "json"
	}

	out, err := a.ctrl.ExportSession(a.active.ID, format)
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, []byte(out), 0644); err != nil {
		return fmt.Errorf("failed to write export: %w", err)
	}
	fmt.Printf("%s Exported to %s\n", commandStyle.Render("[OK]"), path)
	return nil
}

// =============================================================================
// DISPLAY FUNCTIONS
// =============================================================================

func (a *app) printWelcome(relayURL string) {
	fmt.Println()
	fmt.Println(welcomeStyle.Render("chatrelay interactive chat"))
	fmt.Println(infoStyle.Render(strings.Repeat("─", 30)))
	fmt.Printf("%s %s\n", infoStyle.Render("Relay:"), commandStyle.Render(relayURL))

	fmt.Printf("%s %s\n", infoStyle.Render("Model:"), commandStyle.Render(a.ctrl.Settings().SelectedModel))
	fmt.Printf("%s %s\n", infoStyle.Render("Session:"), commandStyle.Render(a.active.Title))

	fmt.Println()
	fmt.Println(infoStyle.Render("Type your message and press Enter. Commands: /help, /quit"))
	fmt.Println()
}

func (a *app) printHelp() {
	fmt.Println()
	fmt.Println(welcomeStyle.Render("Available Commands"))
	fmt.Println(infoStyle.Render(strings.Repeat("─", 20)))
	fmt.Println()

	commands := []struct {
		cmd  string
		desc string
	}{
		{"/help, /h", "Show this help"},
		{"/new", "Start a new session"},
		{"/sessions", "List sessions"},
		{"/switch N", "Switch to session N"},
		{"/rename TITLE", "Rename the current session"},
		{"/delete [N]", "Delete a session (current by default)"},
		{"/history", "Show the current conversation"},
		{"/edit N TEXT", "Edit message N and re-send"},
		{"/regen [N]", "Regenerate the response for message N"},
		{"/delmsg N", "Delete message N"},
		{"/prompt [TEXT]", "Show or set the system prompt"},
		{"/temp [X]", "Show or set the sampling temperature"},
		{"/model [NAME]", "Show or switch model"},
		{"/export [FILE]", "Export the conversation (markdown, .json for JSON)"},
		{"/quit, /q", "Exit"},
	}
	for _, c := range commands {
		fmt.Printf("  %s  %s\n",
			commandStyle.Render(fmt.Sprintf("%-15s", c.cmd)),
			infoStyle.Render(c.desc))
	}

	fmt.Println()
	fmt.Println(infoStyle.Render("Tip: Ctrl+C cancels current generation, Ctrl+D exits"))
	fmt.Println()
}

func (a *app) printSessions() error {
	sessions := a.ctrl.Sessions()
	if len(sessions) == 0 {
		fmt.Println(infoStyle.Render("[No sessions]"))
		return nil
	}

	fmt.Println()
	for i, sess := range sessions {
		marker := " "
		if sess.ID == a.active.ID {
			marker = commandStyle.Render("*")
		}
		// UNICODE: Width-aware truncation keeps the listing aligned for
		// CJK and emoji titles.
		title := runewidth.Truncate(sess.Title, 40, "...")
		fmt.Printf("  %s %d. %s %s\n",
			marker, i+1, title,
			infoStyle.Render(fmt.Sprintf("(%d messages)", len(sess.Messages))))
	}
	fmt.Println()
	return nil
}

func (a *app) printHistory() {
	a.refreshActive()
	if len(a.active.Messages) == 0 {
		fmt.Println(infoStyle.Render("[No messages yet]"))
		return
	}

	fmt.Println()
	fmt.Println(welcomeStyle.Render(a.active.Title))
	fmt.Println(infoStyle.Render(strings.Repeat("─", 25)))
	fmt.Println()

	for i, msg := range a.active.Messages {
		role := msg.Role.DisplayName()
		switch msg.Role {
		case model.RoleUser:
			role = promptStyle.Render(role)
		case model.RoleAssistant:
			role = welcomeStyle.Render(role)
		}

		content := util.TruncateRunes(strings.ReplaceAll(msg.Content, "\n", " "), 100)
		fmt.Printf("  %d. %s: %s\n", i+1, role, content)
	}
	fmt.Println()
}
