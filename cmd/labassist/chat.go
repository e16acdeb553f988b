package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/RichardoC/labassist/internal/ingest"
	"github.com/RichardoC/labassist/internal/models"
	"github.com/RichardoC/labassist/internal/session"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const chatHelp = `Commands:
  /attach <path>   Upload a .txt protocol, .pdf manual or .mp4 training video
  /files           List uploaded files by authority
  /remove <n|id>   Remove a file (number from /files, or its id)
  /reset           Forget the API key and purge all files and messages
  /help            Show this help
  /quit            Exit
Anything else is sent as a question.`

// fileGroups is the display order of the file list, highest authority first.
var fileGroups = []struct {
	category models.Category
	title    string
}{
	{models.CategoryProtocol, "Local Protocols (Highest Authority)"},
	{models.CategoryManual, "Manufacturer Manuals"},
	{models.CategoryVideo, "Training Videos"},
}

type repl struct {
	sessions *session.Manager
	lines    *bufio.Scanner
	out      io.Writer
	secret   func() (string, error) // nil reads the key as a plain line
	logger   *zap.Logger
}

func newREPL(sessions *session.Manager, in io.Reader, out io.Writer, logger *zap.Logger) *repl {
	lines := bufio.NewScanner(in)
	lines.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	r := &repl{sessions: sessions, lines: lines, out: out, logger: logger}
	if read, ok := terminalSecret(in, out); ok {
		r.secret = read
	}
	return r
}

func (r *repl) readLine() (string, bool) {
	if !r.lines.Scan() {
		return "", false
	}
	return r.lines.Text(), true
}

func (r *repl) readSecret() (string, bool) {
	if r.secret == nil {
		line, ok := r.readLine()
		return strings.TrimSpace(line), ok
	}
	key, err := r.secret()
	if err != nil {
		fmt.Fprintf(r.out, "Error: %v\n", err)
		return "", false
	}
	return key, true
}

// gate blocks until a credential is stored. It returns false on end of input.
func (r *repl) gate() bool {
	for !r.sessions.Authenticated() {
		fmt.Fprintln(r.out, "A Gemini API key is required. It is stored locally and only sent to Google's API.")
		fmt.Fprint(r.out, "Gemini API key: ")
		key, ok := r.readSecret()
		if !ok {
			return false
		}
		if err := r.sessions.Authenticate(key); err != nil {
			if !errors.Is(err, session.ErrEmptyCredential) {
				r.logger.Error("failed to save credential", zap.Error(err))
			}
			fmt.Fprintf(r.out, "Error: %v\n", err)
		}
	}
	return true
}

func (r *repl) printMessage(msg models.Message) {
	switch {
	case msg.Role == models.RoleUser:
		fmt.Fprintf(r.out, "You: %s\n\n", msg.Text)
	case msg.Error:
		fmt.Fprintf(r.out, "Error: %s\n\n", msg.Text)
	default:
		fmt.Fprintf(r.out, "Assistant: %s\n\n", msg.Text)
	}
}

func (r *repl) confirmLarge(name string, size int64) bool {
	fmt.Fprintf(r.out, "%s is large (%.1f MB). It may take a while to process. Continue? [y/N] ", name, float64(size)/(1024*1024))
	answer, ok := r.readLine()
	if !ok {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

func (r *repl) attach(path string) {
	f, err := os.Open(path)
	if err != nil {
		fmt.Fprintln(r.out, ingest.Notice(fmt.Errorf("%w: %w", ingest.ErrReadFailure, err)))
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		fmt.Fprintln(r.out, ingest.Notice(fmt.Errorf("%w: %w", ingest.ErrReadFailure, err)))
		return
	}

	var mimeType string
	if info.Size() > 0 {
		mimeType, err = ingest.DeclaredType(path)
		if err != nil {
			r.logger.Warn("mime detection failed", zap.String("path", path), zap.Error(err))
		}
	}

	file, added, err := r.sessions.AddFile(ingest.Descriptor{
		Name:     filepath.Base(path),
		MimeType: mimeType,
		Size:     info.Size(),
		Content:  f,
	}, r.confirmLarge)
	if err != nil {
		fmt.Fprintln(r.out, ingest.Notice(err))
		return
	}
	if added {
		fmt.Fprintf(r.out, "Added %s (%s).\n", file.Name, file.Category)
	}
}

// listedFiles returns the files in display order, so /remove can refer to them
// by number.
func listedFiles(files []models.UploadedFile) []models.UploadedFile {
	ordered := make([]models.UploadedFile, 0, len(files))
	for _, g := range fileGroups {
		for _, f := range files {
			if f.Category == g.category {
				ordered = append(ordered, f)
			}
		}
	}
	return ordered
}

func (r *repl) listFiles() {
	files := r.sessions.Snapshot().Files
	n := 0
	for _, g := range fileGroups {
		fmt.Fprintf(r.out, "%s:\n", g.title)
		empty := true
		for _, f := range listedFiles(files) {
			if f.Category != g.category {
				continue
			}
			n++
			empty = false
			fmt.Fprintf(r.out, "  %d. %s  [%s]\n", n, f.Name, f.ID)
		}
		if empty {
			fmt.Fprintln(r.out, "  (none)")
		}
	}
	fmt.Fprintf(r.out, "%d Files loaded\n", len(files))
}

func (r *repl) remove(arg string) {
	files := listedFiles(r.sessions.Snapshot().Files)
	id := arg
	if n, err := strconv.Atoi(arg); err == nil && n >= 1 && n <= len(files) {
		id = files[n-1].ID
	}
	if !r.sessions.RemoveFile(id) {
		fmt.Fprintf(r.out, "No file %q.\n", arg)
		return
	}
	fmt.Fprintln(r.out, "File removed.")
}

// command handles a slash command and reports whether the loop should end.
func (r *repl) command(line string) bool {
	fields := strings.Fields(line)
	arg := strings.TrimSpace(strings.TrimPrefix(line, fields[0]))

	switch fields[0] {
	case "/quit", "/exit":
		return true
	case "/help":
		fmt.Fprintln(r.out, chatHelp)
	case "/attach":
		if arg == "" {
			fmt.Fprintln(r.out, "usage: /attach <path>")
			return false
		}
		r.attach(arg)
	case "/files":
		r.listFiles()
	case "/remove":
		if arg == "" {
			fmt.Fprintln(r.out, "usage: /remove <n|id>")
			return false
		}
		r.remove(arg)
	case "/reset":
		if err := r.sessions.Reset(); err != nil {
			fmt.Fprintf(r.out, "Error: %v\n", err)
			return false
		}
		fmt.Fprintln(r.out, "API key removed and all files purged.")
		if !r.gate() {
			return true
		}
		r.printMessage(r.sessions.Snapshot().Messages[0])
	default:
		fmt.Fprintf(r.out, "Unknown command %s. Type /help for commands.\n", fields[0])
	}
	return false
}

func (r *repl) run(ctx context.Context, attachments []string) error {
	if !r.gate() {
		return nil
	}
	for _, path := range attachments {
		r.attach(path)
	}
	for _, msg := range r.sessions.Snapshot().Messages {
		r.printMessage(msg)
	}

	for {
		fmt.Fprint(r.out, "You: ")
		line, ok := r.readLine()
		if !ok {
			break
		}
		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			if r.command(input) {
				break
			}
			continue
		}

		reply, err := r.sessions.Submit(ctx, input)
		if err != nil {
			fmt.Fprintf(r.out, "Error: %v\n", err)
			continue
		}
		r.printMessage(reply)
	}
	return r.lines.Err()
}

func newChatCmd(configPath *string) *cobra.Command {
	var files []string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the lab assistant in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := newApp(ctx, *configPath, false)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			fmt.Fprintln(cmd.OutOrStdout(), "=== Lab Assistant ===")
			fmt.Fprintln(cmd.OutOrStdout(), "Type /help for commands, /quit to exit")
			fmt.Fprintln(cmd.OutOrStdout())
			return newREPL(a.sessions, cmd.InOrStdin(), cmd.OutOrStdout(), a.logger).run(ctx, files)
		},
	}
	cmd.Flags().StringArrayVarP(&files, "file", "f", nil, "file to attach at start (repeatable)")
	return cmd
}
