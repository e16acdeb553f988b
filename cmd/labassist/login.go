package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// terminalSecret reads a credential without echo when in is a terminal.
func terminalSecret(in io.Reader, out io.Writer) (func() (string, error), bool) {
	f, ok := in.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return nil, false
	}
	return func() (string, error) {
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(out)
		if err != nil {
			return "", fmt.Errorf("read API key: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}, true
}

// secretReader falls back to reading a plain line, for piped input.
func secretReader(in io.Reader, out io.Writer) func() (string, error) {
	if read, ok := terminalSecret(in, out); ok {
		return read
	}
	reader := bufio.NewReader(in)
	return func() (string, error) {
		line, err := reader.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			return "", err
		}
		return strings.TrimSpace(line), nil
	}
}

func newLoginCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Store the Gemini API key",
		Long:  "Prompts for a Gemini API key and stores it in the local credential store. The key is kept in plaintext.",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(*configPath)
			if err != nil {
				return err
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			fmt.Fprint(out, "Gemini API key: ")
			key, err := secretReader(cmd.InOrStdin(), out)()
			if err != nil {
				return err
			}
			if key == "" {
				return errors.New("API key must not be empty")
			}
			if err := store.SaveCredential(key); err != nil {
				return err
			}
			fmt.Fprintln(out, "API key saved.")
			return nil
		},
	}
}

func newLogoutCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(*configPath)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.ClearCredential(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "API key removed.")
			return nil
		},
	}
}
