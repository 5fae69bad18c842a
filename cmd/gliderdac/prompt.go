package main

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/term"

	"gliderdac/internal/config"
)

// Test seams for the terminal.
var (
	readPassword = term.ReadPassword
	isTerminal   = term.IsTerminal
)

// promptMailPassword asks for the SMTP password when a mail username is
// configured without one and stdin is a terminal. Otherwise cfg is unchanged.
func promptMailPassword(cfg *config.Config, w io.Writer) error {
	if cfg.Mail.Host == "" || cfg.Mail.Username == "" || cfg.Mail.Password != "" {
		return nil
	}
	fd := int(os.Stdin.Fd())
	if !isTerminal(fd) {
		return nil
	}

	if _, err := fmt.Fprintf(w, "SMTP password for %s@%s: ", cfg.Mail.Username, cfg.Mail.Host); err != nil {
		return err
	}
	pw, err := readPassword(fd)
	fmt.Fprintln(w)
	if err != nil {
		return fmt.Errorf("reading SMTP password: %w", err)
	}
	cfg.Mail.Password = string(pw)
	return nil
}
