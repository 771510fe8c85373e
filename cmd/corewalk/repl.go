package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
)

func replCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Interactive query shell",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := loadSession()
			if err != nil {
				return err
			}
			return runRepl(sess, os.Stdout)
		},
	}
}

// runRepl reads one query line at a time, tokenizes it into a report verb
// plus an iterator and switches, and dispatches through the same
// compileQuery/runQuery pipeline a single-shot invocation uses
// (SPEC_FULL.md §2, "Interactive shell").
func runRepl(sess *session, out io.Writer) error {
	rl, err := readline.New("corewalk> ")
	if err != nil {
		return fmt.Errorf("starting readline: %w", err)
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		verb, rest := fields[0], fields[1:]
		if verb == "quit" || verb == "exit" {
			return nil
		}
		if err := runQuery(sess, verb, rest, out); err != nil {
			fmt.Fprintf(os.Stderr, "corewalk: %v\n", err)
		}
	}
}
