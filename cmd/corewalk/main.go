// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var (
	corePath string
	exePath  string
)

func main() {
	root := &cobra.Command{
		Use:   "corewalk",
		Short: "Post-mortem allocation analyzer for ELF core dumps",
	}
	root.PersistentFlags().StringVar(&corePath, "core", "", "path to the ELF core file (required)")
	root.PersistentFlags().StringVar(&exePath, "exe", "", "path to the executable that produced the core (optional, enables static-anchor ranges)")
	root.MarkPersistentFlagRequired("core")

	root.AddCommand(
		overviewCmd(),
		mappingsCmd(),
		queryCmd("count", "Count allocations matching a query"),
		queryCmd("list", "List allocations matching a query"),
		queryCmd("show", "Show the raw words of allocations matching a query"),
		queryCmd("describe", "Describe the recognized pattern of allocations matching a query"),
		queryCmd("explain", "Describe allocations plus their anchor chain"),
		queryCmd("summarize", "Group a query's matches by pattern"),
		replCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadSession() (*session, error) {
	if corePath == "" {
		return nil, fmt.Errorf("--core is required")
	}
	return newSession(corePath, exePath)
}

func overviewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "overview",
		Short: "Print a one-screen summary of the core file",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := loadSession()
			if err != nil {
				return err
			}
			runOverview(sess, os.Stdout)
			return nil
		},
	}
}

func mappingsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mappings",
		Short: "List the core file's memory mappings",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := loadSession()
			if err != nil {
				return err
			}
			runMappings(sess, os.Stdout)
			return nil
		},
	}
}

// queryCmd builds one of the query-producing subcommands (count, list,
// show, describe, explain, summarize); verb selects the report shape
// runQuery dispatches to.
func queryCmd(verb, short string) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " [iterator] [/switch value]...",
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := loadSession()
			if err != nil {
				return err
			}
			return runQuery(sess, verb, args, os.Stdout)
		},
	}
}

// runQuery is the single entry point both the one-shot CLI subcommands and
// the REPL use: resolve the iterator, parse the switches, compile the
// query, then dispatch to the report shape named by verb.
func runQuery(sess *session, verb string, args []string, out io.Writer) error {
	iter, rest, err := resolveIterator(sess, args)
	if err != nil {
		return err
	}
	sw, err := parseSwitches(rest)
	if err != nil {
		return err
	}
	cq, err := compileQuery(sess, sw)
	if err != nil {
		return err
	}
	switch verb {
	case "count":
		runCount(sess, cq, iter, out)
	case "list":
		runList(sess, cq, iter, out)
	case "show":
		runShow(sess, cq, iter, out)
	case "describe":
		runDescribe(sess, cq, iter, out, false)
	case "explain":
		runExplain(sess, cq, iter, out)
	case "summarize":
		runSummarize(sess, cq, iter, out)
	default:
		return fmt.Errorf("unknown report verb %q", verb)
	}
	return nil
}
