// Copyright 2019 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// casstable is an introspection tool for "la/big" sorted-string tables:
// it loads a table from its TOC and pretty-prints individual components.
package main

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/cockroachdb/casstable/internal/base"
	"github.com/cockroachdb/casstable/sstable"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/spf13/cobra"
)

var (
	indexStart uint64
	indexCount uint64
)

var rootCmd = &cobra.Command{
	Use:   "casstable [command] (flags)",
	Short: "sstable introspection tool",
	Long:  ``,
}

func load(dir, generation string) (*sstable.SSTable, error) {
	gen, err := strconv.ParseUint(generation, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid generation %q: %v", generation, err)
	}
	t := sstable.New(vfs.Default, base.DefaultLogger{}, dir, gen)
	if err := t.Load(); err != nil {
		return nil, err
	}
	return t, nil
}

var tocCmd = &cobra.Command{
	Use:   "toc <dir> <generation>",
	Short: "print the table's components",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := load(args[0], args[1])
		if err != nil {
			return err
		}
		defer t.Close()
		for _, c := range t.Components() {
			fmt.Println(c)
		}
		return nil
	},
}

var summaryCmd = &cobra.Command{
	Use:   "summary <dir> <generation>",
	Short: "print the table's summary component",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := load(args[0], args[1])
		if err != nil {
			return err
		}
		defer t.Close()
		fmt.Print(t.SummaryString())
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats <dir> <generation>",
	Short: "print the table's statistics component",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := load(args[0], args[1])
		if err != nil {
			return err
		}
		defer t.Close()
		fmt.Print(t.StatisticsString())
		return nil
	},
}

var indexCmd = &cobra.Command{
	Use:   "index <dir> <generation>",
	Short: "dump index entries",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := load(args[0], args[1])
		if err != nil {
			return err
		}
		defer t.Close()
		entries, err := t.ReadIndexes(indexStart, indexCount)
		if err != nil {
			return err
		}
		for i := range entries {
			fmt.Printf("%q -> %d\n", entries[i].Key, entries[i].Position)
		}
		return nil
	},
}

func main() {
	log.SetFlags(0)

	cobra.EnableCommandSorting = false
	rootCmd.AddCommand(
		tocCmd,
		summaryCmd,
		statsCmd,
		indexCmd,
	)

	indexCmd.Flags().Uint64Var(
		&indexStart, "start", 0, "index file offset to start reading at")
	indexCmd.Flags().Uint64Var(
		&indexCount, "count", 1000, "maximum number of entries to dump")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
