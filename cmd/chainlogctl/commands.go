package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/onnwee/chainlog/internal/chainlog"
	"github.com/onnwee/chainlog/internal/config"
	"github.com/onnwee/chainlog/internal/digest"
	"github.com/onnwee/chainlog/internal/mirror"
)

// errChainBroken makes verify exit non-zero after its report is printed.
var errChainBroken = errors.New("chain is broken")

// globalOptions are the persistent flags shared by every subcommand.
type globalOptions struct {
	file      string
	algorithm string
	verbose   bool
}

func (o *globalOptions) openLog(cmd *cobra.Command) (*chainlog.Log, error) {
	level := slog.LevelWarn
	if o.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	return chainlog.New(chainlog.Config{
		Path:      o.file,
		Algorithm: o.algorithm,
		Logger:    logger,
	})
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "chainlogctl",
		Short: "Inspect and maintain tamper-evident chain log files",
		Long: `chainlogctl reads and writes chain log backing files directly.
Every entry carries a digest over its message and the previous digest, so
any modification, deletion or reordering is caught by verify.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.file, "file", "f", config.DefaultRegistryFile, "backing log file")
	root.PersistentFlags().StringVarP(&opts.algorithm, "algorithm", "a", config.DefaultDigestAlgorithm,
		"digest algorithm ("+strings.Join(digest.Algorithms(), ", ")+")")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log engine activity to stderr")

	root.AddCommand(
		newInitCmd(opts),
		newAppendCmd(opts),
		newLastCmd(opts),
		newVerifyCmd(opts),
		newExportCmd(opts),
	)
	return root
}

func newInitCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the backing file and write the bootstrap entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := opts.openLog(cmd)
			if err != nil {
				return err
			}
			line, err := l.Initialize()
			if err != nil {
				return err
			}
			if line == "" {
				fmt.Fprintf(cmd.OutOrStdout(), "%s already initialized\n", l.Path())
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), line)
			return nil
		},
	}
}

func newAppendCmd(opts *globalOptions) *cobra.Command {
	var level, user string

	cmd := &cobra.Command{
		Use:   "append <message...>",
		Short: "Append one entry and print the written line",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := opts.openLog(cmd)
			if err != nil {
				return err
			}
			if _, err := l.Initialize(); err != nil {
				return err
			}
			entry, err := l.Append(level, user, strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), entry.Raw)
			return nil
		},
	}
	cmd.Flags().StringVarP(&level, "level", "l", string(chainlog.LevelInfo), "entry level (INFO, WARNING, ERROR)")
	cmd.Flags().StringVarP(&user, "user", "u", currentUser(), "identity recorded with the entry")
	return cmd
}

func newLastCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "last",
		Short: "Print the last line of the backing file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := opts.openLog(cmd)
			if err != nil {
				return err
			}
			line, ok, err := l.LastEntry()
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%s is empty", l.Path())
			}
			fmt.Fprintln(cmd.OutOrStdout(), line)
			return nil
		},
	}
}

func newVerifyCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check the hash chain; exits 1 when it is broken",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := opts.openLog(cmd)
			if err != nil {
				return err
			}
			result, err := l.Verify()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if result.Valid {
				fmt.Fprintf(out, "intact: %d entries (%s)\n", result.Entries, l.Algorithm())
				return nil
			}
			if result.Position < 0 {
				fmt.Fprintf(out, "modified or corrupt: %s\n", result.Reason)
			} else {
				fmt.Fprintf(out, "modified or corrupt: %s at position %d (line %d)\n",
					result.Reason, result.Position, result.Line)
				if result.Expected != "" {
					fmt.Fprintf(out, "  expected %s\n  found    %s\n", result.Expected, result.Found)
				}
			}
			return errChainBroken
		},
	}
}

func newExportCmd(opts *globalOptions) *cobra.Command {
	var format, user, output string
	var limit int

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export entries as csv, json or cbor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			exportFormat, err := mirror.ParseExportFormat(format)
			if err != nil {
				return err
			}
			if limit < 0 {
				return errors.New("--limit cannot be negative")
			}

			l, err := opts.openLog(cmd)
			if err != nil {
				return err
			}
			entries, err := l.Entries()
			if err != nil {
				return err
			}
			data, err := mirror.Export(mirror.FromEntries(entries), mirror.ExportOptions{
				Format:   exportFormat,
				Identity: user,
				Limit:    limit,
			})
			if err != nil {
				return err
			}

			var w io.Writer = cmd.OutOrStdout()
			if output != "" && output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("failed to create %s: %w", output, err)
				}
				defer f.Close()
				w = f
			}
			if _, err := w.Write(data); err != nil {
				return fmt.Errorf("failed to write export: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", string(mirror.ExportFormatJSON), "csv, json or cbor")
	cmd.Flags().StringVar(&user, "user", "", "only entries recorded for this identity")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of entries (0 = all)")
	cmd.Flags().StringVarP(&output, "output", "o", "-", "output file")
	return cmd
}

// currentUser names the operator for entries appended without --user.
func currentUser() string {
	for _, key := range []string{"USER", "USERNAME"} {
		if u := os.Getenv(key); u != "" {
			return u
		}
	}
	return "chainlogctl"
}
