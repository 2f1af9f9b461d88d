package main

import (
	"errors"
	"fmt"

	"github.com/ZanzyTHEbar/zimkit/zimkit/accessor"

	"github.com/spf13/cobra"
)

func newInfoCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "info [archive]",
		Short: "Print the archive id, entry count and main page",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			acc, err := a.open(args)
			if err != nil {
				return err
			}
			defer acc.Close()

			id, err := acc.ID()
			if err != nil {
				return err
			}
			count, err := acc.EntryCount()
			if err != nil {
				return err
			}
			mainPage, err := acc.MainPageURL()
			switch {
			case errors.Is(err, accessor.ErrNoMainPage):
				mainPage = "(none)"
			case err != nil:
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "id:        %s\n", id)
			fmt.Fprintf(out, "namespace: %c\n", acc.Namespace())
			fmt.Fprintf(out, "entries:   %d\n", count)
			fmt.Fprintf(out, "main page: %s\n", mainPage)
			return nil
		},
	}
}

func newGetCmd(a *app) *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "get [archive] <path>",
		Short: "Write the content at /<namespace>/<title> to stdout",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			acc, err := a.open(args[:len(args)-1])
			if err != nil {
				return err
			}
			defer acc.Close()

			c, err := acc.Resolve(args[len(args)-1])
			if err != nil {
				return err
			}
			if verbose {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s %s (%d bytes, %d redirects)\n", c.URL, c.MimeType, c.Length, c.Hops)
			}
			_, err = cmd.OutOrStdout().Write(c.Data)
			return err
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print the resolved url and MIME type to stderr")
	return cmd
}

func newListCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list [archive]",
		Short: "List the urls of the primary namespace, skipping redirects",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			acc, err := a.open(args)
			if err != nil {
				return err
			}
			defer acc.Close()

			cur, err := acc.NewCursor()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for n := 0; limit <= 0 || n < limit; n++ {
				url, _, more, err := cur.Next()
				if errors.Is(err, accessor.ErrEmptyNamespace) {
					return nil
				}
				if err != nil {
					return err
				}
				fmt.Fprintln(out, url)
				if !more {
					break
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "l", 0, "stop after this many entries (0 lists all)")
	return cmd
}

func newRandomCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "random [archive]",
		Short: "Print the url of a random entry of the primary namespace",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			acc, err := a.open(args)
			if err != nil {
				return err
			}
			defer acc.Close()

			url, err := acc.RandomPageURL()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), url)
			return nil
		},
	}
}

func newMainCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "main [archive]",
		Short: "Print the url of the main page",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			acc, err := a.open(args)
			if err != nil {
				return err
			}
			defer acc.Close()

			url, err := acc.MainPageURL()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), url)
			return nil
		},
	}
}

func newResolveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <archive> <path>...",
		Short: "Resolve many paths concurrently and report each outcome",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			acc, err := a.open(args[:1])
			if err != nil {
				return err
			}
			defer acc.Close()

			results, err := acc.ResolveAll(cmd.Context(), args[1:], a.cfg.Batch.Workers)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			failed := 0
			for _, r := range results {
				if r.Err != nil {
					failed++
					fmt.Fprintf(out, "%s\terror\t%v\n", r.Path, r.Err)
					continue
				}
				fmt.Fprintf(out, "%s\tok\t%s\t%s\t%d\n", r.Path, r.Content.URL, r.Content.MimeType, r.Content.Length)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d paths failed", failed, len(results))
			}
			return nil
		},
	}
}
