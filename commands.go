package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/harrisonrobin/tasklink/pkg/auth"
	"github.com/harrisonrobin/tasklink/pkg/config"
	"github.com/harrisonrobin/tasklink/pkg/google"
	"github.com/harrisonrobin/tasklink/pkg/index"
	"github.com/harrisonrobin/tasklink/pkg/logging"
	"github.com/harrisonrobin/tasklink/pkg/parser"
)

func parseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parse [text]",
		Short: "Print the task a message would create",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			p, err := newParser(cfg.Parser)
			if err != nil {
				return err
			}

			text := strings.Join(args, " ")
			if stripped, ok := parser.StripMarker(text, cfg.Parser.Marker); ok {
				text = stripped
			}
			task := p.Parse(text)

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			enc.SetEscapeHTML(false)
			return enc.Encode(task)
		},
	}
}

func authCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "auth",
		Short: "Authenticate with Google Tasks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.NewWithWriter(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr()}, zerolog.InfoLevel)

			xdgConfigBase, err := auth.GetXdgHome()
			if err != nil {
				return fmt.Errorf("could not find path to configuration directory: %w", err)
			}
			tokenFile := filepath.Join(xdgConfigBase, auth.TokenFile)
			if err := os.Remove(tokenFile); err == nil {
				log.Info().Str("path", tokenFile).Msg("removed existing token")
			} else if !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("could not delete token file '%s', please delete it manually: %w", tokenFile, err)
			}

			if _, err := auth.GetTasksService(cmd.Context(), log); err != nil {
				return fmt.Errorf("authentication failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Authentication successful! Token saved to %s\n", tokenFile)
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change the configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return yaml.NewEncoder(cmd.OutOrStdout()).Encode(cfg)
		},
	})

	var check bool
	setList := &cobra.Command{
		Use:   "set-list [title]",
		Short: "Set the Google Tasks list used when no workspace applies",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			title := args[0]

			if check {
				c, err := google.NewClient(cmd.Context(), google.Config{Logger: zerolog.Nop()})
				if err != nil {
					return err
				}
				if _, err := c.ListID(cmd.Context(), title); err != nil {
					return err
				}
			}

			cfg.Store.DefaultList = title
			if err := config.Save(cfg); err != nil {
				return fmt.Errorf("error saving config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Default list set to: %s\n", title)
			return nil
		},
	}
	setList.Flags().BoolVar(&check, "check", false, "verify the list exists in Google Tasks")
	cmd.AddCommand(setList)

	return cmd
}

func linksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "links",
		Short: "List the message to task links",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			persister, err := openPersister(cmd.Context(), cfg.Links)
			if err != nil {
				return err
			}
			links := index.Open(cmd.Context(), persister, zerolog.Nop())
			defer links.Close()

			snapshot := links.Snapshot()
			ids := make([]string, 0, len(snapshot))
			for id := range snapshot {
				ids = append(ids, id)
			}
			sort.Strings(ids)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "MESSAGE\tTASK")
			for _, id := range ids {
				fmt.Fprintf(w, "%s\t%s\n", id, snapshot[id])
			}
			return w.Flush()
		},
	}
}
