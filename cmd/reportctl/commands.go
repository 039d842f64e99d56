package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"smartkollect/internal/auth"
	"smartkollect/internal/client"
	"smartkollect/internal/config"
	"smartkollect/internal/engine"
	"smartkollect/internal/export"
	"smartkollect/internal/report"
	"smartkollect/internal/storage"
	"smartkollect/internal/store"
)

func entitiesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "entities [key]",
		Short: "List reportable entities, or the fields of one entity",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appConfig()
			if err != nil {
				return err
			}
			b, err := loadBuilder(cfg)
			if err != nil {
				return err
			}
			cat := b.Catalog()
			out := cmd.OutOrStdout()

			if len(args) == 0 {
				if viper.GetBool("json") {
					return printJSON(out, cat.ListEntities())
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(out)
				tw.AppendHeader(table.Row{"Key", "Name", "Table", "Primary key", "Fields"})
				for _, e := range cat.ListEntities() {
					tw.AppendRow(table.Row{e.Key, e.DisplayName, e.Table, e.PrimaryKey, len(e.Fields)})
				}
				tw.Render()
				return nil
			}

			e, err := cat.GetEntity(args[0])
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(out, e)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(out)
			tw.SetTitle(e.DisplayName)
			tw.AppendHeader(table.Row{"Field", "Label", "Type", "Category"})
			for _, f := range e.Fields {
				tw.AppendRow(table.Row{f.Key, f.Label, f.Type, f.Category})
			}
			tw.Render()
			return nil
		},
	}
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Check a report definition without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appConfig()
			if err != nil {
				return err
			}
			b, err := loadBuilder(cfg)
			if err != nil {
				return err
			}
			def, err := report.LoadDefinitionFile(args[0])
			if err != nil {
				return err
			}
			problems := b.ValidateForExecution(def)
			out := cmd.OutOrStdout()
			if viper.GetBool("json") {
				if err := printJSON(out, map[string]any{"valid": len(problems) == 0, "problems": problems}); err != nil {
					return err
				}
			} else if len(problems) == 0 {
				fmt.Fprintf(out, "%s: ok\n", def.Name)
			} else {
				printProblems(out, problems)
			}
			if len(problems) > 0 {
				return fmt.Errorf("%d problem(s) found", len(problems))
			}
			return nil
		},
	}
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <file>",
		Short: "Execute a report definition",
		Long: `Execute a report definition and print the result.

The data source is, in order of preference:
  --remote URL   a running report service (token from --token)
  --data FILE    a YAML fixture file mapping entity keys to rows
  --db FILE      a SQLite database holding the catalog tables`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appConfig()
			if err != nil {
				return err
			}
			b, err := loadBuilder(cfg)
			if err != nil {
				return err
			}
			def, err := report.LoadDefinitionFile(args[0])
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			exec, closeExec, err := executorFor(ctx, cmd, cfg, b)
			if err != nil {
				return err
			}
			defer closeExec()

			rs, err := execute(ctx, exec, def)
			if err != nil {
				var problems report.Problems
				if errors.As(err, &problems) {
					printProblems(cmd.ErrOrStderr(), problems)
				}
				return err
			}
			return writeResult(cmd, def, rs)
		},
	}
	cmd.Flags().String("remote", "", "base URL of a report service")
	cmd.Flags().String("token", "", "bearer token for --remote")
	cmd.Flags().String("data", "", "YAML fixture file")
	cmd.Flags().String("db", "", "SQLite database file")
	cmd.Flags().String("out", "", "directory to write <report>.csv into")
	cmd.Flags().Bool("csv", false, "print CSV instead of a table")
	return cmd
}

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed <fixtures>",
		Short: "Create the catalog tables in a SQLite database and load fixture rows",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appConfig()
			if err != nil {
				return err
			}
			b, err := loadBuilder(cfg)
			if err != nil {
				return err
			}
			dbPath, _ := cmd.Flags().GetString("db")
			ds, err := engine.LoadDatasetsFile(args[0])
			if err != nil {
				return err
			}
			cat := b.Catalog()
			for key := range ds {
				if _, err := cat.GetEntity(key); err != nil {
					return err
				}
			}

			ctx := cmd.Context()
			s, err := store.Open(ctx, "sqlite", dbPath, 0)
			if err != nil {
				return err
			}
			defer s.Close()
			m := store.NewMigrator(s)
			if err := m.MigrateCatalog(ctx, cat); err != nil {
				return err
			}

			for _, e := range cat.ListEntities() {
				rows, ok := ds[e.Key]
				if !ok {
					continue
				}
				n, err := m.Seed(ctx, e, rows)
				if errors.Is(err, store.ErrUniqueViolation) {
					return fmt.Errorf("%s already holds one of these rows; seed into a fresh database: %w", e.Key, err)
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "seeded %d row(s) into %s\n", n, e.Key)
			}
			return nil
		},
	}
	cmd.Flags().String("db", "reports.db", "SQLite database file")
	return cmd
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development bearer token signed with the configured secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appConfig()
			if err != nil {
				return err
			}
			user, _ := cmd.Flags().GetString("user")
			roles, _ := cmd.Flags().GetStringSlice("roles")
			ttl, _ := cmd.Flags().GetDuration("ttl")
			tok, err := auth.MintToken(user, roles, cfg.JWTSecret, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().String("user", "local-user", "token subject")
	cmd.Flags().StringSlice("roles", []string{"agent"}, "roles claim")
	cmd.Flags().Duration("ttl", auth.DefaultTokenTTL, "token lifetime")
	return cmd
}

func executorFor(ctx context.Context, cmd *cobra.Command, cfg *config.Config, b *report.Builder) (engine.Executor, func(), error) {
	remote, _ := cmd.Flags().GetString("remote")
	data, _ := cmd.Flags().GetString("data")
	dbPath, _ := cmd.Flags().GetString("db")
	limits := engine.LimitsFromConfig(cfg.Reports)

	switch {
	case remote != "":
		token, _ := cmd.Flags().GetString("token")
		c := client.New(remote, token)
		c.Timeout = limits.Timeout
		return c, func() {}, nil
	case data != "":
		ds, err := engine.LoadDatasetsFile(data)
		if err != nil {
			return nil, nil, err
		}
		return engine.NewMemoryExecutor(ds, b, limits), func() {}, nil
	case dbPath != "":
		s, err := store.Open(ctx, "sqlite", dbPath, 0)
		if err != nil {
			return nil, nil, err
		}
		return engine.NewSQLExecutor(s, b, limits, zap.NewNop()), s.Close, nil
	}
	return nil, nil, errors.New("one of --remote, --data or --db is required")
}

// execute runs def through a session so an interrupt abandons the run
// instead of waiting for it.
func execute(ctx context.Context, exec engine.Executor, def report.Definition) (*engine.ResultSet, error) {
	sess := engine.NewSession(exec, def)
	ch, err := sess.Submit(ctx)
	if err != nil {
		return nil, err
	}
	select {
	case out := <-ch:
		return out.Result, out.Err
	case <-ctx.Done():
		sess.Cancel()
		<-ch
		return nil, engine.ErrExecutionCanceled
	}
}

func writeResult(cmd *cobra.Command, def report.Definition, rs *engine.ResultSet) error {
	out := cmd.OutOrStdout()
	tbl := export.Table{Columns: rs.Columns, Rows: rs.Rows}

	if dir, _ := cmd.Flags().GetString("out"); dir != "" {
		ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
		defer cancel()
		path, err := storage.NewLocalStorage(dir).WriteFile(ctx, "", export.FileName(def.Name), func(w io.Writer) error {
			return export.WriteCSV(w, tbl)
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "wrote %d row(s) to %s\n", rs.Count(), path)
		return nil
	}

	switch csv, _ := cmd.Flags().GetBool("csv"); {
	case viper.GetBool("json"):
		return printJSON(out, map[string]any{"columns": rs.Columns, "rows": rs.Rows, "count": rs.Count()})
	case csv:
		if text := export.ToDelimitedText(tbl); text != "" {
			fmt.Fprintln(out, text)
		}
	default:
		fmt.Fprintln(out, export.RenderTable(tbl))
	}
	return nil
}

func printProblems(w io.Writer, problems report.Problems) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Code", "Path", "Message"})
	for _, p := range problems {
		tw.AppendRow(table.Row{p.Code, p.Path, p.Message})
	}
	tw.Render()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
