package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/org/oncesecret/internal/crypto"
	"github.com/org/oncesecret/internal/secret"
	"github.com/org/oncesecret/internal/storage"
	"github.com/org/oncesecret/internal/sweep"
	"github.com/spf13/cobra"
)

var flagAddr string

var rootCmd = &cobra.Command{
	Use:   "oncesecret",
	Short: "oncesecret CLI",
	Long:  "Create and retrieve one-time secrets, and operate the oncesecret database.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig()
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError(err.Error())
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table", "Output format: table, json, raw")
	rootCmd.PersistentFlags().StringVar(&outputField, "field", "", "Print only this field (use with --format=raw)")
	rootCmd.PersistentFlags().StringVar(&flagAddr, "addr", "", "Server address (overrides config and ONCESECRET_ADDR)")

	rootCmd.AddCommand(createCmd())
	rootCmd.AddCommand(getCmd())
	rootCmd.AddCommand(keygenCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(sweepCmd())
}

// --- secrets ---

func createCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create [value]",
		Short: "Store a secret and print its one-time link",
		Long:  "Store a secret and print its one-time link. The value is read from stdin when omitted or '-'.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := readValue(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			client, err := newClient()
			if err != nil {
				return err
			}
			result, err := client.createSecret(value)
			if err != nil {
				return err
			}
			printResult(result)
			return nil
		},
	}
}

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <link|id>",
		Short: "Retrieve a secret; it is destroyed on the server afterwards",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			result, err := client.getSecret(args[0])
			if err != nil {
				return err
			}
			printResult(result)
			return nil
		},
	}
}

// maxStdinBytes leaves room for a trailing CRLF after a maximum-size value.
const maxStdinBytes = secret.MaxValueBytes + 2

// readValue returns args[0], or stdin with one trailing newline removed.
// Stdin longer than maxStdinBytes is rejected rather than truncated.
func readValue(stdin io.Reader, args []string) (string, error) {
	if len(args) == 1 && args[0] != "-" {
		return args[0], nil
	}
	data, err := io.ReadAll(io.LimitReader(stdin, maxStdinBytes+1))
	if err != nil {
		return "", fmt.Errorf("reading stdin: %w", err)
	}
	if len(data) > maxStdinBytes {
		return "", fmt.Errorf("value exceeds %d bytes", secret.MaxValueBytes)
	}
	value := strings.TrimSuffix(string(data), "\n")
	return strings.TrimSuffix(value, "\r"), nil
}

// --- keys ---

func keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a base64 encryption key for AES_ENCRYPTION_KEY",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := crypto.GenerateKey()
			if err != nil {
				return err
			}
			printResult(map[string]any{"key": key})
			return nil
		},
	}
}

// --- config ---

func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Manage CLI configuration"}

	setAddr := &cobra.Command{
		Use:   "set-address <url>",
		Short: "Persist the server address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.Address = args[0]
			if err := saveConfig(); err != nil {
				return fmt.Errorf("saving config: %w", err)
			}
			printSuccess("Address saved to " + configPath())
			return nil
		},
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective CLI configuration",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			printResult(map[string]any{
				"address":     serverAddress(),
				"tls_ca_cert": caCertPath(),
				"file":        configPath(),
			})
		},
	}

	cmd.AddCommand(setAddr, show)
	return cmd
}

// --- database ---

func databaseFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().String("database-url", os.Getenv("DATABASE_URL"), "PostgreSQL URL (default $DATABASE_URL)")
	cmd.PersistentFlags().String("migrations-dir", "migrations", "Directory holding migration files")
}

func databaseURL(cmd *cobra.Command) (string, error) {
	dbURL, _ := cmd.Flags().GetString("database-url")
	if dbURL == "" {
		return "", fmt.Errorf("--database-url or DATABASE_URL is required")
	}
	return dbURL, nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "migrate", Short: "Manage the database schema"}
	databaseFlags(cmd)

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dbURL, err := databaseURL(cmd)
			if err != nil {
				return err
			}
			dir, _ := cmd.Flags().GetString("migrations-dir")
			if err := storage.RunMigrations(dbURL, dir); err != nil {
				return err
			}
			printSuccess("Migrations applied")
			return nil
		},
	}

	down := &cobra.Command{
		Use:   "down [steps]",
		Short: "Revert migrations (default 1)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dbURL, err := databaseURL(cmd)
			if err != nil {
				return err
			}
			steps := 1
			if len(args) == 1 {
				if steps, err = strconv.Atoi(args[0]); err != nil {
					return fmt.Errorf("invalid steps %q: %w", args[0], err)
				}
			}
			dir, _ := cmd.Flags().GetString("migrations-dir")
			if err := storage.RollbackMigrations(dbURL, dir, steps); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Reverted %d migration(s)", steps))
			return nil
		},
	}

	version := &cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dbURL, err := databaseURL(cmd)
			if err != nil {
				return err
			}
			dir, _ := cmd.Flags().GetString("migrations-dir")
			v, dirty, err := storage.MigrationVersion(dbURL, dir)
			if err != nil {
				return err
			}
			printResult(map[string]any{"version": v, "dirty": dirty})
			return nil
		},
	}

	cmd.AddCommand(up, down, version)
	return cmd
}

func sweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete claimed and expired secrets once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dbURL, err := databaseURL(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()

			store, err := storage.NewPostgresBackend(ctx, dbURL, storage.WithMaxConns(1))
			if err != nil {
				return err
			}
			defer store.Close()

			deleted, err := sweep.New(store, 0, nil).SweepOnce(ctx)
			if err != nil {
				return err
			}
			pending, err := store.CountPending(ctx, time.Now())
			if err != nil {
				return err
			}
			printResult(map[string]any{"deleted": deleted, "pending": pending})
			return nil
		},
	}
	databaseFlags(cmd)
	return cmd
}
