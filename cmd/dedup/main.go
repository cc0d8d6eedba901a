package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"dedup-go/internal/app"
	"dedup-go/internal/config"
	"dedup-go/internal/server"
)

// shutdownTimeout bounds how long serve waits for in-flight requests.
const shutdownTimeout = 30 * time.Second

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolvePaths returns the default paths with --config applied.
func resolvePaths(cmd *cobra.Command) (app.Paths, error) {
	paths, err := app.DefaultPaths()
	if err != nil {
		return app.Paths{}, fmt.Errorf("getting defaults: %w", err)
	}
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		paths.ConfigPath = path
	}
	return paths, nil
}

// readConfig reads the config file the command points at.
func readConfig(cmd *cobra.Command) (*config.Config, string, error) {
	paths, err := resolvePaths(cmd)
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.ReadFromFile(paths.ConfigPath)
	if err != nil {
		return nil, "", fmt.Errorf("reading config: %w", err)
	}
	return cfg, paths.ConfigPath, nil
}

var rootCmd = &cobra.Command{
	Use:          "dedup",
	Short:        "Block-level deduplicating object store",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		paths, err := resolvePaths(cmd)
		if err != nil {
			return err
		}

		cfg := config.NewConfig(paths.BaseDir)
		if err := config.Init(paths.ConfigPath, cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", paths.ConfigPath)
		fmt.Printf("Base Dir: %s\n", paths.BaseDir)
		fmt.Printf("Log Dir:  %s\n", paths.LogDir())
		fmt.Println("Run 'dedup migrate' before 'dedup serve'.")
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := readConfig(cmd)
		if err != nil {
			return err
		}

		fmt.Printf("Configuration from %s:\n\n", path)
		fmt.Printf("Base Dir:    %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:     %s\n", cfg.LogDir)
		fmt.Printf("Log Level:   %s\n", cfg.LogLevel)
		fmt.Printf("Listen:      %s\n", cfg.ListenAddr)
		fmt.Printf("Addressing:  %s\n", cfg.Addressing.Algorithm)
		fmt.Printf("Database:    %s\n", cfg.Database.Type)
		fmt.Printf("Storage:     %s (compression: %s)\n", cfg.Storage.Type, cfg.Storage.Compression)
		fmt.Printf("Encryption:  %s\n", cfg.Encryption.Type)
		fmt.Printf("Max Block:   %d bytes\n", cfg.API.MaxBlockSize)
		return nil
	},
}

// serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := readConfig(cmd)
		if err != nil {
			return err
		}
		applyServeFlags(cmd.Flags(), cfg)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := app.NewApp(ctx, cfg, "serve")
		if err != nil {
			return fmt.Errorf("initializing app: %w", err)
		}
		defer a.Close()

		srv := &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           server.New(a.Namespace(), a.Logger(), cfg.API),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			a.Logger().Info("listening", "addr", cfg.ListenAddr, "operation", a.Operation().ID)
			errCh <- srv.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			if !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serving: %w", err)
			}
			return nil
		case <-ctx.Done():
		}

		a.Logger().Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down: %w", err)
		}
		return nil
	},
}

// applyServeFlags overrides config values with flags given on the command line.
func applyServeFlags(flags *pflag.FlagSet, cfg *config.Config) {
	if flags.Changed("listen") {
		cfg.ListenAddr, _ = flags.GetString("listen")
	}
	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}
}

// migrate command
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply metadata schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		printSchema, _ := cmd.Flags().GetBool("print-schema")

		cfg, _, err := readConfig(cmd)
		if err != nil {
			return err
		}

		versioned, err := app.Migrate(cfg)
		if err != nil {
			return err
		}
		if !versioned {
			fmt.Printf("Database type %q has no schema to migrate.\n", cfg.Database.Type)
			return nil
		}
		fmt.Println("Schema is up to date.")

		if printSchema {
			schema, err := app.Schema(cfg)
			if err != nil {
				return fmt.Errorf("reading schema: %w", err)
			}
			fmt.Print(schema)
		}
		return nil
	},
}

// keys command
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage encryption keys",
}

var keysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the encryption key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := readConfig(cmd)
		if err != nil {
			return err
		}

		passphrase, err := promptPassphrase()
		if err != nil {
			return err
		}
		if err := app.InitKeys(cfg, passphrase); err != nil {
			return err
		}

		fmt.Printf("Public key:  %s\n", cfg.Encryption.PublicKeyPath)
		fmt.Printf("Private key: %s\n", cfg.Encryption.PrivateKeyPath)
		fmt.Printf("Set %s to the passphrase before running 'dedup serve'.\n", cfg.Encryption.PassphraseEnv)
		return nil
	},
}

// promptPassphrase reads a passphrase twice from the terminal.
func promptPassphrase() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("keys init must be run from a terminal")
	}

	fmt.Fprint(os.Stderr, "Passphrase: ")
	first, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}

	fmt.Fprint(os.Stderr, "Confirm passphrase: ")
	second, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}

	if string(first) != string(second) {
		return "", fmt.Errorf("passphrases do not match")
	}
	return string(first), nil
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// keys subcommands
	keysCmd.AddCommand(keysInitCmd)

	rootCmd.PersistentFlags().StringP("config", "c", "", "Config file (default $DEDUP_CONFIG_PATH or ~/.config/dedup.toml)")

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("listen", "l", "", "Address to listen on (overrides listen_addr)")
	serveCmd.Flags().String("log-level", "", "Log level: debug, info, warn or error")
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.Flags().Bool("print-schema", false, "Print the schema after migrating")
	rootCmd.AddCommand(keysCmd)
}
