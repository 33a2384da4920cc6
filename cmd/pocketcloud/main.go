package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"pocketcloud/internal/app"
	"pocketcloud/internal/config"
	"pocketcloud/internal/integrity"
	"pocketcloud/internal/snapshot"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// withApp reads the config, creates an App, runs fn, and closes the App.
// operation identifies the CLI command being run (e.g. "BackupCreate").
func withApp(operation string, fn func(a *app.App) error) error {
	defaults, err := app.GetDefaults()
	if err != nil {
		return fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}

	a, err := app.NewApp(context.Background(), cfg, operation)
	if err != nil {
		return fmt.Errorf("initializing app: %w", err)
	}
	defer a.Close()

	if err := fn(a); err != nil {
		a.Fail()
		return err
	}
	return nil
}

var rootCmd = &cobra.Command{
	Use:   "pocketcloud",
	Short: "Self-hosted file storage: snapshots, restore, and integrity",
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
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		deviceName, err := os.Hostname()
		if err != nil {
			deviceName = "pocketcloud-device"
		}

		cfg := config.NewConfig(deviceName, defaults["base_dir"])
		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Device Name: %s\n", deviceName)
		fmt.Printf("Base Dir:    %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Device Name:  %s\n", cfg.DeviceName)
		fmt.Printf("Base Dir:     %s\n", cfg.BaseDir)
		fmt.Printf("Storage Root: %s\n", cfg.StorageRoot)
		fmt.Printf("Destination:  %s (%s)\n", cfg.Destination.Name, cfg.Destination.Type)
		return nil
	},
}

var configKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage encryption keys",
}

var configKeysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the encryption key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		passphrase, err := readPassphrase("Passphrase for private key: ")
		if err != nil {
			return err
		}
		confirm, err := readPassphrase("Repeat passphrase: ")
		if err != nil {
			return err
		}
		if passphrase != confirm {
			return fmt.Errorf("passphrases do not match")
		}

		return withApp("SetupCrypto", func(a *app.App) error {
			if err := a.SetupCrypto(passphrase); err != nil {
				return fmt.Errorf("generating keys: %w", err)
			}
			fmt.Println("Encryption keys generated.")
			return nil
		})
	},
}

// backup command
var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Produce and manage backup archives",
}

var backupCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Produce a backup archive",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, _ := cmd.Flags().GetString("out")
		push, _ := cmd.Flags().GetBool("push")

		if (out == "" && !push) || (out != "" && push) {
			return fmt.Errorf("exactly one of --out or --push is required")
		}

		return withApp("BackupCreate", func(a *app.App) error {
			if push {
				name := fmt.Sprintf("pocketcloud-%s.tar", time.Now().UTC().Format("20060102T150405Z"))
				manifest, err := a.PushBackup(cmd.Context(), name)
				if err != nil {
					return fmt.Errorf("backup failed: %w", err)
				}
				fmt.Printf("Pushed %s: %d file(s), %d bytes, checksum %s\n",
					name, manifest.FileCount, manifest.TotalEncryptedSize, manifest.Checksum[:12])
				return nil
			}

			f, err := os.Create(out)
			if err != nil {
				return fmt.Errorf("creating archive file: %w", err)
			}
			defer f.Close()

			manifest, err := a.ProduceBackup(f)
			if err != nil {
				os.Remove(out)
				return fmt.Errorf("backup failed: %w", err)
			}
			fmt.Printf("Wrote %s: %d file(s), %d bytes, checksum %s\n",
				out, manifest.FileCount, manifest.TotalEncryptedSize, manifest.Checksum[:12])
			return nil
		})
	},
}

var backupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List archives at the configured destination",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp("BackupList", func(a *app.App) error {
			archives, err := a.ListArchives(cmd.Context())
			if err != nil {
				return err
			}
			if len(archives) == 0 {
				fmt.Println("No archives stored.")
				return nil
			}
			for _, archive := range archives {
				fmt.Printf("%s  %12d  %s\n",
					archive.LastModified.Format("2006-01-02 15:04:05"),
					archive.Size,
					archive.Name,
				)
			}
			return nil
		})
	},
}

var backupFetchCmd = &cobra.Command{
	Use:   "fetch NAME",
	Short: "Download an archive from the destination for inspection or restore",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp("BackupFetch", func(a *app.App) error {
			path, err := a.FetchArchive(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("fetching archive: %w", err)
			}
			fmt.Printf("Fetched %s to %s\n", args[0], path)
			return nil
		})
	},
}

// restore command
var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Validate and restore backup archives",
}

var restorePreviewCmd = &cobra.Command{
	Use:   "preview ARCHIVE",
	Short: "Validate an archive without touching live state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp("RestorePreview", func(a *app.App) error {
			result, err := a.PreviewRestore(args[0])
			if err != nil {
				return fmt.Errorf("validation rejected the archive: %w", err)
			}

			m := result.Manifest
			fmt.Printf("Archive is valid.\n")
			fmt.Printf("Format version:  %s (producer %s)\n", m.FormatVersion, m.ProducerVersion)
			fmt.Printf("Created at:      %s\n", m.CreatedAt.Format("2006-01-02 15:04:05"))
			fmt.Printf("Encrypted files: %d (%d bytes)\n", result.EncryptedFileCount, m.TotalEncryptedSize)
			if result.MigrationRequired {
				fmt.Println("Note: archive uses an older format; migrations will run on restore.")
			}
			return nil
		})
	},
}

var restoreConfirmCmd = &cobra.Command{
	Use:   "confirm ARCHIVE",
	Short: "Replace live state with a validated archive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("This replaces ALL live data with the archive contents.")
		fmt.Printf("Type %s to proceed: ", app.ConfirmationToken)

		reader := bufio.NewReader(os.Stdin)
		token, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("reading confirmation: %w", err)
		}
		token = strings.TrimSpace(token)

		return withApp("RestoreConfirm", func(a *app.App) error {
			outcome, err := a.ConfirmRestore(args[0], token)
			if err != nil {
				return describeRestoreFailure(err)
			}

			fmt.Printf("Restore complete: %d file(s) restored.\n", outcome.FilesRestored)
			if outcome.MigrationRequired {
				fmt.Println("Record store migrated from an older format.")
			}
			return nil
		})
	},
}

// describeRestoreFailure maps the three restore outcomes onto distinct
// operator-facing messages. They must never read identically.
func describeRestoreFailure(err error) error {
	var vErr *snapshot.ValidationError
	var rbErr *snapshot.RolledBackError
	var failure *snapshot.RollbackFailure

	switch {
	case errors.As(err, &failure):
		return fmt.Errorf("FATAL: restore failed AND rollback failed; live state needs manual recovery from %s: %w",
			failure.RollbackDir, err)
	case errors.As(err, &rbErr):
		return fmt.Errorf("restore failed and was rolled back; previous state is intact: %w", rbErr.Cause)
	case errors.As(err, &vErr):
		return fmt.Errorf("validation rejected the archive; nothing was changed: %w", err)
	default:
		return err
	}
}

// scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan stored files for corruption",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp("Scan", func(a *app.App) error {
			report, err := a.ScanIntegrity()
			if err != nil {
				return fmt.Errorf("scan failed: %w", err)
			}

			fmt.Printf("Checked %d file(s).\n", report.FilesChecked)
			if len(report.Corrupted) == 0 {
				fmt.Println("No corruption found.")
				return nil
			}
			for _, c := range report.Corrupted {
				fmt.Printf("CORRUPT  %s  %s\n", c.FileID, c.Reason)
			}
			fmt.Printf("%d corrupted file(s) flagged. Inspect and purge with: pocketcloud purge ID\n",
				len(report.Corrupted))
			return nil
		})
	},
}

// dedupe command
var dedupeCmd = &cobra.Command{
	Use:   "dedupe",
	Short: "Find and resolve duplicate files",
}

var dedupeListCmd = &cobra.Command{
	Use:   "list USER",
	Short: "List duplicate groups for a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp("DedupeList", func(a *app.App) error {
			groups, err := a.FindDuplicates(args[0])
			if err != nil {
				return err
			}
			if len(groups) == 0 {
				fmt.Println("No duplicates found.")
				return nil
			}

			var wasted int64
			for _, g := range groups {
				fmt.Printf("%s  %d copies, %d bytes each, %d bytes wasted\n",
					g.ContentHash[:12], len(g.FileIDs), g.PerFileSize, g.WastedSpace)
				wasted += g.WastedSpace
			}
			fmt.Printf("Total wasted: %d bytes across %d group(s)\n", wasted, len(groups))
			return nil
		})
	},
}

var dedupeResolveCmd = &cobra.Command{
	Use:   "resolve USER",
	Short: "Trash redundant copies, keeping one per group",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		keep, _ := cmd.Flags().GetString("keep")

		var strategy integrity.Strategy
		switch keep {
		case "oldest":
			strategy = integrity.KeepOldest
		case "newest":
			strategy = integrity.KeepNewest
		default:
			return fmt.Errorf("--keep must be oldest or newest, got %q", keep)
		}

		return withApp("DedupeResolve", func(a *app.App) error {
			trashed, err := a.ResolveDuplicates(args[0], strategy)
			if err != nil {
				return err
			}
			fmt.Printf("Moved %d duplicate(s) to trash.\n", trashed)
			return nil
		})
	},
}

// purge command
var purgeCmd = &cobra.Command{
	Use:   "purge ID",
	Short: "Remove a corrupted file, its record, and its evidence",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp("Purge", func(a *app.App) error {
			if err := a.PurgeCorrupted(args[0]); err != nil {
				return fmt.Errorf("purge failed: %w", err)
			}
			fmt.Printf("Purged %s\n", args[0])
			return nil
		})
	},
}

// readPassphrase prompts on stderr and reads without echo.
func readPassphrase(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	data, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(data), nil
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configKeysCmd)
	configKeysCmd.AddCommand(configKeysInitCmd)

	// backup subcommands
	backupCmd.AddCommand(backupCreateCmd)
	backupCreateCmd.Flags().StringP("out", "o", "", "Write the archive to this file")
	backupCreateCmd.Flags().BoolP("push", "p", false, "Push the archive to the configured destination")
	backupCmd.AddCommand(backupListCmd)
	backupCmd.AddCommand(backupFetchCmd)

	// restore subcommands
	restoreCmd.AddCommand(restorePreviewCmd)
	restoreCmd.AddCommand(restoreConfirmCmd)

	// dedupe subcommands
	dedupeCmd.AddCommand(dedupeListCmd)
	dedupeCmd.AddCommand(dedupeResolveCmd)
	dedupeResolveCmd.Flags().String("keep", "oldest", "Which copy to keep: oldest or newest")

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(dedupeCmd)
	rootCmd.AddCommand(purgeCmd)
}
