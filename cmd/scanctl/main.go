// Copyright 2026 The draconis-eyes Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/intronerd12/draconis-eyes/internal/config"
	"github.com/intronerd12/draconis-eyes/scanlite"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var verbose bool

var rootCmd = &cobra.Command{
	Use:          "scanctl",
	Short:        "Capture fruit scans offline and sync them to a scansync server",
	SilenceUsage: true,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, baseDir, err := getDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}
		serverURL, _ := cmd.Flags().GetString("server")
		email, _ := cmd.Flags().GetString("email")

		cfg := config.NewClientConfig(serverURL, baseDir)
		cfg.Principal.Email = email
		if err := config.Init(configPath, cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", configPath)
		fmt.Printf("Server: %s\n", serverURL)
		fmt.Printf("Base Dir: %s\n", baseDir)
		return nil
	},
}

var addCmd = &cobra.Command{
	Use:   "add",
	Short: "Record a scan locally and queue it for sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(verbose)
		if err != nil {
			return err
		}
		defer a.Close()

		rec := scanlite.ScanRecord{}
		rec.ID, _ = cmd.Flags().GetString("id")
		rec.Grade, _ = cmd.Flags().GetString("grade")
		rec.FruitType, _ = cmd.Flags().GetString("fruit")
		rec.Location, _ = cmd.Flags().GetString("location")
		rec.Notes, _ = cmd.Flags().GetString("notes")
		rec.ArtifactPath, _ = cmd.Flags().GetString("image")

		stored, err := a.client.AddScan(cmd.Context(), rec)
		if err != nil {
			return err
		}
		fmt.Printf("Recorded scan %s (grade %s)\n", stored.ID, stored.Grade)

		if noSync, _ := cmd.Flags().GetBool("no-sync"); noSync {
			return nil
		}
		return flushAndReport(cmd.Context(), a)
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List local scans of the configured principal",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(verbose)
		if err != nil {
			return err
		}
		defer a.Close()

		recs, err := a.client.ListScans(cmd.Context())
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tCREATED\tGRADE\tFRUIT\tLOCATION")
		for _, r := range recs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.CreatedAt.Local().Format(time.DateTime), r.Grade, r.FruitType, r.Location)
		}
		return w.Flush()
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete a scan locally and queue the server delete",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(verbose)
		if err != nil {
			return err
		}
		defer a.Close()

		deleted, err := a.client.DeleteScan(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if !deleted {
			fmt.Printf("No scan %s in namespace %s\n", args[0], a.client.Namespace())
			return nil
		}
		fmt.Printf("Deleted scan %s\n", args[0])
		if noSync, _ := cmd.Flags().GetBool("no-sync"); noSync {
			return nil
		}
		return flushAndReport(cmd.Context(), a)
	},
}

var flushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Send pending operations to the server",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(verbose)
		if err != nil {
			return err
		}
		defer a.Close()
		return flushAndReport(cmd.Context(), a)
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show local scan statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(verbose)
		if err != nil {
			return err
		}
		defer a.Close()

		st, err := a.client.Stats(cmd.Context())
		if err != nil {
			return err
		}
		pending, err := a.client.Pending(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Namespace: %s\n", a.client.Namespace())
		fmt.Printf("Scans:     %d\n", st.Total)
		fmt.Printf("Best:      %s\n", st.Best)
		fmt.Printf("Average:   %d%%\n", st.AvgPercent)
		fmt.Printf("Pending:   %d\n", pending)
		return nil
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all local scans of the configured principal",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(verbose)
		if err != nil {
			return err
		}
		defer a.Close()

		artifacts, _ := cmd.Flags().GetBool("artifacts")
		dropPending, _ := cmd.Flags().GetBool("drop-pending")
		if err := a.client.ClearNamespace(cmd.Context(), artifacts, dropPending); err != nil {
			return err
		}
		fmt.Printf("Cleared namespace %s\n", a.client.Namespace())
		return nil
	},
}

func flushAndReport(ctx context.Context, a *app) error {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout()+5*time.Second)
	defer cancel()

	res, err := a.client.Flush(ctx)
	if err != nil {
		return fmt.Errorf("flush failed: %w", err)
	}
	fmt.Printf("Synced %d, remaining %d, dropped %d\n", res.Synced, res.Remaining, res.Dropped)
	return nil
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configInitCmd.Flags().String("server", "http://localhost:8080", "Reconciliation server URL")
	configInitCmd.Flags().String("email", "", "Operator email to act as")

	rootCmd.AddCommand(addCmd)
	addCmd.Flags().String("id", "", "Local scan id (generated when empty)")
	addCmd.Flags().StringP("grade", "g", "", "Grade (A-D, F)")
	addCmd.Flags().String("fruit", "", "Fruit type")
	addCmd.Flags().StringP("location", "l", "", "Location")
	addCmd.Flags().String("notes", "", "Notes")
	addCmd.Flags().StringP("image", "i", "", "Image to attach")
	addCmd.Flags().Bool("no-sync", false, "Do not flush after recording")

	rootCmd.AddCommand(listCmd)

	rootCmd.AddCommand(rmCmd)
	rmCmd.Flags().Bool("no-sync", false, "Do not flush after deleting")

	rootCmd.AddCommand(flushCmd)
	rootCmd.AddCommand(statsCmd)

	rootCmd.AddCommand(clearCmd)
	clearCmd.Flags().Bool("artifacts", false, "Also delete copied images")
	clearCmd.Flags().Bool("drop-pending", false, "Also discard operations not yet synced")
}
