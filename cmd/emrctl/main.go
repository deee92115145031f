// Command emrctl runs one-shot maintenance and license key tasks against the EMR database.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"emrcore/internal/app"
	"emrcore/internal/config"
	"emrcore/internal/service"
	"emrcore/pkg/licensekey"
	"emrcore/pkg/logger"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "emrctl",
		Short:        "EMR core maintenance tool",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("env-file", "configs/.env", "Optional .env file")

	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(usageCmd())
	rootCmd.AddCommand(licensesCmd())
	rootCmd.AddCommand(keysCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

// withApp loads configuration, wires services and runs fn.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	envFile, _ := cmd.Flags().GetString("env-file")
	cfg, err := config.Load(envFile)
	if err != nil {
		return err
	}
	logger.Init(cfg.Log.Level, "console")

	ctx := cmd.Context()
	a, err := app.New(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Create default roles and permissions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				if err := a.Bootstrap(ctx); err != nil {
					return err
				}
				fmt.Println("Roles and permissions seeded.")
				return nil
			})
		},
	}
}

func usageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "License usage counters",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "reset-monthly",
		Short: "Zero monthly counters whose period started before this month",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				n, err := a.Licenses.ResetMonthlyUsage(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("Reset %d usage counter(s).\n", n)
				return nil
			})
		},
	})
	return cmd
}

func licensesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "licenses",
		Short: "License lifecycle",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "expire",
		Short: "Mark licenses past their expiry date as expired",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				n, err := a.Licenses.ExpireOverdueLicenses(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("Expired %d license(s).\n", n)
				return nil
			})
		},
	})
	return cmd
}

func keysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "License key tools",
	}

	var (
		count    int
		strategy string
		opts     licensekey.Options
	)
	generateCmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate keys that are unique against the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				keys, err := a.Licenses.GenerateKeys(ctx, service.GenerateKeysRequest{
					KeyRequest: service.KeyRequest{Strategy: strategy, Options: opts},
					Count:      count,
				})
				if err != nil {
					return err
				}
				return printJSON(keys)
			})
		},
	}
	generateCmd.Flags().IntVarP(&count, "count", "n", 1, "Number of keys")
	generateCmd.Flags().StringVar(&strategy, "strategy", "", "standard, compact, segmented or custom")
	generateCmd.Flags().StringVar(&opts.Prefix, "prefix", "", "Key prefix")
	generateCmd.Flags().IntVar(&opts.Segments, "segments", 0, "Segment count")
	generateCmd.Flags().IntVar(&opts.SegmentLength, "segment-length", 0, "Characters per segment")
	generateCmd.Flags().IntVar(&opts.Length, "length", 0, "Body length for compact keys")
	generateCmd.Flags().StringVar(&opts.Format, "format", "", "Template for custom keys, e.g. {PREFIX}-{YEAR}-{RANDOM:6}")
	cmd.AddCommand(generateCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "parse KEY",
		Short: "Split a key into prefix and segments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return printJSON(licensekey.Parse(args[0]))
		},
	})
	return cmd
}
