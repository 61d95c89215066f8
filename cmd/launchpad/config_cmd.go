package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/launchpad/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and fingerprint configuration",
	}
	cmd.AddCommand(newConfigCheckCmd(), newConfigHashCmd(), newConfigShowCmd())
	return cmd
}

func newConfigCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			source := cfg.SourcePath
			if source == "" {
				source = "(defaults)"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config OK: %s\n", source)
			fmt.Fprintf(cmd.OutOrStdout(), "worker: %v (timeout %s)\n", cfg.Worker.Command, cfg.Worker.Timeout)
			fmt.Fprintf(cmd.OutOrStdout(), "api: %s\n", cfg.API.Listen)
			return nil
		},
	}
}

func newConfigHashCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hash",
		Short: "Print the BLAKE3 fingerprint of the configuration file",
		Long: `Print the BLAKE3 fingerprint of the configuration file.

With --write the digest is stored in <config>.b3; later loads refuse a file
that no longer matches it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := resolveConfigPath(cmd)
			if path == "" {
				return errors.New("no configuration file found; pass --config")
			}
			if write, _ := cmd.Flags().GetBool("write"); write {
				// Parse first so a broken file is never sealed.
				data, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("read config: %w", err)
				}
				cfg, err := config.Parse(data)
				if err == nil {
					err = config.Validate(cfg)
				}
				if err != nil {
					return fmt.Errorf("refusing to hash invalid config: %w", err)
				}
				hash, sidecar, err := config.WriteSidecar(path)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\nwrote %s\n", hash, path, sidecar)
				return nil
			}
			hash, err := config.ComputeBlake3Hash(path)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", hash, path)
			return nil
		},
	}
	cmd.Flags().Bool("write", false, "Write the digest to <config>.b3")
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.API.APIKey != "" {
				cfg.API.APIKey = "********"
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(cfg); err != nil {
				return err
			}
			return enc.Close()
		},
	}
}
