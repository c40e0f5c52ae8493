package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/deckexplain/internal/client"
	"github.com/kalambet/deckexplain/internal/config"
	"github.com/kalambet/deckexplain/internal/status"
)

var newAPIClient = func() (*client.Client, error) {
	if serverURL != "" {
		return client.New(serverURL), nil
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return client.New(cfg.BaseURL()), nil
}

// --- upload ---

var uploadCmd = &cobra.Command{
	Use:   "upload <path>",
	Short: "Upload a .pptx or .pdf deck for explanation",
	Long: `Upload a deck and print its uid.

Examples:
  deckexplain upload ./quarterly.pptx
  deckexplain upload ./talk.pdf --email me@example.com --wait`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		email, _ := cmd.Flags().GetString("email")
		wait, _ := cmd.Flags().GetBool("wait")
		interval, _ := cmd.Flags().GetDuration("interval")
		asJSON, _ := cmd.Flags().GetBool("json")

		c, err := newAPIClient()
		if err != nil {
			return err
		}

		uid, err := c.Upload(cmd.Context(), args[0], email)
		if err != nil {
			return err
		}
		printSuccess("Uploaded %s", args[0])
		fmt.Fprintln(cmd.OutOrStdout(), uid)

		if !wait {
			return nil
		}
		return waitAndPrint(cmd.Context(), c, uid, interval, asJSON)
	},
}

func init() {
	uploadCmd.Flags().String("email", "", "attribute the upload to this email")
	uploadCmd.Flags().Bool("wait", false, "wait for the explanation and print it")
	uploadCmd.Flags().Duration("interval", 2*time.Second, "polling interval with --wait")
	uploadCmd.Flags().Bool("json", false, "print the final report as JSON")
}

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status <uid>",
	Short: "Show the status of an upload",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		c, err := newAPIClient()
		if err != nil {
			return err
		}
		rep, err := c.Status(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return showReport(rep, asJSON)
	},
}

func init() {
	statusCmd.Flags().Bool("json", false, "print the report as JSON")
}

// --- latest ---

var latestCmd = &cobra.Command{
	Use:   "latest",
	Short: "Show the most recent upload of a file by a user",
	Long: `Show the most recent upload of a file by a user.

Example:
  deckexplain latest --filename quarterly.pptx --email me@example.com`,
	RunE: func(cmd *cobra.Command, args []string) error {
		filename, _ := cmd.Flags().GetString("filename")
		email, _ := cmd.Flags().GetString("email")
		asJSON, _ := cmd.Flags().GetBool("json")

		if filename == "" || email == "" {
			return fmt.Errorf("--filename and --email are required")
		}

		c, err := newAPIClient()
		if err != nil {
			return err
		}
		rep, err := c.LatestUpload(cmd.Context(), filename, email)
		if err != nil {
			return err
		}
		return showReport(rep, asJSON)
	},
}

func init() {
	latestCmd.Flags().String("filename", "", "original filename of the deck")
	latestCmd.Flags().String("email", "", "email the deck was uploaded with")
	latestCmd.Flags().Bool("json", false, "print the report as JSON")
}

// --- wait ---

var waitCmd = &cobra.Command{
	Use:   "wait <uid>",
	Short: "Poll an upload until it is done or failed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		interval, _ := cmd.Flags().GetDuration("interval")
		timeout, _ := cmd.Flags().GetDuration("timeout")
		asJSON, _ := cmd.Flags().GetBool("json")

		c, err := newAPIClient()
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		return waitAndPrint(ctx, c, args[0], interval, asJSON)
	},
}

func init() {
	waitCmd.Flags().Duration("interval", 2*time.Second, "polling interval")
	waitCmd.Flags().Duration("timeout", 0, "give up after this long (0 waits forever)")
	waitCmd.Flags().Bool("json", false, "print the final report as JSON")
}

func waitAndPrint(ctx context.Context, c *client.Client, uid string, interval time.Duration, asJSON bool) error {
	last := ""
	rep, err := c.WaitDone(ctx, uid, interval, func(r status.Report) {
		if r.Status != last {
			printStep("%s: %s", uid, r.Status)
			last = r.Status
		}
	})
	if errors.Is(err, client.ErrNotFound) {
		return fmt.Errorf("upload %s not found", uid)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("timed out waiting for %s (last status: %s)", uid, rep.Status)
	}
	if err != nil {
		return err
	}
	return showReport(rep, asJSON)
}

func showReport(rep status.Report, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}
	printReport(os.Stdout, rep)
	return nil
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s  %s\n", colorize(colorBold, k.Key), k.Value, colorize(colorCyan, "("+k.EnvVar+")"))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value in the config file.

Secrets (openai.api_key, s3.secret_key) can only be set through the
environment.`,
	Args: cobra.ExactArgs(2),
	ValidArgsFunction: func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		if len(args) == 0 {
			return config.ValidKeys(), cobra.ShellCompDirectiveNoFileComp
		}
		return nil, cobra.ShellCompDirectiveNoFileComp
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
