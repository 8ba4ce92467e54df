package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/ArCaneSec/watcher/internal/models"
	"github.com/ArCaneSec/watcher/internal/store"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type targetsFile struct {
	Targets []models.TargetInput `yaml:"targets"`
}

func parseTargetsFile(path string) ([]models.TargetInput, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var f targetsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(f.Targets) == 0 {
		return nil, fmt.Errorf("%s has no targets", path)
	}

	return f.Targets, nil
}

func formatErrors(errs models.JSONErrors) string {
	fields := make([]string, 0, len(errs))
	for field, detail := range errs {
		fields = append(fields, fmt.Sprintf("%s: %s", field, detail["error"]))
	}
	sort.Strings(fields)
	return strings.Join(fields, ", ")
}

var addCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a watch target",
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		url, _ := flags.GetString("url")
		name, _ := flags.GetString("name")
		interval, _ := flags.GetInt("interval")
		disabled, _ := flags.GetBool("disabled")

		in := models.TargetInput{URL: url, CheckIntervalSeconds: &interval}
		if name != "" {
			in.Name = &name
		}
		enabled := !disabled
		in.Enabled = &enabled

		if errs := in.Validate(); len(errs) != 0 {
			return fmt.Errorf("invalid target: %s", formatErrors(errs))
		}

		cfg := loadConfig()
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		st, err := openStore(ctx, cfg, true)
		if err != nil {
			return err
		}
		defer st.Close()

		target := in.Target()
		if err := st.CreateTarget(ctx, &target); err != nil {
			return fmt.Errorf("create target: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "[*] Added target #%d %s every %ds.\n", target.ID, target.URL, target.CheckIntervalSeconds)
		signalReload(ctx, cfg)
		return nil
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove",
	Short: "Remove a watch target and its checks",
	RunE: func(cmd *cobra.Command, args []string) error {
		id, _ := cmd.Flags().GetUint("id")
		url, _ := cmd.Flags().GetString("url")
		if (id == 0) == (url == "") {
			return errors.New("provide exactly one of --id or --url")
		}

		cfg := loadConfig()
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		st, err := openStore(ctx, cfg, true)
		if err != nil {
			return err
		}
		defer st.Close()

		if url != "" {
			id, err = findTargetID(ctx, st, url)
			if err != nil {
				return err
			}
		}

		if err := st.DeleteTarget(ctx, id); err != nil {
			return fmt.Errorf("remove target %d: %w", id, err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "[*] Removed target #%d.\n", id)
		signalReload(ctx, cfg)
		return nil
	},
}

func findTargetID(ctx context.Context, st store.Store, url string) (uint, error) {
	targets, err := st.ListTargets(ctx, store.TargetFilter{})
	if err != nil {
		return 0, err
	}

	url = strings.TrimSpace(url)
	for _, t := range targets {
		if t.URL == url {
			return t.ID, nil
		}
	}
	return 0, fmt.Errorf("no target with url %s: %w", url, store.ErrNotFound)
}

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Create targets from a YAML file",
	Long: `Create targets listed in a YAML file. Existing urls are skipped.

  targets:
    - url: https://example.com
      name: example
      interval: 60
      enabled: true`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("file")
		inputs, err := parseTargetsFile(path)
		if err != nil {
			return err
		}

		for i, in := range inputs {
			if errs := in.Validate(); len(errs) != 0 {
				return fmt.Errorf("target %d (%s): %s", i+1, in.URL, formatErrors(errs))
			}
		}

		cfg := loadConfig()
		ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
		defer cancel()

		st, err := openStore(ctx, cfg, true)
		if err != nil {
			return err
		}
		defer st.Close()

		out := cmd.OutOrStdout()
		created, skipped := 0, 0
		for _, in := range inputs {
			target := in.Target()
			err := st.CreateTarget(ctx, &target)
			switch {
			case errors.Is(err, store.ErrDuplicateURL):
				skipped++
				fmt.Fprintf(out, "[~] Skipping %s, already watched.\n", target.URL)
			case err != nil:
				return fmt.Errorf("create %s: %w", target.URL, err)
			default:
				created++
			}
		}

		fmt.Fprintf(out, "[*] Imported %d targets, skipped %d.\n", created, skipped)
		if created > 0 {
			signalReload(ctx, cfg)
		}
		return nil
	},
}

func init() {
	addCmd.Flags().String("url", "", "url to watch (required)")
	addCmd.Flags().String("name", "", "display name")
	addCmd.Flags().Int("interval", models.DefaultCheckInterval, "check interval in seconds")
	addCmd.Flags().Bool("disabled", false, "create the target disabled")
	_ = addCmd.MarkFlagRequired("url")

	removeCmd.Flags().Uint("id", 0, "target id")
	removeCmd.Flags().String("url", "", "target url")

	importCmd.Flags().StringP("file", "f", "", "path to targets yaml (required)")
	_ = importCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(addCmd, removeCmd, importCmd)
}
