package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/RaikyD/vin-report-service/internal/config"
	"github.com/RaikyD/vin-report-service/internal/domain"
	"github.com/RaikyD/vin-report-service/internal/extract"
	"github.com/RaikyD/vin-report-service/internal/kafka"
	"github.com/RaikyD/vin-report-service/internal/migrate"
	"github.com/RaikyD/vin-report-service/internal/report"
	"github.com/RaikyD/vin-report-service/internal/repository"
	"github.com/RaikyD/vin-report-service/internal/vindecoder"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "vinreportctl",
		Short:         "Operator tooling for the VIN report service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(extractCmd())
	rootCmd.AddCommand(vinCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(resendCmd())
	rootCmd.AddCommand(journalCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func extractCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "extract [file]",
		Short: "Run VIN, email and order key extraction on a webhook payload (stdin when no file)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var in io.Reader = cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			data, err := io.ReadAll(in)
			if err != nil {
				return err
			}

			fields, err := extract.ExtractJSON(data)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "payload is not valid JSON: %v\n", err)
			}
			return printJSON(cmd, map[string]any{
				"fields":    fields,
				"complete":  fields.Complete(),
				"generated": fields.Generated(),
			})
		},
	}
}

func vinCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "vin [raw]",
		Short: "Normalize a VIN and check its shape",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			vin := extract.NormalizeVIN(args[0])
			return printJSON(cmd, map[string]any{
				"input":      args[0],
				"normalized": vin,
				"valid":      extract.LooksLikeVIN(vin),
			})
		},
	}
}

func reportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report [vin]",
		Short: "Fetch a vehicle report from the provider without mailing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			if cfg.VINDECODER_API_KEY == "" || cfg.VINDECODER_SECRET_KEY == "" {
				return errors.New("VINDECODER_API_KEY and VINDECODER_SECRET_KEY must be set")
			}
			vin := extract.NormalizeVIN(args[0])
			if !extract.LooksLikeVIN(vin) {
				return fmt.Errorf("invalid vin %q", args[0])
			}

			a := report.NewAssembler(vindecoder.NewClient(vindecoder.Config{
				BaseURL:   cfg.VINDECODER_BASE_URL,
				APIKey:    cfg.VINDECODER_API_KEY,
				SecretKey: cfg.VINDECODER_SECRET_KEY,
				Timeout:   cfg.VINDECODER_TIMEOUT,
			}))
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			preview, _ := cmd.Flags().GetBool("preview")
			if preview {
				s, err := a.Preview(ctx, vin)
				if err != nil {
					return err
				}
				return printJSON(cmd, s)
			}

			r, err := a.Build(ctx, vin)
			if err != nil {
				return err
			}
			if path, _ := cmd.Flags().GetString("html"); path != "" {
				html, err := report.RenderHTML(r)
				if err != nil {
					return err
				}
				if err := os.WriteFile(path, html, 0o644); err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "report html written to %s\n", path)
			}
			return printJSON(cmd, r)
		},
	}
	cmd.Flags().BoolP("preview", "p", false, "Decode only, no premium checks")
	cmd.Flags().String("html", "", "Also write the rendered HTML body to this file")
	return cmd
}

func resendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resend",
		Short: "Queue a report resend through Kafka",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			if cfg.KAFKA_BROKERS == "" {
				return errors.New("KAFKA_BROKERS must be set")
			}

			var c domain.ResendCommand
			c.VIN, _ = cmd.Flags().GetString("vin")
			c.Email, _ = cmd.Flags().GetString("email")
			c.OrderKey, _ = cmd.Flags().GetString("order-key")
			c.VIN = extract.NormalizeVIN(c.VIN)
			if !extract.LooksLikeVIN(c.VIN) || c.Email == "" {
				return errors.New("--vin must be a valid VIN and --email must be set")
			}

			prod := kafka.NewProducer(cfg.KAFKA_BROKERS, cfg.KAFKA_EVENTS_TOPIC, cfg.KAFKA_RESEND_TOPIC)
			defer prod.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			if err := prod.PublishResend(ctx, c); err != nil {
				return fmt.Errorf("publish resend: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "resend queued on %s for %s\n", cfg.KAFKA_RESEND_TOPIC, c.VIN)
			return nil
		},
	}
	cmd.Flags().String("vin", "", "Vehicle identification number")
	cmd.Flags().String("email", "", "Recipient email")
	cmd.Flags().String("order-key", "", "Order key to record the resend under")
	return cmd
}

func journalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal [order-key]",
		Short: "Show delivery journal entries (recent ones when no key is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			if cfg.DB_STRING == "" {
				return errors.New("DB_STRING must be set")
			}
			pool, err := repository.Connect(cmd.Context(), cfg.DB_STRING)
			if err != nil {
				return err
			}
			defer pool.Close()
			repo := repository.NewDeliveryRepository(pool)

			if len(args) == 1 {
				rec, err := repo.GetByOrderKey(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if rec == nil {
					return fmt.Errorf("order %q not found", args[0])
				}
				return printJSON(cmd, rec)
			}

			limit, _ := cmd.Flags().GetInt("limit")
			recs, err := repo.ListRecent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printJSON(cmd, recs)
		},
	}
	cmd.Flags().IntP("limit", "n", 20, "Number of recent entries")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply delivery journal migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			if cfg.DB_STRING == "" {
				return errors.New("DB_STRING must be set")
			}
			return migrate.Up(cfg.DB_STRING)
		},
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
