/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jjudge-oj/authserver/config"
	"github.com/jjudge-oj/authserver/internal/mq"
	"github.com/jjudge-oj/authserver/internal/notify"
	"github.com/spf13/cobra"
)

// mailerCmd drains the mail queue into SMTP.
var mailerCmd = &cobra.Command{
	Use:   "mailer",
	Short: "Deliver queued account emails over SMTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadConfig()
		logger := newLogger(cfg)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		queue, err := mq.Open(ctx, cfg.MQ)
		if err != nil {
			return fmt.Errorf("open queue: %w", err)
		}
		defer queue.Close()

		worker := notify.NewWorker(queue, cfg.Mail.Queue, notify.NewSMTPSender(cfg.Mail, logger), logger)
		if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("mail worker: %w", err)
		}
		logger.Info("mail worker stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(mailerCmd)
}
