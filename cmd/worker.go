/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/absensi-app/apiserver/config"
	"github.com/absensi-app/apiserver/internal/db"
	"github.com/absensi-app/apiserver/internal/mq"
	"github.com/absensi-app/apiserver/internal/services"
	"github.com/absensi-app/apiserver/internal/store"
	"github.com/spf13/cobra"
)

// workerCmd represents the worker command
var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Records attendance events published by the API server",
	Long: `Consumes attendance events from the configured broker and stores them
in the attendance_events table. Usage:

	absensi worker
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadConfig()
		logger := newLogger(cfg.Env)

		if cfg.MQ.Backend == "" {
			return errors.New("worker requires MQ_BACKEND to be set")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		dbConn, err := db.Open(ctx, cfg)
		if err != nil {
			return err
		}
		defer dbConn.Close()

		bus, err := mq.Connect(ctx, cfg.MQ)
		if err != nil {
			return fmt.Errorf("connect broker: %w", err)
		}
		defer bus.Close()

		eventService := services.NewEventService(store.NewEventRepository(dbConn), logger)

		logger.Info("worker started", "backend", cfg.MQ.Backend, "channel", cfg.MQ.AttendanceChannel)
		err = bus.Subscribe(ctx, cfg.MQ.AttendanceChannel, eventService.Handle)
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("consume events: %w", err)
		}
		logger.Info("worker stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
