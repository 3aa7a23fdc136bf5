/*
 * This file is part of Loqa (https://github.com/loqalabs/loqa).
 * Copyright (C) 2025 Loqa Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/loqalabs/loqa-audio-hal/internal/control"
	"github.com/loqalabs/loqa-audio-hal/internal/hal"
	"github.com/spf13/cobra"
)

// connectControl is swapped in tests.
var connectControl = func(url, name string, attempts int) (control.Conn, error) {
	return control.Connect(url, name, attempts, control.DefaultRetryDelay, log.Named("nats"))
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HAL and serve control requests over NATS",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx)
		},
	}
}

func serve(ctx context.Context) error {
	halID := cfg.NATS.HALID
	conn, err := connectControl(cfg.NATS.URL, "audiohal-"+halID, cfg.NATS.ConnectAttempts)
	if err != nil {
		return err
	}

	publisher := control.NewRoutePublisher(conn, halID, log.Named("routing"))
	hw, closeHardware, err := openHardware(hal.WithRouteObserver(publisher.Observe))
	if err != nil {
		conn.Close()
		return err
	}
	defer closeHardware()

	srv := control.NewServer(conn, halID, hw, log.Named("control"))
	if err := srv.Start(); err != nil {
		conn.Close()
		return fmt.Errorf("failed to start control plane: %w", err)
	}

	log.Infow("audio HAL running", "hal_id", halID, "backend", cfg.Driver.Backend)
	<-ctx.Done()
	log.Info("shutting down audio HAL")

	return srv.Close()
}
