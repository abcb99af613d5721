// Copyright 2024 The Corestream Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command corestream starts a single corestream process: the barrier
// manager driving the create-mview progress tracker, and the schema
// cache and diagnostics registry a hash-aggregation operator's wiring
// hangs off of. Flag parsing uses a cobra root command with a
// pflag-bound Config.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	log "github.com/sirupsen/logrus"

	"github.com/corestream/corestream/internal/config"
	"github.com/corestream/corestream/internal/util/stopper"
	"github.com/corestream/corestream/internal/wiring"
)

func main() {
	cfg := &config.Config{}

	root := &cobra.Command{
		Use:   "corestream",
		Short: "Create-MV progress tracking and hash-aggregation operator runtime",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}
	cfg.Bind(root.Flags())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := root.ExecuteContext(ctx); err != nil {
		log.WithError(err).Fatal("corestream exited with error")
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	if err := cfg.Preflight(); err != nil {
		return err
	}

	stp := stopper.WithContext(ctx)
	proc, cleanup, err := wiring.Start(ctx, cfg, stp)
	if err != nil {
		return err
	}
	defer cleanup()

	log.WithFields(log.Fields{
		"bind-addr": cfg.BindAddr,
		"healthy":   proc.Diagnostics.Healthy(ctx),
	}).Info("corestream started")

	<-stp.Done()
	if err := stp.Stop(); err != nil {
		log.WithError(err).Warn("corestream stopped with error")
		return err
	}
	return nil
}
