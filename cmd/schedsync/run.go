package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rotaworks/schedsync/internal/config"
	"github.com/rotaworks/schedsync/internal/dashboard"
	"github.com/rotaworks/schedsync/internal/engine"
)

var runCmd = &cobra.Command{
	Use:     "run",
	GroupID: "sync",
	Short:   "Keep syncing in the background until interrupted",
	Long: `Scan the shared folder on a timer and whenever a peer saves, merging
changes as they appear.

Conflicts are not resolved here: the engine waits, and 'schedsync sync' in
another terminal is refused until the daemon is stopped. Use the status
feed (--dashboard) to show sync state in an application.

Examples:
  schedsync run -f /mnt/rota -a alice
  schedsync run --dashboard 127.0.0.1:7878`,
	RunE: func(cmd *cobra.Command, args []string) error {
		lock, err := acquireInstanceLock()
		if err != nil {
			return err
		}
		defer func() { _ = lock.Unlock() }()

		fm, codec, err := openFolder()
		if err != nil {
			return err
		}
		eng, err := newEngine(fm, codec)
		if err != nil {
			return err
		}
		log := commandLogger("run")

		unsubscribe := eng.Subscribe(func(ev engine.Event) {
			switch {
			case ev.Err != nil && ev.State == engine.StateError:
				log.Error("sync failed", "error", ev.Err)
			case ev.State == engine.StateAwaitingResolution:
				log.Warn("conflicts need resolution", "conflicts", ev.Conflicts)
			case ev.State == engine.StateIdle && ev.Message != "":
				log.Info(ev.Message, "status", ev.Status)
			}
		})
		defer unsubscribe()

		if cfg.DashboardAddr != "" {
			srv := dashboard.NewServer(dashboard.Config{
				Addr:   cfg.DashboardAddr,
				Logger: logger,
			}, eng)
			if err := srv.Start(); err != nil {
				return err
			}
			defer func() {
				if err := srv.Stop(); err != nil {
					log.Warn("dashboard shutdown failed", "error", err)
				}
			}()
			defer eng.Subscribe(dashboard.NewHandler(srv, logger).OnEvent)()
			fmt.Printf("Status feed: ws://%s/ws\n", srv.GetAddr())
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		fmt.Printf("%s Syncing %s as %s every %s (Ctrl+C to stop)\n",
			renderAccent("🔄"), cfg.Folder, cfg.Author, cfg.PollInterval)
		if err := eng.Run(ctx); err != nil {
			return err
		}

		// A final save so nothing tracked is lost on shutdown.
		if name, err := eng.Save(context.Background()); err != nil {
			return err
		} else if name != "" {
			fmt.Printf("%s Saved %s\n", renderPass("✓"), name)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().Duration("interval", 0, "poll interval (default 30s)")
	runCmd.Flags().Bool("watch", true, "also react to peer file events")
	runCmd.Flags().String("dashboard", "", "serve the status feed on this address")

	for flag, key := range map[string]string{
		"interval":  config.KeyPollInterval,
		"watch":     config.KeyWatch,
		"dashboard": config.KeyDashboardAddr,
	} {
		if err := v.BindPFlag(key, runCmd.Flags().Lookup(flag)); err != nil {
			panic(err)
		}
	}
	rootCmd.AddCommand(runCmd)
}
