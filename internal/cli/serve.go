package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/soyeahso/kassa/internal/channel"
	"github.com/soyeahso/kassa/internal/channel/irc"
	"github.com/soyeahso/kassa/internal/gateway"
	"github.com/soyeahso/kassa/internal/hooks"
	"github.com/soyeahso/kassa/internal/retrieval"
	"github.com/soyeahso/kassa/internal/routing"
	"github.com/spf13/cobra"
)

// channelStopTimeout bounds how long shutdown waits for channels to
// disconnect.
const channelStopTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	var (
		port  int
		bind  string
		watch bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway server and configured chat channels",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(true)
			if err != nil {
				return err
			}
			defer a.close()

			if port != 0 {
				a.cfg.Gateway.Port = port
			}
			if bind != "" {
				a.cfg.Gateway.Bind = bind
			}

			svc, err := a.openService()
			if err != nil {
				return err
			}

			channels := channel.NewRegistry(log)
			if a.cfg.Channels.IRC != nil {
				channels.Register(irc.New(*a.cfg.Channels.IRC, log))
			}

			srv := gateway.New(a.cfg, log,
				gateway.WithConfigFile(paths.Config),
				gateway.WithService(svc),
				gateway.WithTools(a.tools),
				gateway.WithChannels(channels),
				gateway.WithHooks(a.hooks),
			)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			eg, ctx := errgroup.WithContext(ctx)
			eg.Go(func() error { return srv.Start(ctx) })

			if channels.Count() > 0 {
				router := routing.NewRouter(channels, svc, a.hooks, routing.Options{Scope: a.cfg.Session.Scope}, log)
				router.Wire(ctx)
				channels.StartAll(ctx)
				log.Info().
					Int("channels", channels.Count()).
					Str("scope", a.cfg.Session.Scope).
					Msg("message routing active")

				eg.Go(func() error {
					<-ctx.Done()
					stopCtx, cancel := context.WithTimeout(context.Background(), channelStopTimeout)
					defer cancel()
					if err := channels.StopAll(stopCtx); err != nil {
						log.Warn().Err(err).Msg("channels did not stop cleanly")
					}
					router.Wait()
					return nil
				})
			}

			if watch {
				w, err := a.knowledgeWatcher(ctx)
				if err != nil {
					return err
				}
				eg.Go(func() error { return w.Run(ctx) })
			}

			return eg.Wait()
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "override gateway port")
	cmd.Flags().StringVar(&bind, "bind", "", "override bind mode (loopback, lan, custom)")
	cmd.Flags().BoolVar(&watch, "watch", false, "sync the knowledge directory now and again whenever it changes")
	return cmd
}

// knowledgeWatcher syncs the knowledge directory once and returns a watcher
// that re-syncs it on change. Every sync emits EventKnowledgeSynced.
func (a *app) knowledgeWatcher(ctx context.Context) (*retrieval.Watcher, error) {
	syncer, err := a.syncer()
	if err != nil {
		return nil, err
	}
	dir := a.knowledgeDir()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating knowledge directory: %w", err)
	}

	synced := func(report *retrieval.SyncReport, err error) {
		if err != nil {
			log.Warn().Err(err).Str("dir", dir).Msg("knowledge sync failed")
			return
		}
		a.hooks.Emit(ctx, hooks.EventKnowledgeSynced, map[string]any{
			"dir":     dir,
			"files":   report.Files,
			"chunks":  report.Chunks,
			"removed": report.Removed,
		})
	}

	report, err := syncer.Sync(ctx, dir)
	synced(report, err)

	w := retrieval.NewWatcher(dir, syncer, 0, log)
	w.OnSync = synced
	return w, nil
}
