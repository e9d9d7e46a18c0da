package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	socialhub "github.com/socialhub/socialhub"
	"github.com/spf13/cobra"
)

var (
	watchHookAddr   string
	watchNoRealtime bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Keep the local cache in sync until interrupted",
	Long: "Run the periodic mega sync, listen for realtime sync hints, and optionally\n" +
		"serve a signed sync hook. Stops on Ctrl-C or when the session goes stale.",
	RunE: func(cmd *cobra.Command, args []string) error {
		s := openSession()
		defer s.Close()
		logger := newLogger()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		ctx, cancel := context.WithCancelCause(ctx)
		defer cancel(nil)

		s.hub.On(socialhub.EventSyncComplete, func(_ string, payload any) {
			if st, ok := payload.(socialhub.SyncStats); ok {
				fmt.Printf("%s synced: %d posts, %d users, %d requests, %d notifications\n",
					time.Now().Format(time.TimeOnly), st.Posts, st.Users, st.Requests, st.Notifications)
			}
		})
		s.hub.On(socialhub.EventSyncError, func(_ string, payload any) {
			fmt.Printf("%s sync failed: %v\n", time.Now().Format(time.TimeOnly), payload)
		})
		s.hub.On(socialhub.EventSessionStale, func(string, any) {
			cancel(socialhub.ErrStaleSession)
		})
		s.hub.Start()

		if !watchNoRealtime {
			listener := socialhub.NewRealtimeListener(s.settings.BaseURL, s.hub, socialhub.RealtimeConfig{
				Token:  s.settings.Token,
				Logger: logger,
			})
			listener.OnHint(func(env socialhub.RealtimeEnvelope) {
				logger.Debug("realtime hint", "type", env.Type)
			})
			go func() {
				if err := listener.Run(ctx); err != nil && ctx.Err() == nil {
					logger.Warn("realtime listener stopped", "err", err)
					if errors.Is(err, socialhub.ErrStaleSession) {
						cancel(err)
					}
				}
			}()
		}

		addr := watchHookAddr
		if addr == "" {
			addr = s.config.Hook.Addr
		}
		if addr != "" {
			hook, err := socialhub.NewSyncHook(s.settings.HookSecret, s.hub, logger)
			if err != nil {
				return fmt.Errorf("sync hook: %w", err)
			}
			hook.OnEvent(func(p *socialhub.HookPayload) {
				logger.Debug("sync hook", "event", p.Event)
			})
			srv := &http.Server{Addr: addr, Handler: hook, ReadHeaderTimeout: 5 * time.Second}
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					cancel(fmt.Errorf("sync hook server: %w", err))
				}
			}()
			defer func() {
				shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
				defer done()
				srv.Shutdown(shutdownCtx)
				hook.Wait()
			}()
			fmt.Printf("Sync hook listening on %s\n", addr)
		}

		fmt.Println("Watching for changes. Press Ctrl-C to stop.")
		<-ctx.Done()

		switch cause := context.Cause(ctx); {
		case errors.Is(cause, socialhub.ErrStaleSession):
			s.hub.ClearCurrentUser()
			return fmt.Errorf("session is stale; logged out")
		case errors.Is(cause, context.Canceled):
			return nil
		default:
			return cause
		}
	},
}

func init() {
	watchCmd.Flags().StringVar(&watchHookAddr, "hook-addr", "", "Serve the sync hook on this address (default: hook.addr)")
	watchCmd.Flags().BoolVar(&watchNoRealtime, "no-realtime", false, "Do not open the realtime connection")
	rootCmd.AddCommand(watchCmd)
}
