package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gate as a local HTTP daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := loggerFromViper(cmd.ErrOrStderr())
			rt, err := gateFromViper(ctx, log, nil)
			if err != nil {
				return err
			}
			defer rt.Close()

			addr := strings.TrimSpace(viper.GetString("server.listen"))
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return err
			}
			token := strings.TrimSpace(viper.GetString("server.auth_token"))
			if token == "" && !isLoopback(ln.Addr()) {
				log.Warn("daemon_no_auth_token", "addr", ln.Addr().String())
			}

			srv := &http.Server{
				Handler:           newDaemonServer(rt, token, log).Handler(),
				ReadHeaderTimeout: viper.GetDuration("server.read_header_timeout"),
			}
			log.Info("daemon_listening", "addr", ln.Addr().String(), "auth", token != "", "metrics", rt.Registry != nil)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				log.Info("daemon_shutdown")
				// Blocked /v1/authorize calls fail fast instead of holding Shutdown.
				rt.Pending.Close()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
			return g.Wait()
		},
	}
	cmd.Flags().String("listen", "", "listen address (overrides server.listen)")
	_ = viper.BindPFlag("server.listen", cmd.Flags().Lookup("listen"))
	return cmd
}

func isLoopback(addr net.Addr) bool {
	tcp, ok := addr.(*net.TCPAddr)
	return ok && tcp.IP.IsLoopback()
}
