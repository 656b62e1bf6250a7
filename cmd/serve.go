package cmd

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Dallasson/lingo-connect-chatrooms/internal/config"
	"github.com/Dallasson/lingo-connect-chatrooms/internal/hub"
	"github.com/Dallasson/lingo-connect-chatrooms/internal/logging"
	"github.com/Dallasson/lingo-connect-chatrooms/internal/server"
)

var flagListenAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the room signaling server",
	Long: `Run the signaling server that hosts room broadcast topics. Clients
subscribe to a room over a websocket and every published event is fanned
out to the room's other subscribers; audio itself flows peer to peer.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func runServer() error {
	logging.InitServer()

	cfg, err := config.Load(config.Options{ListenAddr: flagListenAddr})
	if err != nil {
		return err
	}

	h := hub.NewHub()
	go h.Run()

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      server.NewRouter(h),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 20 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("signaling server listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-quit:
	}

	slog.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVarP(&flagListenAddr, "listen", "l", "", "Listen address (default :8080)")
}
