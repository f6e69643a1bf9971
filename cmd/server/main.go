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

	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrrelay/internal/config"
	"github.com/ryandielhenn/zephyrrelay/internal/telemetry"
	"github.com/ryandielhenn/zephyrrelay/pkg/membership"
	"github.com/ryandielhenn/zephyrrelay/pkg/node"
	"github.com/ryandielhenn/zephyrrelay/pkg/registry"
	"github.com/ryandielhenn/zephyrrelay/pkg/relay"
)

var (
	version = "dev"
	gitSHA  = "unknown"
)

func main() {
	if err := run(); err != nil {
		fatal(err)
	}
}

// fatal prints one diagnostic line and exits non-zero.
func fatal(err error) {
	fmt.Fprintf(os.Stderr, "❗ %v\n", err)
	os.Exit(1)
}

func run() error {
	// 1. Resolve configuration
	if err := config.LoadDotEnv(); err != nil {
		return err
	}
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	log, err := telemetry.NewLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer log.Sync()
	telemetry.RecordBuild(version, gitSHA)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Bind the relay socket
	fmt.Println("binding", cfg.Addr)
	members := membership.New(cfg.MaxMembers)
	srv, err := relay.Listen(cfg.Addr,
		relay.WithMembers(members),
		relay.WithLogger(log),
		relay.WithMaxPacketSize(cfg.MaxPacket),
	)
	if err != nil {
		return fmt.Errorf("could not bind %s: %w", cfg.Addr, err)
	}
	defer srv.Close()
	local := srv.Conn.LocalAddr().String()
	fmt.Println("socket found", local)
	// a wildcard bind is useless to peers; announce the configured address
	advertise := cfg.Advertise(local)

	// 3. Admin HTTP
	if cfg.AdminAddr != "" {
		n := node.NewNode(cfg.ID, advertise, members)
		admin := &http.Server{Addr: cfg.AdminAddr, Handler: n.Mux(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			log.Info("admin listening", zap.String("addr", cfg.AdminAddr))
			if err := admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("admin server failed", zap.Error(err))
			}
		}()
		defer func() {
			shutCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = admin.Shutdown(shutCtx)
		}()
	}

	// 4. Announce in etcd
	if len(cfg.EtcdEndpoints) > 0 {
		log.Info("creating etcd client", zap.Strings("endpoints", cfg.EtcdEndpoints))
		cli, err := registry.NewClient(cfg.EtcdEndpoints, log.Named("etcd"))
		if err != nil {
			return fmt.Errorf("etcd client: %w", err)
		}
		defer cli.Close()

		leaseID, cancel, err := registry.Register(ctx, cli, cfg.ID, advertise, cfg.EtcdTTL)
		if err != nil {
			return err
		}
		log.Info("registered relay",
			zap.String("id", cfg.ID),
			zap.String("addr", advertise),
			zap.Int64("lease", int64(leaseID)))
		defer func() {
			cancel()
			revCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
			defer done()
			_, _ = cli.Revoke(revCtx, leaseID)
		}()
	}

	// 5. Relay until a signal or a receive failure
	if err := srv.Serve(ctx); err != nil {
		return err
	}
	log.Info("relay stopped", zap.Int("members", members.Len()))
	return nil
}
