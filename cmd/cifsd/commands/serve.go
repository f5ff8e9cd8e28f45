package commands

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/opencifsd/cifsd/internal/adminapi"
	"github.com/opencifsd/cifsd/internal/cifs/dispatch"
	"github.com/opencifsd/cifsd/internal/cifs/durable"
	"github.com/opencifsd/cifsd/internal/cifs/secdesc"
	"github.com/opencifsd/cifsd/internal/config"
	"github.com/opencifsd/cifsd/internal/logger"
	"github.com/opencifsd/cifsd/internal/metrics"
	"github.com/opencifsd/cifsd/internal/ntlm"
)

var resumeDurableState bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the cifsd server",
	Long: `Run the cifsd SMB1/CIFS server in the foreground until interrupted.

Examples:
  cifsd serve
  cifsd serve --config /etc/cifsd/config.yaml
  cifsd serve --resume-durable-state`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&resumeDurableState, "resume-durable-state", false,
		"Preserve the on-disk durable handle table across a clean restart instead of wiping it")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}
	if resumeDurableState {
		cfg.Durable.ResumeDurableState = true
	}

	if err := initLogger(cfg); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var registry *prometheus.Registry
	if cfg.Metrics.Enabled {
		registry = metrics.Enable()
	}

	idmap := secdesc.NewLocalIDMap(cfg.Global.MachineSID[0], cfg.Global.MachineSID[1], cfg.Global.MachineSID[2])

	users, err := config.NewUserStore(cfg.Users)
	if err != nil {
		return fmt.Errorf("failed to load user table: %w", err)
	}

	durableTable, err := openDurableTable(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = durableTable.Close() }()

	srv := dispatch.NewServer(cfg, idmap, durableTable)

	listener, err := net.Listen("tcp", cfg.Global.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", cfg.Global.ListenAddr, err)
	}

	logger.Info("cifsd listening", "addr", cfg.Global.ListenAddr, "shares", len(cfg.Shares))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
		_ = listener.Close()
	}()

	if cfg.Admin.Enabled {
		adminSrv, err := adminapi.NewServer(cfg, srv, registry)
		if err != nil {
			return fmt.Errorf("failed to start admin api: %w", err)
		}
		go func() {
			if err := adminSrv.Start(ctx); err != nil {
				logger.Error("admin api stopped", "error", err)
			}
		}()
	}

	return acceptLoop(ctx, listener, srv, users)
}

func acceptLoop(ctx context.Context, listener net.Listener, srv *dispatch.Server, users ntlm.CredentialLookup) error {
	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				logger.Warn("accept failed", "error", err)
				continue
			}
		}

		if tcp, ok := conn.(*net.TCPConn); ok {
			_ = tcp.SetNoDelay(true)
		}

		c := dispatch.NewConn(ctx, srv, conn, users)
		go func() {
			if err := c.Serve(); err != nil {
				logger.Debug("connection closed", "error", err)
			}
		}()
	}
}

func openDurableTable(cfg *config.Config) (*durable.Table, error) {
	if !cfg.Durable.ResumeDurableState {
		if err := os.RemoveAll(cfg.Durable.Path); err != nil {
			return nil, fmt.Errorf("failed to clear durable handle store: %w", err)
		}
	}
	table, err := durable.Open(cfg.Durable.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open durable handle store: %w", err)
	}
	return table, nil
}
