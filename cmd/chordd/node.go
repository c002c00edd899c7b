package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zde37/chordring/internal/api"
	"github.com/zde37/chordring/internal/chord"
	"github.com/zde37/chordring/internal/transport"
	"github.com/zde37/chordring/pkg"
	"github.com/zde37/chordring/pkg/config"
	"github.com/zde37/chordring/pkg/hash"
	"github.com/zde37/chordring/pkg/store/postgres"
)

const leaveTimeout = 30 * time.Second

// daemon holds the running components of one node.
type daemon struct {
	node       *chord.ChordNode
	ring       *chord.Ring
	grpcServer *transport.GRPCServer
	grpcClient *transport.GRPCClient
	httpServer *api.Server
	logger     *pkg.Logger
}

func runNode(cmd *cobra.Command, opts *daemonOptions) error {
	cfg := opts.cfg

	logger, err := newLogger(opts)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := startDaemon(ctx, cfg, logger)
	if err != nil {
		return err
	}

	if opts.interactive {
		err = runConsole(ctx, d, cmd.OutOrStdout())
	} else {
		logger.Info("Chord node is ready", pkg.Fields{"node_id": d.node.Address().ShortID()})
		<-ctx.Done()
		logger.Info("Received shutdown signal", nil)
	}

	d.shutdown(true)
	logger.Info("Chord node shutdown complete", nil)
	return err
}

// startDaemon wires storage, transport and the HTTP API around a node and
// creates or joins the ring.
func startDaemon(ctx context.Context, cfg *config.Config, logger *pkg.Logger) (*daemon, error) {
	logger.Info("Starting Chord node", pkg.Fields{
		"host":      cfg.Host,
		"port":      cfg.Port,
		"http_port": cfg.HTTPPort,
		"storage":   cfg.Storage.Backend,
	})

	d := &daemon{logger: logger}
	d.grpcClient = transport.NewGRPCClient(logger, cfg.AuthToken, cfg.RPCTimeout)

	nodeOpts := []chord.Option{chord.WithRemote(d.grpcClient)}
	var durable *postgres.Store
	if cfg.Storage.Backend == config.StoragePostgres {
		space, err := hash.NewSpace(cfg.M)
		if err != nil {
			return nil, err
		}
		primary, replicas, err := postgres.OpenNodeStores(ctx, cfg.Storage.DatabaseURL, cfg.Storage.Table, space)
		if err != nil {
			d.grpcClient.Close()
			return nil, fmt.Errorf("failed to open postgres storage: %w", err)
		}
		durable = primary
		nodeOpts = append(nodeOpts, chord.WithStores(primary, replicas))
	}

	node, err := chord.NewChordNode(cfg, logger, nodeOpts...)
	if err != nil {
		d.grpcClient.Close()
		if durable != nil {
			// Both stores share this connection pool
			durable.Close()
		}
		return nil, fmt.Errorf("failed to create Chord node: %w", err)
	}
	d.node = node
	d.ring = chord.NewRing(node)

	d.grpcServer, err = transport.NewGRPCServer(node, cfg.Address(), cfg.AuthToken, logger)
	if err != nil {
		d.shutdown(false)
		return nil, fmt.Errorf("failed to create gRPC server: %w", err)
	}
	if err := d.grpcServer.Start(); err != nil {
		d.grpcServer = nil
		d.shutdown(false)
		return nil, fmt.Errorf("failed to start gRPC server: %w", err)
	}

	if cfg.HTTPPort > 0 {
		d.httpServer, err = api.NewServer(d.ring, 3*cfg.RPCTimeout, logger)
		if err != nil {
			d.shutdown(false)
			return nil, fmt.Errorf("failed to create HTTP API server: %w", err)
		}
		node.SetBroadcaster(d.httpServer.Hub())
		if err := d.httpServer.Start(cfg.HTTPPort); err != nil {
			d.httpServer = nil
			d.shutdown(false)
			return nil, fmt.Errorf("failed to start HTTP API server: %w", err)
		}
	}

	if len(cfg.BootstrapNodes) == 0 {
		err = d.ring.Create()
	} else {
		joinCtx, cancel := context.WithTimeout(ctx, joinTimeout(cfg))
		err = d.ring.Join(joinCtx, cfg.BootstrapNodes...)
		cancel()
	}
	if err != nil {
		d.shutdown(false)
		return nil, fmt.Errorf("failed to enter ring: %w", err)
	}

	logger.Info("Node is part of the ring", pkg.Fields{
		"node_id":   node.Address().ShortID(),
		"successor": node.Successor().Address(),
	})
	return d, nil
}

// joinTimeout leaves room for a lookup and a key handover per bootstrap node.
func joinTimeout(cfg *config.Config) time.Duration {
	return time.Duration(len(cfg.BootstrapNodes)*(cfg.LookupHopLimit()+4)) * cfg.RPCTimeout
}

// shutdown stops every started component. A graceful shutdown first leaves
// the ring so the successor takes over the node's keys.
func (d *daemon) shutdown(graceful bool) {
	d.logger.Info("Starting shutdown", pkg.Fields{"graceful": graceful})

	if graceful && d.node != nil && d.node.State().Serving() {
		ctx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
		if err := d.ring.Leave(ctx); err != nil {
			d.logger.Warn("Leave completed with errors", pkg.Fields{"error": err})
		}
		cancel()
	}

	if d.httpServer != nil {
		if err := d.httpServer.Stop(); err != nil {
			d.logger.Error("Error stopping HTTP server", pkg.Fields{"error": err})
		}
	}

	if d.grpcServer != nil {
		if err := d.grpcServer.Stop(); err != nil {
			d.logger.Error("Error stopping gRPC server", pkg.Fields{"error": err})
		}
	}

	if d.node != nil {
		if err := d.node.Shutdown(); err != nil {
			d.logger.Error("Error shutting down Chord node", pkg.Fields{"error": err})
		}
	}

	if err := d.grpcClient.Close(); err != nil {
		d.logger.Error("Error closing gRPC client", pkg.Fields{"error": err})
	}
}
