package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/CefBoud/monkafka-registry/controller"
	log "github.com/CefBoud/monkafka-registry/logging"
	"github.com/CefBoud/monkafka-registry/zkmigration"
	"github.com/hashicorp/go-metrics"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a registry node until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadConfig(cmd.Flags(), cfgFile)
			if err != nil {
				return err
			}
			log.SetLogLevel(config.LogLevel)
			return serve(config.ZkConnect, config.ZkPrefix, func() (*controller.Controller, error) {
				return controller.NewController(config)
			})
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&cfgFile, "config", "c", "", "config file (yaml, json or toml)")
	flags.String("log-dir", "", "directory for raft and serf state")
	flags.Int("node-id", 0, "broker id of this node")
	flags.Bool("bootstrap", false, "bootstrap a new raft cluster with this node")
	flags.String("raft-id", "", "raft server id (default raft-broker-<node-id>)")
	flags.String("raft-address", "", "raft bind address host:port")
	flags.Bool("dev", false, "single node on in-memory raft, without serf")
	flags.String("serf-address", "", "serf bind address host:port")
	flags.String("serf-join-address", "", "comma separated serf addresses to join")
	flags.StringSlice("listeners", nil, "listeners to advertise, as NAME://host:port")
	flags.StringToString("listener-security-protocol-map", nil, "security protocol of each listener, NAME=PROTOCOL")
	flags.String("rack", "", "rack of this node")
	flags.String("snapshot-compression", "", "snapshot codec: none, gzip, snappy, lz4 or zstd")
	flags.String("zk-connect", "", "ZooKeeper connect string to import migrating brokers from")
	flags.String("zk-prefix", "", "Kafka chroot on the ZooKeeper ensemble")
	return cmd
}

func serve(zkConnect, zkPrefix string, newController func() (*controller.Controller, error)) error {
	sink := metrics.NewInmemSink(10*time.Second, time.Minute)
	// SIGUSR1 dumps the collected metrics
	metrics.DefaultInmemSignal(sink)
	metricsConfig := metrics.DefaultConfig("monkafka-registry")
	metricsConfig.EnableHostname = false
	if _, err := metrics.NewGlobal(metricsConfig, sink); err != nil {
		return err
	}

	c, err := newController()
	if err != nil {
		return err
	}
	if err := c.Startup(); err != nil {
		return err
	}
	defer c.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if zkConnect != "" {
		go importZkBrokers(ctx, c, zkConnect, zkPrefix)
	}

	<-ctx.Done()
	log.Info("Received shutdown signal")
	return nil
}

// importZkBrokers waits for this node to lead, then imports the ZooKeeper brokers once
func importZkBrokers(ctx context.Context, c *controller.Controller, zkConnect, zkPrefix string) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for !c.IsController() {
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}

	handler, err := zkmigration.NewHandler(zkConnect, 10*time.Second)
	if err != nil {
		log.Error("ZooKeeper import failed: %v", err)
		return
	}
	defer handler.Close()
	scanner, err := zkmigration.NewScanner(handler, zkPrefix, 1024)
	if err != nil {
		log.Error("ZooKeeper import failed: %v", err)
		return
	}
	if _, err := c.ImportZkBrokers(ctx, scanner); err != nil {
		log.Error("ZooKeeper import failed: %v", err)
	}
}
