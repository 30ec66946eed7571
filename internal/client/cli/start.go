package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"qrypub/internal/client/challenge"
	"qrypub/internal/client/config"
	"qrypub/internal/client/events"
	"qrypub/internal/client/inspector"
	"qrypub/internal/client/publisher"
	"qrypub/internal/client/tui"
	"qrypub/internal/client/usage"
	"qrypub/pkg/protocol"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const defaultInspectorAddr = "127.0.0.1:4040"

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Connect to the hub and publish telemetry until interrupted",
	Args:  cobra.NoArgs,
	RunE:  runStart,
}

func init() {
	startCmd.Flags().String("hub", "", "Hub address host[:port] (overrides config)")
	startCmd.Flags().Bool("tls", false, "Reach the hub over TLS")
	startCmd.Flags().String("listen", defaultInspectorAddr, "Inspector API address, empty to disable")
	startCmd.Flags().String("indexer-status", "", "Indexer status published on every connect (none, offline, delayed, active)")
	startCmd.Flags().Bool("tui", false, "Show the interactive status screen")
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if hub, _ := cmd.Flags().GetString("hub"); hub != "" {
		cfg.HubAddr = hub
	}
	if cmd.Flags().Changed("tls") {
		cfg.UseTLS, _ = cmd.Flags().GetBool("tls")
	}
	interval, err := cfg.Interval()
	if err != nil {
		return err
	}

	var status protocol.IndexerStatus
	if s, _ := cmd.Flags().GetString("indexer-status"); s != "" {
		if status, err = protocol.ParseIndexerStatus(s); err != nil {
			return err
		}
	}

	useTUI, _ := cmd.Flags().GetBool("tui")
	logFile := ""
	if useTUI {
		path, err := config.GetConfigPath()
		if err != nil {
			return err
		}
		logFile = filepath.Join(filepath.Dir(path), ".qrypub.log")
	}
	logger, err := newLogger(logFile)
	if err != nil {
		return err
	}
	defer logger.Sync()

	// Setup context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigChan:
			logger.Info("shutdown signal received, closing hub connection")
			cancel()
		case <-ctx.Done():
		}
	}()

	bus := events.NewBus()
	defer bus.Close()
	collector := usage.New()
	recorder := inspector.NewRecorder(100)
	go recorder.Run(ctx, bus.Subscribe())

	var p *publisher.Publisher
	opts := publisher.Options{
		HubAddr:     cfg.HubAddr,
		UseTLS:      cfg.UseTLS,
		PrivateKey:  cfg.PrivateKey,
		PublishPath: cfg.PublishPath,
		Logger:      logger,
		Hooks: busHooks(bus, cfg.HubAddr, func() {
			if status != "" {
				p.PublishIndexerStatus(status)
			}
		}),
	}
	if len(cfg.Metadata) > 0 {
		opts.Metadata = cfg.Metadata
	}
	p = publisher.New(opts)
	defer p.Close()

	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		bus.PublishType(events.EventConnecting)
		if err := p.ConnectWithRetry(ctx, nil); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			if errors.Is(err, challenge.ErrNotRegistered) {
				err = fmt.Errorf("instance %s is not registered with the hub", p.PublicKey())
			}
			bus.PublishError(err, "connect")
			errCh <- err
			return
		}
		usage.NewReporter(collector, p, interval, logger).Run(ctx)
	}()

	if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
		srv := inspector.New(p, collector, recorder, cfg.HubAddr, logger)
		go func() {
			if err := srv.Serve(ctx, listen); err != nil {
				logger.Error("inspector stopped", zap.Error(err))
				errCh <- err
			}
		}()
	}

	if useTUI {
		model := tui.NewModel(bus, collector).WithIdentity(cfg.HubAddr, p.PublicKey())
		err = tui.Run(model)
		cancel()
	} else {
		select {
		case <-ctx.Done():
		case err = <-errCh:
			cancel()
		}
	}

	// the reporter flushes once more before the connection is closed
	wg.Wait()
	return err
}

// busHooks mirrors publisher lifecycle callbacks onto bus. onConnect runs
// after the connected event is published.
func busHooks(bus *events.Bus, hubAddr string, onConnect func()) publisher.Hooks {
	return publisher.Hooks{
		OnConnect: func() {
			bus.Publish(events.Event{Type: events.EventConnected, Data: events.ConnectedData{HubAddr: hubAddr}})
			if onConnect != nil {
				onConnect()
			}
		},
		OnDisconnect: func(reason string) {
			bus.Publish(events.Event{Type: events.EventDisconnected, Data: events.DisconnectedData{Reason: reason}})
		},
		OnReconnecting: func() {
			bus.PublishType(events.EventReconnecting)
		},
		OnNotRegistered: func() {
			bus.PublishType(events.EventNotRegistered)
		},
		OnPublish: func(kind string, err error) {
			bus.Publish(events.Event{Type: events.EventPublished, Data: events.PublishedData{Kind: kind, Err: err}})
		},
	}
}
