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

	"qrypub/internal/hub"
	"qrypub/internal/keys"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	dbPath string
	debug  bool
)

var rootCmd = &cobra.Command{
	Use:          "qryhub",
	Short:        "Development hub for qrypub instances",
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the hub HTTP and socket endpoints",
	RunE: func(cmd *cobra.Command, args []string) error {
		listen, _ := cmd.Flags().GetString("listen")
		anonymous, _ := cmd.Flags().GetBool("allow-anonymous")

		logger, err := newLogger()
		if err != nil {
			return err
		}
		defer logger.Sync()
		if !debug {
			gin.SetMode(gin.ReleaseMode)
		}

		reg, err := hub.OpenRegistry(dbPath)
		if err != nil {
			return fmt.Errorf("opening registry: %w", err)
		}
		defer reg.Close()

		h := hub.New(hub.Config{AllowAnonymous: anonymous}, reg, logger)
		srv := &http.Server{Addr: listen, Handler: h.Router()}

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-sigChan
			logger.Info("shutting down")
			h.Close()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(ctx)
		}()

		logger.Info("hub listening", zap.String("addr", listen), zap.String("db", dbPath),
			zap.Bool("allow_anonymous", anonymous))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	},
}

var registerCmd = &cobra.Command{
	Use:   "register [public-key] [name]",
	Short: "Register an instance public key",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		pub, err := keys.NormalizePublicKey(args[0])
		if err != nil {
			return err
		}
		name := ""
		if len(args) == 2 {
			name = args[1]
		}

		reg, err := hub.OpenRegistry(dbPath)
		if err != nil {
			return fmt.Errorf("opening registry: %w", err)
		}
		defer reg.Close()

		inst, err := reg.Register(pub, name)
		if err != nil {
			return err
		}
		fmt.Printf("Registered %s (%s)\n", inst.PublicKey, inst.Name)
		return nil
	},
}

func newLogger() (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func main() {
	// Load .env file if exists
	_ = godotenv.Load()

	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "qryhub.db", "SQLite database path")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	serveCmd.Flags().String("listen", ":7002", "Listen address")
	serveCmd.Flags().Bool("allow-anonymous", false, "Accept socket connections without a key")

	rootCmd.AddCommand(serveCmd, registerCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
