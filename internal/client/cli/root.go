package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"qrypub/internal/client/config"
	"qrypub/internal/keys"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var rootCmd = &cobra.Command{
	Use:   "qrypub",
	Short: "Publish instance telemetry to a QRY hub",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return config.LoadEnvFiles(envFile)
	},
	SilenceUsage: true,
}

// HubAddr should be injected via ldflags. Default for dev.
var HubAddr = config.DefaultHubAddr

var (
	debug   bool
	envFile string
)

func Init(hubAddr string) {
	if hubAddr != "" {
		HubAddr = hubAddr
	}

	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Environment file to load")

	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(pubkeyCmd)
	rootCmd.AddCommand(authCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(statusCmd)
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// loadConfig reads ~/.qrypub and applies QRY_* overrides. The ldflags hub
// address only replaces the built-in default.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if cfg.HubAddr == config.DefaultHubAddr {
		cfg.HubAddr = HubAddr
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds the process logger. When logFile is set output goes
// there instead of stderr.
func newLogger(logFile string) (*zap.Logger, error) {
	var zcfg zap.Config
	if debug {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
		zcfg.Encoding = "console"
		zcfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	}
	if logFile != "" {
		zcfg.OutputPaths = []string{logFile}
		zcfg.ErrorOutputPaths = []string{logFile}
	}
	return zcfg.Build()
}

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a new instance key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		cred, err := keys.Generate()
		if err != nil {
			return err
		}
		fmt.Printf("Private key: %s\n", cred.PrivateKeyString())
		fmt.Printf("Public key:  %s\n", cred.IdentityString())

		save, _ := cmd.Flags().GetBool("save")
		if !save {
			return nil
		}
		return saveKey(cred)
	},
}

var pubkeyCmd = &cobra.Command{
	Use:   "pubkey",
	Short: "Print the public key of the configured instance key",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.PrivateKey == "" {
			return fmt.Errorf("no private key configured. Run 'qrypub auth <private-key>' or 'qrypub keygen --save' first")
		}
		cred, err := keys.Parse(cfg.PrivateKey)
		if err != nil {
			return err
		}
		fmt.Println(cred.IdentityString())
		return nil
	},
}

var authCmd = &cobra.Command{
	Use:   "auth [private-key]",
	Short: "Save the instance private key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cred, err := keys.Parse(args[0])
		if err != nil {
			return err
		}
		return saveKey(cred)
	},
}

func saveKey(cred *keys.Credential) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	cfg.PrivateKey = cred.PrivateKeyString()
	if err := config.SaveConfig(cfg); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}
	path, _ := config.GetConfigPath()
	fmt.Printf("Key saved to %s\n", path)
	fmt.Printf("Register %s with the hub before starting.\n", cred.IdentityString())
	return nil
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of a running publisher",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("inspector")
		client := &http.Client{Timeout: 5 * time.Second}
		resp, err := client.Get("http://" + addr + "/api/status")
		if err != nil {
			return fmt.Errorf("publisher not reachable on %s: %w", addr, err)
		}
		defer resp.Body.Close()

		var st struct {
			HubAddr   string `json:"hubAddr"`
			PublicKey string `json:"publicKey"`
			Connected bool   `json:"connected"`
			Uptime    string `json:"uptime"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
			return fmt.Errorf("decoding status: %w", err)
		}
		key := st.PublicKey
		if key == "" {
			key = "anonymous"
		}
		state := "offline"
		if st.Connected {
			state = "online"
		}
		fmt.Printf("Hub:        %s\n", st.HubAddr)
		fmt.Printf("Public key: %s\n", key)
		fmt.Printf("Status:     %s\n", state)
		fmt.Printf("Uptime:     %s\n", st.Uptime)
		return nil
	},
}

func init() {
	keygenCmd.Flags().Bool("save", false, "Save the generated key to the config file")
	statusCmd.Flags().String("inspector", defaultInspectorAddr, "Address of the publisher inspector API")
}
