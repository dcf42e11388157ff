package main

import (
	"context"
	"fmt"
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/naveego/live-go/client"
	"github.com/naveego/live-go/config"
	"github.com/naveego/live-go/logging"
	"github.com/naveego/live-go/transport"
)

// GlobalFlags 全局标志
type GlobalFlags struct {
	ConfigPath string // 配置文件路径
	RelayURL   string
	Token      string
	Debug      bool
}

var (
	globalFlags GlobalFlags
	cfg         *config.Config
	logger      *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "livectl",
	Short: "Call and serve peers over a live relay",
	Long: `livectl connects to a live relay over WebSocket and exchanges
request/response messages with other peers addressed by connection id.

Configuration is read from --config (JSON), then LIVE_RELAY_URL, LIVE_TOKEN
and LIVE_LOG_LEVEL, then the flags below.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(globalFlags.ConfigPath)
		if err != nil {
			return err
		}
		if globalFlags.RelayURL != "" {
			cfg.RelayURL = globalFlags.RelayURL
		}
		if globalFlags.Token != "" {
			cfg.Token = globalFlags.Token
		}
		if globalFlags.Debug {
			cfg.Log.Level = "debug"
			pterm.EnableDebugMessages()
		}

		logger, err = logging.New(cfg.Log)
		if err != nil {
			return fmt.Errorf("初始化日志: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// Execute 执行根命令
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&globalFlags.ConfigPath, "config", "c", "", "JSON config file")
	rootCmd.PersistentFlags().StringVar(&globalFlags.RelayURL, "relay", "", "relay WebSocket URL")
	rootCmd.PersistentFlags().StringVar(&globalFlags.Token, "token", "", "token presented to the relay after connecting")
	rootCmd.PersistentFlags().BoolVar(&globalFlags.Debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(callCmd)
	rootCmd.AddCommand(notifyCmd)
	rootCmd.AddCommand(serveCmd)
}

// connect dials the relay, binds a client to the connection and, when a token
// is configured, authenticates.
func connect(ctx context.Context, opts ...client.Option) (*client.Client, error) {
	codecType, err := cfg.CodecType()
	if err != nil {
		return nil, err
	}
	ws := transport.NewWebSocket(cfg.RelayURL,
		transport.WithCodec(codecType),
		transport.WithHeartbeat(cfg.Heartbeat.Std()),
		transport.WithHandshakeTimeout(cfg.HandshakeTimeout.Std()),
		transport.WithLogger(logger),
	)

	spinner, _ := pterm.DefaultSpinner.Start("connecting to " + cfg.RelayURL)
	if err := ws.Connect(ctx); err != nil {
		spinner.Fail(err.Error())
		return nil, err
	}
	spinner.Success("connected as " + ws.ID())

	opts = append([]client.Option{
		client.WithLogger(logger),
		client.WithChannel(cfg.Channel),
		client.WithCallTimeout(cfg.CallTimeout.Std()),
	}, opts...)
	c, err := client.New(ws, opts...)
	if err != nil {
		ws.Close()
		return nil, err
	}

	if cfg.Token != "" {
		ok, err := c.Authenticate(ctx, cfg.Token)
		if err != nil {
			c.Disconnect()
			return nil, fmt.Errorf("authenticate: %w", err)
		}
		if !ok {
			c.Disconnect()
			return nil, fmt.Errorf("authenticate: token rejected")
		}
		pterm.Debug.Println("authenticated")
	}
	return c, nil
}
