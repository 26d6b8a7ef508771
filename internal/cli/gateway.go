package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/whatsapplogin/wal/internal/channel"
	"github.com/whatsapplogin/wal/internal/config"
	"github.com/whatsapplogin/wal/internal/gateway"
)

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Run the verification gateway",
	Long: `Serve the verification HTTP API that wal login talks to.

The gateway issues codes, delivers them over the configured channel, and
checks them. Codes are kept in memory only and are lost on restart.

Channels: log (print instead of sending), evolution, cloudapi, webhook, sns.

Send SIGUSR1 to toggle debug logging while the gateway runs.`,
	Example: `  wal gateway --channel log --port 3000
  WAL_GATEWAY_CHANNEL=evolution wal gateway`,
	Args: cobra.NoArgs,
	RunE: runGateway,
}

func init() {
	gatewayCmd.Flags().String("channel", "", "Delivery channel: log, evolution, cloudapi, webhook, sns")
	gatewayCmd.Flags().String("host", "", "Host to bind")
	gatewayCmd.Flags().Int("port", 0, "Port to listen on")
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, lvl := newLogger(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	sender, err := buildSender(ctx, cfg, logger)
	if err != nil {
		return err
	}

	srv, err := gateway.New(gatewayConfig(cfg), sender, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	ready := make(chan struct{})
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.StartWithReady(ready)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("gateway: %w", err)
	case <-ready:
	}
	logger.Info("gateway listening", "address", cfg.Address(), "channel", cfg.Gateway.Channel)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)
	usr1 := notifyUSR1()

	for {
		select {
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("gateway: %w", err)
			}
			return nil
		case <-usr1:
			next := slog.LevelDebug
			if lvl.Level() == slog.LevelDebug {
				next = parseSlogLevel(cfg.Logging.Level)
			}
			lvl.Set(next)
			logger.Info("log level changed", "level", next.String())
		case sig := <-sigCh:
			logger.Info("received signal, shutting down", "signal", sig.String())
			if err := srv.Shutdown(context.Background()); err != nil {
				return fmt.Errorf("shutting down gateway: %w", err)
			}
			return nil
		}
	}
}

// gatewayConfig maps the [gateway] and [verification] sections onto the
// server settings.
func gatewayConfig(cfg *config.Config) gateway.Config {
	g := cfg.Gateway
	return gateway.Config{
		Host:              g.Host,
		Port:              g.Port,
		AuthToken:         g.AuthToken,
		JWTSecret:         g.JWTSecret,
		TokenDuration:     config.Seconds(g.TokenDuration),
		ExposeCode:        g.ExposeCode,
		MessageTemplate:   cfg.Provider.MessageTemplate,
		DefaultCodeLength: cfg.Verification.CodeLength,
		DefaultCodeExpiry: config.Seconds(cfg.Verification.CodeExpiry),
		PruneSchedule:     g.PruneSchedule,
		ShutdownTimeout:   config.Seconds(g.ShutdownTimeout),
	}
}

// buildSender creates the channel the gateway delivers codes through. The
// evolution and cloudapi channels reuse the [provider] credentials.
func buildSender(ctx context.Context, cfg *config.Config, logger *slog.Logger) (channel.Sender, error) {
	p := cfg.Provider
	client := &http.Client{Timeout: config.Seconds(p.Timeout)}

	switch cfg.Gateway.Channel {
	case "log", "":
		logger.Warn("using log channel: codes are logged, not delivered")
		return channel.NewLogSender(logger), nil
	case "evolution":
		return channel.NewEvolutionSender(p.APIURL, p.InstanceName, p.APIKey, client), nil
	case "cloudapi":
		return channel.NewCloudAPISender(p.PhoneNumberID, p.AccessToken, p.GraphBaseURL, p.GraphVersion, client), nil
	case "webhook":
		return channel.NewWebhookSender(cfg.Gateway.WebhookURL, cfg.Gateway.WebhookSecret, client), nil
	case "sns":
		publisher, err := channel.NewSNSPublisher(ctx, cfg.Gateway.SNSRegion)
		if err != nil {
			return nil, fmt.Errorf("creating SNS publisher: %w", err)
		}
		return channel.NewSNSSender(publisher), nil
	default:
		return nil, fmt.Errorf("unknown gateway channel %q", cfg.Gateway.Channel)
	}
}
