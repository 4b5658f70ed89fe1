package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gatekeeper-proxy/gatekeeper/pkg/authn"
	"github.com/gatekeeper-proxy/gatekeeper/pkg/config"
	"github.com/gatekeeper-proxy/gatekeeper/pkg/logger"
	"github.com/gatekeeper-proxy/gatekeeper/pkg/policy"
	"github.com/gatekeeper-proxy/gatekeeper/pkg/server"
	"github.com/gatekeeper-proxy/gatekeeper/pkg/session"
)

var configFile string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway",
	Long: `Load the routing/access policy, discover the identity provider's
endpoints, and serve the authenticating proxy until interrupted.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		logger.Initialize()
		return serve(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVar(&configFile, "config", "", "Path to an optional YAML config file")
}

func serve(ctx context.Context) error {
	settings, err := config.Load(configFile)
	if err != nil {
		return err
	}

	// An invalid policy prevents startup.
	model, err := policy.Load(settings.PolicyFile)
	if err != nil {
		return err
	}

	sessions := session.NewManager(settings.SessionTTL)
	defer sessions.Stop()
	cookies := session.NewCookieCodec(settings.SessionSecret)

	flow, err := authn.NewFlow(ctx, authn.FlowConfig{
		Issuer:           settings.Issuer,
		ClientID:         settings.ClientID,
		ClientSecret:     settings.ClientSecret,
		RedirectURI:      settings.RedirectURI,
		Scopes:           settings.ScopeList(),
		GroupsClaim:      settings.GroupsClaim,
		Audience:         settings.Audience,
		ValidateAudience: settings.ValidateAudience,
		PersistBearer:    settings.PersistBearer,
	}, sessions, cookies)
	if err != nil {
		return err
	}

	gateway := server.New(model, flow)
	if err := gateway.Start(settings.Host, settings.Port); err != nil {
		return err
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	select {
	case <-ctx.Done():
	case sig := <-stop:
		logger.Infof("received %s, shutting down", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return gateway.Shutdown(shutdownCtx)
}
