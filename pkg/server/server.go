// Package server assembles the gateway's HTTP surface: the authentication
// routes plus one dynamically registered, access-checked route per
// configured upstream path rule.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/gatekeeper-proxy/gatekeeper/pkg/authn"
	"github.com/gatekeeper-proxy/gatekeeper/pkg/authz"
	"github.com/gatekeeper-proxy/gatekeeper/pkg/identity"
	"github.com/gatekeeper-proxy/gatekeeper/pkg/logger"
	"github.com/gatekeeper-proxy/gatekeeper/pkg/policy"
	"github.com/gatekeeper-proxy/gatekeeper/pkg/proxy"
)

// Gateway is the assembled reverse-proxy server.
type Gateway struct {
	policy     *policy.Model
	flow       *authn.Flow
	router     chi.Router
	forwarders map[string]*proxy.Forwarder

	server   *http.Server
	listener net.Listener
}

// New builds the gateway router from the loaded policy and authentication
// flow. Every proxied route requires authentication; the access check and
// forwarding happen in the route handler after the policy match resolves.
func New(model *policy.Model, flow *authn.Flow) *Gateway {
	g := &Gateway{
		policy:     model,
		flow:       flow,
		forwarders: make(map[string]*proxy.Forwarder),
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestLogger)

	r.Get(authn.LoginPath, flow.LoginHandler)
	r.Get(authn.CallbackPath, flow.CallbackHandler)
	r.Post(authn.CallbackPath, flow.CallbackHandler)
	r.Get(authn.LogoutPath, flow.LogoutHandler)
	r.With(flow.Middleware).Get(authn.AboutMePath, flow.AboutMeHandler)

	for _, target := range model.Upstreams() {
		g.forwarders[target.Slug] = proxy.NewForwarder(target.URL, "/"+target.Slug)
		for _, rule := range target.Rules() {
			// The policy's trailing "/*" wildcard is chi's own syntax, so
			// patterns register as-is under the slug prefix. Wildcard rules
			// also cover their base path, which chi needs as its own route.
			for _, pattern := range rule.RoutePatterns() {
				routePattern := "/" + target.Slug + pattern
				for _, method := range rule.Methods {
					r.With(flow.Middleware).Method(method, routePattern, g.proxyHandler())
				}
			}
			logger.Infow("registered protected route",
				"slug", target.Slug,
				"pattern", rule.Pattern,
				"methods", rule.Methods,
				"roles", rule.Roles,
				"users", rule.Users,
			)
		}
	}

	g.router = r
	return g
}

// proxyHandler resolves the policy match for the request, evaluates the
// access rule against the authenticated identity, and forwards on allow.
func (g *Gateway) proxyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		match, err := g.policy.Resolve(r.Method, r.URL.Path)
		if err != nil {
			http.NotFound(w, r)
			return
		}

		caller, _ := identity.FromContext(r.Context())
		if err := authz.Authorize(caller, match.Rule); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"message": "Unauthorised. You shouldn't be here."}`))
			return
		}

		g.forwarders[match.Target.Slug].ServeHTTP(w, r)
	}
}

// Handler returns the gateway's root handler, mainly for tests.
func (g *Gateway) Handler() http.Handler {
	return g.router
}

// Start begins serving on the given address. It returns once the listener
// is bound; serving continues in the background until Shutdown.
func (g *Gateway) Start(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	g.listener = ln

	g.server = &http.Server{
		Addr:              addr,
		Handler:           g.router,
		ReadHeaderTimeout: 10 * time.Second, // Prevent Slowloris attacks
	}

	server := g.server
	go func() {
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Errorf("gateway server error: %v", err)
		}
	}()

	logger.Infof("gateway listening on %s", addr)
	return nil
}

// Addr returns the bound listen address, or empty before Start.
func (g *Gateway) Addr() string {
	if g.listener == nil {
		return ""
	}
	return g.listener.Addr().String()
}

// Shutdown stops the server gracefully.
func (g *Gateway) Shutdown(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	err := g.server.Shutdown(ctx)
	if err != nil && err != http.ErrServerClosed && err != context.DeadlineExceeded {
		return err
	}
	return nil
}

// requestLogger logs each request at debug level.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debugw("request",
			"method", r.Method,
			"path", r.URL.Path,
			"remote", strings.Split(r.RemoteAddr, ":")[0],
			"duration", time.Since(start).String(),
		)
	})
}
