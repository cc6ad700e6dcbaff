package main

import (
	"context"
	"fmt"
	"io"
	stdlog "log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	versioncollector "github.com/prometheus/client_golang/prometheus/collectors/version"
	"github.com/prometheus/common/version"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/openshift/tokengate/pkg/authorize"
	"github.com/openshift/tokengate/pkg/config"
	"github.com/openshift/tokengate/pkg/gateway"
	tokengatehttp "github.com/openshift/tokengate/pkg/http"
	"github.com/openshift/tokengate/pkg/logger"
	"github.com/openshift/tokengate/pkg/proxy"
	"github.com/openshift/tokengate/pkg/tracing"
)

const desc = `
Authorizing gateway for HTTP APIs. Every request to a protected resource must
carry a signed bearer token from a trusted issuer with the scope the resource
requires; authorized requests are forwarded with the caller's identity.
`

func main() {
	opt := &Options{LogOutput: os.Stderr}

	root := &cobra.Command{
		Use:           "tokengate",
		Short:         "Bearer token authorization gateway.",
		Long:          desc,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVar(&opt.ConfigPath, "config", opt.ConfigPath, "Path to the YAML or JSON configuration file. Settings can also come from TOKENGATE_* environment variables.")
	root.PersistentFlags().StringVar(&opt.LogLevel, "log-level", opt.LogLevel, "Log filtering level, overriding the configuration. e.g info, debug, warn, error")

	var listen, listenInternal string
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Serve the protected resources.",
		RunE: func(cmd *cobra.Command, args []string) error {
			listener, internalListener, err := listenAll(listen, listenInternal)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return opt.Run(ctx, listener, internalListener)
		},
	}
	serve.Flags().StringVar(&listen, "listen", "0.0.0.0:8080", "A host:port to listen on for protected traffic.")
	serve.Flags().StringVar(&listenInternal, "listen-internal", "localhost:8081", "A host:port to listen on for health and metrics.")
	serve.Flags().StringVar(&opt.TLSKeyPath, "tls-key", opt.TLSKeyPath, "Path to a private key to serve TLS for external traffic.")
	serve.Flags().StringVar(&opt.TLSCertificatePath, "tls-crt", opt.TLSCertificatePath, "Path to a certificate to serve TLS for external traffic.")

	var resource, token string
	verify := &cobra.Command{
		Use:   "verify",
		Short: "Run the authorization chain of a resource against a token and print the decision.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if token == "-" {
				b, err := io.ReadAll(io.LimitReader(cmd.InOrStdin(), 64*1024))
				if err != nil {
					return err
				}
				token = strings.TrimSpace(string(b))
			}
			return opt.Verify(cmd.Context(), cmd.OutOrStdout(), resource, token)
		},
	}
	verify.Flags().StringVar(&resource, "resource", "", "Name of the configured resource whose policy applies.")
	verify.Flags().StringVar(&token, "token", "-", "The compact token to check, or - to read it from stdin.")
	_ = verify.MarkFlagRequired("resource")

	root.AddCommand(serve, verify, &cobra.Command{
		Use:   "version",
		Short: "Print version information.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Print("tokengate"))
		},
	})

	if err := root.Execute(); err != nil {
		l := logger.New(os.Stderr, opt.LogLevel)
		level.Error(l).Log("err", err)
		os.Exit(1)
	}
}

// listenAll opens the external and internal listeners. Either both are
// returned open or none is.
func listenAll(external, internal string) (net.Listener, net.Listener, error) {
	el, err := net.Listen("tcp", external)
	if err != nil {
		return nil, nil, fmt.Errorf("listen on %s: %w", external, err)
	}
	il, err := net.Listen("tcp", internal)
	if err != nil {
		el.Close()
		return nil, nil, fmt.Errorf("listen on %s: %w", internal, err)
	}
	return el, il, nil
}

type Options struct {
	ConfigPath string

	TLSKeyPath         string
	TLSCertificatePath string

	LogLevel  string
	LogOutput io.Writer
	Logger    log.Logger
}

// load reads the configuration and sets up the logger for its level.
func (o *Options) load() (*config.Config, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, err
	}

	lvl := cfg.LogLevel
	if o.LogLevel != "" {
		lvl = o.LogLevel
	}
	o.Logger = logger.New(o.LogOutput, lvl)
	return cfg, nil
}

func (o *Options) Run(ctx context.Context, externalListener, internalListener net.Listener) error {
	cfg, err := o.load()
	if err != nil {
		return err
	}
	stdlog.SetOutput(log.NewStdlibAdapter(o.Logger))
	level.Debug(o.Logger).Log("msg", "configuration loaded", "config", cfg.String())

	tp, shutdownTracing, err := tracing.InitTracer(ctx, o.Logger, tracing.Config{
		ServiceName:      cfg.Tracing.ServiceName,
		Endpoint:         cfg.Tracing.Endpoint,
		EndpointType:     tracing.EndpointType(cfg.Tracing.EndpointType),
		SamplingFraction: cfg.Tracing.SamplingFraction,
	})
	if err != nil {
		return fmt.Errorf("cannot initialize tracer: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			level.Warn(o.Logger).Log("msg", "tracer shutdown failed", "err", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		versioncollector.NewCollector("tokengate"),
	)

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     30 * time.Second,
	}
	clientMetrics := tokengatehttp.NewClientMetrics(reg)

	keyClient, err := gateway.NewKeyClient(ctx, cfg.Trust, clientMetrics, transport)
	if err != nil {
		return err
	}
	upstream := otelhttp.NewTransport(clientMetrics.RoundTripper("upstream", transport), otelhttp.WithTracerProvider(tp))

	gw, err := gateway.New(o.Logger, reg, cfg, keyClient, upstream)
	if err != nil {
		return err
	}

	var g run.Group
	{
		s := &http.Server{
			Handler:           otelhttp.NewHandler(tokengatehttp.InternalRoutes(reg, gw.Ready), "internal", otelhttp.WithTracerProvider(tp)),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Run the internal server.
		g.Add(func() error {
			if err := s.Serve(internalListener); err != nil && err != http.ErrServerClosed {
				level.Error(o.Logger).Log("msg", "internal HTTP server exited", "err", err)
				return err
			}
			return nil
		}, func(error) {
			_ = s.Shutdown(context.TODO())
			internalListener.Close()
		})
	}
	{
		s := &http.Server{
			Handler:           gw.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
			ErrorLog:          stdlog.New(log.NewStdlibAdapter(level.Warn(o.Logger)), "", 0),
		}

		// Run the external server.
		g.Add(func() error {
			var err error
			if len(o.TLSCertificatePath) > 0 {
				err = s.ServeTLS(externalListener, o.TLSCertificatePath, o.TLSKeyPath)
			} else {
				err = s.Serve(externalListener)
			}
			if err != nil && err != http.ErrServerClosed {
				level.Error(o.Logger).Log("msg", "external server exited", "err", err)
				return err
			}
			return nil
		}, func(error) {
			_ = s.Shutdown(context.TODO())
			externalListener.Close()

			// Close clients in order to check for leaks properly.
			keyClient.CloseIdleConnections()
			transport.CloseIdleConnections()
		})
	}
	{
		// Reload trust entries on SIGHUP.
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		done := make(chan struct{})

		g.Add(func() error {
			for {
				select {
				case <-hup:
					o.reload(gw)
				case <-done:
					return nil
				}
			}
		}, func(error) {
			signal.Stop(hup)
			close(done)
		})
	}

	// Kill all when caller requests to.
	gctx, gcancel := context.WithCancel(ctx)
	g.Add(func() error {
		<-gctx.Done()
		return gctx.Err()
	}, func(err error) {
		gcancel()
	})

	level.Info(o.Logger).Log("msg", "starting tokengate", "version", version.Version, "external", externalListener.Addr().String(), "internal", internalListener.Addr().String(), "resources", len(cfg.Resources))

	return g.Run()
}

// reload re-reads the configuration file and swaps in its trust entries.
// A configuration that fails to load leaves the current entries in place.
func (o *Options) reload(gw *gateway.Gateway) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		level.Error(o.Logger).Log("msg", "reload failed, keeping current trust entries", "err", err)
		return
	}
	gw.Reload(cfg)
}

// Verify runs the chain of resource against token and prints ACCEPT with the
// identity or REJECT with the failure kind. A rejection is returned as error.
func (o *Options) Verify(ctx context.Context, out io.Writer, resource, token string) error {
	cfg, err := o.load()
	if err != nil {
		return err
	}

	transport := &http.Transport{Proxy: http.ProxyFromEnvironment}
	defer transport.CloseIdleConnections()

	reg := prometheus.NewRegistry()
	keyClient, err := gateway.NewKeyClient(ctx, cfg.Trust, tokengatehttp.NewClientMetrics(reg), transport)
	if err != nil {
		return err
	}
	gw, err := gateway.New(o.Logger, reg, cfg, keyClient, nil)
	if err != nil {
		return err
	}

	a, ok := gw.Authorizer(resource)
	if !ok {
		return fmt.Errorf("unknown resource %q", resource)
	}

	identity, err := a.Authorize(ctx, token)
	if err != nil {
		kind := authorize.KindOf(err)
		fmt.Fprintf(out, "REJECT %s\n", kind)
		return fmt.Errorf("token rejected for resource %q: %w", resource, err)
	}

	r := proxy.NewIdentityResponse(identity)
	fmt.Fprintf(out, "ACCEPT sub=%s iss=%s scopes=%q\n", r.Subject, r.Issuer, strings.Join(r.Scopes, " "))
	return nil
}
