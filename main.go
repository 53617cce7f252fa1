package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/kbase/caching-service/auth"
	"github.com/kbase/caching-service/cache/lifecycle"
	"github.com/kbase/caching-service/cache/metricsdecorator"
	"github.com/kbase/caching-service/config"
	"github.com/kbase/caching-service/ldap"
	prom "github.com/kbase/caching-service/metric/prometheus"
	"github.com/kbase/caching-service/server"
	"github.com/kbase/caching-service/utils/flags"
	"github.com/kbase/caching-service/utils/idle"
	"github.com/kbase/caching-service/utils/rlimit"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

const (
	authRealm       = "caching-service"
	shutdownTimeout = 30 * time.Second
	tokenTimeout    = 30 * time.Second
)

func main() {
	app := cli.NewApp()

	cli.AppHelpTemplate = flags.Template
	cli.HelpPrinterCustom = flags.HelpPrinter
	// Force the use of cli.HelpPrinterCustom.
	app.ExtraInfo = func() map[string]string { return map[string]string{} }

	app.Name = "caching-service"
	app.Usage = "A file cache for KBase apps"
	app.Flags = flags.GetCliFlags()
	app.Action = run
	app.Commands = []*cli.Command{
		{
			Name:   "expire",
			Usage:  "Delete every expired cache entry once, then exit.",
			Action: expire,
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		logrus.Fatalf("caching-service terminated: %v", err)
	}
}

// newManager connects to the configured backend and returns a lifecycle
// manager for it. Backend and sweep metrics are registered with reg.
func newManager(ctx context.Context, c *config.Config, reg prometheus.Registerer) (*lifecycle.Manager, error) {
	if c.Dir != "" {
		rlimit.Raise(c.ErrorLogger)
	}

	store, err := c.NewBlobStore(ctx)
	if err != nil {
		return nil, err
	}
	store = metricsdecorator.NewMetricsDecorator(reg, store)

	return lifecycle.New(store,
		lifecycle.WithPlaceholderTTL(c.PlaceholderTTL),
		lifecycle.WithStoredTTL(c.StoredTTL),
		lifecycle.WithSweepConcurrency(c.SweepConcurrency),
		lifecycle.WithErrorLogger(c.ErrorLogger),
		lifecycle.WithCollector(prom.NewCollector(reg)),
	)
}

// newResolver chains the configured identity sources. The returned func
// releases their resources.
func newResolver(c *config.Config) (auth.Resolver, func(), error) {
	var chain auth.Chain
	var closers []func()
	cleanup := func() {
		for _, f := range closers {
			f()
		}
	}

	if c.Auth != nil && c.Auth.TokenURL != "" {
		tr, err := auth.NewTokenResolver(c.Auth.TokenURL, c.Auth.TokenCacheTime,
			&http.Client{Timeout: tokenTimeout})
		if err != nil {
			return nil, cleanup, err
		}
		closers = append(closers, tr.Close)
		chain = append(chain, tr)
		c.ErrorLogger.Printf("Resolving tokens with %s", c.Auth.TokenURL)
	}

	if c.Auth != nil && c.Auth.HtpasswdFile != "" {
		hr, err := auth.NewHtpasswdResolver(c.Auth.HtpasswdFile, authRealm)
		if err != nil {
			return nil, cleanup, err
		}
		chain = append(chain, hr)
		c.ErrorLogger.Printf("Resolving Basic credentials with %s", c.Auth.HtpasswdFile)
	}

	if c.Auth != nil && c.Auth.JWTSecret != "" {
		jr, err := auth.NewJWTResolver([]byte(c.Auth.JWTSecret), c.Auth.JWTIssuer)
		if err != nil {
			return nil, cleanup, err
		}
		chain = append(chain, jr)
		c.ErrorLogger.Printf("Resolving Bearer JWTs")
	}

	if c.LDAP != nil {
		lr, err := ldap.New(c.LDAP)
		if err != nil {
			return nil, cleanup, fmt.Errorf("Failed to connect to LDAP server %s: %w", c.LDAP.URL, err)
		}
		chain = append(chain, lr)
		c.ErrorLogger.Printf("Resolving Basic credentials with LDAP server %s", c.LDAP.URL)
	}

	return chain, cleanup, nil
}

func listen(address string) (net.Listener, error) {
	if strings.HasPrefix(address, "unix://") {
		path := address[len("unix://"):]
		// A stale socket from a previous run blocks the listener.
		_ = os.Remove(path)
		return net.Listen("unix", path)
	}
	return net.Listen("tcp", address)
}

func run(ctx *cli.Context) error {
	if ctx.NArg() > 0 {
		return fmt.Errorf("caching-service does not take positional arguments, got: %v", ctx.Args().Slice())
	}

	c, err := config.Get(ctx)
	if err != nil {
		_ = cli.ShowAppHelp(ctx)
		return err
	}

	sigCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	runCtx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	lm, err := newManager(runCtx, c, reg)
	if err != nil {
		return err
	}

	resolver, closeResolver, err := newResolver(c)
	defer closeResolver()
	if err != nil {
		return err
	}

	h := server.NewHTTPCache(lm, c.MaxBlobSize, c.AccessLogger, c.ErrorLogger)
	api := h.Handler(resolver)

	if c.IdleTimeout > 0 {
		timer := idle.NewTimer(c.IdleTimeout)
		api = timer.Middleware(api)
		timer.Start(runCtx)
		go func() {
			select {
			case <-timer.Done():
				c.ErrorLogger.Printf("Idle timeout of %s reached, shutting down", c.IdleTimeout)
				cancel()
			case <-runCtx.Done():
			}
		}()
	}

	mux := http.NewServeMux()
	if c.EnableEndpointMetrics {
		prom.WrapEndpoints(mux, reg, reg, api)
	} else {
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		mux.Handle("/", api)
	}

	srv := &http.Server{
		Addr:         c.HTTPAddress,
		Handler:      mux,
		ReadTimeout:  c.HTTPReadTimeout,
		WriteTimeout: c.HTTPWriteTimeout,
		TLSConfig:    c.TLSConfig,
	}

	ln, err := listen(c.HTTPAddress)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		var err error
		if c.TLSConfig != nil {
			c.ErrorLogger.Printf("Starting HTTPS server on address %s", c.HTTPAddress)
			err = srv.ServeTLS(ln, "", "")
		} else {
			c.ErrorLogger.Printf("Starting HTTP server on address %s", c.HTTPAddress)
			err = srv.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-gctx.Done()
		c.ErrorLogger.Printf("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if c.SweepInterval > 0 {
		g.Go(func() error {
			sweepLoop(gctx, lm, c.SweepInterval, c.ErrorLogger)
			return nil
		})
	}

	return g.Wait()
}

type logger interface {
	Printf(format string, v ...interface{})
}

func sweepLoop(ctx context.Context, lm *lifecycle.Manager, interval time.Duration, log logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, total, err := lm.SweepExpired(ctx)
			if err != nil {
				if ctx.Err() == nil {
					log.Printf("Expiration sweep failed: %v", err)
				}
				continue
			}
			log.Printf("Expiration sweep removed %d of %d cache entries", removed, total)
		}
	}
}

func expire(ctx *cli.Context) error {
	c, err := config.Get(ctx)
	if err != nil {
		return err
	}

	lm, err := newManager(ctx.Context, c, prometheus.NewRegistry())
	if err != nil {
		return err
	}

	removed, total, err := lm.SweepExpired(ctx.Context)
	if err != nil {
		return err
	}
	fmt.Fprintf(ctx.App.Writer, "Removed %d of %d cache entries\n", removed, total)
	return nil
}
