// Command httpsx-example runs a small HTTPS echo server and, if given a
// -fetch URL, issues one client request against it.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/watt-toolkit/httpsx"
	"github.com/watt-toolkit/httpsx/internal/tlsconfig"
)

func main() {
	addr := flag.String("addr", ":8443", "listen address")
	certFile := flag.String("cert", "", "server certificate PEM path")
	keyFile := flag.String("key", "", "server private key PEM path")
	fetch := flag.String("fetch", "", "if set, fetch this URL after starting the server")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if *certFile == "" || *keyFile == "" {
		logger.Error("both -cert and -key are required")
		os.Exit(2)
	}

	tlsCfg, err := tlsconfig.Server(tlsconfig.Options{}, *certFile, *keyFile)
	if err != nil {
		logger.Error("build server TLS config", "error", err)
		os.Exit(1)
	}

	handler := httpsx.HandlerFunc(func(_ context.Context, req *httpsx.Request) *httpsx.ServerResponse {
		resp := httpsx.NewServerResponse(200, append([]byte("echo: "), req.Body...))
		resp.Header.Set("Content-Type", "text/plain")
		return resp
	})

	srv, err := httpsx.NewServer(*addr, tlsCfg, handler,
		httpsx.WithInputConnectionLimits(64, 256),
		httpsx.WithMaxConcurrentConnections(256),
	)
	if err != nil {
		logger.Error("build server", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("listening", "addr", srv.Addr())
		if err := srv.Serve(ctx); err != nil {
			logger.Error("serve", "error", err)
		}
	}()

	if *fetch != "" {
		time.Sleep(200 * time.Millisecond)
		client := httpsx.NewClient(httpsx.WithTLSOptions(tlsconfig.Options{
			CheckCertificateHostname: true,
		}))
		defer client.Close()

		reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		resp, err := client.Get(reqCtx, *fetch)
		if err != nil {
			logger.Error("fetch failed", "error", err)
		} else {
			logger.Info("fetch succeeded", "status", resp.StatusCode, "body", string(resp.Body))
		}
	}

	<-ctx.Done()
}
