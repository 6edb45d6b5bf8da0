package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/YJSoft/StreamingRespirator/internal/config"
	"github.com/YJSoft/StreamingRespirator/internal/logger"
	"github.com/YJSoft/StreamingRespirator/internal/proxy"
	"github.com/YJSoft/StreamingRespirator/internal/twitter"
	"github.com/YJSoft/StreamingRespirator/pkg/certificates"
)

var version = "dev"

func main() {
	var rootCmd = &cobra.Command{
		Use:   "respirator",
		Short: "Streaming Respirator - keeps Twitter desktop clients streaming",
		Long: `A loopback HTTP/HTTPS proxy that revives the retired Twitter streaming
endpoint for desktop clients.

Point the client's proxy settings at this process and trust the root
certificate it prints via the "ca" command. Connections to the two Twitter
hosts are intercepted; the dead streaming endpoint is replaced with a
long-lived chunked response fed by background polling of the timeline,
activity and direct-message feeds.`,
	}

	rootCmd.AddCommand(createStartCmd())
	rootCmd.AddCommand(createCACmd())
	rootCmd.AddCommand(createVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func createStartCmd() *cobra.Command {
	var configFile string
	var opts config.CLIOptions

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the proxy server",
		Long: `Start the loopback proxy and the feed pollers. The server runs until
interrupted (Ctrl+C).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile, opts)
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to a JSON config file")
	cmd.Flags().IntVarP(&opts.Port, "port", "p", 0, "Proxy port (default 8811)")
	cmd.Flags().IntVar(&opts.AuxPort, "aux-port", 0, "Auxiliary streaming port (default 8812)")
	cmd.Flags().StringVar(&opts.CookiePath, "cookies", "", "Path to the cookie archive")
	cmd.Flags().StringVar(&opts.LogFile, "log-file", "", "Write logs to a file as well as stdout")
	cmd.Flags().BoolVarP(&opts.Verbose, "verbose", "v", false, "Enable debug logging")

	return cmd
}

func run(cfg *config.Config) error {
	log, err := logger.New(logger.Config{FilePath: cfg.LogFile, Verbose: cfg.Verbose})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Close()

	ca, err := loadOrCreateCA(cfg)
	if err != nil {
		return err
	}
	authority := certificates.NewAuthority(certificates.NewGenerator(ca))

	registry := twitter.NewRegistry(cfg, log)

	server := proxy.New(cfg, log, authority, registry)
	if err := server.Start(); err != nil {
		return err
	}

	var aux *proxy.AuxServer
	if cfg.AuxStreaming {
		aux = proxy.NewAuxServer(cfg, log, registry)
		if err := aux.Start(); err != nil {
			server.Shutdown()
			return err
		}
	}

	color.Green("Streaming Respirator listening on %s", server.Addr())
	color.White("Configure the client's HTTP/HTTPS proxy to this address.")
	if cfg.AuxStreaming {
		color.White("Auxiliary streaming transport on %s", aux.Addr())
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	color.Yellow("Shutting down...")

	if aux != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		aux.Shutdown(shutdownCtx)
	}
	registry.Shutdown()
	server.Shutdown()

	color.Green("Stopped.")
	return nil
}

func createCACmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "ca",
		Short: "Print the root certificate PEM",
		Long: `Print the root certificate so it can be installed into the client's
trust store. Without a configured ca_cert/ca_key pair a fresh root is
generated per process, so configure a persistent pair for real use.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile, config.CLIOptions{})
			if err != nil {
				return err
			}

			ca, err := loadOrCreateCA(cfg)
			if err != nil {
				return err
			}

			pem, err := ca.CertificatePEM()
			if err != nil {
				return err
			}

			os.Stdout.Write(pem)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to a JSON config file")

	return cmd
}

func createVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("respirator %s\n", version)
		},
	}
}

func loadOrCreateCA(cfg *config.Config) (*certificates.CAManager, error) {
	ca := certificates.NewCAManager()

	if cfg.CACert != "" {
		if err := ca.LoadCA(cfg.CACert, cfg.CAKey); err != nil {
			return nil, fmt.Errorf("failed to load CA: %w", err)
		}
		return ca, nil
	}

	if err := ca.GenerateCA(); err != nil {
		return nil, fmt.Errorf("failed to generate CA: %w", err)
	}
	return ca, nil
}
