package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mfolta/ipk24chat/pkg/server"
)

// Version is set at build time via ldflags
var Version = "dev"

var (
	configPath  string
	tcpPort     int
	udpPort     int
	httpPort    int
	host        string
	debug       bool
	showVersion bool
)

var rootCmd = &cobra.Command{
	Use:   "ipk24chat-server",
	Short: "IPK24-CHAT server speaking the text and binary protocol variants",
	RunE:  runServer,
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "~/.ipk24chat/server.toml", "Path to config file")
	rootCmd.Flags().StringVarP(&host, "host", "l", "", "Listen address (overrides config)")
	rootCmd.Flags().IntVarP(&tcpPort, "port", "p", 0, "TCP port to listen on (overrides config)")
	rootCmd.Flags().IntVar(&udpPort, "udp-port", 0, "UDP port to listen on (overrides config)")
	rootCmd.Flags().IntVar(&httpPort, "http-port", 0, "HTTP port for websocket bridge and metrics (overrides config)")
	rootCmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	rootCmd.Flags().BoolVar(&showVersion, "version", false, "Show version information")
}

func runServer(cmd *cobra.Command, args []string) error {
	if showVersion {
		fmt.Printf("ipk24chat-server %s\n", Version)
		return nil
	}

	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	config, err := server.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Command-line flags override the config file.
	if host != "" {
		config.Server.Host = host
	}
	if tcpPort != 0 {
		config.Server.TCPPort = tcpPort
	}
	if udpPort != 0 {
		config.Server.UDPPort = udpPort
	}
	if httpPort != 0 {
		config.Server.HTTPPort = httpPort
	}

	srv := server.NewServer(config.ToServerConfig())
	srv.SetMetrics(server.NewMetrics())

	if debug {
		srv.EnableDebugLogging()
		log.Printf("Debug logging enabled")
	}

	if err := srv.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Printf("Received signal %v, shutting down", sig)

	return srv.Stop()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
