package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mfolta/ipk24chat/pkg/client"
)

// Version is set at build time via ldflags
var Version = "dev"

var (
	transportName string
	serverHost    string
	serverPort    int
	timeoutMs     int
	maxRetries    int
	showVersion   bool
)

var rootCmd = &cobra.Command{
	Use:   "ipk24chat-client",
	Short: "Terminal client for the IPK24-CHAT protocol",
	RunE:  runClient,
}

func init() {
	rootCmd.Flags().StringVarP(&transportName, "transport", "t", "tcp", "Transport to use: tcp, udp or ws")
	rootCmd.Flags().StringVarP(&serverHost, "server", "s", "", "Server host or IP address")
	rootCmd.Flags().IntVarP(&serverPort, "port", "p", 4567, "Server port")
	rootCmd.Flags().IntVarP(&timeoutMs, "udp-confirmation-timeout", "d", 250, "UDP confirmation timeout in milliseconds")
	rootCmd.Flags().IntVarP(&maxRetries, "udp-retry-count", "r", 3, "UDP retransmission limit")
	rootCmd.Flags().BoolVar(&showVersion, "version", false, "Show version information")
}

func dial() (client.Transport, error) {
	addr := fmt.Sprintf("%s:%d", serverHost, serverPort)
	switch transportName {
	case "tcp":
		return client.DialTCP(addr)
	case "udp":
		return client.DialUDP(addr, client.DatagramOptions{
			Timeout:    time.Duration(timeoutMs) * time.Millisecond,
			MaxRetries: maxRetries,
		})
	case "ws":
		return client.DialWebSocket(addr, false)
	case "wss":
		return client.DialWebSocket(addr, true)
	default:
		return nil, fmt.Errorf("unknown transport %q (want tcp, udp, ws or wss)", transportName)
	}
}

func runClient(cmd *cobra.Command, args []string) error {
	if showVersion {
		fmt.Printf("ipk24chat-client %s\n", Version)
		return nil
	}
	if serverHost == "" {
		return fmt.Errorf("server address is required (-s)")
	}

	transport, err := dial()
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	c := client.New(transport)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Printer goroutine: everything the server pushes at us.
	printerDone := make(chan struct{})
	go func() {
		defer close(printerDone)
		for ev := range c.Events() {
			switch ev.Kind {
			case client.EventChat:
				fmt.Printf("%s: %s\n", ev.From, ev.Content)
			case client.EventServerError:
				fmt.Fprintf(os.Stderr, "ERR FROM %s: %s\n", ev.From, ev.Content)
			case client.EventClosed:
				if ev.Err != nil {
					fmt.Fprintf(os.Stderr, "ERR: %v\n", ev.Err)
				}
			}
		}
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		c.Disconnect(ctx)
		<-printerDone
	}()

	for {
		select {
		case <-sigChan:
			return nil
		case <-printerDone:
			// Server ended the session.
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := handleLine(c, line); err != nil {
				if err == errQuit {
					return nil
				}
				fmt.Fprintf(os.Stderr, "ERR: %v\n", err)
			}
		}
	}
}

var errQuit = fmt.Errorf("quit")

func handleLine(c *client.Client, line string) error {
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if !strings.HasPrefix(line, "/") {
		return c.SendText(ctx, line)
	}

	parts := strings.Fields(line)
	switch parts[0] {
	case "/auth":
		if len(parts) != 4 {
			return fmt.Errorf("usage: /auth {username} {secret} {displayName}")
		}
		ok, content, err := c.Authenticate(ctx, parts[1], parts[2], parts[3])
		if err != nil {
			return err
		}
		if ok {
			fmt.Printf("Action Success: %s\n", content)
		} else {
			fmt.Fprintf(os.Stderr, "Action Failure: %s\n", content)
		}
		return nil
	case "/join":
		if len(parts) != 2 {
			return fmt.Errorf("usage: /join {channelId}")
		}
		ok, content, err := c.JoinChannel(ctx, parts[1])
		if err != nil {
			return err
		}
		if ok {
			fmt.Printf("Action Success: %s\n", content)
		} else {
			fmt.Fprintf(os.Stderr, "Action Failure: %s\n", content)
		}
		return nil
	case "/rename":
		if len(parts) != 2 {
			return fmt.Errorf("usage: /rename {displayName}")
		}
		return c.Rename(parts[1])
	case "/bye":
		return errQuit
	case "/help":
		printHelp()
		return nil
	default:
		return fmt.Errorf("unknown command %s, try /help", parts[0])
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func printHelp() {
	fmt.Println(`Commands:
  /auth {username} {secret} {displayName}  authenticate with the server
  /join {channelId}                        switch to another channel
  /rename {displayName}                    change your display name locally
  /bye                                     end the session and quit
  /help                                    show this help

Any other input is sent as a chat message to the current channel.`)
}
