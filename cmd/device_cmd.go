package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/cliprelay/internal/client"
	"github.com/nextlevelbuilder/cliprelay/internal/config"
	"github.com/nextlevelbuilder/cliprelay/internal/crypto"
	"github.com/nextlevelbuilder/cliprelay/internal/qr"
	"github.com/nextlevelbuilder/cliprelay/pkg/transfer"
)

const resumeBackoff = 2 * time.Second

func primaryCmd() *cobra.Command {
	var relayURL string
	var manual bool
	cmd := &cobra.Command{
		Use:   "primary",
		Short: "Open a pair and show a QR code (and optionally a manual code) for the other device",
		Run: func(cmd *cobra.Command, args []string) {
			cfg, _ := mustLoadConfig()
			setupLogging(os.Stderr, cfg.Log)
			enc := qr.NewEncoder(cfg.QR)
			start := func(c *client.Client) error {
				if err := c.ConnectPrimary(); err != nil {
					return err
				}
				if manual {
					return c.RequestManualCode()
				}
				return nil
			}
			runDeviceOrExit(cfg, relayURL, enc, start)
		},
	}
	cmd.Flags().StringVar(&relayURL, "relay", "", "relay websocket URL (default: derived from config)")
	cmd.Flags().BoolVar(&manual, "manual-code", false, "also request a manual code for typing on the other device")
	return cmd
}

func secondaryCmd() *cobra.Command {
	var relayURL, code string
	cmd := &cobra.Command{
		Use:   "secondary [token]",
		Short: "Join a pair with a scanned QR token or a manual code",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) == 0 && code == "" {
				fmt.Fprintln(os.Stderr, "Error: pass a QR token or --code")
				os.Exit(1)
			}
			cfg, _ := mustLoadConfig()
			setupLogging(os.Stderr, cfg.Log)
			enc := qr.NewEncoder(cfg.QR)
			start := func(c *client.Client) error {
				if code != "" {
					return c.JoinManualCode(code)
				}
				return c.JoinQR(enc.TokenFromContent(args[0]))
			}
			runDeviceOrExit(cfg, relayURL, enc, start)
		},
	}
	cmd.Flags().StringVar(&relayURL, "relay", "", "relay websocket URL (default: derived from config)")
	cmd.Flags().StringVar(&code, "code", "", "manual code shown on the primary device")
	return cmd
}

func runDeviceOrExit(cfg *config.Config, relayURL string, enc *qr.Encoder, start func(*client.Client) error) {
	if relayURL == "" {
		relayURL = defaultRelayURL(cfg)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := runDevice(ctx, cfg, relayURL, enc, start, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

// defaultRelayURL points at the gateway from the local config.
func defaultRelayURL(cfg *config.Config) string {
	host := cfg.Gateway.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	scheme := "ws"
	if cfg.Gateway.TLSCert != "" {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s%s", scheme, net.JoinHostPort(host, strconv.Itoa(cfg.Gateway.Port)), cfg.Gateway.Path)
}

// runDevice connects, pairs and relays lines from in as text transfers
// until ctx ends or in closes. A dropped connection is resumed with the
// same device id and keys.
func runDevice(ctx context.Context, cfg *config.Config, relayURL string, enc *qr.Encoder, start func(*client.Client) error, in io.Reader, out io.Writer) error {
	keys, err := crypto.GenerateKeyPair()
	if err != nil {
		return err
	}
	ccfg := client.Config{
		URL:  relayURL,
		Keys: keys,
		Transfer: transfer.SenderConfig{
			MaxPackageSize: cfg.Transfer.MaxPackageSize,
			Interval:       cfg.PacingInterval(),
		},
		Callbacks: printCallbacks(out, enc),
	}

	var current atomic.Pointer[client.Client]
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		readCommands(ctx, &current, in, out)
		cancel()
	}()

	var deviceID, peerKey string
	for {
		c, err := client.Dial(ctx, ccfg)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		current.Store(c)

		if deviceID == "" {
			err = start(c)
		} else {
			err = c.Resume(deviceID, peerKey)
		}
		if err == nil {
			err = c.Run(ctx)
		}
		c.Close()
		if ctx.Err() != nil {
			return nil
		}

		if id := c.DeviceID(); id != "" {
			deviceID, peerKey = id, c.PeerPublicKey()
		}
		if deviceID == "" {
			return err
		}
		fmt.Fprintf(out, "connection lost (%v), resuming...\n", err)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(resumeBackoff):
		}
	}
}

func printCallbacks(out io.Writer, enc *qr.Encoder) client.Callbacks {
	return client.Callbacks{
		Connected: func(deviceID, token string, lifetime time.Duration) {
			printToken(out, enc, token, lifetime)
		},
		Token: func(token string, lifetime time.Duration) {
			printToken(out, enc, token, lifetime)
		},
		ManualCode: func(code string, lifetime time.Duration) {
			fmt.Fprintf(out, "Manual code: %s (valid %s)\n", code, lifetime)
		},
		Confirmation: func(code string) {
			fmt.Fprintf(out, "Confirmation code: %s\n", code)
			fmt.Fprintln(out, "If both devices show the same code, type /yes on the primary.")
		},
		Paired: func(string) {
			fmt.Fprintln(out, "Paired. Type a line to send it, /help for commands.")
		},
		Peer: func(online bool) {
			if online {
				fmt.Fprintln(out, "Other device is online.")
			} else {
				fmt.Fprintln(out, "Other device went offline.")
			}
		},
		Direction: func(direction string) {
			fmt.Fprintf(out, "Direction: %s\n", direction)
		},
		Prepared: func(p transfer.Prepared) {
			if p.PackageCount > 1 {
				fmt.Fprintf(out, "Receiving %s in %d packages...\n", p.Type, p.PackageCount)
			}
		},
		Item: func(item *transfer.Item) {
			printItem(out, item)
		},
		Error: func(event, message string) {
			fmt.Fprintf(out, "Relay: %s %s\n", event, message)
		},
	}
}

func printToken(out io.Writer, enc *qr.Encoder, token string, lifetime time.Duration) {
	if art, err := enc.Terminal(token); err == nil {
		fmt.Fprint(out, art)
	}
	fmt.Fprintf(out, "Token: %s (valid %s)\n", token, lifetime)
	fmt.Fprintf(out, "On the other device run: cliprelay secondary %s\n", token)
}

func printItem(out io.Writer, item *transfer.Item) {
	switch item.Type {
	case transfer.TypeDocument:
		name := filepath.Base(item.Document.FileName)
		if name == "." || name == string(filepath.Separator) {
			name = item.ID
		}
		if err := os.WriteFile(name, item.Document.Data, 0o600); err != nil {
			fmt.Fprintf(out, "<< document %s (%d bytes) not saved: %v\n", name, len(item.Document.Data), err)
			return
		}
		fmt.Fprintf(out, "<< document saved to %s (%d bytes)\n", name, len(item.Document.Data))
	case transfer.TypePassword:
		fmt.Fprintf(out, "<< password (%d chars): %s\n", len(item.Text), item.Text)
	default:
		fmt.Fprintf(out, "<< %s\n", item.Text)
	}
}

const commandHelp = `Commands:
  /yes          confirm the manual code pairing (primary)
  /token        show a fresh QR token (primary)
  /code         request a manual code (primary)
  /toggle       flip the transfer direction
  /url <url>    send a url
  /password <p> send a password
  /file <path>  send a file
  /quit         exit
Any other line is sent as text.`

// readCommands runs the interactive loop until in is exhausted.
func readCommands(ctx context.Context, current *atomic.Pointer[client.Client], in io.Reader, out io.Writer) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		c := current.Load()
		if c == nil {
			continue
		}
		cmd, arg, _ := strings.Cut(line, " ")
		var err error
		switch cmd {
		case "/quit":
			return
		case "/help":
			fmt.Fprintln(out, commandHelp)
		case "/yes":
			err = c.ConfirmManualCode()
		case "/token":
			err = c.RefreshToken()
		case "/code":
			err = c.RequestManualCode()
		case "/toggle":
			err = c.ToggleDirection()
		case "/url":
			err = c.Send(&transfer.Item{Type: transfer.TypeURL, Text: arg})
		case "/password":
			err = c.Send(&transfer.Item{Type: transfer.TypePassword, Text: arg})
		case "/file":
			err = sendFile(c, arg)
		default:
			err = c.SendText(line)
		}
		if err != nil {
			fmt.Fprintf(out, "Error: %s\n", err)
		}
	}
}

func sendFile(c *client.Client, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return c.Send(&transfer.Item{
		Type:     transfer.TypeDocument,
		Document: &transfer.Document{FileName: filepath.Base(path), Data: data},
	})
}
