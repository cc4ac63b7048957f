package cmd

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/cliprelay/internal/config"
	"github.com/nextlevelbuilder/cliprelay/internal/gateway"
	"github.com/nextlevelbuilder/cliprelay/pkg/protocol"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration and relay health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("cliprelay doctor")
	fmt.Printf("  Version:  %s (protocol %d)\n", Version, protocol.ProtocolVersion)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, using defaults)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	fmt.Println()
	fmt.Printf("  Listen:     %s%s\n", cfg.Addr(), cfg.Gateway.Path)
	fmt.Printf("  Rate limit: %d/min, burst %d\n", cfg.Gateway.RateLimitRPM, cfg.Gateway.RateLimitBurst)
	fmt.Printf("  Telemetry:  %v\n", cfg.Telemetry.Enabled)

	fmt.Println()
	census, err := fetchHealth(cfg)
	if err != nil {
		fmt.Printf("  Relay:    not reachable (%s)\n", err)
	} else {
		fmt.Printf("  Relay:    up, %d devices online, %d offline, %d active pairs, %d idle, %d tokens\n",
			census.Devices, census.OfflineDevices, census.ActivePairs, census.IdlePairs, census.Tokens)
	}

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func fetchHealth(cfg *config.Config) (gateway.Census, error) {
	host := cfg.Gateway.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	scheme := "http"
	if cfg.Gateway.TLSCert != "" {
		scheme = "https"
	}
	url := fmt.Sprintf("%s://%s/health", scheme, net.JoinHostPort(host, strconv.Itoa(cfg.Gateway.Port)))

	httpClient := &http.Client{Timeout: 3 * time.Second}
	resp, err := httpClient.Get(url)
	if err != nil {
		return gateway.Census{}, err
	}
	defer resp.Body.Close()

	var body struct {
		Census gateway.Census `json:"census"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return gateway.Census{}, fmt.Errorf("decode health: %w", err)
	}
	return body.Census, nil
}
