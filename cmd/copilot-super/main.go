// ABOUTME: Entry point for copilot-super, a local MCP server that asks a human for replies
// ABOUTME: Serves one blocking tool on loopback and reads the answers from the terminal

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fatih/color"

	"github.com/2389/copilot-super/internal/bridge"
	"github.com/2389/copilot-super/internal/config"
	"github.com/2389/copilot-super/internal/mcp"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                 _ _       _                                        
  ___ ___  _ __ (_) | ___ | |_      ___ _   _ _ __   ___ _ __ 
 / __/ _ \| '_ \| | |/ _ \| __|____/ __| | | | '_ \ / _ \ '__|
| (_| (_) | |_) | | | (_) | ||_____\__ \ |_| | |_) |  __/ |   
 \___\___/| .__/|_|_|\___/ \__|    |___/\__,_| .__/ \___|_|   
          |_|                                |_|              
`

const stopTimeout = 10 * time.Second

func usage() {
	fmt.Println("Usage: copilot-super <command> [--port N] [--wait DURATION]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve        Start the MCP server and answer tool calls from this terminal")
	fmt.Println("  init         Write a default config file")
	fmt.Println("  health       Ping a running server (--wait retries until it answers)")
	fmt.Println("  mcp-config   Print the client registration snippet")
	fmt.Println("  version      Print the version")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx, os.Args[2:])
	case "init":
		err = runInit()
	case "health":
		err = runHealth(ctx, os.Args[2:])
	case "mcp-config":
		err = runMCPConfig(os.Args[2:])
	case "version", "--version", "-v":
		fmt.Println(version)
	case "help", "--help", "-h":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// cliFlags are the options shared by the commands that take any.
type cliFlags struct {
	port int           // 0 when absent
	wait time.Duration // health only: keep retrying this long
}

// parseFlags reads "--port N", "--port=N", "--wait D" and "--wait=D".
func parseFlags(args []string) (cliFlags, error) {
	var flags cliFlags
	var rawPort, rawWait string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--port" || arg == "-p":
			if i+1 >= len(args) {
				return flags, fmt.Errorf("--port requires a value")
			}
			rawPort = args[i+1]
			i++
		case strings.HasPrefix(arg, "--port="):
			rawPort = strings.TrimPrefix(arg, "--port=")
		case arg == "--wait":
			if i+1 >= len(args) {
				return flags, fmt.Errorf("--wait requires a value")
			}
			rawWait = args[i+1]
			i++
		case strings.HasPrefix(arg, "--wait="):
			rawWait = strings.TrimPrefix(arg, "--wait=")
		case strings.HasPrefix(arg, "-"):
			return flags, fmt.Errorf("unknown flag: %s", arg)
		default:
			return flags, fmt.Errorf("unexpected argument: %s", arg)
		}
	}

	if rawPort != "" {
		port, err := strconv.Atoi(rawPort)
		if err != nil || port < 1 || port > 65535 {
			return flags, fmt.Errorf("invalid port %q", rawPort)
		}
		flags.port = port
	}
	if rawWait != "" {
		wait, err := time.ParseDuration(rawWait)
		if err != nil || wait < 0 {
			return flags, fmt.Errorf("invalid wait %q", rawWait)
		}
		flags.wait = wait
	}
	return flags, nil
}

// loadConfig loads the config file, falling back to defaults when it does
// not exist, and applies a --port override.
func loadConfig(args []string) (*config.Config, cliFlags, error) {
	flags, err := parseFlags(args)
	if err != nil {
		return nil, flags, err
	}

	cfg, _, err := config.LoadOrDefault(config.DefaultPath())
	if err != nil {
		return nil, flags, fmt.Errorf("loading config: %w", err)
	}
	if flags.port != 0 {
		cfg.Server.Port = flags.port
	}
	return cfg, flags, nil
}

func runServe(ctx context.Context, args []string) error {
	flags, err := parseFlags(args)
	if err != nil {
		return err
	}
	if flags.wait != 0 {
		return fmt.Errorf("--wait only applies to health")
	}

	configPath := config.DefaultPath()
	cfg, found, err := config.LoadOrDefault(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if flags.port != 0 {
		cfg.Server.Port = flags.port
	}

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	logger := setupLogger(cfg.Logging, os.Stderr)

	srv, err := mcp.NewServer(mcp.Config{
		Logger:                logger.With("component", "mcp"),
		PortAttempts:          cfg.Server.PortAttempts,
		HeartbeatInterval:     cfg.SSE.HeartbeatInterval,
		CallKeepaliveInterval: cfg.SSE.CallKeepaliveInterval,
		MaxBodyBytes:          cfg.Server.MaxBodyBytes,
		ServerVersion:         version,
	})
	if err != nil {
		return fmt.Errorf("creating MCP server: %w", err)
	}

	var surface *console
	bridgeCfg := bridge.Config{Logger: logger}
	if cfg.Console.Enabled {
		surface = newConsole(os.Stdout)
		bridgeCfg.Surface = surface
	}
	b := bridge.New(bridgeCfg)

	srv.SetToolCallHandler(b.Handle)
	srv.SetToolCallCancelHandler(func() { b.Cancel() })

	port, err := srv.Start(cfg.Server.Port)
	if err != nil {
		return fmt.Errorf("starting MCP server: %w", err)
	}

	// Startup info
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	if found {
		fmt.Printf("Config:    %s\n", configPath)
	} else {
		fmt.Printf("Config:    defaults (%s not found)\n", configPath)
	}
	green.Print("    ▶ ")
	fmt.Printf("Endpoint:  %s\n", mcp.EndpointURL(port))
	green.Print("    ▶ ")
	fmt.Printf("Tool:      ")
	cyan.Println(mcp.ToolName(port))
	if port != cfg.Server.Port && cfg.Server.Port != 0 {
		yellow.Printf("    ! port %d was busy\n", cfg.Server.Port)
	}
	fmt.Println()

	logger.Info("starting copilot-super",
		"config", configPath,
		"port", port,
		"tool", mcp.ToolName(port),
	)

	if surface != nil {
		surface.printf("%s", consoleHelp)
		go func() {
			if err := surface.run(ctx, os.Stdin, b); err != nil {
				logger.Error("console stopped", "error", err)
			}
		}()
	} else {
		logger.Warn("console disabled: tool calls will wait until the client disconnects")
	}

	<-ctx.Done()
	logger.Info("shutting down")

	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	err = srv.Stop(stopCtx)
	b.Close()
	return err
}

func runInit() error {
	configPath := config.DefaultPath()

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	if err := config.WriteDefault(configPath); err != nil {
		if errors.Is(err, os.ErrExist) {
			yellow.Printf("Config already exists: %s\n", configPath)
			return nil
		}
		return err
	}

	green.Print("✓ ")
	fmt.Printf("Wrote %s\n", configPath)
	return nil
}

func runHealth(ctx context.Context, args []string) error {
	cfg, flags, err := loadConfig(args)
	if err != nil {
		return err
	}

	url := mcp.EndpointURL(cfg.Server.Port)
	if err := waitHealthy(ctx, url, flags.wait); err != nil {
		return err
	}

	fmt.Printf("healthy: %s (%s)\n", url, mcp.ToolName(cfg.Server.Port))
	return nil
}

// waitHealthy pings url, retrying with exponential backoff for up to wait.
// A zero wait pings once.
func waitHealthy(ctx context.Context, url string, wait time.Duration) error {
	if wait == 0 {
		return ping(ctx, url)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = wait
	b.Reset()

	return backoff.Retry(func() error {
		err := ping(ctx, url)
		var rpcErr *rpcError
		if errors.As(err, &rpcErr) {
			// The server answered; retrying will not change that.
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(b, ctx))
}

// rpcError is a JSON-RPC error answered by a running server.
type rpcError struct {
	err *mcp.Error
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("unhealthy: %s (code %d)", e.err.Message, e.err.Code)
}

// ping sends a JSON-RPC ping to the endpoint and checks the answer.
func ping(ctx context.Context, url string) error {
	body := []byte(`{"jsonrpc":"2.0","id":"health","method":"ping"}`)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	var rpc struct {
		Error *mcp.Error `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&rpc); err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if rpc.Error != nil {
		return &rpcError{err: rpc.Error}
	}
	return nil
}

func runMCPConfig(args []string) error {
	cfg, _, err := loadConfig(args)
	if err != nil {
		return err
	}

	out, err := registrationJSON(cfg.Server.Port)
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// registrationJSON is the mcpServers entry a client needs to reach the
// instance on port.
func registrationJSON(port int) ([]byte, error) {
	entry := map[string]map[string]map[string]string{
		"mcpServers": {
			mcp.RegistrationKey(port): {
				"type": "http",
				"url":  mcp.EndpointURL(port),
			},
		},
	}
	out, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding registration: %w", err)
	}
	return out, nil
}
