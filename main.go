package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/lectorhq/docstract/internal/extraction"
	"github.com/lectorhq/docstract/internal/registry"

	// Import all tool packages to register them
	_ "github.com/lectorhq/docstract/internal/imports"
)

// Version information (set during build)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// Global resources that need cleanup. Atomics because signal handlers and
// cleanup can race.
var (
	logFileHandle atomic.Pointer[os.File]
	isStdioMode   atomic.Bool
)

// parseLogLevel parses the LOG_LEVEL environment variable.
// Defaults to WarnLevel if not set or invalid.
func parseLogLevel() logrus.Level {
	logLevelStr := strings.ToLower(strings.TrimSpace(os.Getenv("LOG_LEVEL")))

	switch logLevelStr {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.WarnLevel
	}
}

func main() {
	// Best effort: local .env files configure the vision tier in development
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Discard output until the transport mode is known; stdio transport must
	// never see log lines on stdout or stderr
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	logger.SetLevel(parseLogLevel())
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	registry.Init(logger)

	defer performCleanup()

	app := &cli.App{
		Name:    "docstract",
		Usage:   "MCP server for tiered document text extraction",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "transport",
				Aliases: []string{"t"},
				Value:   "stdio",
				Usage:   "Transport type (stdio, sse, or http)",
			},
			&cli.StringFlag{
				Name:  "port",
				Value: "18080",
				Usage: "Port to use for HTTP transports (SSE and Streamable HTTP)",
			},
			&cli.StringFlag{
				Name:  "base-url",
				Value: "http://localhost",
				Usage: "Base URL for HTTP transports",
			},
			&cli.StringFlag{
				Name:  "endpoint-path",
				Value: "/http",
				Usage: "Endpoint path for Streamable HTTP transport",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "version",
				Usage: "Print version information",
				Action: func(c *cli.Context) error {
					fmt.Printf("docstract version %s\n", Version)
					fmt.Printf("Commit: %s\n", Commit)
					fmt.Printf("Built: %s\n", BuildDate)
					return nil
				},
			},
			{
				Name:      "extract",
				Usage:     "Extract text from a PDF document without starting the server",
				ArgsUsage: "<file.pdf>",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "no-vision",
						Usage: "Disable the vision fallback tier",
					},
					&cli.BoolFlag{
						Name:  "no-cache",
						Usage: "Bypass the result cache",
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Print the full result as JSON instead of a summary",
					},
					&cli.IntFlag{
						Name:  "concurrency",
						Usage: "Vision worker pool size (default: from configuration)",
					},
				},
				Action: func(c *cli.Context) error {
					return runExtract(c, logger)
				},
			},
		},
		Action: func(c *cli.Context) error {
			return runServer(ctx, c, logger)
		},
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		// In stdio mode stdout and stderr belong to the MCP protocol, so no
		// logging on the way out
		if !isStdioMode.Load() {
			logger.Fatalf("Error: %v", err)
		}
		os.Exit(1)
	}
}

// runServer configures logging for the chosen transport and serves MCP.
func runServer(ctx context.Context, c *cli.Context, logger *logrus.Logger) error {
	transport := c.String("transport")
	port := c.String("port")
	baseURL := c.String("base-url")

	isStdioMode.Store(transport == "stdio")

	configureServerLogging(logger, transport)

	if transport != "stdio" {
		logger.Infof("Starting docstract version %s (commit: %s, built: %s)", Version, Commit, BuildDate)
	}

	logger.Debug("Creating MCP server")
	mcpSrv := mcpserver.NewMCPServer("docstract", "Docstract Extraction Server")

	enabledTools := registry.GetTools()
	logger.WithField("tool_count", len(enabledTools)).Debug("MCP server created, registering tools")

	for toolName := range enabledTools {
		name := toolName

		if transport != "stdio" {
			logger.Infof("Registering tool: %s", name)
		}

		mcpSrv.AddTool(enabledTools[name].Definition(), func(toolCtx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			currentTool, ok := registry.GetTool(name)
			if !ok {
				return nil, fmt.Errorf("tool not found: %s", name)
			}

			args, ok := request.Params.Arguments.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("invalid arguments type: expected map[string]interface{}, got %T", request.Params.Arguments)
			}

			result, err := currentTool.Execute(toolCtx, registry.GetLogger(), registry.GetCache(), args)
			if err != nil {
				if transport != "stdio" {
					logger.WithError(err).Errorf("Tool execution failed: %s", name)
				}
				return nil, fmt.Errorf("tool execution failed: %w", err)
			}

			return result, nil
		})
	}

	logger.WithField("transport", transport).Debug("Starting server")
	switch transport {
	case "stdio":
		return mcpserver.ServeStdio(mcpSrv)
	case "sse":
		logger.WithField("port", port).Debug("Starting SSE server")
		sseServer := mcpserver.NewSSEServer(mcpSrv, mcpserver.WithBaseURL(baseURL+"/sse"))
		return sseServer.Start(":" + port)
	case "http":
		endpointPath := c.String("endpoint-path")
		logger.WithField("port", port).Debug("Starting HTTP server")
		httpServer := mcpserver.NewStreamableHTTPServer(mcpSrv, mcpserver.WithEndpointPath(endpointPath))
		return httpServer.Start(":" + port)
	default:
		return fmt.Errorf("unsupported transport: %s", transport)
	}
}

// configureServerLogging sends server logs to a file so the stdio protocol
// stream stays clean. When the file cannot be opened, stdio mode discards
// logs entirely and other transports fall back to stderr.
func configureServerLogging(logger *logrus.Logger, transport string) {
	logLevel := parseLogLevel()
	if transport == "stdio" && logLevel < logrus.WarnLevel {
		logLevel = logrus.WarnLevel
	}

	fallback := func() {
		if transport == "stdio" {
			logger.SetOutput(io.Discard)
		} else {
			logger.SetOutput(os.Stderr)
		}
		logger.SetLevel(logLevel)
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		fallback()
		return
	}

	logDir := filepath.Join(homeDir, ".docstract", "logs")
	if err := os.MkdirAll(logDir, 0700); err != nil {
		fallback()
		return
	}

	logFile := filepath.Join(logDir, "docstract.log")
	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		fallback()
		return
	}

	logFileHandle.Store(file)
	logger.SetOutput(file)
	logger.SetLevel(logLevel)
	logger.WithField("level", logLevel.String()).Debug("Logging configured")
}

// runExtract runs the pipeline once against a local file and prints the
// outcome.
func runExtract(c *cli.Context, logger *logrus.Logger) error {
	if c.NArg() != 1 {
		return fmt.Errorf("expected exactly one PDF file argument")
	}

	filePath, err := filepath.Abs(c.Args().First())
	if err != nil {
		return fmt.Errorf("failed to resolve file path: %w", err)
	}

	// CLI mode owns the terminal, so logs can go to stderr
	logger.SetOutput(os.Stderr)
	logger.SetLevel(parseLogLevel())

	cfg, err := extraction.LoadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	pipeline, err := extraction.NewDefaultPipeline(cfg, logger)
	if err != nil {
		return err
	}

	opts := extraction.Options{
		VisionEnabled: !c.Bool("no-vision"),
		Concurrency:   c.Int("concurrency"),
	}

	cache := extraction.NewResultCache(cfg)
	cacheKey := cache.Key(filePath, opts)

	var result *extraction.ExtractionResult
	if !c.Bool("no-cache") {
		if cached, ok := cache.Get(cacheKey); ok {
			result = cached
		}
	}

	if result == nil {
		doc, err := extraction.LoadDocument(filePath, cfg.MaxFileBytes())
		if err != nil {
			return err
		}

		result, err = pipeline.ExtractWithFallback(c.Context, doc, opts)
		if err != nil {
			return err
		}

		if !c.Bool("no-cache") {
			if err := cache.Set(cacheKey, result); err != nil {
				logger.WithError(err).Warn("Failed to cache extraction result")
			}
		}
	}

	if c.Bool("json") {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal result: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	printSummary(result)
	return nil
}

// printSummary renders a human-readable extraction summary.
func printSummary(result *extraction.ExtractionResult) {
	bold := color.New(color.Bold)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)

	_, _ = bold.Printf("Extraction %s\n", result.ID)
	fmt.Printf("  Source:       %s\n", result.Metadata.Source)
	fmt.Printf("  Pages:        %d\n", result.TotalPages)
	fmt.Printf("  Method:       %s\n", result.ExtractionMethod)
	fmt.Printf("  Vision pages: %d\n", result.Metadata.VisionPages)
	fmt.Printf("  Empty pages:  %d\n", result.Metadata.EmptyPages)
	fmt.Printf("  Time:         %.2fs", result.Metadata.ProcessingTime)
	if result.Metadata.CacheHit {
		fmt.Printf(" (cached)")
	}
	fmt.Println()

	if result.QualityReport != nil {
		score := result.QualityReport.OverallScore
		fmt.Printf("  Quality:      ")
		switch {
		case score >= 70:
			_, _ = green.Printf("%d/100\n", score)
		case score >= 40:
			_, _ = yellow.Printf("%d/100\n", score)
		default:
			_, _ = red.Printf("%d/100\n", score)
		}
	}

	if result.NeedsOCR {
		_, _ = yellow.Println("  This document needs OCR; extraction quality is degraded.")
	}

	fmt.Println()
	fmt.Println(result.Content)
}

// performCleanup closes the log file on shutdown.
func performCleanup() {
	if file := logFileHandle.Load(); file != nil {
		_ = file.Close()
	}
}
