package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/meltforce/squatclicker/internal/mcp"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// squatclicker-mcp serves the MCP tools over stdio, reading history from a
// remote SquatClicker server's REST API.
func main() {
	serverURL := flag.String("server", os.Getenv("SQUATCLICKER_URL"), "SquatClicker server URL (e.g. https://squatclicker.tail1234.ts.net)")
	version := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *version {
		fmt.Println("squatclicker-mcp", Version)
		return
	}
	if *serverURL == "" {
		fmt.Fprintf(os.Stderr, "Error: -server is required\n")
		os.Exit(1)
	}

	// stdout carries the MCP protocol, so logs go to stderr.
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	srv := mcp.New(mcp.NewHTTPClient(*serverURL), Version, log)
	if err := mcpserver.ServeStdio(srv); err != nil {
		log.Error("mcp server stopped", "error", err)
		os.Exit(1)
	}
}
