// Package main provides the CLI entry point for ARULA, an interactive
// agentic terminal client.
//
// # Basic Usage
//
// Start a chat session:
//
//	arula chat --provider anthropic --model claude-sonnet-4-20250514
//
// Inspect stored conversations:
//
//	arula conversations list
//	arula conversations show conv_20250101T120000Z_a1b2c3
//
// # Environment Variables
//
//   - ANTHROPIC_API_KEY / OPENAI_API_KEY / ZAI_API_KEY: provider credentials
//   - ARULA_DEBUG=1: verbose logging and the in-memory debug trace
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	root := &cobra.Command{
		Use:   "arula",
		Short: "ARULA - agentic AI terminal client",
		Long:  "ARULA drives multi-turn conversations with chat-completion providers,\ndispatching tool calls against a local registry and persisting every\nconversation under ~/.arula/conversations.",
	}

	root.AddCommand(
		buildChatCmd(),
		buildConversationsCmd(),
		buildVersionCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("arula %s (%s)\n", version, commit)
		},
	}
}
