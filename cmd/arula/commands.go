package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/arula-run/arula/internal/agent"
	"github.com/arula-run/arula/internal/agent/providers"
	"github.com/arula-run/arula/internal/conversations"
	"github.com/arula-run/arula/internal/observability"
	"github.com/arula-run/arula/internal/tools/exec"
	"github.com/arula-run/arula/internal/tools/files"
	"github.com/arula-run/arula/internal/tools/fsops"
	"github.com/arula-run/arula/internal/tools/question"
	"github.com/arula-run/arula/pkg/models"
)

func buildChatCmd() *cobra.Command {
	var (
		providerName string
		baseURL      string
		model        string
		system       string
		workspace    string
		thinking     bool
		noStream     bool
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), chatConfig{
				provider:  providerName,
				baseURL:   baseURL,
				model:     model,
				system:    system,
				workspace: workspace,
				thinking:  thinking,
				streaming: !noStream,
			})
		},
	}

	cmd.Flags().StringVar(&providerName, "provider", "anthropic", "Provider dialect: openai, anthropic, ollama, zai (or auto from --base-url)")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "Provider base URL override")
	cmd.Flags().StringVar(&model, "model", "", "Model identifier")
	cmd.Flags().StringVar(&system, "system", "", "System prompt")
	cmd.Flags().StringVar(&workspace, "workspace", ".", "Workspace root the built-in tools operate in")
	cmd.Flags().BoolVar(&thinking, "thinking", false, "Enable reasoning mode where supported")
	cmd.Flags().BoolVar(&noStream, "no-stream", false, "Use non-streaming requests")

	return cmd
}

type chatConfig struct {
	provider  string
	baseURL   string
	model     string
	system    string
	workspace string
	thinking  bool
	streaming bool
}

func runChat(ctx context.Context, cfg chatConfig) error {
	provider, err := buildProvider(cfg)
	if err != nil {
		return err
	}

	stdin := bufio.NewScanner(os.Stdin)
	registry, err := buildRegistry(cfg.workspace, stdin)
	if err != nil {
		return err
	}

	store, err := conversations.NewFileStore("")
	if err != nil {
		return err
	}

	opts := agent.DefaultOptions()
	opts.Model = cfg.model
	opts.SystemPrompt = cfg.system
	opts.Thinking = cfg.thinking
	opts.Streaming = cfg.streaming
	opts.Logger = observability.NewLogger(observability.LogConfig{})
	opts.Trace = observability.NewTrace(0, observability.DebugEnabled())

	a, err := agent.New(provider, registry, store, opts)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("arula chat (%s, %s) - empty line or /quit exits\n", provider.Name(), cfg.model)
	for {
		fmt.Print("> ")
		if !stdin.Scan() {
			return nil
		}
		line := strings.TrimSpace(stdin.Text())
		if line == "" || line == "/quit" || line == "/exit" {
			return nil
		}

		events, err := a.SendUserMessage(ctx, line)
		if err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			continue
		}
		renderEvents(events)
		if ctx.Err() != nil {
			return nil
		}
	}
}

// renderEvents prints one run's events: plain text deltas, dimmed
// thinking brackets, and tool activity lines.
func renderEvents(events <-chan models.AgentEvent) {
	for ev := range events {
		switch ev.Kind {
		case models.EventThinkingStart:
			fmt.Print("[thinking] ")
		case models.EventThinkingDelta:
			fmt.Print(ev.Text)
		case models.EventThinkingEnd:
			fmt.Println()
		case models.EventTextDelta:
			fmt.Print(ev.Text)
		case models.EventToolCallBegin:
			fmt.Printf("\n[tool] %s %s\n", ev.ToolName, ev.ArgsJSON)
		case models.EventToolResult:
			status := "ok"
			if !ev.Success {
				status = "failed: " + ev.Message
			}
			fmt.Printf("[tool] %s %s\n", ev.ToolName, status)
		case models.EventError:
			fmt.Fprintf(os.Stderr, "\n[error] %s\n", ev.Message)
		case models.EventTurnEnd:
			fmt.Println()
		}
	}
}

func buildProvider(cfg chatConfig) (agent.Provider, error) {
	kind := providers.Kind(cfg.provider)
	if cfg.provider == "" || cfg.provider == "auto" {
		kind = providers.DetectKind(cfg.baseURL)
	}

	switch kind {
	case providers.KindAnthropic:
		return providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:  os.Getenv("ANTHROPIC_API_KEY"),
			BaseURL: cfg.baseURL,
		})
	case providers.KindOllama:
		return providers.NewOllamaProvider(providers.OllamaConfig{BaseURL: cfg.baseURL}), nil
	case providers.KindZAI:
		return providers.NewZAIProvider(providers.ZAIConfig{
			APIKey:  os.Getenv("ZAI_API_KEY"),
			BaseURL: cfg.baseURL,
		})
	case providers.KindOpenAI, providers.KindCustom:
		return providers.NewOpenAIProvider(providers.OpenAIConfig{
			APIKey:  os.Getenv("OPENAI_API_KEY"),
			BaseURL: cfg.baseURL,
		})
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.provider)
	}
}

// buildRegistry wires the built-in tool set against the workspace.
func buildRegistry(workspace string, stdin *bufio.Scanner) (*agent.ToolRegistry, error) {
	registry := agent.NewToolRegistry()

	bash, err := exec.NewBashTool(exec.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	registry.Register(bash)

	fileCfg := files.Config{Workspace: workspace}
	registry.Register(files.NewReadTool(fileCfg))
	registry.Register(files.NewWriteTool(fileCfg))
	registry.Register(files.NewEditTool(fileCfg))

	fsCfg := fsops.Config{Workspace: workspace}
	registry.Register(fsops.NewListTool(fsCfg))
	registry.Register(fsops.NewSearchTool(fsCfg))

	registry.Register(question.NewTool(question.AskerFunc(
		func(ctx context.Context, q question.Question) (string, error) {
			fmt.Printf("\n[question] %s\n", q.Prompt)
			for i, opt := range q.Options {
				fmt.Printf("  %d) %s\n", i+1, opt)
			}
			fmt.Print("answer> ")
			if !stdin.Scan() {
				return "", fmt.Errorf("input closed")
			}
			return strings.TrimSpace(stdin.Text()), nil
		})))

	return registry, nil
}

func buildConversationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conversations",
		Short: "Manage stored conversations",
	}
	cmd.AddCommand(
		buildConversationsListCmd(),
		buildConversationsShowCmd(),
		buildConversationsDeleteCmd(),
	)
	return cmd
}

func buildConversationsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List conversations, most recently updated first",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := conversations.NewFileStore("")
			if err != nil {
				return err
			}
			convs, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			for _, conv := range convs {
				fmt.Printf("%-38s  %-19s  %3d msgs  %s\n",
					conv.Metadata.ID,
					conv.Metadata.Updated.Format("2006-01-02 15:04:05"),
					conv.Statistics.MessageCount,
					conv.Metadata.Title,
				)
			}
			return nil
		},
	}
}

func buildConversationsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print a conversation transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := conversations.NewFileStore("")
			if err != nil {
				return err
			}
			conv, err := store.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%s (%s / %s)\n\n", conv.Metadata.Title, conv.Metadata.Provider, conv.Metadata.Model)
			for _, msg := range conv.Messages {
				switch msg.Role {
				case models.RoleTool:
					fmt.Printf("[tool %s]\n%s\n\n", msg.ToolName, msg.Content)
				default:
					fmt.Printf("[%s]\n%s\n", msg.Role, msg.Content)
					for _, call := range msg.ToolCalls {
						fmt.Printf("  -> %s(%s)\n", call.Name, call.Arguments)
					}
					fmt.Println()
				}
			}
			return nil
		},
	}
}

func buildConversationsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := conversations.NewFileStore("")
			if err != nil {
				return err
			}
			return store.Delete(cmd.Context(), args[0])
		},
	}
}
