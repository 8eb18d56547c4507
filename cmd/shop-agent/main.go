// Command shop-agent is a text REPL that lets a Gemini model drive a local
// shop session through function calling.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"google.golang.org/genai"

	"github.com/vango-go/vai-shop/internal/bootstrap"
	"github.com/vango-go/vai-shop/internal/dotenv"
	"github.com/vango-go/vai-shop/pkg/gateway/config"
	"github.com/vango-go/vai-shop/pkg/gateway/tools"
	"github.com/vango-go/vai-shop/pkg/genaibridge"
	"github.com/vango-go/vai-shop/pkg/shop"
)

const (
	defaultModel    = "gemini-2.5-flash"
	defaultTimeout  = 60 * time.Second
	defaultMaxSteps = 8
)

type agentConfig struct {
	Model        string
	Timeout      time.Duration
	MaxSteps     int
	SystemPrompt string
	APIKey       string
	Verbose      bool
}

func parseAgentConfig(args []string, getenv func(string) string) (agentConfig, error) {
	if getenv == nil {
		getenv = os.Getenv
	}

	cfg := agentConfig{}
	fs := pflag.NewFlagSet("shop-agent", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&cfg.Model, "model", envOrDefault(getenv, "SHOP_AGENT_MODEL", defaultModel), "Gemini model")
	fs.DurationVar(&cfg.Timeout, "timeout", defaultTimeout, "per-turn timeout (e.g. 60s)")
	fs.IntVar(&cfg.MaxSteps, "max-steps", defaultMaxSteps, "max model calls per turn")
	fs.StringVar(&cfg.SystemPrompt, "system", defaultPersona, "system prompt")
	fs.BoolVarP(&cfg.Verbose, "verbose", "v", false, "print tool calls and results")

	if err := fs.Parse(args); err != nil {
		return agentConfig{}, err
	}

	cfg.APIKey = strings.TrimSpace(getenv("GEMINI_API_KEY"))
	if cfg.APIKey == "" {
		cfg.APIKey = strings.TrimSpace(getenv("GOOGLE_API_KEY"))
	}

	if err := validateAgentConfig(cfg); err != nil {
		return agentConfig{}, err
	}
	return cfg, nil
}

func envOrDefault(getenv func(string) string, key, def string) string {
	if v := strings.TrimSpace(getenv(key)); v != "" {
		return v
	}
	return def
}

func validateAgentConfig(cfg agentConfig) error {
	if strings.TrimSpace(cfg.Model) == "" {
		return errors.New("model must not be empty")
	}
	if cfg.Timeout <= 0 {
		return errors.New("timeout must be > 0")
	}
	if cfg.MaxSteps <= 0 {
		return errors.New("max-steps must be > 0")
	}
	if cfg.APIKey == "" {
		return errors.New("missing Gemini key (set GEMINI_API_KEY or GOOGLE_API_KEY)")
	}
	return nil
}

// generator is the slice of the Gemini client the agent needs.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type agent struct {
	cfg      agentConfig
	model    generator
	registry *tools.Registry
	session  *shop.Session
	genCfg   *genai.GenerateContentConfig
	history  []*genai.Content
	out      io.Writer
}

func newAgent(cfg agentConfig, model generator, registry *tools.Registry, session *shop.Session, out io.Writer) *agent {
	return &agent{
		cfg:      cfg,
		model:    model,
		registry: registry,
		session:  session,
		out:      out,
		genCfg: &genai.GenerateContentConfig{
			SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: cfg.SystemPrompt}}},
			Tools:             []*genai.Tool{genaibridge.Tool(registry)},
		},
		history: make([]*genai.Content, 0, 32),
	}
}

// turn sends one user message and keeps answering function calls until the
// model replies with text or the step budget runs out. History is rolled
// back when the turn fails so a retry starts clean.
func (a *agent) turn(ctx context.Context, text string) (string, error) {
	beforeLen := len(a.history)
	a.history = append(a.history, &genai.Content{Role: string(genai.RoleUser), Parts: []*genai.Part{{Text: text}}})

	for step := 0; step < a.cfg.MaxSteps; step++ {
		resp, err := a.model.GenerateContent(ctx, a.cfg.Model, a.history, a.genCfg)
		if err != nil {
			a.history = a.history[:beforeLen]
			return "", fmt.Errorf("generate: %w", err)
		}
		content := firstContent(resp)
		if content == nil {
			a.history = a.history[:beforeLen]
			return "", errors.New("model returned no candidates")
		}
		if content.Role == "" {
			content.Role = string(genai.RoleModel)
		}
		a.history = append(a.history, content)

		calls := functionCalls(content)
		if len(calls) == 0 {
			return responseText(content), nil
		}
		if a.cfg.Verbose {
			for _, call := range calls {
				fmt.Fprintf(a.out, "[tool] %s %v\n", call.Name, call.Args)
			}
		}
		parts := genaibridge.Dispatch(ctx, a.registry, a.session, calls)
		a.history = append(a.history, &genai.Content{Role: string(genai.RoleUser), Parts: parts})
	}
	a.history = a.history[:beforeLen]
	return "", fmt.Errorf("no reply after %d model calls", a.cfg.MaxSteps)
}

func firstContent(resp *genai.GenerateContentResponse) *genai.Content {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return nil
	}
	return resp.Candidates[0].Content
}

func functionCalls(c *genai.Content) []*genai.FunctionCall {
	var calls []*genai.FunctionCall
	for _, p := range c.Parts {
		if p != nil && p.FunctionCall != nil {
			calls = append(calls, p.FunctionCall)
		}
	}
	return calls
}

func responseText(c *genai.Content) string {
	var b strings.Builder
	for _, p := range c.Parts {
		if p == nil || p.Thought || p.Text == "" {
			continue
		}
		b.WriteString(p.Text)
	}
	return strings.TrimSpace(b.String())
}

func runREPL(ctx context.Context, a *agent, in io.Reader, out, errOut io.Writer) error {
	fmt.Fprintf(out, "FreshMart agent using %s. Type /cart to see the cart, /exit to stop.\n", a.cfg.Model)

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("read input: %w", err)
			}
			fmt.Fprintln(out)
			return nil
		}

		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/exit", "/quit":
			fmt.Fprintln(out, "bye")
			return nil
		case "/cart":
			view := a.session.ViewCart()
			for _, l := range view.Lines {
				fmt.Fprintf(out, "  %d x %s  %s\n", l.Quantity, l.Item.Name, a.session.Money(l.LineTotal))
			}
			fmt.Fprintf(out, "  total %s\n", a.session.Money(view.Total))
			continue
		}

		turnCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
		reply, err := a.turn(turnCtx, line)
		cancel()
		if err != nil {
			fmt.Fprintf(errOut, "agent error: %v\n", err)
			continue
		}
		fmt.Fprintln(out, reply)
	}
}

type modelsGenerator struct{ models *genai.Models }

func (g modelsGenerator) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	return g.models.GenerateContent(ctx, model, contents, config)
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	cfg, err := parseAgentConfig(args, os.Getenv)
	if err != nil {
		return err
	}
	shopCfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cat, l, err := bootstrap.Open(ctx, shopCfg, logger)
	if err != nil {
		return fmt.Errorf("open shop data: %w", err)
	}
	defer l.Close()

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return fmt.Errorf("gemini client: %w", err)
	}

	session := shop.NewSession("agent", cat, l, shop.Options{
		StatusInterval: shopCfg.StatusInterval,
		Currency:       shopCfg.Currency,
		SearchLimit:    shopCfg.SearchLimit,
		HistoryLimit:   shopCfg.HistoryLimit,
		Logger:         logger,
	})
	a := newAgent(cfg, modelsGenerator{models: client.Models}, tools.Default(), session, stdout)
	return runREPL(ctx, a, stdin, stdout, stderr)
}

func main() {
	if err := dotenv.LoadFiles(".env.local", ".env"); err != nil {
		fmt.Fprintf(os.Stderr, "shop-agent: %v\n", err)
		os.Exit(1)
	}
	if err := run(context.Background(), os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "shop-agent: %v\n", err)
		os.Exit(1)
	}
}
