// Command unbrowsectl is the bundled CLI client for the Unbrowse control
// service, per spec.md §6's documented exit-code table.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/unbrowse-ai/unbrowse-core/internal/cmdutil"
	"github.com/unbrowse-ai/unbrowse-core/internal/config"
	"github.com/unbrowse-ai/unbrowse-core/internal/skill"
	"github.com/unbrowse-ai/unbrowse-core/internal/unbrowseerr"
)

const (
	exitOK              = 0
	exitGeneric         = 1
	exitBadArgs         = 2
	exitUpstreamUnavail = 3
	exitCaptureInFlight = 4
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return exitBadArgs
	}

	// schema is a pure reflection query over models.SkillManifest — it
	// needs neither the control service nor its config, so it's handled
	// before EnsureServer rather than threaded through cmdutil.Client.
	if args[0] == "schema" {
		return cmdSchema()
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "loading config:", err)
		return exitGeneric
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ToolTimeout)
	defer cancel()

	if err := cmdutil.EnsureServer(ctx, cfg.BaseDir, cfg.ControlServiceURL); err != nil {
		fmt.Fprintln(os.Stderr, "control service unavailable:", err)
		return exitUpstreamUnavail
	}
	client := cmdutil.NewClient(cfg.ControlServiceURL)

	switch args[0] {
	case "resolve":
		return cmdResolve(ctx, client, args[1:])
	case "execute":
		return cmdExecute(ctx, client, args[1:])
	case "skills":
		return cmdSkills(ctx, client, args[1:])
	case "feedback":
		return cmdFeedback(ctx, client, args[1:])
	case "search":
		return cmdSearch(ctx, client, args[1:])
	case "login":
		return cmdLogin(ctx, client, args[1:])
	case "status":
		return cmdStatus(ctx, client)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", args[0])
		printUsage()
		return exitBadArgs
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `usage: unbrowsectl <command> [flags]

commands:
  resolve  --intent TEXT [--url URL] [--param k=v ...]
  execute  <skill-id> [--param k=v ...] [--confirm-unsafe]
  skills   [skill-id]
  feedback --skill ID --endpoint ID --rating N
  search   --intent TEXT [--domain D] [--k N]
  login    --url URL [--session-cookie NAME]
  status
  schema   print the SkillManifest JSON schema`)
}

func cmdSchema() int {
	doc, err := skill.ManifestDocSchema()
	if err != nil {
		fmt.Fprintln(os.Stderr, "generating schema:", err)
		return exitGeneric
	}
	fmt.Println(string(doc))
	return exitOK
}

func parseParams(values multiFlag) map[string]any {
	out := map[string]any{}
	for _, kv := range values {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		out[k] = v
	}
	return out
}

type multiFlag []string

func (m *multiFlag) String() string { return strings.Join(*m, ",") }
func (m *multiFlag) Set(v string) error {
	*m = append(*m, v)
	return nil
}

func cmdResolve(ctx context.Context, client *cmdutil.Client, args []string) int {
	fs := flag.NewFlagSet("resolve", flag.ContinueOnError)
	intent := fs.String("intent", "", "requested intent")
	url := fs.String("url", "", "page URL, if a live capture may be needed")
	var params multiFlag
	fs.Var(&params, "param", "key=value, repeatable")
	if err := fs.Parse(args); err != nil {
		return exitBadArgs
	}
	if *intent == "" {
		fmt.Fprintln(os.Stderr, "--intent is required")
		return exitBadArgs
	}

	body := map[string]any{"intent": *intent, "params": parseParams(params)}
	if *url != "" {
		body["context"] = map[string]any{"url": *url}
	}

	var out map[string]any
	if err := client.ResolveIntent(ctx, body, &out); err != nil {
		return reportErr(err)
	}
	return printJSON(out)
}

func cmdExecute(ctx context.Context, client *cmdutil.Client, args []string) int {
	fs := flag.NewFlagSet("execute", flag.ContinueOnError)
	confirm := fs.Bool("confirm-unsafe", false, "confirm a mutating call")
	var params multiFlag
	fs.Var(&params, "param", "key=value, repeatable")
	if err := fs.Parse(args); err != nil {
		return exitBadArgs
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "execute requires a skill id")
		return exitBadArgs
	}
	skillID := fs.Arg(0)

	body := map[string]any{"params": parseParams(params), "confirm_unsafe": *confirm}
	var out map[string]any
	if err := client.ExecuteSkill(ctx, skillID, body, &out); err != nil {
		return reportErr(err)
	}
	return printJSON(out)
}

func cmdSkills(ctx context.Context, client *cmdutil.Client, args []string) int {
	if len(args) > 0 {
		var out map[string]any
		if err := client.GetSkill(ctx, args[0], &out); err != nil {
			return reportErr(err)
		}
		return printJSON(out)
	}
	var out []map[string]any
	if err := client.ListSkills(ctx, &out); err != nil {
		return reportErr(err)
	}
	return printJSON(out)
}

func cmdFeedback(ctx context.Context, client *cmdutil.Client, args []string) int {
	fs := flag.NewFlagSet("feedback", flag.ContinueOnError)
	skillID := fs.String("skill", "", "skill id")
	endpointID := fs.String("endpoint", "", "endpoint id")
	rating := fs.Int("rating", 0, "1-5")
	if err := fs.Parse(args); err != nil {
		return exitBadArgs
	}
	if *skillID == "" || *endpointID == "" {
		fmt.Fprintln(os.Stderr, "--skill and --endpoint are required")
		return exitBadArgs
	}

	body := map[string]any{"skill_id": *skillID, "endpoint_id": *endpointID, "rating": *rating}
	if err := client.Feedback(ctx, body); err != nil {
		return reportErr(err)
	}
	return exitOK
}

func cmdSearch(ctx context.Context, client *cmdutil.Client, args []string) int {
	fs := flag.NewFlagSet("search", flag.ContinueOnError)
	intent := fs.String("intent", "", "requested intent")
	domain := fs.String("domain", "", "restrict to domain")
	k := fs.Int("k", 10, "max results")
	if err := fs.Parse(args); err != nil {
		return exitBadArgs
	}
	if *intent == "" {
		fmt.Fprintln(os.Stderr, "--intent is required")
		return exitBadArgs
	}

	body := map[string]any{"intent": *intent, "k": *k}
	if *domain != "" {
		body["domain"] = *domain
	}
	var out []map[string]any
	if err := client.Search(ctx, *domain != "", body, &out); err != nil {
		return reportErr(err)
	}
	return printJSON(out)
}

func cmdLogin(ctx context.Context, client *cmdutil.Client, args []string) int {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	url := fs.String("url", "", "login page URL")
	sessionCookie := fs.String("session-cookie", "", "cookie name that signals a completed login")
	if err := fs.Parse(args); err != nil {
		return exitBadArgs
	}
	if *url == "" {
		fmt.Fprintln(os.Stderr, "--url is required")
		return exitBadArgs
	}

	body := map[string]any{"url": *url, "session_cookie": *sessionCookie}
	var out map[string]any
	if err := client.Login(ctx, body, &out); err != nil {
		return reportErr(err)
	}
	return printJSON(out)
}

func cmdStatus(ctx context.Context, client *cmdutil.Client) int {
	if err := client.Health(ctx); err != nil {
		return reportErr(err)
	}
	fmt.Println("ok")
	return exitOK
}

func printJSON(v any) int {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintln(os.Stderr, "encoding output:", err)
		return exitGeneric
	}
	return exitOK
}

func reportErr(err error) int {
	fmt.Fprintln(os.Stderr, "error:", err)
	if kerr, ok := unbrowseerr.As(err); ok {
		switch kerr.Kind {
		case unbrowseerr.KindCaptureInFlight:
			return exitCaptureInFlight
		case unbrowseerr.KindUpstreamUnavailable:
			return exitUpstreamUnavail
		case unbrowseerr.KindInput:
			return exitBadArgs
		}
	}
	return exitGeneric
}
