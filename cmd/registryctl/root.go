package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/ggoodman/session-sharing-go/httpapi"
	"github.com/ggoodman/session-sharing-go/internal/locator"
	"github.com/ggoodman/session-sharing-go/resources/devicecomm"
	"github.com/ggoodman/session-sharing-go/resources/ndjsonlog"
	"github.com/spf13/cobra"
)

// knownInterfaces maps a kind to the interface and class it is published under.
var knownInterfaces = map[string][2]string{
	ndjsonlog.KindName:  {ndjsonlog.ProvidedInterface, ndjsonlog.ServiceClass},
	devicecomm.KindName: {devicecomm.ProvidedInterface, devicecomm.ServiceClass},
}

type globalFlags struct {
	endpoint     string
	discovery    string
	discoveryDir string
	iface        string
	class        string
	kind         string
	token        string
	timeout      time.Duration
	verbose      bool
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:          "registryctl",
		Short:        "Manage sessions on a registryd server",
		SilenceUsage: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&g.endpoint, "endpoint", "", "Server base URL; skips discovery when set")
	pf.StringVar(&g.discovery, "discovery", locator.BackendFile, "Discovery backend: file or redis")
	pf.StringVar(&g.discoveryDir, "discovery-dir", "", "Registration directory for the file backend")
	pf.StringVar(&g.iface, "interface", "", "Interface to resolve (defaults to the kind's interface)")
	pf.StringVar(&g.class, "class", "", "Service class to resolve (defaults to the kind's class)")
	pf.StringVarP(&g.kind, "kind", "k", ndjsonlog.KindName, "Resource kind")
	pf.StringVar(&g.token, "token", "", "Bearer token")
	pf.DurationVar(&g.timeout, "timeout", 30*time.Second, "Per-command timeout")
	pf.BoolVarP(&g.verbose, "verbose", "v", false, "Log transport diagnostics to stderr")

	root.AddCommand(
		newDescribeCmd(g),
		newSessionsCmd(g),
		newInitializeCmd(g),
		newCloseCmd(g),
		newInvokeCmd(g),
		newRunCmd(g),
	)
	return root
}

func (g *globalFlags) logger(cmd *cobra.Command) *slog.Logger {
	if !g.verbose {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// connect returns a client for the selected kind and a context bounded by
// --timeout.
func (g *globalFlags) connect(cmd *cobra.Command) (context.Context, context.CancelFunc, *httpapi.Client, error) {
	ctx, cancel := context.WithTimeout(cmd.Context(), g.timeout)
	log := g.logger(cmd)
	opts := []httpapi.ClientOption{httpapi.WithClientLogger(log)}
	if g.token != "" {
		opts = append(opts, httpapi.WithBearerToken(g.token))
	}

	if g.endpoint != "" {
		c, err := httpapi.NewClient(g.endpoint, opts...)
		if err != nil {
			cancel()
			return nil, nil, nil, err
		}
		return ctx, cancel, c, nil
	}

	iface, class := g.iface, g.class
	if known, ok := knownInterfaces[g.kind]; ok {
		if iface == "" {
			iface = known[0]
		}
		if class == "" && g.iface == "" {
			class = known[1]
		}
	}
	if iface == "" {
		cancel()
		return nil, nil, nil, fmt.Errorf("no interface known for kind %q; pass --interface or --endpoint", g.kind)
	}

	loc, err := locator.Open(g.discovery, g.discoveryDir, log)
	if err != nil {
		cancel()
		return nil, nil, nil, err
	}
	if loc == nil {
		cancel()
		return nil, nil, nil, fmt.Errorf("discovery backend %q cannot resolve services; pass --endpoint", g.discovery)
	}
	defer loc.Close()

	c, err := httpapi.Dial(ctx, loc, iface, class, opts...)
	if err != nil {
		cancel()
		return nil, nil, nil, err
	}
	return ctx, cancel, c, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// rawParams validates a JSON argument. An empty string means no params.
func rawParams(s string) (json.RawMessage, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if !json.Valid([]byte(s)) {
		return nil, fmt.Errorf("params are not valid JSON: %s", s)
	}
	return json.RawMessage(s), nil
}
