package main

import (
	"context"
	"encoding/json"

	"github.com/ggoodman/session-sharing-go/client"
	"github.com/ggoodman/session-sharing-go/registry"
	"github.com/spf13/cobra"
)

func newDescribeCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "describe",
		Short: "Show the kind's construction parameters and operations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel, c, err := g.connect(cmd)
			if err != nil {
				return err
			}
			defer cancel()
			d, err := c.Describe(ctx, g.kind)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), d)
		},
	}
}

func newSessionsCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List open sessions of the kind",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel, c, err := g.connect(cmd)
			if err != nil {
				return err
			}
			defer cancel()
			sessions, err := c.Sessions(ctx, g.kind)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), sessions)
		},
	}
}

func newInitializeCmd(g *globalFlags) *cobra.Command {
	var behavior, params string
	cmd := &cobra.Command{
		Use:   "initialize <resource-name>",
		Short: "Create or attach to the session for a resource",
		Long: `Send one initialize request. --behavior is the server behavior:
unspecified (reuse or create), initialize-new or attach-to-existing.
The session stays open until closed with "registryctl close".`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := registry.ParseInitBehavior(behavior)
			if err != nil {
				return err
			}
			raw, err := rawParams(params)
			if err != nil {
				return err
			}
			ctx, cancel, c, err := g.connect(cmd)
			if err != nil {
				return err
			}
			defer cancel()
			res, err := c.Initialize(ctx, g.kind, args[0], b, raw)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVarP(&behavior, "behavior", "b", "unspecified", "Server initialization behavior")
	cmd.Flags().StringVarP(&params, "params", "p", "", "Construction parameters as JSON")
	return cmd
}

func newCloseCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "close <session-id>",
		Short: "Close a session and release its resource",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel, c, err := g.connect(cmd)
			if err != nil {
				return err
			}
			defer cancel()
			if err := c.Close(ctx, g.kind, args[0]); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"session_id": args[0], "closed": true})
		},
	}
}

func newInvokeCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "invoke <session-id> <operation> [params-json]",
		Short: "Run an operation against an open session",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var raw json.RawMessage
			if len(args) == 3 {
				var err error
				if raw, err = rawParams(args[2]); err != nil {
					return err
				}
			}
			ctx, cancel, c, err := g.connect(cmd)
			if err != nil {
				return err
			}
			defer cancel()
			out, err := c.Invoke(ctx, g.kind, args[0], args[1], raw)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

// runOutput is what the run command prints.
type runOutput struct {
	SessionID    string          `json:"session_id"`
	NewlyCreated bool            `json:"newly_created"`
	Closed       bool            `json:"closed"`
	Result       json.RawMessage `json:"result,omitempty"`
}

func newRunCmd(g *globalFlags) *cobra.Command {
	behavior := client.Auto
	var params string
	cmd := &cobra.Command{
		Use:   "run <resource-name> <operation> [params-json]",
		Short: "Acquire a session, run one operation and release it",
		Long: `Run a unit of work under a client behavior:
auto, initialize-server-session, attach-to-server-session,
initialize-session-then-detach or attach-to-session-then-close.
The behavior decides whether the session is closed afterwards.`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var opRaw json.RawMessage
			if len(args) == 3 {
				var err error
				if opRaw, err = rawParams(args[2]); err != nil {
					return err
				}
			}
			initRaw, err := rawParams(params)
			if err != nil {
				return err
			}
			ctx, cancel, c, err := g.connect(cmd)
			if err != nil {
				return err
			}
			defer cancel()

			var out runOutput
			opts := []client.Option{client.WithBehavior(behavior), client.WithLogger(g.logger(cmd))}
			if initRaw != nil {
				opts = append(opts, client.WithParams(initRaw))
			}
			err = client.Run(ctx, c, g.kind, args[0], func(ctx context.Context, s *client.Session) error {
				out.SessionID = s.ID()
				out.NewlyCreated = s.NewlyCreated()
				out.Closed = s.WillClose()
				return s.Invoke(ctx, args[1], opRaw, &out.Result)
			}, opts...)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().VarP(&behavior, "behavior", "b", "Client session behavior")
	cmd.Flags().StringVarP(&params, "params", "p", "", "Construction parameters as JSON")
	return cmd
}
