package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/soyeahso/oracle/internal/config"
	"github.com/soyeahso/oracle/internal/domain"
	"github.com/soyeahso/oracle/internal/gateway"
	"github.com/soyeahso/oracle/internal/relay"
	"github.com/soyeahso/oracle/internal/version"
	"github.com/spf13/cobra"
)

// remote holds the flags shared by commands that talk to a running gateway.
type remote struct {
	url   string
	token string
}

func (r *remote) bind(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&r.url, "url", "", "gateway base URL (default from config)")
	cmd.PersistentFlags().StringVar(&r.token, "token", "", "gateway token or password (default from config or ORACLE_GATEWAY_TOKEN)")
}

// resolve fills unset flags from the config file.
func (r *remote) resolve() (base, secret string, err error) {
	cfg, err := config.Load(paths.Config)
	if err != nil {
		return "", "", err
	}
	base = r.url
	if base == "" {
		base = gatewayURL(cfg)
	}
	secret = r.token
	if secret == "" {
		auth := gateway.ResolveAuth(cfg.Gateway.Auth)
		secret = auth.Token
		if auth.Mode == "password" {
			secret = auth.Password
		}
	}
	return strings.TrimSuffix(base, "/"), secret, nil
}

// dial opens an RPC connection to the gateway.
func (r *remote) dial(ctx context.Context) (*gateway.RPCClient, error) {
	base, secret, err := r.resolve()
	if err != nil {
		return nil, err
	}
	ws := "ws" + strings.TrimPrefix(base, "http") + "/ws"
	host, _ := os.Hostname()
	return gateway.Dial(ctx, ws, &gateway.ConnectAuth{Token: secret, Password: secret}, gateway.ClientInfo{
		ID:       "oracle-cli",
		Version:  version.Version,
		Platform: host,
		Mode:     "cli",
	})
}

// call runs one RPC on a fresh connection.
func (r *remote) call(cmd *cobra.Command, method string, params, out any) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()
	c, err := r.dial(ctx)
	if err != nil {
		return err
	}
	defer c.Close()
	return c.Call(ctx, method, params, out)
}

// gatewayURL is the local address of the configured gateway.
func gatewayURL(cfg config.Config) string {
	scheme := "http"
	if cfg.Gateway.TLS.Enabled {
		scheme = "https"
	}
	host := "127.0.0.1"
	if cfg.Gateway.Bind == "custom" && cfg.Gateway.CustomBindHost != "" {
		host = cfg.Gateway.CustomBindHost
	}
	return fmt.Sprintf("%s://%s:%d", scheme, host, cfg.Gateway.Port)
}

type sessionReply struct {
	Session   domain.Session `json:"session"`
	TurnState string         `json:"turnState"`
	LastTurn  string         `json:"lastTurn"`
}

func newSessionCmd() *cobra.Command {
	r := &remote{}
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage sessions on a running gateway",
	}
	r.bind(cmd)

	cmd.AddCommand(newSessionListCmd(r))
	cmd.AddCommand(newSessionCreateCmd(r))
	cmd.AddCommand(newSessionShowCmd(r))
	cmd.AddCommand(newSessionDeleteCmd(r))
	cmd.AddCommand(newSessionSetCmd(r))
	cmd.AddCommand(newSessionTurnCmd(r))
	cmd.AddCommand(newSessionInterjectCmd(r))
	return cmd
}

func newSessionListCmd(r *remote) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List sessions, most recently updated first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var res struct {
				Sessions []domain.SessionSummary `json:"sessions"`
			}
			if err := r.call(cmd, "session.list", nil, &res); err != nil {
				return err
			}
			if len(res.Sessions) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no sessions")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tMODE\tTITLE\tNODES\tUPDATED")
			for _, s := range res.Sessions {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", s.ID, s.Mode, s.Title, s.Nodes,
					time.UnixMilli(s.UpdatedAt).Format(time.DateTime))
			}
			return tw.Flush()
		},
	}
}

func newSessionCreateCmd(r *remote) *cobra.Command {
	var (
		mode         string
		participants []string
		model        string
		scenario     string
	)
	cmd := &cobra.Command{
		Use:   "create <title>",
		Short: "Create a session",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var res sessionReply
			err := r.call(cmd, "session.create", map[string]any{
				"title":          strings.Join(args, " "),
				"mode":           mode,
				"participantIds": participants,
				"modelId":        model,
				"scenario":       scenario,
			}, &res)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s (node %s)\n", res.Session.ID, res.Session.ActiveNodeID)
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", string(domain.ModeParty), "embark mode")
	cmd.Flags().StringSliceVar(&participants, "participant", nil, "participant character id (repeatable)")
	cmd.Flags().StringVar(&model, "model", "", "model id for the session")
	cmd.Flags().StringVar(&scenario, "scenario", "", "scene description")
	return cmd
}

func newSessionShowCmd(r *remote) *cobra.Command {
	return &cobra.Command{
		Use:   "show <session-id>",
		Short: "Print a session and the transcript of its active node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var res sessionReply
			if err := r.call(cmd, "session.get", map[string]string{"sessionId": args[0]}, &res); err != nil {
				return err
			}
			printSession(cmd, &res.Session, res.TurnState, res.LastTurn)
			return nil
		},
	}
}

func printSession(cmd *cobra.Command, s *domain.Session, state, last string) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s  %q  mode=%s model=%s narrator=%v\n",
		s.ID, s.Title, s.Mode, s.ModelID, s.NarratorEnabled)
	if state != "" {
		fmt.Fprintf(out, "turn: %s", state)
		if last != "" && last != "idle" {
			fmt.Fprintf(out, " (last: %s)", last)
		}
		fmt.Fprintln(out)
	}
	if s.Scenario != "" {
		fmt.Fprintf(out, "scenario: %s\n", s.Scenario)
	}
	for _, n := range s.Nodes {
		marker := " "
		if n.ID == s.ActiveNodeID {
			marker = "*"
		}
		fmt.Fprintf(out, "%s %s  %s (%d messages)\n", marker, n.ID, n.Title, len(n.Messages))
	}
	active, err := s.ActiveNode()
	if err != nil {
		return
	}
	fmt.Fprintln(out)
	for _, m := range active.Messages {
		who := string(m.Role)
		if m.SpeakerName != "" {
			who = m.SpeakerName
		}
		fmt.Fprintf(out, "[%s] %s\n", who, m.Content)
	}
}

func newSessionDeleteCmd(r *remote) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := r.call(cmd, "session.delete", map[string]string{"sessionId": args[0]}, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}
}

func newSessionSetCmd(r *remote) *cobra.Command {
	return &cobra.Command{
		Use:   "set <session-id> <model|scenario|narrator|relationship> <value...>",
		Short: "Update a session setting",
		Long: "Update a session setting. Relationships take two character ids and a label:\n" +
			"  oracle session set <id> relationship <a> <b> <label>",
		Args: cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := sessionUpdate(args[0], args[1], args[2:])
			if err != nil {
				return err
			}
			var res sessionReply
			if err := r.call(cmd, "session.update", params, &res); err != nil {
				return err
			}
			printSession(cmd, &res.Session, res.TurnState, res.LastTurn)
			return nil
		},
	}
}

// sessionUpdate builds session.update params for one setting.
func sessionUpdate(id, field string, values []string) (map[string]any, error) {
	params := map[string]any{"sessionId": id}
	switch field {
	case "model":
		params["modelId"] = values[0]
	case "scenario":
		params["scenario"] = strings.Join(values, " ")
	case "narrator":
		on, err := strconv.ParseBool(values[0])
		if err != nil {
			return nil, fmt.Errorf("narrator: %w", err)
		}
		params["narratorEnabled"] = on
	case "relationship":
		if len(values) < 3 {
			return nil, errors.New("relationship needs <a> <b> <label>")
		}
		params["relationship"] = map[string]string{
			"a":     values[0],
			"b":     values[1],
			"label": strings.Join(values[2:], " "),
		}
	default:
		return nil, fmt.Errorf("unknown setting %q", field)
	}
	return params, nil
}

func newSessionTurnCmd(r *remote) *cobra.Command {
	var (
		nodeID  string
		speaker string
		model   string
	)
	cmd := &cobra.Command{
		Use:   "turn <session-id> <message>",
		Short: "Send a message on a session node and stream the reply",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			base, secret, err := r.resolve()
			if err != nil {
				return err
			}
			body, err := json.Marshal(map[string]any{
				"nodeId":    nodeID,
				"content":   strings.Join(args[1:], " "),
				"speakerId": speaker,
				"model":     model,
			})
			if err != nil {
				return err
			}
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost,
				base+"/api/sessions/"+args[0]+"/turn", bytes.NewReader(body))
			if err != nil {
				return err
			}
			req.Header.Set("Content-Type", "application/json")
			if secret != "" {
				req.Header.Set("Authorization", "Bearer "+secret)
			}

			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				var e struct {
					Error string `json:"error"`
				}
				json.NewDecoder(resp.Body).Decode(&e)
				return fmt.Errorf("gateway returned %s: %s", resp.Status, e.Error)
			}

			out := cmd.OutOrStdout()
			fr := relay.NewFrameReader(resp.Body)
			for fr.Next() {
				fmt.Fprint(out, fr.Text())
			}
			fmt.Fprintln(out)
			return fr.Err()
		},
	}
	cmd.Flags().StringVar(&nodeID, "node", "", "target node (default the active node)")
	cmd.Flags().StringVar(&speaker, "as", "", "character id the reply is attributed to")
	cmd.Flags().StringVar(&model, "model", "", "model id for this turn")
	return cmd
}

func newSessionInterjectCmd(r *remote) *cobra.Command {
	var nodeID string
	cmd := &cobra.Command{
		Use:   "interject <session-id>",
		Short: "Cancel the reply currently streaming on a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var res struct {
				Interjected bool `json:"interjected"`
			}
			err := r.call(cmd, "chat.interject", map[string]string{"sessionId": args[0], "nodeId": nodeID}, &res)
			if err != nil {
				return err
			}
			if res.Interjected {
				fmt.Fprintln(cmd.OutOrStdout(), "interjected")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "nothing in flight")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&nodeID, "node", "", "only interject on this node")
	return cmd
}

func newNodeCmd() *cobra.Command {
	r := &remote{}
	cmd := &cobra.Command{
		Use:   "node",
		Short: "Manage the conversation nodes of a session",
	}
	r.bind(cmd)

	nodeCall := func(use, short, method string, nargs int, build func(args []string) map[string]string) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.MinimumNArgs(nargs),
			RunE: func(cmd *cobra.Command, args []string) error {
				var res struct {
					sessionReply
					Node *domain.Node `json:"node"`
				}
				if err := r.call(cmd, method, build(args), &res); err != nil {
					return err
				}
				if res.Node != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "created node %s %q\n", res.Node.ID, res.Node.Title)
					return nil
				}
				printSession(cmd, &res.Session, "", "")
				return nil
			},
		}
	}

	cmd.AddCommand(nodeCall("create <session-id> <title>", "Create a node and make it active", "node.create", 2,
		func(a []string) map[string]string {
			return map[string]string{"sessionId": a[0], "title": strings.Join(a[1:], " ")}
		}))
	cmd.AddCommand(nodeCall("switch <session-id> <node-id>", "Make a node active", "node.switch", 2,
		func(a []string) map[string]string { return map[string]string{"sessionId": a[0], "nodeId": a[1]} }))
	cmd.AddCommand(nodeCall("rename <session-id> <node-id> <title>", "Rename a node", "node.rename", 3,
		func(a []string) map[string]string {
			return map[string]string{"sessionId": a[0], "nodeId": a[1], "title": strings.Join(a[2:], " ")}
		}))
	cmd.AddCommand(nodeCall("delete <session-id> <node-id>", "Delete a node", "node.delete", 2,
		func(a []string) map[string]string { return map[string]string{"sessionId": a[0], "nodeId": a[1]} }))
	return cmd
}
