package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Strob0t/LaunchLoop/internal/domain/proposal"
	"github.com/Strob0t/LaunchLoop/internal/resilience"
)

// apiClient talks to a running server.
type apiClient struct {
	base   string
	apiKey string
	actor  string
	http   *http.Client
}

type apiError struct {
	Status  int
	Message string `json:"error"`
	Code    string `json:"code"`
}

func (e *apiError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%d %s)", e.Message, e.Status, e.Code)
	}
	return fmt.Sprintf("%s (%d)", e.Message, e.Status)
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+"/api/v1"+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotency-Key", uuid.NewString())
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	if c.actor != "" {
		req.Header.Set("X-Actor", c.actor)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		e := &apiError{Status: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(e); err != nil || e.Message == "" {
			e.Message = http.StatusText(resp.StatusCode)
		}
		if resp.StatusCode < 500 {
			return resilience.Permanent(e)
		}
		return e
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// get retries transient failures; writes are sent once.
func (c *apiClient) get(ctx context.Context, path string, out any) error {
	policy := resilience.RetryPolicy{Base: 200 * time.Millisecond, Cap: 2 * time.Second, MaxAttempts: 3}
	_, err := resilience.Do(ctx, policy, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.do(ctx, http.MethodGet, path, nil, out)
	}, nil)
	return err
}

type clientFlags struct {
	server string
	apiKey string
	actor  string
}

func (f *clientFlags) bind(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&f.server, "server", envOr("LAUNCHLOOP_SERVER", "http://localhost:8080"), "server base URL")
	cmd.PersistentFlags().StringVar(&f.apiKey, "api-key", os.Getenv("LAUNCHLOOP_API_KEY"), "API key (prompted when empty on a terminal)")
	cmd.PersistentFlags().StringVar(&f.actor, "actor", os.Getenv("USER"), "name recorded on decisions")
}

func (f *clientFlags) client(cmd *cobra.Command, needKey bool) (*apiClient, error) {
	if _, err := url.ParseRequestURI(f.server); err != nil {
		return nil, fmt.Errorf("invalid --server: %w", err)
	}
	key := f.apiKey
	if key == "" && needKey && term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Fprint(cmd.ErrOrStderr(), "API key: ")
		b, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return nil, fmt.Errorf("read api key: %w", err)
		}
		key = strings.TrimSpace(string(b))
	}
	return &apiClient{
		base:   strings.TrimRight(f.server, "/"),
		apiKey: key,
		actor:  f.actor,
		http:   &http.Client{Timeout: 15 * time.Second},
	}, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func newProposalsCmd() *cobra.Command {
	var flags clientFlags
	cmd := &cobra.Command{
		Use:     "proposals",
		Aliases: []string{"p"},
		Short:   "Review mutation proposals on a running server",
	}
	flags.bind(cmd)

	var status string
	list := &cobra.Command{
		Use:   "list",
		Short: "List proposals",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := flags.client(cmd, false)
			if err != nil {
				return err
			}
			q := url.Values{}
			if status != "" && status != "all" {
				q.Set("status", status)
			}
			var items []proposal.Proposal
			if err := c.get(cmd.Context(), "/proposals?"+q.Encode(), &items); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderProposals(items))
			return nil
		},
	}
	list.Flags().StringVar(&status, "status", string(proposal.StatusPending), "filter by status, or all")

	cmd.AddCommand(list,
		newDecideCmd(&flags, "approve", proposal.DecisionApprove),
		newDecideCmd(&flags, "reject", proposal.DecisionReject),
	)
	return cmd
}

func newDecideCmd(flags *clientFlags, use string, d proposal.Decision) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   use + " <id>",
		Short: strings.ToUpper(use[:1]) + use[1:] + " a pending proposal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client(cmd, true)
			if err != nil {
				return err
			}
			body := map[string]string{"decision": string(d), "reason": reason}
			var p proposal.Proposal
			if err := c.do(cmd.Context(), http.MethodPost, "/proposals/"+url.PathEscape(args[0])+"/decision", body, &p); err != nil {
				return err
			}
			msg := fmt.Sprintf("%s is %s", p.ID, statusStyle(p.Status).Render(string(p.Status)))
			if p.AppliedVersion > 0 {
				msg += fmt.Sprintf(", graph version %d", p.AppliedVersion)
			}
			if p.Status == proposal.StatusExpired {
				fmt.Fprintln(cmd.OutOrStdout(), fail(msg+" ("+p.Reason+")"))
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), ok(msg))
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "reason recorded on the proposal")
	return cmd
}

func renderProposals(items []proposal.Proposal) string {
	if len(items) == 0 {
		return styles.Muted.Render("no proposals")
	}
	cols := []string{"ID", "STATUS", "KIND", "TARGETS", "SOURCE", "BASE", "EXPIRES"}
	rows := make([][]string, 0, len(items))
	for i := range items {
		p := &items[i]
		source := string(p.Source)
		if p.TriggerID != "" {
			source += ":" + p.TriggerID
		}
		expires := "-"
		if !p.ExpiresAt.IsZero() {
			expires = p.ExpiresAt.Local().Format(time.DateTime)
		}
		rows = append(rows, []string{
			p.ID,
			string(p.Status),
			string(p.Kind),
			strings.Join(p.TargetIDs, ","),
			source,
			fmt.Sprintf("v%d", p.BaseVersion),
			expires,
		})
	}

	widths := make([]int, len(cols))
	for i, c := range cols {
		widths[i] = len(c)
	}
	for _, r := range rows {
		for i, cell := range r {
			widths[i] = max(widths[i], lipgloss.Width(cell))
		}
	}
	pad := func(s string, i int) string { return s + strings.Repeat(" ", widths[i]-lipgloss.Width(s)+2) }

	var b strings.Builder
	for i, c := range cols {
		b.WriteString(styles.Header.Render(c))
		b.WriteString(strings.Repeat(" ", widths[i]-len(c)+2))
	}
	for ri, r := range rows {
		b.WriteString("\n")
		for i, cell := range r {
			text := pad(cell, i)
			if i == 1 {
				text = statusStyle(items[ri].Status).Render(cell) + strings.Repeat(" ", widths[i]-len(cell)+2)
			}
			b.WriteString(text)
		}
	}
	return b.String()
}
