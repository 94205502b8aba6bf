package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/guregu/null"
	"github.com/spf13/cobra"

	"chargehub/backend/services/csms/internal/auth"
	"chargehub/backend/services/csms/internal/integrity"
	"chargehub/backend/services/csms/internal/station"
)

const defaultIDTag = "DEMO_IDTAG"

type rootOptions struct {
	api     string
	apiKey  string
	token   string
	timeout time.Duration
	now     func() time.Time
}

func (o *rootOptions) client() *Client {
	return NewClient(o.api, o.apiKey, o.token, NewDefaultHTTPClient(o.timeout))
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

// NewRootCommand builds csmsctl.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{now: time.Now}

	root := &cobra.Command{
		Use:           "csmsctl",
		Short:         "Operate charging stations through the CSMS control API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.api, "api", envOr("CSMS_API", "http://localhost:8080"), "control API base URL (env CSMS_API)")
	root.PersistentFlags().StringVar(&opts.apiKey, "api-key", envOr("CSMS_API_KEY", ""), "shared secret sent as X-API-Key (env CSMS_API_KEY)")
	root.PersistentFlags().StringVar(&opts.token, "token", envOr("CSMS_TOKEN", ""), "bearer token used instead of the api key (env CSMS_TOKEN)")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 15*time.Second, "request timeout")

	root.AddCommand(
		newStartCommand(opts),
		newStopCommand(opts),
		newReleaseCommand(opts),
		newActiveCommand(opts),
		newTokenCommand(),
	)
	return root
}

func newStartCommand(opts *rootOptions) *cobra.Command {
	var vendorID string
	var meta map[string]string

	cmd := &cobra.Command{
		Use:   "start <station> <connector> [idTag]",
		Short: "Ask a station to start charging on a connector",
		Example: `  csmsctl start CP1 1 TAG1
  csmsctl start CP1 2 --meta order=42`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			connectorID, err := parseConnector(args[1])
			if err != nil {
				return err
			}
			idTag := defaultIDTag
			if len(args) == 3 {
				idTag = args[2]
			}

			fields := integrity.Fields{
				StationID:   args[0],
				ConnectorID: null.IntFrom(int64(connectorID)),
				IDTag:       null.StringFrom(idTag),
				Timestamp:   null.StringFrom(opts.now().UTC().Format(time.RFC3339)),
				Values:      meta,
			}
			if vendorID != "" {
				fields.VendorID = null.StringFrom(vendorID)
			}
			body := signedBody(fields)
			if len(meta) > 0 {
				body["meta"] = meta
			}

			data, err := opts.client().Do(cmd.Context(), http.MethodPost, "/api/v1/start", body)
			printBody(cmd.OutOrStdout(), data)
			return err
		},
	}
	cmd.Flags().StringVar(&vendorID, "vendor-id", "", "vendor id covered by the integrity hash")
	cmd.Flags().StringToStringVar(&meta, "meta", nil, "metadata attached to the session, key=value")
	return cmd
}

func newStopCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <station> <connector> [idTag] [transactionId]",
		Short: "Stop the transaction on a connector",
		Long: `Stop the transaction on a connector.

Without idTag and transactionId the active transaction of the connector is stopped; when the
connector has none the connector is released instead.`,
		Args: cobra.RangeArgs(2, 4),
		RunE: func(cmd *cobra.Command, args []string) error {
			connectorID, err := parseConnector(args[1])
			if err != nil {
				return err
			}
			fields := integrity.Fields{
				StationID:   args[0],
				ConnectorID: null.IntFrom(int64(connectorID)),
				Timestamp:   null.StringFrom(opts.now().UTC().Format(time.RFC3339)),
			}
			if len(args) >= 3 {
				fields.IDTag = null.StringFrom(args[2])
			}
			if len(args) == 4 {
				txID, err := strconv.Atoi(args[3])
				if err != nil {
					return fmt.Errorf("invalid transactionId %q: %w", args[3], err)
				}
				fields.TransactionID = null.IntFrom(int64(txID))
			}

			client := opts.client()
			data, err := client.Do(cmd.Context(), http.MethodPost, "/api/v1/stop", signedBody(fields))
			printBody(cmd.OutOrStdout(), data)

			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound && !fields.IDTag.Valid && !fields.TransactionID.Valid {
				fmt.Fprintln(cmd.OutOrStdout(), "no active transaction, releasing connector")
				return release(cmd, opts, args[0], connectorID)
			}
			return err
		},
	}
}

func newReleaseCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "release <station> <connector>",
		Short: "Unlock a connector that has no transaction",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			connectorID, err := parseConnector(args[1])
			if err != nil {
				return err
			}
			return release(cmd, opts, args[0], connectorID)
		},
	}
}

func release(cmd *cobra.Command, opts *rootOptions, stationID string, connectorID int) error {
	fields := integrity.Fields{
		StationID:   stationID,
		ConnectorID: null.IntFrom(int64(connectorID)),
		Timestamp:   null.StringFrom(opts.now().UTC().Format(time.RFC3339)),
	}
	data, err := opts.client().Do(cmd.Context(), http.MethodPost, "/api/v1/release", signedBody(fields))
	printBody(cmd.OutOrStdout(), data)
	return err
}

func newActiveCommand(opts *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "active",
		Short: "List active charging sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := opts.client().Do(cmd.Context(), http.MethodGet, "/api/v1/active", nil)
			if err != nil {
				printBody(cmd.OutOrStdout(), data)
				return err
			}
			if asJSON {
				printBody(cmd.OutOrStdout(), data)
				return nil
			}

			var out struct {
				Sessions []station.ActiveTransaction `json:"sessions"`
			}
			if err := json.Unmarshal(data, &out); err != nil {
				return fmt.Errorf("decode active sessions: %w", err)
			}
			if len(out.Sessions) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no active sessions")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "STATION\tCONNECTOR\tID TAG\tTRANSACTION\tSTARTED")
			for _, s := range out.Sessions {
				started := "-"
				if !s.StartedAt.IsZero() {
					started = s.StartedAt.UTC().Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%s\t%d\t%s\t%d\t%s\n", s.StationID, s.ConnectorID, s.IDTag, s.TransactionID, started)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw JSON answer")
	return cmd
}

func newTokenCommand() *cobra.Command {
	var secret, operator string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token signed with the shared secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			token, err := auth.NewTokenService(secret, ttl).GenerateToken(operator)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", envOr("CSMS_JWT_SECRET", envOr("CSMS_API_KEY", "")), "signing secret (env CSMS_JWT_SECRET, then CSMS_API_KEY)")
	cmd.Flags().StringVar(&operator, "operator", envOr("USER", "operator"), "operator name stored in the token")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}

// signedBody renders fields as a request body carrying their integrity hash.
func signedBody(f integrity.Fields) map[string]any {
	body := map[string]any{
		"stationId": f.StationID,
		"hash":      integrity.Hash(f),
	}
	if f.ConnectorID.Valid {
		body["connectorId"] = f.ConnectorID.Int64
	}
	if f.IDTag.Valid {
		body["idTag"] = f.IDTag.String
	}
	if f.TransactionID.Valid {
		body["transactionId"] = f.TransactionID.Int64
	}
	if f.Timestamp.Valid {
		body["timestamp"] = f.Timestamp.String
	}
	if f.VendorID.Valid {
		body["vendorId"] = f.VendorID.String
	}
	return body
}

func parseConnector(s string) (int, error) {
	id, err := strconv.Atoi(s)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid connector %q: must be a positive integer", s)
	}
	return id, nil
}

func printBody(w io.Writer, data []byte) {
	if len(data) == 0 {
		return
	}
	var pretty any
	if json.Unmarshal(data, &pretty) == nil {
		if out, err := json.MarshalIndent(pretty, "", "  "); err == nil {
			fmt.Fprintln(w, string(out))
			return
		}
	}
	fmt.Fprintln(w, string(data))
}
