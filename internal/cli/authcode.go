package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/fegate/internal/notify"
	"github.com/roach88/fegate/internal/record"
)

// AuthCodeOptions holds flags for the authcode command.
type AuthCodeOptions struct {
	*RootOptions
	DB       string
	UID      int64
	FixedKey string
}

// NewAuthCodeCommand creates the authcode command.
func NewAuthCodeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AuthCodeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "authcode <config.cue>",
		Short: "Issue a capability token for a record",
		Long: `Issue a capability token for a record.

Without --fixed-key the default edit/delete token is issued. With
--fixed-key the one-click action token and its full link query string are
issued instead.

Example:
  fegate authcode signup.cue --db site.db --uid 7
  fegate authcode signup.cue --db site.db --uid 7 --fixed-key approve`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuthCode(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.DB, "db", "fegate.db", "path to the SQLite database")
	cmd.Flags().Int64Var(&opts.UID, "uid", 0, "target record id")
	cmd.Flags().StringVar(&opts.FixedKey, "fixed-key", "", "one-click action key")
	_ = cmd.MarkFlagRequired("uid")

	return cmd
}

type authCodeResult struct {
	UID   int64  `json:"uid"`
	Token string `json:"token"`
	Link  string `json:"link,omitempty"`
}

func runAuthCode(opts *AuthCodeOptions, configPath string, cmd *cobra.Command) error {
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}

	cfg, reg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	eng, st, err := openEngine(cfg, reg, opts.DB, "")
	if err != nil {
		return err
	}
	defer st.Close()

	rec, err := st.Get(cmd.Context(), cfg.Table, opts.UID)
	if err != nil {
		return &ExitError{Code: ExitCommandError, Message: "loading record", Err: err}
	}
	if rec == nil {
		return &ExitError{Code: ExitFailure, Message: fmt.Sprintf("record %d not found in %s", opts.UID, cfg.Table)}
	}

	res := authCodeResult{UID: opts.UID}
	if opts.FixedKey == "" {
		res.Token = eng.Tokens.Issue(rec, "")
		if res.Token == "" {
			return &ExitError{Code: ExitFailure, Message: "no token fields configured (authCode.fields is empty)"}
		}
	} else {
		action, ok := cfg.SetFixed.Actions[opts.FixedKey]
		if !ok {
			return &ExitError{Code: ExitFailure, Message: fmt.Sprintf("unknown setfixed action %q", opts.FixedKey)}
		}
		res.Token = eng.Tokens.IssueForFixedUpdate(record.Overlay(rec, action.Values), action.TokenFields())
		res.Link = "?" + notify.FixedLinkQuery(opts.FixedKey, action, rec, eng.Tokens)
	}

	if opts.Format == "json" {
		return out.Success(res)
	}
	if res.Link != "" {
		return out.Success(fmt.Sprintf("token: %s\nlink:  %s", res.Token, res.Link))
	}
	return out.Success("token: " + res.Token)
}
