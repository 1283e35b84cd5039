package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/fegate/internal/engine"
	"github.com/roach88/fegate/internal/record"
)

// InvokeOptions holds flags for the invoke command.
type InvokeOptions struct {
	*RootOptions
	DB        string
	UploadDir string
	Cmd       string
	UID       int64
	AuthCode  string
	FixedKey  string
	Fetch     string
	Key       string
	Fields    string
	Preview   bool
	DoNotSave bool
	UserUID   int64
	BackURL   string
}

// NewInvokeCommand creates the invoke command.
func NewInvokeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InvokeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "invoke <config.cue>",
		Short: "Dispatch one engine command",
		Long: `Dispatch one engine command against a configuration and database.

The submitted fields are given as a JSON object; the remaining request
parameters map one to one onto flags.

Examples:
  fegate invoke signup.cue --db site.db --cmd create --fields '{"email":"a@b.com"}'
  fegate invoke signup.cue --db site.db --cmd setfixed --uid 7 --fixed-key approve --authcode 1a2b3c4d`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInvoke(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.DB, "db", "fegate.db", "path to the SQLite database")
	cmd.Flags().StringVar(&opts.UploadDir, "upload-dir", "", "upload folder root (default: next to the database)")
	cmd.Flags().StringVar(&opts.Cmd, "cmd", "", "command to run (create|edit|delete|setfixed|infomail)")
	cmd.Flags().Int64Var(&opts.UID, "uid", 0, "target record id")
	cmd.Flags().StringVar(&opts.AuthCode, "authcode", "", "presented capability token")
	cmd.Flags().StringVar(&opts.FixedKey, "fixed-key", "", "one-click action key")
	cmd.Flags().StringVar(&opts.Fetch, "fetch", "", "infomail record filter (uid or email value)")
	cmd.Flags().StringVar(&opts.Key, "key", "", "infomail message key")
	cmd.Flags().StringVar(&opts.Fields, "fields", "{}", "submitted fields as a JSON object")
	cmd.Flags().BoolVar(&opts.Preview, "preview", false, "request the preview step")
	cmd.Flags().BoolVar(&opts.DoNotSave, "do-not-save", false, "cancel persistence unconditionally")
	cmd.Flags().Int64Var(&opts.UserUID, "user", 0, "logged-in user record id")
	cmd.Flags().StringVar(&opts.BackURL, "back-url", "", "return link (scrubbed before reuse)")

	return cmd
}

type invokeResult struct {
	View     string              `json:"view"`
	Cmd      string              `json:"cmd"`
	Saved    bool                `json:"saved"`
	UID      int64               `json:"uid,omitempty"`
	Failures map[string][]string `json:"failures,omitempty"`
	Error    string              `json:"error,omitempty"`
}

func runInvoke(opts *InvokeOptions, configPath string, cmd *cobra.Command) error {
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}

	var fields record.Fields
	if err := json.Unmarshal([]byte(opts.Fields), &fields); err != nil {
		return &ExitError{Code: ExitCommandError, Message: "invalid --fields JSON", Err: err}
	}

	cfg, reg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	eng, st, err := openEngine(cfg, reg, opts.DB, opts.UploadDir)
	if err != nil {
		return err
	}
	defer st.Close()

	req := &engine.Request{
		Cmd:       opts.Cmd,
		Fields:    fields,
		RecUID:    opts.UID,
		AuthCode:  opts.AuthCode,
		FixedKey:  opts.FixedKey,
		Fetch:     opts.Fetch,
		Key:       opts.Key,
		Preview:   opts.Preview,
		DoNotSave: opts.DoNotSave,
		BackURL:   opts.BackURL,
	}
	if opts.UserUID > 0 {
		user, err := st.LookupUser(cmd.Context(), opts.UserUID)
		if err != nil {
			return &ExitError{Code: ExitCommandError, Message: "looking up user", Err: err}
		}
		req.LoggedIn = user != nil
		req.User = user
	}

	outcome, err := eng.Dispatch(cmd.Context(), req)
	if err != nil {
		return &ExitError{Code: ExitCommandError, Message: "dispatch failed", Err: err}
	}

	res := invokeResult{View: outcome.View, Cmd: outcome.Cmd, Saved: outcome.Saved}
	if outcome.Record != nil {
		res.UID = outcome.Record.UID()
	}
	if outcome.Validation != nil && !outcome.Validation.OK() {
		res.Failures = make(map[string][]string)
		for _, f := range outcome.Validation.Fields() {
			res.Failures[f] = outcome.Validation.Messages(f)
		}
	}
	if outcome.Err != nil {
		res.Error = outcome.Err.Error()
	}

	if opts.Format == "json" {
		if err := out.Success(res); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "view: %s\n", res.View)
		if res.UID != 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "record: %d\n", res.UID)
		}
		for _, f := range failureOrder(outcome) {
			fmt.Fprintf(cmd.OutOrStdout(), "failure %s: %s\n", f, strings.Join(res.Failures[f], "; "))
		}
		if res.Error != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "error: %s\n", res.Error)
		}
	}

	if outcome.Err != nil || (outcome.Validation != nil && !outcome.Validation.OK()) {
		return &ExitError{Code: ExitFailure, Message: "command did not save"}
	}
	return nil
}

func failureOrder(outcome *engine.Outcome) []string {
	if outcome.Validation == nil {
		return nil
	}
	return outcome.Validation.Fields()
}
