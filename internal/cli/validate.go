package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate <config.cue>",
		Short: "Validate an engine configuration",
		Long: `Validate an engine configuration document.

Checks that the document decodes, that the configured table carries a
field list, and summarizes the enabled commands.

Example:
  fegate validate signup.cue`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, args[0], cmd)
		},
	}

	return cmd
}

type validateSummary struct {
	Table    string   `json:"table"`
	Pid      int64    `json:"pid"`
	Commands []string `json:"commands"`
	Fields   []string `json:"fields"`
}

func runValidate(opts *ValidateOptions, path string, cmd *cobra.Command) error {
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}

	cfg, reg, err := loadConfig(path)
	if err != nil {
		return err
	}
	if err := cfg.Validate(reg.FieldList(cfg.Table)); err != nil {
		if ferr := out.Error("NOT_CONFIGURED", err.Error()); ferr != nil {
			return ferr
		}
		return &ExitError{Code: ExitFailure, Message: "configuration invalid", Err: err}
	}

	var commands []string
	if cfg.Create.Enabled {
		commands = append(commands, "create")
	}
	if cfg.Edit.Enabled {
		commands = append(commands, "edit")
	}
	if cfg.Delete.Enabled {
		commands = append(commands, "delete")
	}
	if cfg.SetFixed.Enabled {
		commands = append(commands, "setfixed")
	}
	if cfg.InfoMail.Enabled {
		commands = append(commands, "infomail")
	}

	summary := validateSummary{
		Table:    cfg.Table,
		Pid:      cfg.Pid,
		Commands: commands,
		Fields:   reg.FieldList(cfg.Table),
	}
	if opts.Format == "json" {
		return out.Success(summary)
	}
	return out.Success(fmt.Sprintf("configuration ok: table=%s pid=%d commands=[%s]",
		summary.Table, summary.Pid, strings.Join(summary.Commands, " ")))
}
