package config

import (
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/roach88/fegate/internal/directive"
)

// Load error codes.
const (
	ErrCodeNotFound      = "CONFIG_NOT_FOUND"
	ErrCodeBuildFailed   = "CONFIG_BUILD_FAILED"
	ErrCodeDecodeFailed  = "CONFIG_DECODE_FAILED"
	ErrCodeNotConfigured = "NOT_CONFIGURED"
)

// LoadError is a configuration-load failure with a machine-readable code.
// NOT_CONFIGURED errors are user-visible diagnostics, never panics.
type LoadError struct {
	Code    string
	Message string
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// wireConfig mirrors the CUE document shape. Directive lists arrive as the
// raw comma strings and are parsed during conversion.
type wireConfig struct {
	Table             string            `json:"table"`
	Pid               int64             `json:"pid"`
	DefaultCmd        string            `json:"defaultCmd"`
	Debug             bool              `json:"debug"`
	ClearCacheOfPages []int64           `json:"clearCacheOfPages"`
	ParseValues       map[string]string `json:"parseValues"`

	Create wireCommand `json:"create"`
	Edit   wireCommand `json:"edit"`
	Delete struct {
		Enabled bool `json:"enabled"`
	} `json:"delete"`

	SetFixed struct {
		Enabled bool `json:"enabled"`
		Actions map[string]struct {
			Values    map[string]string `json:"values"`
			FieldList []string          `json:"fieldList"`
		} `json:"actions"`
	} `json:"setfixed"`

	InfoMail struct {
		Enabled bool `json:"enabled"`
		Entries map[string]struct {
			Label       string `json:"label"`
			DontLockPid bool   `json:"dontLockPid"`
		} `json:"entries"`
		PidRecursive bool `json:"pidRecursive"`
	} `json:"infomail"`

	AuthCode struct {
		Fields     []string `json:"fields"`
		AddKey     string   `json:"addKey"`
		AddDate    string   `json:"addDate"`
		CodeLength int      `json:"codeLength"`
	} `json:"authcode"`

	Email struct {
		Field    string `json:"field"`
		Admin    string `json:"admin"`
		From     string `json:"from"`
		FromName string `json:"fromName"`
	} `json:"email"`

	Permissions struct {
		AllowedGroups []int64 `json:"allowedGroups"`
		UserEditSelf  bool    `json:"userEditSelf"`
		UserOwnSelf   bool    `json:"userOwnSelf"`
	} `json:"permissions"`

	EvalErrors map[string]map[string]string `json:"evalErrors"`
}

type wireCommand struct {
	Enabled            bool              `json:"enabled"`
	Fields             []string          `json:"fields"`
	Required           []string          `json:"required"`
	EvalValues         map[string]string `json:"evalValues"`
	OverrideValues     map[string]string `json:"overrideValues"`
	DefaultValues      map[string]string `json:"defaultValues"`
	Preview            bool              `json:"preview"`
	NoSpecialLoginForm bool              `json:"noSpecialLoginForm"`
	MenuLockPid        bool              `json:"menuLockPid"`
}

// LoadFile loads an engine configuration from a CUE file. The document must
// carry the configuration under a top-level "engine" field.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("reading %s: %v", path, err)}
	}
	return LoadBytes(data, path)
}

// LoadBytes builds and decodes a CUE configuration document.
func LoadBytes(data []byte, filename string) (*Config, error) {
	ctx := cuecontext.New()
	value := ctx.CompileBytes(data, cue.Filename(filename))
	if err := value.Err(); err != nil {
		return nil, &LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}
	}

	engine := value.LookupPath(cue.ParsePath("engine"))
	if !engine.Exists() {
		return nil, &LoadError{Code: ErrCodeNotConfigured, Message: "no \"engine\" configuration in document"}
	}

	var w wireConfig
	if err := engine.Decode(&w); err != nil {
		return nil, &LoadError{Code: ErrCodeDecodeFailed, Message: fmt.Sprintf("decoding configuration: %v", err)}
	}

	return fromWire(w), nil
}

// fromWire converts the decoded document into the typed Config, parsing all
// directive strings exactly once.
func fromWire(w wireConfig) *Config {
	c := &Config{
		Table:           w.Table,
		Pid:             w.Pid,
		DefaultCmd:      w.DefaultCmd,
		Debug:           w.Debug,
		ClearCachePages: w.ClearCacheOfPages,
		ParseValues:     directive.ParseMap(w.ParseValues),
		Create:          commandFromWire(w.Create),
		Edit:            commandFromWire(w.Edit),
		Delete:          ToggleConfig{Enabled: w.Delete.Enabled},
		EvalErrors:      w.EvalErrors,
	}

	c.SetFixed.Enabled = w.SetFixed.Enabled
	if len(w.SetFixed.Actions) > 0 {
		c.SetFixed.Actions = make(map[string]SetFixedAction, len(w.SetFixed.Actions))
		for key, a := range w.SetFixed.Actions {
			c.SetFixed.Actions[key] = SetFixedAction{Values: a.Values, FieldList: a.FieldList}
		}
	}

	c.InfoMail.Enabled = w.InfoMail.Enabled
	c.InfoMail.PidRecursive = w.InfoMail.PidRecursive
	if len(w.InfoMail.Entries) > 0 {
		c.InfoMail.Entries = make(map[string]InfoMailEntry, len(w.InfoMail.Entries))
		for key, e := range w.InfoMail.Entries {
			c.InfoMail.Entries[key] = InfoMailEntry{Label: e.Label, DontLockPid: e.DontLockPid}
		}
	}

	c.AuthCode = AuthCodeConfig{
		Fields:     w.AuthCode.Fields,
		AddKey:     w.AuthCode.AddKey,
		AddDate:    w.AuthCode.AddDate,
		CodeLength: w.AuthCode.CodeLength,
	}
	if c.AuthCode.CodeLength <= 0 {
		c.AuthCode.CodeLength = DefaultCodeLength
	}

	c.Email = EmailConfig{
		Field:    w.Email.Field,
		Admin:    w.Email.Admin,
		From:     w.Email.From,
		FromName: w.Email.FromName,
	}

	c.Permissions = PermissionConfig{
		AllowedGroups: w.Permissions.AllowedGroups,
		UserEditSelf:  w.Permissions.UserEditSelf,
		UserOwnSelf:   w.Permissions.UserOwnSelf,
	}

	return c
}

func commandFromWire(w wireCommand) CommandConfig {
	return CommandConfig{
		Enabled:            w.Enabled,
		Fields:             w.Fields,
		Required:           w.Required,
		EvalValues:         directive.ParseMap(w.EvalValues),
		OverrideValues:     w.OverrideValues,
		DefaultValues:      w.DefaultValues,
		Preview:            w.Preview,
		NoSpecialLoginForm: w.NoSpecialLoginForm,
		MenuLockPid:        w.MenuLockPid,
	}
}
