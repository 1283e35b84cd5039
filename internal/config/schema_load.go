package config

import (
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/roach88/fegate/internal/schema"
)

// wireTable mirrors one entry of the top-level "tables" block.
type wireTable struct {
	FieldList        []string          `json:"fieldList"`
	SoftDeleteColumn string            `json:"softDeleteColumn"`
	Files            map[string]string `json:"files"`
	CruserColumn     string            `json:"cruserColumn"`
	CrgroupColumn    string            `json:"crgroupColumn"`
	UserTable        bool              `json:"userTable"`
}

// LoadDocumentFile loads both the engine configuration and the table schema
// registry from one CUE document.
func LoadDocumentFile(path string) (*Config, *schema.Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("reading %s: %v", path, err)}
	}
	return LoadDocumentBytes(data, path)
}

// LoadDocumentBytes decodes the "engine" and "tables" blocks of a CUE
// document. The tables block is optional; a missing block yields an empty
// registry, which config validation then reports as not configured.
func LoadDocumentBytes(data []byte, filename string) (*Config, *schema.Registry, error) {
	cfg, err := LoadBytes(data, filename)
	if err != nil {
		return nil, nil, err
	}

	ctx := cuecontext.New()
	value := ctx.CompileBytes(data, cue.Filename(filename))
	if err := value.Err(); err != nil {
		return nil, nil, &LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}
	}

	tablesVal := value.LookupPath(cue.ParsePath("tables"))
	if !tablesVal.Exists() {
		return cfg, schema.NewRegistry(), nil
	}

	var wires map[string]wireTable
	if err := tablesVal.Decode(&wires); err != nil {
		return nil, nil, &LoadError{Code: ErrCodeDecodeFailed, Message: fmt.Sprintf("decoding tables: %v", err)}
	}

	tables := make([]schema.Table, 0, len(wires))
	for name, w := range wires {
		tables = append(tables, schema.Table{
			Name:             name,
			FieldList:        w.FieldList,
			SoftDeleteColumn: w.SoftDeleteColumn,
			Files:            w.Files,
			CruserColumn:     w.CruserColumn,
			CrgroupColumn:    w.CrgroupColumn,
			UserTable:        w.UserTable,
		})
	}
	return cfg, schema.NewRegistry(tables...), nil
}
