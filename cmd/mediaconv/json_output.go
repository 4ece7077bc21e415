package main

import (
	"encoding/json"
	"io"

	"github.com/spf13/cobra"
)

// emit writes v as indented JSON in --json mode, otherwise runs human.
func emit(ctx *commandContext, cmd *cobra.Command, v any, human func() error) error {
	if ctx.JSONMode() {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	return human()
}

// emitLine writes v as one compact JSON line.
func emitLine(out io.Writer, v any) error {
	return json.NewEncoder(out).Encode(v)
}
