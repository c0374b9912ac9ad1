package main

import (
	"fmt"

	gojson "github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

// writeJSON prints v on stdout as two-space indented JSON. Characters such as
// '<' and '&' in repo ids and messages are written unescaped.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := gojson.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode json output: %w", err)
	}
	return nil
}
