// Package cmdutil holds helpers shared by the subcommands.
package cmdutil

import (
	"io"

	"gopkg.in/yaml.v3"
)

// PrintYAML writes v to w as a YAML document.
func PrintYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
