package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/LENAX/statflow/pkg/cli/output"
)

// flowsCmd 列出Flow
var flowsCmd = &cobra.Command{
	Use:   "flows",
	Short: "列出已注册的Flow",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, pipeline, err := buildEngine(cmd.Context())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer pipeline.Close()
		defer eng.Stop()

		defs := eng.Flows()
		if outputJSON {
			return output.PrintJSON(defs)
		}

		table := output.NewTable([]string{"FLOW", "DEFAULT_PARAMS", "DESCRIPTION"})
		for _, def := range defs {
			table.AddRow([]string{def.Name, formatParams(def.DefaultParams), def.Description})
		}
		table.Render()
		return nil
	},
}

func formatParams(params map[string]any) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, params[k]))
	}
	return strings.Join(parts, " ")
}
