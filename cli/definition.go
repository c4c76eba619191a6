package cli

import (
	"encoding/json"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/urfave/cli/v2"

	"go.viam.com/fisheye/components/camera/fisheye"
)

// DefinitionAction prints the fisheye attribute catalog.
func DefinitionAction(c *cli.Context) error {
	if c.Bool(schemaFlag) {
		schema := jsonschema.Reflect(&fisheye.Parameters{})
		out, err := json.MarshalIndent(schema, "", "  ")
		if err != nil {
			return err
		}
		printf(c.App.Writer, "%s", out)
		return nil
	}

	def := fisheye.Definition()
	t := table.NewWriter()
	t.SetTitle(def.ID)
	t.AppendHeader(table.Row{"Attribute", "Type", "Recommended", "Restricted"})
	for _, attr := range def.Attributes {
		t.AppendRow(table.Row{attr.ID, attr.Type, strings.Join(attr.RecommendedValues, ", "), attr.RestrictToRecommended})
	}
	printf(c.App.Writer, "%s", t.Render())
	return nil
}
