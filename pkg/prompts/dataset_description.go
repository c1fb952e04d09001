package prompts

import (
	"fmt"
	"strings"

	"github.com/jinzhu/inflection"

	"github.com/datasaki/datasaki-engine/pkg/models"
)

var fileExtensions = map[string]bool{
	"csv": true, "txt": true, "tsv": true, "xlsx": true, "xls": true, "pdf": true,
	"json": true, "parquet": true, "png": true, "jpg": true, "jpeg": true, "gif": true,
}

// EntityName guesses what one row of a source represents from its name:
// "public.order_items.csv" becomes "order item".
func EntityName(source string) string {
	base := source
	if i := strings.LastIndexAny(base, "/\\"); i >= 0 {
		base = base[i+1:]
	}
	parts := strings.Split(base, ".")
	if len(parts) > 1 && fileExtensions[strings.ToLower(parts[len(parts)-1])] {
		parts = parts[:len(parts)-1]
	}
	name := strings.NewReplacer("_", " ", "-", " ").Replace(strings.ToLower(parts[len(parts)-1]))

	words := strings.Fields(name)
	if len(words) == 0 {
		return "record"
	}
	words[len(words)-1] = inflection.Singular(words[len(words)-1])
	return strings.Join(words, " ")
}

// BuildDatasetDescriptionPrompt creates the message asking a model to
// summarize a dataset from its schema snapshot. Transformations are listed as
// declared; they have not been applied to the sample values.
func BuildDatasetDescriptionPrompt(ds *models.Dataset, transformations []*models.Transformation) string {
	var prompt strings.Builder

	entity := EntityName(ds.SourcePath)
	if ds.SourcePath == "" {
		entity = EntityName(ds.Name)
	}

	prompt.WriteString(fmt.Sprintf("# Dataset: %s\n\n", ds.Name))
	if ds.Description != "" {
		prompt.WriteString(fmt.Sprintf("Owner's description: %s\n", ds.Description))
	}
	prompt.WriteString(fmt.Sprintf("Source: %s (%s)\n", ds.SourcePath, ds.SourceType))
	prompt.WriteString(fmt.Sprintf("Each row probably describes one %s.\n\n", entity))

	snap := ds.SchemaInfo
	if snap == nil || len(snap.Columns) == 0 {
		prompt.WriteString("No schema has been inferred for this dataset.\n\n")
	} else {
		prompt.WriteString(fmt.Sprintf("## Schema (%s, %d rows", snap.Kind, snap.RowCount))
		if snap.FileFormat != "" {
			prompt.WriteString(", format " + snap.FileFormat)
		}
		prompt.WriteString(")\n\n")

		for _, col := range snap.Columns {
			flags := ""
			if col.PrimaryKey {
				flags += " [PK]"
			}
			prompt.WriteString(fmt.Sprintf("- %s: %s%s, %d nulls, %d distinct", col.Name, col.Type, flags, col.NullCount, col.UniqueCount))
			if len(col.SampleValues) > 0 {
				prompt.WriteString(fmt.Sprintf(", e.g. %s", strings.Join(col.SampleValues, ", ")))
			}
			prompt.WriteString("\n")
		}
		for _, fk := range snap.ForeignKeys {
			prompt.WriteString(fmt.Sprintf("- %s references %s.%s (each %s belongs to one %s)\n",
				fk.Column, fk.ReferencedTable, fk.ReferencedColumn, entity, EntityName(fk.ReferencedTable)))
		}
		prompt.WriteString("\n")
	}

	if len(transformations) > 0 {
		prompt.WriteString("## Declared transformations, in order\n\n")
		for _, t := range transformations {
			prompt.WriteString(fmt.Sprintf("%d. %s (%s)\n", t.Order, t.Name, t.Type))
		}
		prompt.WriteString("\n")
	}

	prompt.WriteString("Summarize in plain language what this dataset contains, what questions it can answer, ")
	prompt.WriteString("and any data quality concerns visible in the null and distinct counts.")
	return prompt.String()
}
