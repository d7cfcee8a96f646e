package mapping

import (
	"fmt"
	"sort"
	"strings"

	"github.com/verdantlabs/carbonetl/etl/pkg/schema"
)

// ProposeRequest carries everything the proposer needs to map one source
// sheet onto the fact schema.
type ProposeRequest struct {
	SourceTable    string
	SourceColumns  []string
	Schema         schema.Map
	CalcMethod     CalcMethod
	ActivityCat    string
	ActivitySubcat string
}

const systemPrompt = `You are an expert data-mapping assistant for environmental ETL. You will be given the destination schema and a source sheet. Your job is to output only the required JSON mapping between the source sheet and destination schema fields.`

// buildPrompt renders the user prompt: the destination schema block, the
// source column list, and the mapping rules for the run's calculation
// method. The output contract is one JSON object keyed by fact column.
func buildPrompt(req ProposeRequest) string {
	var b strings.Builder

	b.WriteString("STEP 1\n")
	b.WriteString("Understand and establish relationships between the following dimension tables, based on their primary keys (PK):\n\n")
	b.WriteString("Destination Schema (Dimensions + Fact Table):\n")
	b.WriteString(schemaBlock(req.Schema))

	b.WriteString("\n\nSTEP 2\n")
	b.WriteString("Establish the same PK-FK relationship between dimension tables and the fact table ")
	b.WriteString(schema.TableFact)
	b.WriteString(". Example: ")
	fmt.Fprintf(&b, "%s.DateKey -> %s.DateKey\n", schema.TableFact, schema.TableDate)

	b.WriteString("\nSTEP 3: Mapping\n\n")
	fmt.Fprintf(&b, "Source Sheet: %s\n", req.SourceTable)
	fmt.Fprintf(&b, "Columns: %s\n\n", strings.Join(req.SourceColumns, ", "))

	b.WriteString(`a) The fact table primary key is an auto-incremented value, so it takes no source mapping. Emit it as:
{
  "EmissionActivityID": {
    "source_column": null,
    "transformation": "auto incremental value",
    "relation": null
  }
}

b) Four values come directly from user input: CompanyID, CountryID, ActivityCategoryID, ActivitySubcategoryID. Do not map them from source columns. Emit them as:
{
  "CompanyID": {
    "source_column": "user_input",
    "transformation": "find company id from user input",
    "relation": "D_Company.CompanyID->FE1_EmissionActivityData.CompanyID"
  }
}

c) For the remaining fact columns, choose the best-suited source column. Use intelligent semantic matching based on business understanding (a provider id may match an expense account name, a unit may match a unit id, and so on). Always map PaidAmount directly when a monetary column exists.
`)

	fmt.Fprintf(&b, "\nThe calculation method for this run is: %s\n", req.CalcMethod)
	fmt.Fprintf(&b, "Activity category: %s. Activity subcategory: %s.\n\n", req.ActivityCat, req.ActivitySubcat)

	if req.CalcMethod == CalcExpenseBased {
		b.WriteString(`For an expense-based run, ConsumptionAmount carries a monetary value:
{
  "ConsumptionAmount": {
    "source_column": "<TicketPrice or null>",
    "consumption_type": "Currency",
    "transformation": null,
    "relation": null
  }
}
`)
	} else {
		b.WriteString(`For a consumption-based run, ConsumptionAmount must carry a physical quantity. Set consumption_type to one of: Distance, Energy, Fuel, Heating, Electricity, Days. Examples:
{
  "ConsumptionAmount": {
    "source_column": "HotelStays",
    "consumption_type": "Days",
    "transformation": null,
    "relation": null
  }
}
{
  "ConsumptionAmount": {
    "source_column": "MileageDistance",
    "consumption_type": "Distance",
    "transformation": "derive from departure and arrival columns when no distance column exists",
    "relation": null
  }
}
`)
	}

	b.WriteString(`
d) When no source column matches a fact column, map it to null, with all other entry fields null.

Output Instructions:

Return only a JSON object keyed by every fact table column, structured as:
{
  "fact_column": {
    "source_column": "<mapped column from source> or null",
    "transformation": "<transformation required> or null",
    "relation": "<DimTable.PK->FactTable.FK> or null"
  }
}
ConsumptionAmount entries additionally carry "consumption_type". Missing mappings must be populated with null. Do not emit any prose outside the JSON.
`)
	return b.String()
}

func schemaBlock(m schema.Map) string {
	names := make([]string, 0, len(m))
	for n := range m {
		if strings.EqualFold(n, "sysdiagrams") {
			continue
		}
		names = append(names, n)
	}
	sort.Strings(names)

	lines := make([]string, 0, len(names))
	for _, name := range names {
		t := m[name]
		cols := make([]string, len(t.Columns))
		for i, c := range t.Columns {
			if i < len(t.Datatypes) && t.Datatypes[i] != "" {
				cols[i] = fmt.Sprintf("%s (%s)", c, t.Datatypes[i])
			} else {
				cols[i] = c
			}
		}
		pk := "<none>"
		if t.PrimaryKey != "" {
			pk = t.PrimaryKey
		}
		lines = append(lines, fmt.Sprintf("%s (%s)\nPK: %s", name, strings.Join(cols, ", "), pk))
	}
	return strings.Join(lines, "\n\n")
}
