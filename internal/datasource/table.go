package datasource

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/seenimoa/optchain/pkg/models"
)

// ParseContractTable converts a JSON array of contract objects into a table.
//
// Field names and values are kept as sent. Columns are the union of field
// names in first-seen order, and every record is laid out in column order
// with null for fields its source object lacked. A missing or null array is
// an empty table.
func ParseContractTable(rows gjson.Result) (*models.ContractTable, error) {
	table := &models.ContractTable{}
	if !rows.Exists() || rows.Type == gjson.Null {
		return table, nil
	}
	if !rows.IsArray() {
		return nil, fmt.Errorf("%w: contracts must be an array, got %s", ErrMalformed, rows.Type)
	}

	index := make(map[string]int)
	var cells []map[string]any
	var err error

	rows.ForEach(func(_, row gjson.Result) bool {
		if !row.IsObject() {
			err = fmt.Errorf("%w: contract %d is not an object", ErrMalformed, len(cells))
			return false
		}
		values := make(map[string]any)
		row.ForEach(func(k, v gjson.Result) bool {
			name := k.String()
			if _, seen := index[name]; !seen {
				index[name] = len(table.Columns)
				table.Columns = append(table.Columns, name)
			}
			values[name] = cellValue(v)
			return true
		})
		cells = append(cells, values)
		return true
	})
	if err != nil {
		return nil, err
	}

	table.Records = make([]models.Record, 0, len(cells))
	for _, values := range cells {
		rec := make(models.Record, len(table.Columns))
		for i, name := range table.Columns {
			rec[i] = models.Field{Name: name, Value: values[name]}
		}
		table.Records = append(table.Records, rec)
	}
	return table, nil
}

// cellValue maps a JSON value to its record representation. Numbers keep
// their source text.
func cellValue(v gjson.Result) any {
	switch v.Type {
	case gjson.Null:
		return nil
	case gjson.False:
		return false
	case gjson.True:
		return true
	case gjson.Number:
		return json.Number(v.Raw)
	case gjson.String:
		return v.String()
	default:
		return json.RawMessage(v.Raw)
	}
}
