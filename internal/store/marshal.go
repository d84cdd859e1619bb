package store

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/deduce/internal/ir"
	"github.com/roach88/deduce/internal/querysql"
)

// marshalSchema converts a relation schema to JSON TEXT for the catalog.
// Column types encode as their text form ("Int", "String?").
func marshalSchema(schema ir.RelationSchema) (string, error) {
	data, err := json.Marshal(schema)
	if err != nil {
		return "", fmt.Errorf("marshal schema: %w", err)
	}
	return string(data), nil
}

// unmarshalSchema parses catalog JSON TEXT into a relation schema.
func unmarshalSchema(data string) (ir.RelationSchema, error) {
	var schema ir.RelationSchema
	if err := json.Unmarshal([]byte(data), &schema); err != nil {
		return ir.RelationSchema{}, fmt.Errorf("unmarshal schema: %w", err)
	}
	return schema, nil
}

// tupleParams converts a stored-form tuple to SQL parameters.
func tupleParams(t ir.Tuple) ([]any, error) {
	params := make([]any, len(t))
	for i, v := range t {
		p, err := querysql.ValueToParam(v)
		if err != nil {
			return nil, fmt.Errorf("column %d: %w", i, err)
		}
		params[i] = p
	}
	return params, nil
}

// scanTuple reads one row of raw column values into a typed tuple.
func scanTuple(raw []any, types []ir.ColumnType) (ir.Tuple, error) {
	t := make(ir.Tuple, len(types))
	for i, typ := range types {
		v, err := querysql.ParamToValue(raw[i], typ)
		if err != nil {
			return nil, fmt.Errorf("column %d: %w", i, err)
		}
		t[i] = v
	}
	return t, nil
}
