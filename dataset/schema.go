package dataset

import (
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/format"
)

// ColumnInfo describes one leaf column of a Parquet file.
type ColumnInfo struct {
	Name         string `json:"name" yaml:"name"`
	Type         string `json:"type" yaml:"type"`
	PhysicalType string `json:"physical_type" yaml:"physical_type"`
	LogicalType  string `json:"logical_type,omitempty" yaml:"logical_type,omitempty"`
	Optional     bool   `json:"optional" yaml:"optional"`
	Repeated     bool   `json:"repeated" yaml:"repeated"`
	Supported    bool   `json:"supported" yaml:"supported"`
}

// leafColumn is a flattened, non-repeated leaf of a Parquet schema
type leafColumn struct {
	path  []string
	field arrow.Field
	ok    bool
}

// describeSchema lists every leaf of schema with dot-joined names.
func describeSchema(schema *parquet.Schema) []ColumnInfo {
	var infos []ColumnInfo
	for _, f := range schema.Fields() {
		infos = append(infos, describeField(f, "", false)...)
	}
	return infos
}

func describeField(field parquet.Field, prefix string, parentRepeated bool) []ColumnInfo {
	name := field.Name()
	if prefix != "" {
		name = prefix + "." + name
	}
	repeated := parentRepeated || field.Repeated()

	if children := field.Fields(); len(children) > 0 {
		var infos []ColumnInfo
		for _, child := range children {
			infos = append(infos, describeField(child, name, repeated)...)
		}
		return infos
	}

	info := ColumnInfo{
		Name:         name,
		PhysicalType: physicalType(field),
		LogicalType:  logicalType(field),
		Optional:     field.Optional(),
		Repeated:     repeated,
	}
	if dt, ok := arrowType(field); ok && !repeated {
		info.Type = dt.String()
		info.Supported = true
	} else {
		info.Type = "binary"
	}
	return []ColumnInfo{info}
}

// arrowSchema maps the non-repeated leaves of a Parquet schema to Arrow.
// Leaves without a decodable mapping are kept as binary fields marked
// unsupported so they show up in the schema but cannot be scanned.
func arrowSchema(schema *parquet.Schema) *arrow.Schema {
	leaves := leafColumns(schema)
	fields := make([]arrow.Field, 0, len(leaves))
	for _, leaf := range leaves {
		fields = append(fields, leaf.field)
	}
	return arrow.NewSchema(fields, nil)
}

func leafColumns(schema *parquet.Schema) []leafColumn {
	var leaves []leafColumn
	var walk func(field parquet.Field, path []string)
	walk = func(field parquet.Field, path []string) {
		if field.Repeated() {
			return
		}
		path = append(path[:len(path):len(path)], field.Name())
		if children := field.Fields(); len(children) > 0 {
			for _, child := range children {
				walk(child, path)
			}
			return
		}

		name := joinPath(path)
		dt, ok := arrowType(field)
		f := arrow.Field{Name: name, Type: dt, Nullable: field.Optional()}
		if !ok {
			f.Type = arrow.BinaryTypes.Binary
			f.Metadata = arrow.NewMetadata([]string{unsupportedKey}, []string{physicalType(field)})
		}
		leaves = append(leaves, leafColumn{path: path, field: f, ok: ok})
	}
	for _, f := range schema.Fields() {
		walk(f, nil)
	}
	return leaves
}

func joinPath(path []string) string {
	name := path[0]
	for _, p := range path[1:] {
		name += "." + p
	}
	return name
}

// arrowType returns the Arrow type a leaf decodes to.
func arrowType(field parquet.Field) (arrow.DataType, bool) {
	t := field.Type()
	if t == nil {
		return nil, false
	}
	lt := t.LogicalType()

	switch t.Kind() {
	case parquet.Boolean:
		return arrow.FixedWidthTypes.Boolean, true
	case parquet.Int32:
		if lt != nil && (lt.Date != nil || lt.Time != nil || lt.Decimal != nil) {
			return nil, false
		}
		return arrow.PrimitiveTypes.Int32, true
	case parquet.Int64:
		if lt != nil && lt.Timestamp != nil {
			return &arrow.TimestampType{Unit: timeUnit(lt.Timestamp.Unit), TimeZone: "UTC"}, true
		}
		if lt != nil && (lt.Time != nil || lt.Decimal != nil) {
			return nil, false
		}
		return arrow.PrimitiveTypes.Int64, true
	case parquet.Float:
		return arrow.PrimitiveTypes.Float32, true
	case parquet.Double:
		return arrow.PrimitiveTypes.Float64, true
	case parquet.ByteArray:
		if lt != nil && (lt.UTF8 != nil || lt.Enum != nil) {
			return arrow.BinaryTypes.String, true
		}
		return nil, false
	default:
		return nil, false
	}
}

func timeUnit(u format.TimeUnit) arrow.TimeUnit {
	switch {
	case u.Millis != nil:
		return arrow.Millisecond
	case u.Micros != nil:
		return arrow.Microsecond
	default:
		return arrow.Nanosecond
	}
}

// physicalType returns the physical type name of a Parquet field.
func physicalType(field parquet.Field) string {
	if field.Type() == nil {
		return "GROUP"
	}

	switch field.Type().Kind() {
	case parquet.Boolean:
		return "BOOLEAN"
	case parquet.Int32:
		return "INT32"
	case parquet.Int64:
		return "INT64"
	case parquet.Int96:
		return "INT96"
	case parquet.Float:
		return "FLOAT"
	case parquet.Double:
		return "DOUBLE"
	case parquet.ByteArray:
		return "BYTE_ARRAY"
	case parquet.FixedLenByteArray:
		return "FIXED_LEN_BYTE_ARRAY"
	default:
		return "UNKNOWN"
	}
}

// logicalType returns the logical type name of a Parquet field.
func logicalType(field parquet.Field) string {
	if field.Type() == nil {
		return ""
	}
	lt := field.Type().LogicalType()
	if lt == nil {
		return ""
	}
	return lt.String()
}
