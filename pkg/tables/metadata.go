package tables

import (
	"strconv"

	"github.com/apache/arrow/go/v18/arrow"
)

// Metadata keys written on feature matrix files.
const (
	comment    = "comment"
	labelKey   = "label_column"
	rowsKey    = "rows"
	versionKey = "format_version"
)

// MetadataBuilder is a convenience type to aid readability of code that
// specifies metadata for Arrow schemas and fields.
type MetadataBuilder struct {
	keys   []string
	values []string
}

func NewMetadataBuilder() *MetadataBuilder {
	return &MetadataBuilder{}
}

func (b *MetadataBuilder) Add(key, value string) *MetadataBuilder {
	b.keys = append(b.keys, key)
	b.values = append(b.values, value)
	return b
}

func (b *MetadataBuilder) AddInt(key string, value int) *MetadataBuilder {
	return b.Add(key, strconv.Itoa(value))
}

// Build constructs and returns the arrow.Metadata.
func (b *MetadataBuilder) Build() arrow.Metadata {
	return arrow.NewMetadata(b.keys, b.values)
}

// BuildReference constructs and returns the arrow.Metadata result as a
// reference, as required by arrow.NewSchema.
func (b *MetadataBuilder) BuildReference() *arrow.Metadata {
	result := b.Build()
	return &result
}
