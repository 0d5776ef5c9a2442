package schema

import "github.com/canvas-server/synapsd/checksum"

// Builtins returns fresh descriptors of the built-in abstractions.
func Builtins() []*Descriptor {
	return []*Descriptor{
		{
			Name:                Document,
			Version:             DefaultVersion,
			ChecksumFields:      []string{"data"},
			ChecksumAlgorithms:  []string{checksum.SHA1, checksum.SHA256},
			FullTextIndexFields: []string{"data.title", "data.content"},
			EmbeddingFields:     []string{"data.title", "data.content"},
		},
		{
			Name:    Tab,
			Version: DefaultVersion,
			Fields: map[string]FieldType{
				"url":   FieldTypeString,
				"title": FieldTypeString,
			},
			Required:            []string{"url"},
			ChecksumFields:      []string{"data.url"},
			ChecksumAlgorithms:  []string{checksum.SHA1, checksum.SHA256},
			FullTextIndexFields: []string{"data.title"},
			EmbeddingFields:     []string{"data.title"},
		},
		{
			Name:    Note,
			Version: DefaultVersion,
			Fields: map[string]FieldType{
				"title":   FieldTypeString,
				"content": FieldTypeString,
			},
			ChecksumFields:      []string{"data"},
			ChecksumAlgorithms:  []string{checksum.SHA1, checksum.SHA256},
			FullTextIndexFields: []string{"data.title", "data.content"},
			EmbeddingFields:     []string{"data.title", "data.content"},
		},
		{
			Name:    Todo,
			Version: DefaultVersion,
			Fields: map[string]FieldType{
				"title":     FieldTypeString,
				"completed": FieldTypeBool,
				"due":       FieldTypeString,
			},
			Required:            []string{"title"},
			ChecksumFields:      []string{"data"},
			ChecksumAlgorithms:  []string{checksum.SHA1, checksum.SHA256},
			FullTextIndexFields: []string{"data.title", "data.content"},
			EmbeddingFields:     []string{"data.title"},
		},
	}
}
