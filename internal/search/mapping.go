package search

import (
	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/simple"
	"github.com/blevesearch/bleve/v2/analysis/lang/en"
	"github.com/blevesearch/bleve/v2/mapping"
)

// buildIndexMapping creates the Bleve mapping for image documents.
//
// Titles and prompt text are stemmed English; tag names use the keyword
// analyzer so multi-word tags match whole.
func buildIndexMapping() mapping.IndexMapping {
	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultAnalyzer = en.AnalyzerName

	docMapping := bleve.NewDocumentMapping()

	titleFieldMapping := bleve.NewTextFieldMapping()
	titleFieldMapping.Analyzer = en.AnalyzerName
	titleFieldMapping.Store = true
	titleFieldMapping.IncludeTermVectors = true
	docMapping.AddFieldMappingsAt("title", titleFieldMapping)

	// Prompt text can be long: searchable but not stored
	promptFieldMapping := bleve.NewTextFieldMapping()
	promptFieldMapping.Analyzer = en.AnalyzerName
	promptFieldMapping.Store = false
	docMapping.AddFieldMappingsAt("prompt", promptFieldMapping)

	tagsFieldMapping := bleve.NewTextFieldMapping()
	tagsFieldMapping.Analyzer = keyword.Name
	tagsFieldMapping.Store = true
	docMapping.AddFieldMappingsAt("tags", tagsFieldMapping)

	// Lowercased, unstemmed copy of the tag names for free-text queries
	tagTextFieldMapping := bleve.NewTextFieldMapping()
	tagTextFieldMapping.Analyzer = simple.Name
	docMapping.AddFieldMappingsAt("tag_text", tagTextFieldMapping)

	idFieldMapping := bleve.NewTextFieldMapping()
	idFieldMapping.Analyzer = keyword.Name
	docMapping.AddFieldMappingsAt("id", idFieldMapping)

	sortFieldMapping := bleve.NewNumericFieldMapping()
	sortFieldMapping.Store = true
	docMapping.AddFieldMappingsAt("sort_order", sortFieldMapping)

	indexMapping.AddDocumentMapping("_default", docMapping)
	return indexMapping
}
