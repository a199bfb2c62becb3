// Package specs provides the embedded FHIR R4 definition files the search
// engine starts from:
//   - search-parameters.json: Bundle of built-in SearchParameter resources
//   - resource-elements.json: resource type names, top-level element names
//     per resource type, and the elements flagged for _summary=true
package specs

import (
	_ "embed"
)

//go:embed search-parameters.json
var SearchParameters []byte

//go:embed resource-elements.json
var ResourceElements []byte
