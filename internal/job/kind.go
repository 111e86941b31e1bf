package job

// Kind identifies a known workload. The set is closed; handlers are bound to
// kinds at construction time and unknown kinds are rejected at enqueue.
type Kind string

// Known workload kinds
const (
	// KindDocumentSynthesis generates a document from a template set
	KindDocumentSynthesis Kind = "document_synthesis"

	// KindAnalyticsQuery answers a natural-language analytics question with a multi-agent pipeline
	KindAnalyticsQuery Kind = "analytics_query"
)

// Kinds returns every known workload kind.
func Kinds() []Kind {
	return []Kind{KindDocumentSynthesis, KindAnalyticsQuery}
}

// Valid reports whether k is a known workload kind.
func (k Kind) Valid() bool {
	for _, known := range Kinds() {
		if k == known {
			return true
		}
	}
	return false
}
