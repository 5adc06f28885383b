package search

// Result is a single search hit returned to the caller.
type Result struct {
	CorrelationTag string `json:"correlationTag"`
	Title          string `json:"title"`
	Snippet        string `json:"snippet"`
	Status         string `json:"status"`
}

// Query describes a search request.
type Query struct {
	Text         string
	FilterStatus string // empty = all statuses
	Limit        int
	Offset       int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// AgreementRecord is the data we index per lineage: always the reduced
// latest view, re-indexed whenever a new record is published.
type AgreementRecord struct {
	CorrelationTag string   `json:"correlationTag"`
	Title          string   `json:"title"`
	Body           string   `json:"body"`
	Status         string   `json:"status"`
	SignerNames    []string `json:"signerNames"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push agreement summaries into a search index.
type Indexer interface {
	IndexAgreement(rec AgreementRecord) error
}
