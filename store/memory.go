package store

// Memory is a retrievable fragment of past dialogue used to ground
// human_ai_private context assembly.
type Memory struct {
	ID         string
	UserID     string
	Content    string
	Summary    string
	Importance float32
	CreatedTs  int64

	// Embedding is populated only on backends with vector support
	// (postgres + pgvector). Other drivers fall back to text search.
	Embedding []float32
}

// FindMemory specifies the conditions for retrieving memories.
// When Embedding is set and the backend supports it, results are ordered by
// vector distance; otherwise Query does substring matching on content and
// summary, newest-first.
type FindMemory struct {
	ID        *string
	UserID    *string
	Query     *string
	Embedding []float32
	Limit     int
}
