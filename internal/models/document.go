package models

// Chunk is a contiguous span of document text, numbered in document order.
type Chunk struct {
	Index   int
	Content string
}

// ScoredChunk is a retrieval result.
type ScoredChunk struct {
	Chunk
	Score float64
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one entry of the conversation log.
type Turn struct {
	Role Role
	Text string
}

// Page is the extracted text of one fetched web page.
type Page struct {
	URL     string
	Title   string
	Content string
	Depth   int
}
