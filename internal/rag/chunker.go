// Package rag holds the retrieval side of the pipeline: chunking,
// embedding, the vector index, and query-time retrieval.
package rag

// Chunk splits text into ordered segments of at most size characters,
// with consecutive segments sharing exactly overlap characters. The
// final segment may be shorter and carries no trailing overlap.
func Chunk(text string, size, overlap int) []string {
	if text == "" || size <= 0 {
		return nil
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	var chunks []string
	for start := 0; start < len(text); start += size - overlap {
		end := start + size
		if end >= len(text) {
			chunks = append(chunks, text[start:])
			break
		}
		chunks = append(chunks, text[start:end])
	}
	return chunks
}
