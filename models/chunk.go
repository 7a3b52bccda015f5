package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Vector is a fixed-dimension embedding stored as a JSON array in the
// database. The dimension is fixed system-wide by configuration.
type Vector []float64

// Value implements driver.Valuer.
func (v Vector) Value() (driver.Value, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal([]float64(v))
	if err != nil {
		return nil, fmt.Errorf("marshal vector: %w", err)
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (v *Vector) Scan(src interface{}) error {
	if src == nil {
		*v = nil
		return nil
	}
	var data []byte
	switch s := src.(type) {
	case []byte:
		data = s
	case string:
		data = []byte(s)
	default:
		return fmt.Errorf("unsupported vector source type %T", src)
	}
	var out []float64
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("unmarshal vector: %w", err)
	}
	*v = out
	return nil
}

// ArticleChunk is one retrievable unit of news text together with its
// embedding. (SourceURL, ChunkIndex) is unique; re-processing the same
// document is a no-op.
type ArticleChunk struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	SourceURL  string `gorm:"size:1024;not null;uniqueIndex:idx_chunk_source,priority:1" json:"source_url"`
	ChunkIndex int    `gorm:"not null;uniqueIndex:idx_chunk_source,priority:2" json:"chunk_index"`
	Content    string `gorm:"type:text;not null" json:"content"`
	Embedding  Vector `gorm:"type:text" json:"-"`

	Title       string     `gorm:"size:500" json:"title,omitempty"`
	SourceName  string     `gorm:"size:255" json:"source_name,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	SearchQuery string     `gorm:"size:255" json:"search_query,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
