package embedding

import "time"

// Vector is an embedding tagged with the text hash and model that produced it.
type Vector struct {
	TextHash   string    `json:"text_hash"`
	Model      string    `json:"model"`
	Dimensions int       `json:"dimensions"`
	Values     []float32 `json:"values"`
	CreatedAt  time.Time `json:"created_at"`
	Cached     bool      `json:"-"`
}

// BatchResult holds vectors in input order plus cache accounting.
type BatchResult struct {
	Vectors        []Vector
	CacheHits      int
	CacheMisses    int
	ProcessingTime time.Duration
}

// Stats is a snapshot of cache effectiveness since start or last reset.
type Stats struct {
	Hits     int64   `json:"hits"`
	Misses   int64   `json:"misses"`
	HitRatio float64 `json:"hit_ratio"`
}
