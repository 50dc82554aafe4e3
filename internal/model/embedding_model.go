package model

// EmbeddingModel identifies one embedding backend configuration. Rows are
// immutable: a changed model configuration inserts a new row so that samples
// written under the old configuration stay interpretable.
type EmbeddingModel struct {
	ID           int64  `json:"id"`
	Backend      string `json:"backend"`
	ModelID      string `json:"model_id"`
	EmbeddingDim int    `json:"embedding_dim"`
	Dtype        string `json:"dtype"`
	VersionTag   string `json:"version_tag"`
	Active       bool   `json:"active"`
	Ctime        int64  `json:"ctime"`
}

const DtypeFloat32 = "float32"
