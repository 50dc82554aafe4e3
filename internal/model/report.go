package model

// RebuildReport summarizes one authoritative centroid rebuild.
type RebuildReport struct {
	SampleRows       int `json:"sample_rows"`
	GroupCount       int `json:"group_count"`
	CentroidsWritten int `json:"centroids_written"`
}

// IntegrityIssue is one itemized finding from a verification pass.
type IntegrityIssue struct {
	Kind    string `json:"kind"`
	Speaker string `json:"speaker,omitempty"`
	Detail  string `json:"detail"`
}

const (
	IssueOrphanedSample  = "orphaned_sample"
	IssueMissingCentroid = "missing_centroid"
	IssueMissingFile     = "missing_file"
)

// IntegrityReport is the structured result of a verification pass. It is a
// diagnosis only; repair is an explicit rebuild.
type IntegrityReport struct {
	Backend       string           `json:"backend"`
	SamplesSeen   int              `json:"samples_seen"`
	CentroidsSeen int              `json:"centroids_seen"`
	Issues        []IntegrityIssue `json:"issues"`
}

func (r *IntegrityReport) OK() bool {
	return len(r.Issues) == 0
}

// HarvestReport summarizes one harvest run. Partial success is the expected
// outcome: individual bad samples are counted, never fatal.
type HarvestReport struct {
	EpisodesProcessed int `json:"episodes_processed"`
	SamplesAdded      int `json:"samples_added"`
	Skipped           int `json:"skipped"`
	Errors            int `json:"errors"`
}
