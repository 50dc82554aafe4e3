package repo

import (
	"context"
)

// HarvestEpisode is one reviewed episode eligible for sample harvesting.
type HarvestEpisode struct {
	ID            int64
	EpisodeNumber string
	AudioFilePath string
	PublishedDate string
}

// HarvestSegment is one transcript segment long enough to enroll.
type HarvestSegment struct {
	SegmentIdx int64
	StartTime  float64
	EndTime    float64
	Text       string
}

// EpisodeSource reads the podcast application's episode tables. The voice
// library does not own this schema; it only consumes reviewed diarization
// assignments from it.
type EpisodeSource struct {
	db DBTX
}

func NewEpisodeSource(db DBTX) *EpisodeSource {
	return &EpisodeSource{db: db}
}

// EpisodesWithSpeakers returns downloaded, diarized episodes that have at
// least one confirmed speaker assignment, oldest first.
func (r *EpisodeSource) EpisodesWithSpeakers(ctx context.Context, episodeID *int64) ([]HarvestEpisode, error) {
	query := `
		SELECT DISTINCT e.id, COALESCE(e.episode_number, ''), COALESCE(e.audio_file_path, ''), COALESCE(e.published_date, '')
		FROM episodes e
		INNER JOIN episode_speakers es ON es.episode_id = e.id
		INNER JOIN speakers s ON s.id = es.speaker_id
		WHERE e.is_downloaded = 1
		  AND e.has_diarization = 1
		  AND es.speaker_id IS NOT NULL
	`
	args := []interface{}{}
	if episodeID != nil {
		query += " AND e.id = ?"
		args = append(args, *episodeID)
	}
	query += " ORDER BY e.published_date ASC"
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []HarvestEpisode
	for rows.Next() {
		var ep HarvestEpisode
		if err := rows.Scan(&ep.ID, &ep.EpisodeNumber, &ep.AudioFilePath, &ep.PublishedDate); err != nil {
			return nil, err
		}
		out = append(out, ep)
	}
	return out, rows.Err()
}

// LabelMap returns the confirmed {diarization label -> speaker name}
// assignments for one episode.
func (r *EpisodeSource) LabelMap(ctx context.Context, episodeID int64) (map[string]string, error) {
	const query = `
		SELECT es.diarization_label, s.name
		FROM episode_speakers es
		INNER JOIN speakers s ON s.id = es.speaker_id
		WHERE es.episode_id = ?
		  AND es.speaker_id IS NOT NULL
	`
	rows, err := r.db.QueryContext(ctx, query, episodeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var label, name string
		if err := rows.Scan(&label, &name); err != nil {
			return nil, err
		}
		out[label] = name
	}
	return out, rows.Err()
}

// SegmentsForLabel returns the longest transcript segments spoken under one
// diarization label, duration descending, bounded by minSecs and maxCount.
func (r *EpisodeSource) SegmentsForLabel(ctx context.Context, episodeID int64, label string, minSecs float64, maxCount int) ([]HarvestSegment, error) {
	const query = `
		SELECT segment_idx, start_time, end_time, COALESCE(text, '')
		FROM transcript_segments
		WHERE episode_id = ?
		  AND speaker = ?
		  AND (end_time - start_time) >= ?
		ORDER BY (end_time - start_time) DESC
		LIMIT ?
	`
	rows, err := r.db.QueryContext(ctx, query, episodeID, label, minSecs, maxCount)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []HarvestSegment
	for rows.Next() {
		var seg HarvestSegment
		if err := rows.Scan(&seg.SegmentIdx, &seg.StartTime, &seg.EndTime, &seg.Text); err != nil {
			return nil, err
		}
		out = append(out, seg)
	}
	return out, rows.Err()
}
