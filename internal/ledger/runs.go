package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"

	"github.com/jmylchreest/reelpipe/internal/config"
	"github.com/jmylchreest/reelpipe/internal/pipeline"
)

// ErrNotFound is returned when no run has the requested id.
var ErrNotFound = errors.New("run not found")

// OutcomeRunning marks a run that has started and not yet finished.
const OutcomeRunning = "running"

// RunRecord is one encode run.
type RunRecord struct {
	ID         string     `gorm:"primaryKey;size:26" json:"id"`
	StartedAt  time.Time  `gorm:"index" json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	DurationMs int64      `json:"duration_ms"`
	Outcome    string     `gorm:"size:32;index" json:"outcome"`

	VideoInput string `gorm:"size:1024" json:"video_input"`
	AudioInput string `gorm:"size:1024" json:"audio_input"`
	OutputPath string `gorm:"size:1024" json:"output_path"`
	Mux        string `gorm:"size:32" json:"mux"`
	VideoCodec string `gorm:"size:64" json:"video_codec"`
	AudioCodec string `gorm:"size:64" json:"audio_codec"`
	Ranges     string `gorm:"size:1024" json:"ranges,omitempty"`

	Encoded    int64  `json:"encoded"`
	Skipped    int64  `json:"skipped"`
	Dropped    int64  `json:"dropped"`
	Cloned     int64  `json:"cloned"`
	Delayed    int64  `json:"delayed"`
	Bytes      int64  `json:"bytes"`
	Chunks     int    `json:"chunks"`
	VideoCause string `gorm:"size:32" json:"video_cause,omitempty"`
	AudioCause string `gorm:"size:32" json:"audio_cause,omitempty"`
	Error      string `gorm:"type:text" json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the table name for the run ledger.
func (RunRecord) TableName() string { return "runs" }

// BeforeCreate validates the run id.
func (r *RunRecord) BeforeCreate(*gorm.DB) error {
	if _, err := ulid.ParseStrict(r.ID); err != nil {
		return fmt.Errorf("invalid run id %q: %w", r.ID, err)
	}
	return nil
}

// Start records a run that is about to begin.
func (l *Ledger) Start(ctx context.Context, runID string, cfg *config.Config, startedAt time.Time) (*RunRecord, error) {
	rec := &RunRecord{
		ID:         runID,
		StartedAt:  startedAt.UTC(),
		Outcome:    OutcomeRunning,
		VideoInput: cfg.Input.Video,
		AudioInput: cfg.Input.Audio,
		OutputPath: cfg.Output.Path,
		Mux:        cfg.Output.Mux,
		VideoCodec: cfg.Encode.VideoCodec,
		AudioCodec: cfg.Encode.AudioCodec,
		Ranges:     cfg.Encode.Ranges,
	}
	if err := l.db.WithContext(ctx).Create(rec).Error; err != nil {
		return nil, fmt.Errorf("recording run start: %w", err)
	}
	return rec, nil
}

// Finish stores the result of rec's run.
func (l *Ledger) Finish(ctx context.Context, rec *RunRecord, res *pipeline.Result) error {
	finished := res.FinishedAt.UTC()
	if res.FinishedAt.IsZero() {
		finished = time.Now().UTC()
	}
	rec.FinishedAt = &finished
	rec.DurationMs = finished.Sub(rec.StartedAt).Milliseconds()
	rec.Outcome = string(res.Outcome)
	rec.Encoded = res.Encoder.Encoded
	rec.Skipped = res.Encoder.Skipped
	rec.Dropped = res.Encoder.Dropped
	rec.Cloned = res.Encoder.Cloned
	rec.Delayed = res.Encoder.Delayed
	rec.Bytes = res.Encoder.Bytes
	rec.Chunks = res.Encoder.Chunks
	rec.VideoCause = res.Video.Cause
	rec.AudioCause = res.Audio.Cause
	rec.Error = res.ErrMessage()

	if err := l.db.WithContext(ctx).Save(rec).Error; err != nil {
		return fmt.Errorf("recording run result: %w", err)
	}
	return nil
}

// Get returns the run with id.
func (l *Ledger) Get(ctx context.Context, id string) (*RunRecord, error) {
	var rec RunRecord
	if err := l.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("getting run: %w", err)
	}
	return &rec, nil
}

// List returns runs newest first, with the total count.
func (l *Ledger) List(ctx context.Context, offset, limit int) ([]*RunRecord, int64, error) {
	var (
		runs  []*RunRecord
		total int64
	)
	db := l.db.WithContext(ctx).Model(&RunRecord{})
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("counting runs: %w", err)
	}
	if limit <= 0 {
		limit = 20
	}
	if err := db.Order("started_at DESC, id DESC").Offset(offset).Limit(limit).Find(&runs).Error; err != nil {
		return nil, 0, fmt.Errorf("listing runs: %w", err)
	}
	return runs, total, nil
}

// Prune deletes finished runs that started before before.
func (l *Ledger) Prune(ctx context.Context, before time.Time) (int64, error) {
	result := l.db.WithContext(ctx).
		Where("started_at < ? AND outcome <> ?", before.UTC(), OutcomeRunning).
		Delete(&RunRecord{})
	if result.Error != nil {
		return 0, fmt.Errorf("pruning runs: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// PruneRetention deletes runs older than the configured retention. A zero
// retention keeps everything.
func (l *Ledger) PruneRetention(ctx context.Context, now time.Time) (int64, error) {
	retention := l.cfg.Retention.Duration()
	if retention <= 0 {
		return 0, nil
	}
	return l.Prune(ctx, now.Add(-retention))
}
