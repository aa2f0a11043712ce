package chapter

import "time"

// Metadata is the chapter information extracted from an archive or folder
// name. It is built once per source item and not mutated afterwards.
type Metadata struct {
	SeriesID      string
	Language      string
	ChapterNumber *string
	VolumeNumber  *string
	Title         *string
	GroupIDs      []string
	PublishAt     *time.Time
	// PublishFarOut marks a publish time more than two weeks away, which
	// the platform is likely to reject.
	PublishFarOut bool
	OneShot       bool

	SourcePath string
	SourceName string
	IsFolder   bool
}
