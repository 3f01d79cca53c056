package tracks

import "time"

// Track represents an uploaded audio track and its catalog metadata
type Track struct {
	ID          string
	Name        string
	Artist      string
	Description string
	IsPrivate   bool
	Category    string
	Genre       []string
	Mood        []string
	Duration    float64 // seconds
	BPM         float64
	Key         string
	SoundType   string // audio format, e.g. mp3
	URL         string
	ImageURL    string
	CreatorID   string
	CreatedAt   time.Time
}
