package domain

import (
	"strconv"
	"time"
)

// StarredRepository is a snapshot of one starred repository taken during a
// poll. Only FullName outlives the poll cycle.
type StarredRepository struct {
	FullName       string
	Name           string
	Owner          string
	OwnerAvatarURL string
	URL            string
	Description    string
	Language       string
	Stars          int
	Forks          int
	Topics         []string
	StarredAt      time.Time
}

// Metadata is what a connector receives next to the rendered message.
type Metadata struct {
	FullName     string
	URL          string
	Description  string
	Language     string
	Stars        int
	Forks        int
	ThumbnailURL string
	Summary      string
}

func NewMetadata(repo StarredRepository, summary string) *Metadata {
	return &Metadata{
		FullName:     repo.FullName,
		URL:          repo.URL,
		Description:  repo.Description,
		Language:     repo.Language,
		Stars:        repo.Stars,
		Forks:        repo.Forks,
		ThumbnailURL: repo.OwnerAvatarURL,
		Summary:      summary,
	}
}

func (m *Metadata) StarsString() string {
	return strconv.Itoa(m.Stars)
}

// NotificationResult is the outcome of one connector call for one
// repository.
type NotificationResult struct {
	Connector string
	Repo      string
	OK        bool
	Err       error
	Duration  time.Duration
}
