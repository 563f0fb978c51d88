package models

import "time"

// NoDataVersion is the currentDataVersion value of a study without any
// committed checkpoint.
const NoDataVersion = -1

// DataVersion is an immutable, append-only checkpoint marker. Committing a
// version stamps every draft row and field with its id.
type DataVersion struct {
	ID        string    `db:"id" json:"id"`
	StudyID   string    `db:"study_id" json:"study_id"`
	Version   string    `db:"version" json:"version"`
	Tag       *string   `db:"tag" json:"tag,omitempty"`
	ContentID string    `db:"content_id" json:"content_id"`
	Position  int       `db:"position" json:"position"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Study holds the ordered checkpoint history for a research study.
// CurrentDataVersion is always a valid index into DataVersions or
// NoDataVersion.
type Study struct {
	ID                 string        `db:"id" json:"id"`
	Name               string        `db:"name" json:"name"`
	CurrentDataVersion int           `db:"current_data_version" json:"current_data_version"`
	CreatedAt          time.Time     `db:"created_at" json:"created_at"`
	DataVersions       []DataVersion `json:"data_versions,omitempty"`
}

// VersionIndex returns the position of the given version id in the study's
// checkpoint history, or -1 when absent.
func (s *Study) VersionIndex(versionID string) int {
	for i, v := range s.DataVersions {
		if v.ID == versionID {
			return i
		}
	}
	return -1
}
