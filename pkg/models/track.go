package models

// Track is one catalog record. Field order follows the on-disk document.
type Track struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Artist      string `json:"artist"`
	Description string `json:"description"`
	URL         string `json:"url"`   // site-relative audio path
	Cover       string `json:"cover"` // site-relative image path, may be the shared default
	UploadDate  string `json:"upload_date"`
	Duration    int    `json:"duration,omitempty"` // in seconds
}

// UploadDateLayout is the timestamp format used for UploadDate.
const UploadDateLayout = "2006-01-02 15:04:05"

// IndexOf returns the position of the track with the given id, or -1.
func IndexOf(tracks []Track, id string) int {
	for i := range tracks {
		if tracks[i].ID == id {
			return i
		}
	}
	return -1
}
