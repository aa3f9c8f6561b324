package domain

// ModelOption describes one downloadable whisper.cpp model.
type ModelOption struct {
	Name        string `json:"name"`
	Label       string `json:"label"`
	FileName    string `json:"fileName"`
	URL         string `json:"url"`
	SizeLabel   string `json:"sizeLabel,omitempty"`
	Description string `json:"description,omitempty"`
	Downloaded  bool   `json:"downloaded"`
	LocalPath   string `json:"localPath,omitempty"`
}
