package media

import (
	"path/filepath"
	"strings"
)

// SupportedFormats lists the input extensions accepted by the queue.
var SupportedFormats = []string{
	".mp3", ".wav", ".flac", ".m4a", ".ogg", ".opus", ".wma", ".aac",
	".mp4", ".mkv", ".avi", ".mov", ".webm", ".wmv", ".flv", ".m4v",
}

// nativeFormats can be fed to the engine without conversion.
var nativeFormats = map[string]struct{}{
	".wav": {},
}

// Ext returns the lowercase extension of path.
func Ext(path string) string {
	return strings.ToLower(filepath.Ext(path))
}

// IsSupported reports whether path has a supported media extension.
func IsSupported(path string) bool {
	ext := Ext(path)
	for _, f := range SupportedFormats {
		if f == ext {
			return true
		}
	}
	return false
}

// NeedsConversion decides from the extension alone whether path must be
// converted to a 16 kHz mono waveform first.
func NeedsConversion(path string) bool {
	_, native := nativeFormats[Ext(path)]
	return !native
}

// DialogPattern renders SupportedFormats as a file dialog glob list.
func DialogPattern() string {
	parts := make([]string, 0, len(SupportedFormats))
	for _, f := range SupportedFormats {
		parts = append(parts, "*"+f)
	}
	return strings.Join(parts, ";")
}
