package utils

import (
	"fmt"
	"path/filepath"
	"strings"
)

var audioExt = map[string]bool{".wav": true, ".mp3": true, ".mp4": true, ".m4a": true,
	".ogg": true, ".webm": true, ".wma": true}

// MakeValidateFileName makes a storage key ID/<base name> with spaces replaced and a lower case extension
func MakeValidateFileName(ID, fileName string) (string, error) {
	base := filepath.Base(filepath.ToSlash(strings.TrimSpace(fileName)))
	if base == "." || base == "/" || base == ".." || base == "" {
		return "", fmt.Errorf("wrong file name '%s'", fileName)
	}
	ext := filepath.Ext(base)
	base = strings.ReplaceAll(strings.TrimSuffix(base, ext), " ", "_") + strings.ToLower(ext)
	if ID == "" {
		return base, nil
	}
	return ID + "/" + base, nil
}

// SupportAudioExt checks if audio ext is supported
func SupportAudioExt(ext string) bool {
	return audioExt[strings.ToLower(ext)]
}

// ParamTrue - returns true if string param indicates true value
func ParamTrue(prm string) bool {
	return strings.ToLower(prm) == "true" || prm == "1"
}
