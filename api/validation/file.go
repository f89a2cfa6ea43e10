package validation

import (
	"bytes"
	"io"
	"mime/multipart"
	"path/filepath"
	"strings"
)

type FileType string

const (
	FileTypeWAV  FileType = "wav"
	FileTypeMP3  FileType = "mp3"
	FileTypeM4A  FileType = "m4a"
	FileTypeOGG  FileType = "ogg"
	FileTypeFLAC FileType = "flac"
)

var magicBytes = map[FileType][]byte{
	FileTypeWAV:  {0x52, 0x49, 0x46, 0x46}, // RIFF
	FileTypeMP3:  {0x49, 0x44, 0x33},       // ID3
	FileTypeOGG:  {0x4F, 0x67, 0x67, 0x53}, // OggS
	FileTypeFLAC: {0x66, 0x4C, 0x61, 0x43}, // fLaC
}

// DetectFileType sniffs the leading bytes of an uploaded file and rewinds it.
// M4A containers carry their ftyp marker at offset 4, so they are checked
// separately from the prefix table.
func DetectFileType(file multipart.File) (FileType, error) {
	buffer := make([]byte, 512)
	n, err := file.Read(buffer)
	if err != nil && err != io.EOF {
		return "", err
	}

	if _, err := file.Seek(0, 0); err != nil {
		return "", err
	}

	for fileType, signature := range magicBytes {
		if bytes.HasPrefix(buffer[:n], signature) {
			return fileType, nil
		}
	}

	if n >= 8 && bytes.Equal(buffer[4:8], []byte("ftyp")) {
		return FileTypeM4A, nil
	}

	// MP3 frames without an ID3 tag start with a frame sync.
	if n >= 2 && buffer[0] == 0xFF && buffer[1]&0xE0 == 0xE0 {
		return FileTypeMP3, nil
	}

	return "", ErrInvalidFileType
}

func IsAllowedAudioExtension(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	allowed := map[string]bool{
		".wav":  true,
		".mp3":  true,
		".m4a":  true,
		".mp4":  true,
		".ogg":  true,
		".flac": true,
		".webm": true,
	}
	return allowed[ext]
}
