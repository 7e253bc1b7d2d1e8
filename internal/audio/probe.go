package audio

import (
	"os"
	"path/filepath"
	"strings"
)

// probe inspects the file extension first (cheap) and falls back to
// magic bytes for files whose extension is ambiguous or missing.
func probe(fileName string) Kind {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".flac", ".fla":
		return FLAC
	case ".wav":
		return WAV
	case ".ogg", ".oga":
		return OGG
	}
	return probeMagic(fileName)
}

func probeMagic(fileName string) Kind {
	f, err := os.Open(fileName)
	if err != nil {
		return Unknown
	}
	defer f.Close()

	var magic [12]byte
	n, _ := f.Read(magic[:])
	if n < 4 {
		return Unknown
	}
	switch {
	case string(magic[:4]) == "fLaC":
		return FLAC
	case n >= 12 && string(magic[:4]) == "RIFF" && string(magic[8:12]) == "WAVE":
		return WAV
	case string(magic[:4]) == "OggS":
		return OGG
	}
	return Unknown
}
