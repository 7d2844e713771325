package config

import (
	"os"
	"path/filepath"
)

// Paths are the assistant's files and directories, rooted at KASSA_HOME or
// ~/.kassa.
type Paths struct {
	Base      string
	Config    string // config.yaml
	Data      string
	Database  string // data/kassa.db, sessions and knowledge chunks
	Knowledge string // markdown sources for retrieval
	Logs      string
}

func ResolvePaths() (Paths, error) {
	base := os.Getenv("KASSA_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Paths{}, err
		}
		base = filepath.Join(home, ".kassa")
	}
	return pathsUnder(base), nil
}

func pathsUnder(base string) Paths {
	p := Paths{
		Base:      base,
		Config:    filepath.Join(base, "config.yaml"),
		Data:      filepath.Join(base, "data"),
		Knowledge: filepath.Join(base, "knowledge"),
		Logs:      filepath.Join(base, "logs"),
	}
	p.Database = filepath.Join(p.Data, "kassa.db")
	return p
}

// KnowledgeDir resolves retrieval.knowledgeDir. A relative directory is
// taken from the working directory when it exists there, and from Base
// otherwise.
func (p Paths) KnowledgeDir(configured string) string {
	switch {
	case configured == "":
		return p.Knowledge
	case filepath.IsAbs(configured):
		return configured
	}
	if st, err := os.Stat(configured); err == nil && st.IsDir() {
		return configured
	}
	return filepath.Join(p.Base, configured)
}
