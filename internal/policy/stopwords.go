package policy

import (
	"fmt"
	"io/fs"

	"gopkg.in/yaml.v2"

	"github.com/iamwavecut/gatewarden/resources"
)

const stopWordsFile = "stopwords.yml"

// LoadStopWords reads a YAML list of stop words from fsys.
func LoadStopWords(fsys fs.FS, name string) ([]string, error) {
	content, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, fmt.Errorf("read stop words: %w", err)
	}
	var words []string
	if err := yaml.Unmarshal(content, &words); err != nil {
		return nil, fmt.Errorf("unmarshal stop words: %w", err)
	}
	return words, nil
}

// DefaultStopWords is the list shipped with the binary.
func DefaultStopWords() ([]string, error) {
	return LoadStopWords(resources.FS, stopWordsFile)
}
