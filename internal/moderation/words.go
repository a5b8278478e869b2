package moderation

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// LoadWords reads a banned-word file, one word per line.
// Blank lines and lines starting with '#' are ignored.
func LoadWords(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open banned words: %w", err)
	}
	defer f.Close()

	var words []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		words = append(words, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read banned words: %w", err)
	}
	return words, nil
}
