package IO

import (
	"bufio"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strings"
)

// maxLineBytes bounds a single review line.
const maxLineBytes = 1 << 20

// punctuation is the ASCII punctuation set split off into separate tokens.
const punctuation = "!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"

// LoadReviews reads every *.txt file below root. Each non-empty line is one sample.
func LoadReviews(root string) ([]string, error) {
	if _, err := os.Stat(root); err != nil {
		return nil, fmt.Errorf("corpus root: %w", err)
	}
	return LoadReviewsFrom(os.DirFS(root), ".")
}

// LoadReviewsFrom is LoadReviews over an fs.FS. Files are visited in lexical order.
func LoadReviewsFrom(fsys fs.FS, root string) ([]string, error) {
	var texts []string
	err := fs.WalkDir(fsys, root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() || path.Ext(p) != ".txt" {
			return nil
		}
		lines, err := readLines(fsys, p)
		if err != nil {
			return err
		}
		texts = append(texts, lines...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load reviews from %s: %w", root, err)
	}
	return texts, nil
}

func readLines(fsys fs.FS, name string) ([]string, error) {
	f, err := fsys.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return lines, nil
}

// Standardize lowercases text, drops "<br />" line breaks and surrounds
// punctuation with spaces so it splits into its own tokens.
func Standardize(text string) string {
	text = strings.ToLower(text)
	text = strings.ReplaceAll(text, "<br />", " ")
	var b strings.Builder
	b.Grow(len(text) + len(text)/4)
	for _, r := range text {
		if strings.ContainsRune(punctuation, r) {
			b.WriteByte(' ')
			b.WriteRune(r)
			b.WriteByte(' ')
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SplitTokens standardizes text and splits it on whitespace.
func SplitTokens(text string) []string {
	return strings.Fields(Standardize(text))
}
