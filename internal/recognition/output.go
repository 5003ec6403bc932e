package recognition

import (
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"doctools/internal/services"
)

// WriteResults writes each successful result to <dir>/<stem>.txt and returns
// the written paths sorted by input. Failed items are skipped.
func WriteResults(dir string, results Results) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "recognition", "write results", fmt.Sprintf("create %s", dir), err)
	}
	keys := make([]string, 0, len(results))
	for key := range results {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	used := make(map[string]int, len(keys))
	var written []string
	for _, key := range keys {
		res := results[key]
		if res.Err != nil {
			continue
		}
		stem := resultStem(key)
		if n := used[stem]; n > 0 {
			used[stem] = n + 1
			stem = fmt.Sprintf("%s_%d", stem, n)
		} else {
			used[stem] = 1
		}
		target := filepath.Join(dir, stem+".txt")
		if err := os.WriteFile(target, []byte(res.Value.Text+"\n"), 0o644); err != nil {
			return written, services.Wrap(services.ErrExternalTool, "recognition", "write results", target, err)
		}
		written = append(written, target)
	}
	return written, nil
}

func resultStem(key string) string {
	base := filepath.Base(key)
	if isURL(key) {
		if u, err := url.Parse(key); err == nil {
			base = path.Base(u.Path)
		}
	}
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "" || stem == "." || stem == "/" {
		return "result"
	}
	return stem
}
