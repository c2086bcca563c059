package linkgraph

import (
	"os"
	"strings"
)

func mustRead(p string) string {
	data, err := os.ReadFile(p)
	if err != nil {
		return ""
	}
	return string(data)
}

func contains(s, sub string) bool { return strings.Contains(s, sub) }
