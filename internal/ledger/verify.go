package ledger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/avekseev/fileguard/internal/model"
)

// VerifyResult holds the outcome of a chain verification over one day file.
type VerifyResult struct {
	Valid     bool   `json:"valid"`
	Lines     int    `json:"lines"`
	Error     string `json:"error,omitempty"`
	ErrorLine int    `json:"error_line,omitempty"`
}

// Verify reads a ledger file and validates its hash chain, reporting the
// first broken link.
func Verify(path string) VerifyResult {
	f, err := os.Open(path)
	if err != nil {
		return VerifyResult{Error: fmt.Sprintf("open: %v", err)}
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineNum := 0
	var prevLine []byte

	for scanner.Scan() {
		lineNum++
		raw := scanner.Bytes()
		line := make([]byte, len(raw))
		copy(line, raw)

		var inc model.Incident
		if err := json.Unmarshal(line, &inc); err != nil {
			return VerifyResult{
				Error:     fmt.Sprintf("parse error: %v", err),
				ErrorLine: lineNum,
			}
		}

		want := GenesisHash
		if lineNum > 1 {
			want = HashLine(prevLine)
		}
		if inc.PrevHash != want {
			return VerifyResult{
				Error:     fmt.Sprintf("hash chain broken: expected %s, got %s", want, inc.PrevHash),
				ErrorLine: lineNum,
			}
		}
		prevLine = line
	}

	if err := scanner.Err(); err != nil {
		return VerifyResult{Error: fmt.Sprintf("scan: %v", err)}
	}
	return VerifyResult{Valid: true, Lines: lineNum}
}
