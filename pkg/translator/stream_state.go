package translator

// StreamState is the per-session state machine described in spec: it tracks
// which content block is currently open, the mapping from upstream tool
// index to downstream block index, and the running token totals. It is
// owned by a single request task and must never be shared across sessions.
type StreamState struct {
	SessionID string

	messageStarted bool

	textBlockIndex     int
	thinkingBlockIndex int
	hasTextContent     bool
	hasThinkingContent bool

	toolIndexToBlockIndex map[int]int
	openToolBlocks        map[int]toolBlockInfo

	nextBlockIndex int

	InputTokens  int64
	OutputTokens int64
}

type toolBlockInfo struct {
	id   string
	name string
}

// NewStreamState creates a StreamState ready to process the first upstream
// delta for sessionID.
func NewStreamState(sessionID string) *StreamState {
	return &StreamState{
		SessionID:             sessionID,
		textBlockIndex:        -1,
		thinkingBlockIndex:    -1,
		toolIndexToBlockIndex: make(map[int]int),
		openToolBlocks:        make(map[int]toolBlockInfo),
	}
}
