package openaicompat

import (
	"github.com/Raudbjorn/ttrpg-llm-core/llm"
)

// FinalizeStream wraps a raw provider chunk channel and guarantees the
// §8 stream invariant regardless of how the upstream dialect signals
// completion: exactly one chunk with IsFinal=true is emitted, and it is
// always the last chunk sent before the returned channel closes.
//
// Dialects vary in how (or whether) they mark the end of a stream: some
// send a final empty-delta event carrying finish_reason, some just stop
// sending data after [DONE], some close the connection with no sentinel
// at all. FinalizeStream normalizes all three: it forwards upstream
// chunks until the first one with a non-empty FinishReason, marks that
// chunk IsFinal and stops (later upstream chunks are not forwarded). If
// the upstream channel closes without such a chunk, it synthesizes a
// zero-content terminal chunk with FinishReason "stream_terminated".
func FinalizeStream(in <-chan llm.ChatChunk, provider string) <-chan llm.ChatChunk {
	out := make(chan llm.ChatChunk)
	go func() {
		defer close(out)
		var last llm.ChatChunk
		finalSeen := false
		for chunk := range in {
			last = chunk
			if chunk.FinishReason != "" {
				chunk.IsFinal = true
				finalSeen = true
			}
			out <- chunk
			if finalSeen {
				return
			}
		}
		if finalSeen {
			return
		}
		out <- llm.ChatChunk{
			StreamID:     last.StreamID,
			Provider:     provider,
			Model:        last.Model,
			Index:        last.Index + 1,
			IsFinal:      true,
			FinishReason: "stream_terminated",
		}
	}()
	return out
}
