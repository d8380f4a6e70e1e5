package agent

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
)

// actionSignature is the call name plus a hash of its arguments. Map keys
// are marshaled in sorted order, so equal arguments hash equally.
func actionSignature(call *ActionCall) string {
	args, _ := json.Marshal(call.Arguments)
	h := sha256.Sum256(args)
	return fmt.Sprintf("%s:%x", call.Name, h[:8])
}

// recentSignatures returns up to count call signatures in chronological order.
func recentSignatures(history []Turn, count int) []string {
	var sigs []string
	for i := len(history) - 1; i >= 0 && len(sigs) < count; i-- {
		t := history[i]
		if t.Kind == TurnProposal && t.Proposal != nil && t.Proposal.Call != nil {
			sigs = append(sigs, actionSignature(t.Proposal.Call))
		}
	}
	for i, j := 0, len(sigs)-1; i < j; i, j = i+1, j-1 {
		sigs[i], sigs[j] = sigs[j], sigs[i]
	}
	return sigs
}

// DetectLoop reports whether the last windowSize action calls repeat a
// pattern of length 1, 2 or 3.
func DetectLoop(history []Turn, windowSize int) bool {
	if windowSize < 2 {
		return false
	}
	sigs := recentSignatures(history, windowSize)
	if len(sigs) < windowSize {
		return false
	}

	for patternLen := 1; patternLen <= 3 && patternLen < windowSize; patternLen++ {
		if windowSize%patternLen != 0 {
			continue
		}
		match := true
		for i := patternLen; i < windowSize && match; i++ {
			if sigs[i] != sigs[i%patternLen] {
				match = false
			}
		}
		if match {
			return true
		}
	}
	return false
}
