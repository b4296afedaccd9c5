// Package echofilter strips residual TTS words that leak into a
// recognized transcript: the microphone often still picks up the
// tail of what was just spoken, and the recognizer dutifully
// transcribes it. This is pure string processing — no device, no
// network, no logger — so the package takes no dependencies.
package echofilter

import "strings"

// Silence is returned when the filtered transcript is empty, or is
// judged to be entirely TTS bleed.
const Silence = "(silence)"

// minPrefixRun is the shortest prefix-word run considered deliberate
// TTS bleed rather than coincidental word overlap.
const minPrefixRun = 3

// fuzzyMinWords is the minimum remaining word count the fuzzy
// whole-sentence strip requires before it will act.
const fuzzyMinWords = 4

// fuzzyOverlapRatio is the fraction of remaining transcript words that
// must appear in the TTS word set to declare the whole thing echo.
const fuzzyOverlapRatio = 0.5

// Filter removes leading runs of TTS words from transcript, then
// (if enough of it still looks like TTS) collapses the whole thing to
// Silence. Called at session finalization when both a transcript and
// the spoken TTS text are present.
func Filter(transcript, ttsText string) string {
	ttsWords := tokenize(ttsText)
	words := tokenize(transcript)

	words = stripPrefixRun(words, ttsWords)
	if len(words) == 0 {
		return Silence
	}

	if isFuzzyEcho(words, ttsWords) {
		return Silence
	}

	return strings.Join(words, " ")
}

// stripPrefixRun finds, over every possible starting index into
// ttsWords, the longest run of ttsWords that equals a prefix of
// words. If the best such run is at least minPrefixRun words long,
// that many words are removed from the front of words.
func stripPrefixRun(words, ttsWords []string) []string {
	best := 0
	for start := 0; start < len(ttsWords); start++ {
		run := 0
		for run < len(words) && start+run < len(ttsWords) && words[run] == ttsWords[start+run] {
			run++
		}
		if run > best {
			best = run
		}
	}
	if best >= minPrefixRun {
		return words[best:]
	}
	return words
}

// isFuzzyEcho reports whether, after the prefix strip, more than
// fuzzyOverlapRatio of the remaining words still appear anywhere in
// the TTS word set — a sign the rest is TTS bleed too, just not in
// the same order (reverb, partial recognition, etc).
func isFuzzyEcho(words, ttsWords []string) bool {
	if len(words) < fuzzyMinWords {
		return false
	}
	set := make(map[string]struct{}, len(ttsWords))
	for _, w := range ttsWords {
		set[w] = struct{}{}
	}
	matches := 0
	for _, w := range words {
		if _, ok := set[w]; ok {
			matches++
		}
	}
	return float64(matches)/float64(len(words)) > fuzzyOverlapRatio
}

// tokenize lowercases and splits on whitespace, stripping leading and
// trailing punctuation from each resulting token.
func tokenize(s string) []string {
	fields := strings.Fields(strings.ToLower(s))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,!?;:\"'()[]{}")
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}
