package fuzzy

// DefaultStopWords are English function words that carry little intent on
// their own. They are ignored by the token score so that "what's the time"
// and "what time is it" align on "time".
//
// Negations and particles that flip a command ("not", "on", "off", "up",
// "down", "in", "out", "stop") are deliberately absent.
var DefaultStopWords = []string{
	"a", "an", "the",
	"i", "me", "my", "mine", "we", "us", "our",
	"you", "your", "yours",
	"it", "its", "this", "that", "these", "those",
	"is", "are", "am", "was", "were", "be", "been", "being",
	"do", "does", "did",
	"what", "which", "who", "whom", "whose",
	"of", "to", "for",
	"can", "could", "would", "will", "shall", "should",
	"please",
	// Contraction tails left behind by folding ("what's" → "what s").
	"s", "t", "d", "ll", "re", "ve", "m",
}
