// Package attachment extracts and condenses player-uploaded text files so a
// whole novel can ride along on a single turn without blowing the model
// context.
package attachment

import (
	"context"
	"fmt"
	"log"
	"strings"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/bghira/text-game-engine/internal/services/game/engine"
)

// Attachment is the minimal view of an uploaded file.
type Attachment struct {
	Filename string
	Size     int64
	Read     func(ctx context.Context) ([]byte, error)
}

// TokenCounter estimates token counts for budget math.
type TokenCounter func(text string) int

// HeuristicTokenCount approximates tokens as len/4 when no real tokenizer is
// wired.
func HeuristicTokenCount(text string) int {
	return len(text) / 4
}

// Config bounds extraction and summarization.
type Config struct {
	MaxBytes               int64
	ChunkTokens            int
	ModelContextTokens     int
	PromptOverheadTokens   int
	ResponseReserveTokens  int
	MaxParallel            int
	MaxChunks              int
	GuardToken             string
}

// DefaultConfig mirrors the limits the engine was tuned with.
func DefaultConfig() Config {
	return Config{
		MaxBytes:              500_000,
		ChunkTokens:           2_000,
		ModelContextTokens:    200_000,
		PromptOverheadTokens:  6_000,
		ResponseReserveTokens: 4_000,
		MaxParallel:           4,
		MaxChunks:             8,
		GuardToken:            "--COMPLETED SUMMARY--",
	}
}

// ExtractText returns the text of the first .txt attachment, an
// "ERROR:File too large" string on size violation, or "" when nothing
// usable is attached.
func ExtractText(ctx context.Context, attachments []Attachment, cfg Config) (string, error) {
	var txt *Attachment
	for i := range attachments {
		if strings.HasSuffix(strings.ToLower(attachments[i].Filename), ".txt") {
			txt = &attachments[i]
			break
		}
	}
	if txt == nil {
		return "", nil
	}

	if txt.Size > 0 && txt.Size > cfg.MaxBytes {
		return fmt.Sprintf("ERROR:File too large (%dKB, limit %dKB)", txt.Size/1024, cfg.MaxBytes/1024), nil
	}

	raw, err := txt.Read(ctx)
	if err != nil {
		log.Printf("attachment read failed filename=%s: %v", txt.Filename, err)
		return "", nil
	}
	if len(raw) == 0 {
		return "", nil
	}

	text := string(raw)
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "")
	}
	return strings.TrimSpace(text), nil
}

// Processor condenses long texts through the completion port.
type Processor struct {
	completion engine.TextCompletion
	tokens     TokenCounter
	cfg        Config
}

// NewProcessor builds a processor; tokens defaults to the heuristic counter.
func NewProcessor(completion engine.TextCompletion, tokens TokenCounter, cfg Config) *Processor {
	if tokens == nil {
		tokens = HeuristicTokenCount
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = DefaultConfig().MaxParallel
	}
	if cfg.GuardToken == "" {
		cfg.GuardToken = DefaultConfig().GuardToken
	}
	return &Processor{completion: completion, tokens: tokens, cfg: cfg}
}

// SummarizeLongText reduces text under the model context budget. Short texts
// pass through untouched; longer ones are chunked on paragraph boundaries
// and summarized with bounded parallelism.
func (p *Processor) SummarizeLongText(ctx context.Context, text string) (string, error) {
	cfg := p.cfg
	budgetTokens := cfg.ModelContextTokens - cfg.PromptOverheadTokens - cfg.ResponseReserveTokens

	totalTokens := p.tokens(text)
	targetChunkTokens := totalTokens / max(cfg.MaxChunks, 1)
	if targetChunkTokens < cfg.ChunkTokens {
		targetChunkTokens = cfg.ChunkTokens
	}
	charsPerToken := float64(len(text)) / float64(max(totalTokens, 1))
	chunkCharTarget := int(float64(targetChunkTokens) * charsPerToken)

	chunks := splitParagraphChunks(text, chunkCharTarget)
	if len(chunks) == 0 {
		return "", nil
	}
	if len(chunks) == 1 && p.tokens(chunks[0]) <= budgetTokens {
		return chunks[0], nil
	}

	log.Printf("attachment summarise text_len=%d total_tokens=%d chunk_char_target=%d total_chunks=%d",
		len(text), totalTokens, chunkCharTarget, len(chunks))

	summaryMaxTokens := targetChunkTokens / 4
	if summaryMaxTokens < 800 {
		summaryMaxTokens = 800
	}
	if summaryMaxTokens > 1500 {
		summaryMaxTokens = 1500
	}
	system := fmt.Sprintf(
		"Summarise the following text passage for a text-adventure campaign. "+
			"Preserve all character names, plot points, locations, and key events. "+
			"Be detailed but concise. End with the exact line: %s", cfg.GuardToken)

	summaries := make([]string, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.MaxParallel)
	for i, chunk := range chunks {
		g.Go(func() error {
			summaries[i] = p.summarizeChunk(gctx, system, chunk, summaryMaxTokens)
			return nil
		})
	}
	_ = g.Wait()

	kept := summaries[:0]
	for _, summary := range summaries {
		if summary != "" {
			kept = append(kept, summary)
		}
	}
	if len(kept) == 0 {
		log.Printf("attachment summarise failed: all chunk summaries empty")
		return "", fmt.Errorf("all chunk summaries failed")
	}

	joined := strings.Join(kept, "\n\n")
	if p.tokens(joined) > budgetTokens {
		maxChars := int(float64(budgetTokens) * charsPerToken * 0.9)
		if len(joined) > maxChars {
			const suffix = "... [truncated]"
			joined = joined[:max(maxChars-len(suffix), 0)] + suffix
		}
	}
	return joined, nil
}

func (p *Processor) summarizeChunk(ctx context.Context, system, chunk string, maxTokens int) string {
	prompt := engine.Prompt{
		System:      system,
		User:        chunk,
		MaxTokens:   maxTokens,
		Temperature: 0.3,
	}
	result, err := p.completion.Complete(ctx, prompt)
	if err != nil {
		log.Printf("attachment chunk summarisation failed: %v", err)
		return ""
	}
	result = strings.TrimSpace(result)
	if !strings.Contains(result, p.cfg.GuardToken) {
		log.Printf("attachment guard token missing, retrying chunk")
		retried, err := p.completion.Complete(ctx, prompt)
		if err == nil && strings.Contains(retried, p.cfg.GuardToken) {
			result = strings.TrimSpace(retried)
		}
	}
	return strings.TrimSpace(strings.ReplaceAll(result, p.cfg.GuardToken, ""))
}

// splitParagraphChunks groups paragraphs into chunks near the target size
// without breaking inside a paragraph.
func splitParagraphChunks(text string, chunkCharTarget int) []string {
	paragraphs := strings.Split(text, "\n\n")
	var chunks []string
	var current []string
	currentLen := 0
	for _, paragraph := range paragraphs {
		if currentLen+len(paragraph)+2 > chunkCharTarget && len(current) > 0 {
			chunks = append(chunks, strings.Join(current, "\n\n"))
			current = []string{paragraph}
			currentLen = len(paragraph)
			continue
		}
		current = append(current, paragraph)
		currentLen += len(paragraph) + 2
	}
	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, "\n\n"))
	}
	return chunks
}
