package ocr

import (
	"net/http"
	"strings"
)

// transcriptionPrompt is shared by the LLM-backed engines. They only transcribe;
// field extraction stays with the heuristic parser.
const transcriptionPrompt = `You are an OCR engine. Transcribe every piece of text visible in the image of this receipt or bill.

Rules:
- Reproduce the text exactly as printed, one printed line per output line, top to bottom.
- Keep numbers, currency symbols, dates and punctuation exactly as they appear.
- Do not summarize, translate, correct, or interpret anything.
- Do not add commentary, headings, or markdown code blocks.
- If there is no readable text, return an empty response.`

// cleanTranscription strips markdown fences some models wrap their answer in.
func cleanTranscription(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```text")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

// imageFormat sniffs the short format name genai expects ("png", "jpeg").
func imageFormat(data []byte) string {
	if http.DetectContentType(data) == "image/jpeg" {
		return "jpeg"
	}
	return "png"
}
