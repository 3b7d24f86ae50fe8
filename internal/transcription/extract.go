package transcription

import (
	"encoding/json"
	"regexp"
	"strings"
)

var (
	fencePattern       = regexp.MustCompile("(?i)```(?:json)?\\s*([\\s\\S]*?)```")
	transcriptPattern  = regexp.MustCompile(`(?i)"?transcript"?\s*[:：]\s*"([\s\S]*?)"`)
	translationPattern = regexp.MustCompile(`(?i)"?translation"?\s*[:：]\s*"([\s\S]*?)"`)
)

// Transcript is the parsed reply for one buffered turn
type Transcript struct {
	Transcript  string
	Translation string
	// Loose is set when the fields came from pattern matching rather than
	// strict JSON
	Loose bool
}

// ExtractTranscript parses model text of the form
// {"transcript": "...", "translation": "..."}, optionally inside a fenced
// code block. When the text is not valid JSON the two fields are recovered
// by pattern matching. ok is false only if neither approach found anything.
func ExtractTranscript(text string) (Transcript, bool) {
	raw := text
	if m := fencePattern.FindStringSubmatch(raw); m != nil {
		raw = m[1]
	}
	raw = strings.TrimSpace(raw)

	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err == nil {
		t, _ := obj["transcript"].(string)
		tr, _ := obj["translation"].(string)
		return Transcript{Transcript: t, Translation: tr}, true
	}

	out := Transcript{Loose: true}
	if m := transcriptPattern.FindStringSubmatch(raw); m != nil {
		out.Transcript = m[1]
	}
	if m := translationPattern.FindStringSubmatch(raw); m != nil {
		out.Translation = m[1]
	}
	if out.Transcript == "" && out.Translation == "" {
		return Transcript{}, false
	}
	return out, true
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type messagesOutput struct {
	Content json.RawMessage `json:"content"`
	Text    string          `json:"text"`
}

type messagesResponse struct {
	Output  *messagesOutput `json:"output"`
	Content json.RawMessage `json:"content"`
}

// responseText pulls the assistant text out of a messages API reply: text
// blocks from output.content or content joined by newlines, else output.text
func responseText(body []byte) (string, error) {
	var resp messagesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", err
	}

	raw := resp.Content
	if resp.Output != nil && len(resp.Output.Content) > 0 && string(resp.Output.Content) != "null" {
		raw = resp.Output.Content
	}

	var blocks []contentBlock
	if len(raw) > 0 && json.Unmarshal(raw, &blocks) == nil {
		var parts []string
		for _, b := range blocks {
			if b.Type == "text" {
				parts = append(parts, b.Text)
			}
		}
		if len(parts) > 0 {
			return strings.Join(parts, "\n"), nil
		}
	}

	if resp.Output != nil {
		return resp.Output.Text, nil
	}
	return "", nil
}
