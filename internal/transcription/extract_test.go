package transcription

import "testing"

func TestExtractTranscript(t *testing.T) {
	tests := []struct {
		name            string
		text            string
		wantTranscript  string
		wantTranslation string
		wantLoose       bool
		wantOK          bool
	}{
		{
			name:            "plain json",
			text:            `{"transcript":"hello","translation":"你好"}`,
			wantTranscript:  "hello",
			wantTranslation: "你好",
			wantOK:          true,
		},
		{
			name:            "fenced json",
			text:            "Sure:\n```json\n{\"transcript\": \"hello\", \"translation\": \"你好\"}\n```",
			wantTranscript:  "hello",
			wantTranslation: "你好",
			wantOK:          true,
		},
		{
			name:            "fence without language",
			text:            "```\n{\"transcript\":\"a\",\"translation\":\"b\"}```",
			wantTranscript:  "a",
			wantTranslation: "b",
			wantOK:          true,
		},
		{
			name:            "loose fields",
			text:            `transcript: "hi" translation: "嗨"`,
			wantTranscript:  "hi",
			wantTranslation: "嗨",
			wantLoose:       true,
			wantOK:          true,
		},
		{
			name:            "full-width colon",
			text:            `translation："bonjour"`,
			wantTranslation: "bonjour",
			wantLoose:       true,
			wantOK:          true,
		},
		{
			name:           "non-string fields ignored",
			text:           `{"transcript":"x","translation":42}`,
			wantTranscript: "x",
			wantOK:         true,
		},
		{
			name:   "nothing found",
			text:   "I could not hear anything.",
			wantOK: false,
		},
		{
			name:   "empty",
			text:   "",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractTranscript(tt.text)
			if ok != tt.wantOK {
				t.Fatalf("Expected ok=%v, got %v (%+v)", tt.wantOK, ok, got)
			}
			if got.Transcript != tt.wantTranscript {
				t.Errorf("Expected transcript %q, got %q", tt.wantTranscript, got.Transcript)
			}
			if got.Translation != tt.wantTranslation {
				t.Errorf("Expected translation %q, got %q", tt.wantTranslation, got.Translation)
			}
			if got.Loose != tt.wantLoose {
				t.Errorf("Expected loose=%v, got %v", tt.wantLoose, got.Loose)
			}
		})
	}
}

func TestResponseText(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "top level content",
			body: `{"content":[{"type":"text","text":"a"},{"type":"thinking","text":"x"},{"type":"text","text":"b"}]}`,
			want: "a\nb",
		},
		{
			name: "output content wins",
			body: `{"output":{"content":[{"type":"text","text":"inner"}]},"content":[{"type":"text","text":"outer"}]}`,
			want: "inner",
		},
		{
			name: "output text fallback",
			body: `{"output":{"text":"plain"}}`,
			want: "plain",
		},
		{
			name: "nothing",
			body: `{}`,
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := responseText([]byte(tt.body))
			if err != nil {
				t.Fatalf("responseText failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}

	if _, err := responseText([]byte("not json")); err == nil {
		t.Error("Expected error for invalid body")
	}
}
