package research

import (
	"strings"
	"testing"

	"github.com/mohammad-safakhou/delver/internal/search"
)

func TestParseFormulation(t *testing.T) {
	cases := []struct {
		name      string
		reply     string
		query     string
		timeRange string
	}{
		{"plain", "Search query: go generics\nTime range: none", "go generics", "none"},
		{"quoted query", `Search query: "rust borrow checker"` + "\nTime range: y", "rust borrow checker", "y"},
		{"bracketed range", "Search query: election results\nTime range: [w]", "election results", "w"},
		{"quoted range", "Search query: release notes\nTime range: 'm'", "release notes", "m"},
		{"uppercase range", "Search query: storms\nTime range: D", "storms", "d"},
		{"missing query", "Time range: w", "", "w"},
		{"missing range", "Search query: history of rome", "history of rome", "none"},
		{"surrounding chatter", "Sure!\nSearch query: tide tables\nTime range: d\nHope that helps.", "tide tables", "d"},
		{"empty reply", "", "", "none"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			query, timeRange := parseFormulation(tc.reply)
			if query != tc.query || timeRange != tc.timeRange {
				t.Fatalf("parseFormulation(%q) = (%q, %q), expected (%q, %q)",
					tc.reply, query, timeRange, tc.query, tc.timeRange)
			}
		})
	}
}

func TestParseEvaluation(t *testing.T) {
	cases := []struct {
		name       string
		reply      string
		evaluation string
		decision   string
	}{
		{"answer", "Evaluation: covers everything\nDecision: answer", "covers everything", "answer"},
		{"refine", "Evaluation: too shallow\nDecision: refine", "too shallow", "refine"},
		{"quoted decision", "Evaluation: ok\nDecision: 'answer'", "ok", "answer"},
		{"uppercase decision", "Evaluation: ok\nDecision: ANSWER", "ok", "answer"},
		{"trailing period", "Evaluation: ok\nDecision: refine.", "ok", "refine"},
		{"junk decision", "Evaluation: ok\nDecision: maybe later", "ok", "maybe later"},
		{"no decision line", "Evaluation: ok", "ok", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			evaluation, decision := parseEvaluation(tc.reply)
			if evaluation != tc.evaluation || decision != tc.decision {
				t.Fatalf("parseEvaluation(%q) = (%q, %q), expected (%q, %q)",
					tc.reply, evaluation, decision, tc.evaluation, tc.decision)
			}
		})
	}
}

func TestPickSelectedURLs(t *testing.T) {
	results := sampleResults(3)

	cases := []struct {
		name  string
		reply string
		want  []string
	}{
		{"two picks", "Selected Results: [1, 3]\nReasoning: ok", []string{results[0].URL, results[2].URL}},
		{"out of range dropped", "Selected Results: [2, 9]", []string{results[1].URL}},
		{"zero dropped", "Selected Results: [0, 2]", []string{results[1].URL}},
		{"duplicates collapse", "Selected Results: [1, 1]", []string{results[0].URL}},
		{"no digits", "Selected Results: none", nil},
		{"digits beyond prefix ignored", "Reasoning first, at length, padding out the line: 1 and 3", nil},
		{"multibyte reply keeps the digit window", "Выбранные результаты: [1, 3]", []string{results[0].URL, results[2].URL}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := pickSelectedURLs(tc.reply, results)
			if len(got) != len(tc.want) {
				t.Fatalf("pickSelectedURLs(%q) = %v, expected %v", tc.reply, got, tc.want)
			}
			for i := range tc.want {
				if got[i] != tc.want[i] {
					t.Fatalf("url %d: expected %s, got %s", i, tc.want[i], got[i])
				}
			}
		})
	}
}

func TestFormatResults(t *testing.T) {
	results := []search.Result{
		{
			Title:         "Go scheduler",
			URL:           "https://example.com/sched",
			Content:       strings.Repeat("x", 250),
			Score:         0.93,
			PublishedDate: "2024-05-01",
		},
		{
			Title:   "Runtime internals",
			URL:     "https://example.com/runtime",
			Content: "short snippet",
		},
	}

	got := formatResults(results)
	if !strings.Contains(got, "1. Title: Go scheduler\n") {
		t.Fatalf("missing first title:\n%s", got)
	}
	if !strings.Contains(got, "   Snippet: "+strings.Repeat("x", 200)+"...\n") {
		t.Fatalf("snippet not clipped to 200 runes:\n%s", got)
	}
	if !strings.Contains(got, "   Published: 2024-05-01\n") {
		t.Fatalf("missing published date:\n%s", got)
	}
	if !strings.Contains(got, "   Relevance Score: 0.93\n") {
		t.Fatalf("missing relevance score:\n%s", got)
	}
	if !strings.Contains(got, "2. Title: Runtime internals\n") {
		t.Fatalf("missing second title:\n%s", got)
	}
	second := got[strings.Index(got, "2. Title"):]
	if strings.Contains(second, "Published:") || strings.Contains(second, "Relevance Score:") {
		t.Fatalf("zero-valued fields should be omitted:\n%s", second)
	}
}

func TestFormatScrapedContent(t *testing.T) {
	urls := []string{"https://a.example.com", "https://b.example.com", "https://missing.example.com"}
	content := map[string]string{
		"https://a.example.com": "line one\n\tline   two",
		"https://b.example.com": "plain",
	}

	got := formatScrapedContent(urls, content)
	want := "Content from https://a.example.com:line one line two\nContent from https://b.example.com:plain"
	if got != want {
		t.Fatalf("formatScrapedContent:\nexpected %q\ngot      %q", want, got)
	}
}

func TestFormulatePromptMentionsRetry(t *testing.T) {
	first := formulatePrompt("what happened today", 0)
	if strings.Contains(first, "attempt") {
		t.Fatalf("first formulation should not mention retries:\n%s", first)
	}
	retry := formulatePrompt("what happened today", 2)
	if !strings.Contains(retry, "attempt 3") {
		t.Fatalf("retry formulation should carry the attempt number:\n%s", retry)
	}
}

func TestSelectPromptCarriesSizeAndResults(t *testing.T) {
	results := sampleResults(3)
	prompt := selectPrompt("the question", results, 2)
	if !strings.Contains(prompt, "Select the 2 most relevant results") {
		t.Fatalf("selection size missing:\n%s", prompt)
	}
	if !strings.Contains(prompt, "3. Title: Result 3") {
		t.Fatalf("results missing from prompt:\n%s", prompt)
	}
	if !strings.Contains(prompt, "Selected Results: [2 numbers corresponding to the selected results]") {
		t.Fatalf("reply format missing:\n%s", prompt)
	}
}

func TestClipBoundsRunes(t *testing.T) {
	if got := clip("hello", 10); got != "hello" {
		t.Fatalf("short strings pass through, got %q", got)
	}
	long := strings.Repeat("日", 300)
	got := clip(long, 200)
	if runes := []rune(got); len(runes) != 200 || runes[199] != '日' {
		t.Fatalf("expected 200 rune clip, got %d runes", len([]rune(got)))
	}
}
