package research

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/mohammad-safakhou/delver/internal/search"
)

var whitespacePattern = regexp.MustCompile(`\s+`)

// formulatePrompt asks for a compact search query and a time-range code.
// Later attempts tell the model to vary the phrasing.
func formulatePrompt(userQuery string, attempt int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Based on the following user question, formulate a concise and effective search query:\n\"%s\"\n", clip(userQuery, 200))
	if attempt > 0 {
		fmt.Fprintf(&b, "This is attempt %d. Earlier queries did not produce a satisfactory answer, so rephrase the query to surface different results.\n", attempt+1)
	}
	b.WriteString("\nYour task:\n")
	b.WriteString("1. Create a search query of 2-5 words that will yield relevant results.\n")
	b.WriteString("2. Determine if a specific time range is needed for the search.\n\n")
	b.WriteString("Time range options:\n")
	b.WriteString("- 'd': Limit results to the past day. Use for very recent events.\n")
	b.WriteString("- 'w': Limit results to the past week. Use for recent events or frequently updated topics.\n")
	b.WriteString("- 'm': Limit results to the past month. Use for relatively recent information or ongoing events.\n")
	b.WriteString("- 'y': Limit results to the past year. Use for annual events or information that changes yearly.\n")
	b.WriteString("- 'none': No time limit. Use for historical or timeless information.\n\n")
	b.WriteString("You MUST respond using EXACTLY this format and nothing else:\n\n")
	b.WriteString("Search query: [Your 2-5 word query]\n")
	b.WriteString("Time range: [d/w/m/y/none]")
	return b.String()
}

// parseFormulation pulls the query and time-range lines out of the reply.
// Anything unrecognized leaves the time range at "none".
func parseFormulation(reply string) (string, string) {
	query, timeRange := "", "none"
	for _, line := range strings.Split(reply, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "Search query:"):
			query = strings.Trim(strings.TrimSpace(strings.TrimPrefix(line, "Search query:")), `"[]`)
		case strings.HasPrefix(line, "Time range:"):
			timeRange = strings.ToLower(strings.Trim(strings.TrimSpace(strings.TrimPrefix(line, "Time range:")), `'"[].`))
		}
	}
	return query, timeRange
}

// selectPrompt lists the results and demands exactly size result numbers in
// a fixed reply format.
func selectPrompt(userQuery string, results []search.Result, size int) string {
	return fmt.Sprintf("Given the following search results for the user's question: \"%s\"\n"+
		"Select the %d most relevant results to scrape and analyze. Explain your reasoning for each selection.\n\n"+
		"Search Results:\n%s\n\n"+
		"Instructions:\n"+
		"1. You MUST select exactly %d result numbers from the search results.\n"+
		"2. Choose the results that are most likely to contain comprehensive and relevant information to answer the user's question.\n"+
		"3. Provide a brief reason for each selection.\n\n"+
		"You MUST respond using EXACTLY this format and nothing else:\n\n"+
		"Selected Results: [%d numbers corresponding to the selected results]\n"+
		"Reasoning: [Your reasoning for the selections]",
		userQuery, size, formatResults(results), size, size)
}

// pickSelectedURLs maps single digits in the reply prefix back to result
// URLs. Indices are 1-based; duplicates, zero and out-of-range digits are
// dropped.
func pickSelectedURLs(reply string, results []search.Result) []string {
	prefix := clip(reply, 40)
	seen := make(map[int]struct{})
	var urls []string
	for _, ch := range prefix {
		if ch < '0' || ch > '9' {
			continue
		}
		idx := int(ch - '0')
		if _, dup := seen[idx]; dup {
			continue
		}
		seen[idx] = struct{}{}
		if idx < 1 || idx > len(results) {
			continue
		}
		urls = append(urls, results[idx-1].URL)
	}
	return urls
}

// formatResults renders the canonical results as a numbered block for the
// selection prompt. Snippets are clipped to keep the prompt bounded.
func formatResults(results []search.Result) string {
	blocks := make([]string, 0, len(results))
	for i, r := range results {
		var b strings.Builder
		fmt.Fprintf(&b, "%d. Title: %s\n", i+1, r.Title)
		fmt.Fprintf(&b, "   Snippet: %s...\n", clip(r.Content, 200))
		fmt.Fprintf(&b, "   URL: %s\n", r.URL)
		if r.PublishedDate != "" {
			fmt.Fprintf(&b, "   Published: %s\n", r.PublishedDate)
		}
		if r.Score != 0 {
			fmt.Fprintf(&b, "   Relevance Score: %s\n", strconv.FormatFloat(r.Score, 'g', -1, 64))
		}
		blocks = append(blocks, b.String())
	}
	return strings.Join(blocks, "\n")
}

// evaluatePrompt asks for a narrative judgement plus an answer/refine
// decision in a fixed reply format.
func evaluatePrompt(userQuery string, urls []string, content map[string]string) string {
	return fmt.Sprintf("Evaluate if the following scraped content contains sufficient information to answer the user's question comprehensively:\n\n"+
		"User's question: \"%s\"\n\n"+
		"Scraped Content:\n%s\n\n"+
		"Your task:\n"+
		"1. Determine if the scraped content provides enough relevant and detailed information to answer the user's question thoroughly.\n"+
		"2. If the information is sufficient, decide to 'answer'. If more information or clarification is needed, decide to 'refine' the search.\n\n"+
		"Respond using EXACTLY this format:\n"+
		"Evaluation: [Your evaluation of the scraped content]\n"+
		"Decision: [ONLY 'answer' if content is sufficient, or 'refine' if more information is needed]",
		clip(userQuery, 200), formatScrapedContent(urls, content))
}

// parseEvaluation pulls the narrative and the lowercased decision token out
// of the reply.
func parseEvaluation(reply string) (string, string) {
	evaluation, decision := "", ""
	for _, line := range strings.Split(reply, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "Evaluation:"):
			evaluation = strings.TrimSpace(strings.TrimPrefix(line, "Evaluation:"))
		case strings.HasPrefix(line, "Decision:"):
			decision = strings.ToLower(strings.Trim(strings.TrimSpace(strings.TrimPrefix(line, "Decision:")), `'"[].`))
		}
	}
	return evaluation, decision
}

// answerPrompt builds the final synthesis prompt, optionally carrying the
// backend-native summary ahead of the scraped material.
func answerPrompt(userQuery string, urls []string, content map[string]string, aiAnswer string) string {
	aiSummary := ""
	if aiAnswer != "" {
		aiSummary = fmt.Sprintf("AI-Generated Summary:\n%s\n\n", aiAnswer)
	}
	return fmt.Sprintf("You are an AI assistant. Provide a comprehensive and detailed answer to the following question "+
		"using the provided information. Do not include any references or mention any sources. "+
		"Answer directly and thoroughly.\n\n"+
		"Question: \"%s\"\n\n"+
		"%s"+
		"Scraped Content:\n%s\n\n"+
		"Important Instructions:\n"+
		"1. Do not use phrases like \"Based on the absence of selected results\" or similar.\n"+
		"2. If the scraped content does not contain enough information to answer the question, "+
		"say so explicitly and explain what information is missing.\n"+
		"3. Provide as much relevant detail as possible from the scraped content.\n"+
		"4. If an AI-generated summary is provided, use it to enhance your answer but don't rely on it exclusively.\n\n"+
		"Answer:",
		clip(userQuery, 200), aiSummary, formatScrapedContent(urls, content))
}

// synthesizePrompt is the post-budget fallback: acknowledge the shortfall
// and answer as well as possible anyway.
func synthesizePrompt(userQuery string) string {
	return fmt.Sprintf("After multiple search attempts, we couldn't find a fully satisfactory answer to the user's question: \"%s\"\n\n"+
		"Please provide the best possible answer you can, acknowledging any limitations or uncertainties.\n"+
		"If appropriate, suggest ways the user might refine their question or where they might find more information.\n\n"+
		"Respond in a clear, concise, and informative manner.", userQuery)
}

// formatScrapedContent renders url-keyed page text in selection order with
// runs of whitespace collapsed.
func formatScrapedContent(urls []string, content map[string]string) string {
	blocks := make([]string, 0, len(content))
	for _, u := range urls {
		text, ok := content[u]
		if !ok {
			continue
		}
		text = whitespacePattern.ReplaceAllString(text, " ")
		blocks = append(blocks, fmt.Sprintf("Content from %s:%s", u, text))
	}
	return strings.Join(blocks, "\n")
}

// clip bounds s to max runes.
func clip(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
