package search

import (
	"fmt"
	"strconv"
)

// fieldMap names the backend keys a canonical Result is built from. One table
// per provider variant keeps the mapping closed and auditable.
type fieldMap struct {
	title   string
	url     string
	content string
	score   string  // "" when the backend defines no relevance score
	date    string  // "" when the backend reports no publish date
	fixed   float64 // score used when the backend defines none
}

var fieldMaps = map[Provider]fieldMap{
	TavilyProvider:     {title: "title", url: "url", content: "content", score: "score", date: "published_date"},
	BraveProvider:      {title: "title", url: "url", content: "description", score: "relevance_score", date: "published_date"},
	BingProvider:       {title: "title", url: "url", content: "content", fixed: 1.0},
	ExaProvider:        {title: "title", url: "url", content: "text", score: "relevance_score", date: "published_date"},
	DuckDuckGoProvider: {title: "title", url: "link", content: "snippet", fixed: 1.0},
	ArxivProvider:      {title: "title", url: "link", content: "summary", score: "score", date: "published_date"},
}

// Normalize converts a backend's native payload into the canonical Response.
// It is total: malformed payloads and backend-reported errors degrade to a
// failure Response, never a panic or error return. Applying it to an already
// canonical payload yields the same Response.
func Normalize(raw RawResult, p Provider, contentLimit int) Response {
	if raw == nil {
		return Response{
			Success:  false,
			Error:    fmt.Sprintf("invalid results format from %s", p),
			Provider: p,
			Results:  []Result{},
		}
	}
	if errMsg, ok := raw["error"]; ok && errMsg != nil {
		return Response{
			Success:  false,
			Error:    str(errMsg),
			Provider: p,
			Results:  []Result{},
		}
	}

	fm, ok := fieldMaps[p]
	if !ok {
		return Response{
			Success:  false,
			Error:    fmt.Sprintf("invalid results format from %s", p),
			Provider: p,
			Results:  []Result{},
		}
	}

	resp := Response{Success: true, Provider: p, Results: []Result{}}

	// Backend-native AI answer passthrough (Tavily sets this when asked to).
	if answer, ok := raw["answer"]; ok {
		resp.Answer = str(answer)
	}

	items := rawItems(raw, p)
	for _, item := range items {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		r := Result{
			Title:   str(m[fm.title]),
			URL:     str(m[fm.url]),
			Content: truncate(str(m[fm.content]), contentLimit),
			Score:   fm.fixed,
		}
		if fm.score != "" {
			r.Score = toFloat(m[fm.score], 0.0)
		}
		if fm.date != "" {
			r.PublishedDate = str(m[fm.date])
		}
		resp.Results = append(resp.Results, r)
	}
	return resp
}

// rawItems locates the result slice inside the payload. Tavily news payloads
// arrive under "articles" instead of "results".
func rawItems(raw RawResult, p Provider) []interface{} {
	if p == TavilyProvider {
		if articles, ok := raw["articles"].([]interface{}); ok {
			return articles
		}
	}
	items, _ := raw["results"].([]interface{})
	return items
}

func truncate(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

func str(v interface{}) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return fmt.Sprintf("%v", s)
	}
}

func toFloat(v interface{}, def float64) float64 {
	switch f := v.(type) {
	case float64:
		return f
	case float32:
		return float64(f)
	case int:
		return float64(f)
	case int64:
		return float64(f)
	case string:
		if parsed, err := strconv.ParseFloat(f, 64); err == nil {
			return parsed
		}
	}
	return def
}
