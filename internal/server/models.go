package server

import (
	"time"

	"github.com/mohammad-safakhou/delver/internal/research"
)

// HTTPError is a generic error envelope returned by the server.
type HTTPError struct {
	Error string `json:"error"`
}

// AuthLoginRequest represents the login payload.
type AuthLoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// TokenResponse carries a bearer token.
type TokenResponse struct {
	Token string `json:"token"`
}

// IDResponse is a generic id response wrapper.
type IDResponse struct {
	ID string `json:"id"`
}

// ResearchRequest asks for one research run.
type ResearchRequest struct {
	Question string `json:"question"`
}

// ResearchResponse is the outcome of a completed research run.
type ResearchResponse struct {
	ID       string `json:"id,omitempty"`
	Answer   string `json:"answer"`
	Provider string `json:"provider,omitempty"`
	Attempts int    `json:"attempts"`
}

// RunSummary is one row of the run history listing.
type RunSummary struct {
	ID         string     `json:"id"`
	Question   string     `json:"question"`
	Answer     string     `json:"answer,omitempty"`
	Provider   string     `json:"provider,omitempty"`
	Status     string     `json:"status"`
	Attempts   int        `json:"attempts"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Error      *string    `json:"error,omitempty"`
}

// RunDetailResponse is a run together with its attempt trace.
type RunDetailResponse struct {
	RunSummary
	Records []research.AttemptRecord `json:"records,omitempty"`
}

// CreateTopicRequest registers a recurring research question.
type CreateTopicRequest struct {
	Name     string `json:"name"`
	Question string `json:"question"`
	Schedule string `json:"schedule"`
}

// TopicResponse is a saved topic view.
type TopicResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	Question  string    `json:"question"`
	Schedule  string    `json:"schedule"`
	CreatedAt time.Time `json:"created_at"`
}
