package handler

import (
	"net/http"
	"time"
	_ "time/tzdata"
)

// HeaderTimezone selects the IANA zone Hello reports the date in.
const HeaderTimezone = "x-timezone"

// Hello is the diagnostic response of the hello endpoint.
type Hello struct {
	UserAgent string    `json:"user_agent"`
	Date      time.Time `json:"date"`
	Timezone  string    `json:"timezone"`
	Format    string    `json:"format"`
	Timestamp int64     `json:"timestamp"`
}

// HelloHandler answers unauthenticated liveness probes from clients.
type HelloHandler struct {
	now func() time.Time
}

// NewHelloHandler creates a new HelloHandler. now may be nil.
func NewHelloHandler(now func() time.Time) *HelloHandler {
	if now == nil {
		now = time.Now
	}
	return &HelloHandler{now: now}
}

// Hello echoes the user agent and the server time in the requested zone.
// Unknown zones fall back to UTC.
// GET /api/v1/hello
func (h *HelloHandler) Hello(w http.ResponseWriter, r *http.Request) {
	loc := time.UTC
	if tz := r.Header.Get(HeaderTimezone); tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		}
	}
	now := h.now().In(loc)
	writeJSON(w, http.StatusOK, Hello{
		UserAgent: r.UserAgent(),
		Date:      now,
		Timezone:  loc.String(),
		Format:    now.Format(time.DateOnly),
		Timestamp: now.UnixMilli(),
	})
}
