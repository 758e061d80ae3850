package admin

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/maxpert/gridtopic/bridge"
	"github.com/maxpert/gridtopic/grid"
	"github.com/maxpert/gridtopic/topic"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"
)

// MemberManager is the cluster view the admin endpoints manage
type MemberManager interface {
	Members() []grid.Member
	Join(m grid.Member) error
	Leave(id uint64)
}

// BridgeStatus reports bridge workers
type BridgeStatus interface {
	Status() []bridge.WorkerStatus
}

// AdminHandlers serves topic, bridge and cluster endpoints
type AdminHandlers struct {
	session    *topic.Session
	members    MemberManager
	bridges    BridgeStatus
	publishers *xsync.MapOf[string, *topic.Publisher[any]]
}

// NewAdminHandlers creates handlers over session. members and bridges may be nil.
func NewAdminHandlers(session *topic.Session, members MemberManager, bridges BridgeStatus) *AdminHandlers {
	return &AdminHandlers{
		session:    session,
		members:    members,
		bridges:    bridges,
		publishers: xsync.NewMapOf[string, *topic.Publisher[any]](),
	}
}

// publisher returns the shared HTTP publisher of c, replacing one that has stopped
func (h *AdminHandlers) publisher(c *topic.Caches) (*topic.Publisher[any], error) {
	var err error
	p, _ := h.publishers.Compute(c.Name(), func(old *topic.Publisher[any], loaded bool) (*topic.Publisher[any], bool) {
		if loaded && old.IsActive() && old.Topic() == c {
			return old, false
		}
		if loaded {
			old.Close()
		}
		p, perr := topic.NewPublisher[any](c, topic.WithPublisherID("http"))
		if perr != nil {
			err = perr
			return nil, true
		}
		return p, false
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Close flushes and closes the HTTP publishers
func (h *AdminHandlers) Close() error {
	var err error
	h.publishers.Range(func(name string, p *topic.Publisher[any]) bool {
		_, cerr := p.Close().Get()
		err = multierr.Append(err, cerr)
		h.publishers.Delete(name)
		return true
	})
	return err
}

// writeJSONResponse writes a successful JSON response
func writeJSONResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": data}); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error JSON response
func writeErrorResponse(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"error": message}); err != nil {
		log.Error().Err(err).Msg("Failed to encode error response")
	}
}

// parseLimit parses limit parameter with defaults
func parseLimit(r *http.Request) (int, error) {
	limitStr := r.URL.Query().Get("limit")
	if limitStr == "" {
		return 256, nil
	}

	limit, err := strconv.Atoi(limitStr)
	if err != nil {
		return 0, fmt.Errorf("invalid limit parameter: %w", err)
	}
	if limit < 1 {
		return 0, fmt.Errorf("limit must be positive")
	}
	if limit > 1024 {
		return 0, fmt.Errorf("limit cannot exceed 1024")
	}
	return limit, nil
}

// parseChannels parses a comma separated channel list; empty means all
func parseChannels(r *http.Request) ([]int, error) {
	raw := r.URL.Query().Get("channels")
	if raw == "" {
		return nil, nil
	}
	var out []int
	for _, part := range strings.Split(raw, ",") {
		ch, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("invalid channel %q", part)
		}
		out = append(out, ch)
	}
	return out, nil
}

// parseMemberID parses a member ID path parameter
func parseMemberID(raw string) (uint64, error) {
	if raw == "" {
		return 0, fmt.Errorf("member ID is required")
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid member ID: %w", err)
	}
	return id, nil
}
