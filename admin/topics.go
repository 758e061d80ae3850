package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/maxpert/gridtopic/topic"
	"github.com/rs/zerolog/log"
)

// maxPollWait bounds long polls
const maxPollWait = 30 * time.Second

type topicResponse struct {
	Name            string    `json:"name"`
	ChannelCount    int       `json:"channel_count"`
	PageCapacity    int       `json:"page_capacity"`
	MaxElementBytes int       `json:"max_element_bytes"`
	CreatedAt       time.Time `json:"created_at"`
	Tails           []int64   `json:"tails,omitempty"`
}

type publishRequest struct {
	Values   []any  `json:"values"`
	Producer string `json:"producer,omitempty"`
}

type publishResult struct {
	Channel  int    `json:"channel"`
	Position string `json:"position,omitempty"`
	Error    string `json:"error,omitempty"`
}

type polledElement struct {
	Channel   int       `json:"channel"`
	Position  string    `json:"position"`
	Timestamp time.Time `json:"timestamp"`
	Value     any       `json:"value"`
}

func describeTopic(ctx context.Context, c *topic.Caches) (topicResponse, error) {
	info := c.Info()
	tails, err := c.ChannelTails(ctx)
	if err != nil {
		return topicResponse{}, err
	}
	return topicResponse{
		Name:            info.Name,
		ChannelCount:    info.ChannelCount,
		PageCapacity:    info.PageCapacity,
		MaxElementBytes: info.MaxElementBytes,
		CreatedAt:       info.CreatedAt.PhysicalTime(),
		Tails:           tails,
	}, nil
}

// handleListTopics handles GET /admin/topics
func (h *AdminHandlers) handleListTopics(w http.ResponseWriter, r *http.Request) {
	names := h.session.Topics()
	if names == nil {
		names = []string{}
	}
	writeJSONResponse(w, names)
}

// handleOpenTopic handles PUT /admin/topics/{topic}
func (h *AdminHandlers) handleOpenTopic(w http.ResponseWriter, r *http.Request) {
	c, err := h.session.Topic(r.Context(), chi.URLParam(r, "topic"))
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	resp, err := describeTopic(r.Context(), c)
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSONResponse(w, resp)
}

// handleGetTopic handles GET /admin/topics/{topic}
func (h *AdminHandlers) handleGetTopic(w http.ResponseWriter, r *http.Request) {
	c, ok := h.session.Lookup(chi.URLParam(r, "topic"))
	if !ok {
		writeErrorResponse(w, http.StatusNotFound, "topic not open")
		return
	}
	resp, err := describeTopic(r.Context(), c)
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSONResponse(w, resp)
}

// handleDestroyTopic handles DELETE /admin/topics/{topic}
func (h *AdminHandlers) handleDestroyTopic(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "topic")
	if err := h.session.Destroy(r.Context(), name); err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.publishers.Delete(name)

	log.Info().Str("topic", name).Msg("Topic destroyed over admin API")
	writeJSONResponse(w, map[string]string{"destroyed": name})
}

// handlePublish handles POST /admin/topics/{topic}/publish
func (h *AdminHandlers) handlePublish(w http.ResponseWriter, r *http.Request) {
	var req publishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.Values) == 0 {
		writeErrorResponse(w, http.StatusBadRequest, "values are required")
		return
	}

	c, err := h.session.Topic(r.Context(), chi.URLParam(r, "topic"))
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := h.publisher(c)
	if err != nil {
		writeErrorResponse(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	ctx := r.Context()
	if req.Producer != "" {
		ctx = topic.WithProducer(ctx, req.Producer)
	}

	ops := make([]*topic.PublishFuture, len(req.Values))
	for i, v := range req.Values {
		ops[i] = p.Publish(ctx, v)
	}

	results := make([]publishResult, len(ops))
	failed := 0
	for i, op := range ops {
		status, err := op.Wait(ctx)
		if err != nil {
			failed++
			results[i] = publishResult{Channel: -1, Error: err.Error()}
			continue
		}
		results[i] = publishResult{Channel: status.Channel, Position: status.Position.String()}
	}

	if failed == len(ops) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		json.NewEncoder(w).Encode(map[string]interface{}{"data": results, "error": "no value was published"})
		return
	}
	writeJSONResponse(w, results)
}

// handlePoll handles GET /admin/topics/{topic}/poll?group=&limit=&channels=&wait_ms=
func (h *AdminHandlers) handlePoll(w http.ResponseWriter, r *http.Request) {
	group := r.URL.Query().Get("group")
	if group == "" {
		writeErrorResponse(w, http.StatusBadRequest, "group is required")
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	channels, err := parseChannels(r)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	var wait time.Duration
	if raw := r.URL.Query().Get("wait_ms"); raw != "" {
		ms, err := strconv.Atoi(raw)
		if err != nil || ms < 0 {
			writeErrorResponse(w, http.StatusBadRequest, "invalid wait_ms parameter")
			return
		}
		wait = min(time.Duration(ms)*time.Millisecond, maxPollWait)
	}

	c, ok := h.session.Lookup(chi.URLParam(r, "topic"))
	if !ok {
		writeErrorResponse(w, http.StatusNotFound, "topic not open")
		return
	}

	opts := []topic.SubscriberOption{topic.InGroup(group)}
	if len(channels) > 0 {
		opts = append(opts, topic.WithChannels(channels...))
	}
	sub, err := topic.NewSubscriber[any](r.Context(), c, opts...)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, topic.ErrInvalidChannel) {
			status = http.StatusBadRequest
		}
		writeErrorResponse(w, status, err.Error())
		return
	}
	defer sub.Close(context.Background())

	items, err := sub.Poll(r.Context(), limit)
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(items) == 0 && wait > 0 {
		ctx, cancel := context.WithTimeout(r.Context(), wait)
		item, err := sub.Receive(ctx)
		cancel()
		if err == nil {
			items = append(items, item)
		} else if !errors.Is(err, context.DeadlineExceeded) {
			writeErrorResponse(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	out := make([]polledElement, len(items))
	for i, item := range items {
		out[i] = polledElement{
			Channel:   item.Channel,
			Position:  item.Position.String(),
			Timestamp: item.Time(),
			Value:     item.Value,
		}
	}
	writeJSONResponse(w, out)
}

// handleBridges handles GET /admin/bridges
func (h *AdminHandlers) handleBridges(w http.ResponseWriter, r *http.Request) {
	if h.bridges == nil {
		writeJSONResponse(w, []any{})
		return
	}
	writeJSONResponse(w, h.bridges.Status())
}
