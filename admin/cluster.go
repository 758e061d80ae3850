package admin

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/maxpert/gridtopic/grid"
	"github.com/rs/zerolog/log"
)

type memberResponse struct {
	ID      uint64 `json:"id"`
	Address string `json:"address"`
}

// handleClusterMembers handles GET /admin/cluster/members
func (h *AdminHandlers) handleClusterMembers(w http.ResponseWriter, r *http.Request) {
	if h.members == nil {
		writeErrorResponse(w, http.StatusServiceUnavailable, "cluster not initialized")
		return
	}

	members := h.members.Members()
	resp := make([]memberResponse, 0, len(members))
	for _, m := range members {
		resp = append(resp, memberResponse{ID: m.ID, Address: m.Address})
	}
	writeJSONResponse(w, resp)
}

// handleClusterJoin handles POST /admin/cluster/members
func (h *AdminHandlers) handleClusterJoin(w http.ResponseWriter, r *http.Request) {
	if h.members == nil {
		writeErrorResponse(w, http.StatusServiceUnavailable, "cluster not initialized")
		return
	}

	var req memberResponse
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.ID == 0 || req.Address == "" {
		writeErrorResponse(w, http.StatusBadRequest, "id and address are required")
		return
	}

	if err := h.members.Join(grid.Member{ID: req.ID, Address: req.Address}); err != nil {
		writeErrorResponse(w, http.StatusBadGateway, err.Error())
		return
	}

	log.Info().Uint64("member_id", req.ID).Str("address", req.Address).Msg("Member joined over admin API")
	writeJSONResponse(w, req)
}

// handleClusterLeave handles DELETE /admin/cluster/members/{memberID}
func (h *AdminHandlers) handleClusterLeave(w http.ResponseWriter, r *http.Request) {
	if h.members == nil {
		writeErrorResponse(w, http.StatusServiceUnavailable, "cluster not initialized")
		return
	}

	id, err := parseMemberID(chi.URLParam(r, "memberID"))
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	h.members.Leave(id)
	log.Info().Uint64("member_id", id).Msg("Member removed over admin API")
	writeJSONResponse(w, map[string]uint64{"removed": id})
}
