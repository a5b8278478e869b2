package handlers

import (
	"net/http"
)

// StatsResponse reports the load on this node.
type StatsResponse struct {
	Connections int   `json:"connections"`
	ActiveRooms int   `json:"activeRooms"`
	SharedKeys  int64 `json:"sharedKeys"`
}

// Stats returns connection counts for this node and the size of the shared store.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	var resp StatsResponse
	if h.svc.Hub != nil {
		resp.Connections, resp.ActiveRooms = h.svc.Hub.Stats()
	}

	if h.redis != nil {
		n, err := h.redis.Size(r.Context())
		if err != nil {
			h.Error(w, http.StatusInternalServerError, "failed to read shared store size")
			return
		}
		resp.SharedKeys = n
	}

	h.JSON(w, http.StatusOK, resp)
}
