package httpx

import (
	"encoding/json"
	"net/http"

	"collabcode/internal/room"
)

// RoomsAPI is the read-only query surface over the live registry.
type RoomsAPI struct {
	Reg *room.Registry
}

// Health reports coordinator liveness.
func (a *RoomsAPI) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{
		"status":  "ok",
		"message": "server is running",
	})
}

// Rooms lists every active room with its participant count and language.
func (a *RoomsAPI) Rooms(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, a.Reg.List())
}

type chatHistoryResponse struct {
	RoomID   string         `json:"roomId"`
	Messages []room.Message `json:"messages"`
	Count    int            `json:"count"`
}

// ChatHistory returns a room's chat buffer, oldest first. An unknown room
// yields an empty list, not an error.
func (a *RoomsAPI) ChatHistory(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("roomId")
	if roomID == "" {
		http.Error(w, "roomId required", http.StatusBadRequest)
		return
	}

	msgs := a.Reg.History(roomID)
	writeJSON(w, chatHistoryResponse{
		RoomID:   roomID,
		Messages: msgs,
		Count:    len(msgs),
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
