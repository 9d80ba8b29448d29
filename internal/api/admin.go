package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"carechat/internal/content"
	"carechat/internal/models"
	"carechat/internal/storage"
)

type clientLister interface {
	Clients() []string
}

type attachmentLister interface {
	ListAttachments(clientID string) ([]storage.DBAttachment, error)
}

// AdminHandler exposes relay state on the local admin listener.
type AdminHandler struct {
	hub         clientLister
	attachments attachmentLister
	baseURL     string
}

func NewAdminHandler(hub clientLister, attachments attachmentLister, baseURL string) *AdminHandler {
	return &AdminHandler{hub: hub, attachments: attachments, baseURL: strings.TrimSuffix(baseURL, "/")}
}

type ClientsResponse struct {
	Clients []string `json:"clients"`
	Count   int      `json:"count"`
}

func (h *AdminHandler) ClientsHandler(w http.ResponseWriter, r *http.Request) {
	clients := h.hub.Clients()
	if clients == nil {
		clients = []string{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(ClientsResponse{Clients: clients, Count: len(clients)}); err != nil {
		log.Printf("failed to encode clients response: %v", err)
	}
}

// AttachmentsHandler lists what a client has uploaded.
func (h *AdminHandler) AttachmentsHandler(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("clientId")
	if err := content.ValidateClientID(clientID); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	list, err := h.attachments.ListAttachments(clientID)
	if err != nil {
		log.Printf("failed to list attachments: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	out := make([]models.AttachmentInfo, 0, len(list))
	for _, meta := range list {
		out = append(out, attachmentInfo(h.baseURL, meta))
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		log.Printf("failed to encode attachments response: %v", err)
	}
}
