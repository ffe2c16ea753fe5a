// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/shellmux/shellmux/internal/store"
)

// ProfileHandler handles profile CRUD requests.
type ProfileHandler struct {
	store *store.SQLiteStore
}

// NewProfileHandler creates a new profile handler.
func NewProfileHandler(s *store.SQLiteStore) *ProfileHandler {
	return &ProfileHandler{store: s}
}

type profileCreateRequest struct {
	Name    string            `json:"name"`
	Command string            `json:"command"`
	Args    []string          `json:"args"`
	Cwd     string            `json:"cwd"`
	Env     map[string]string `json:"env"`
}

type profileUpdateRequest struct {
	Name    *string            `json:"name"`
	Command *string            `json:"command"`
	Args    *[]string          `json:"args"`
	Cwd     *string            `json:"cwd"`
	Env     *map[string]string `json:"env"`
}

// List returns all profiles ordered by id.
func (h *ProfileHandler) List(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.store.ListProfiles()
	if err != nil {
		WriteDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, profiles)
}

// Create adds a new profile.
func (h *ProfileHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req profileCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteDetail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" || req.Command == "" {
		WriteDetail(w, http.StatusBadRequest, "name and command are required")
		return
	}

	profile := &store.Profile{
		Name:    req.Name,
		Command: req.Command,
		Args:    req.Args,
		Cwd:     req.Cwd,
		Env:     req.Env,
	}
	if err := h.store.CreateProfile(profile); err != nil {
		if errors.Is(err, store.ErrNameConflict) {
			WriteDetail(w, http.StatusBadRequest, DetailProfileConflict)
			return
		}
		WriteDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	WriteJSON(w, http.StatusCreated, profile)
}

// Update modifies an existing profile. Absent fields are left unchanged.
func (h *ProfileHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := profileID(r)
	if err != nil {
		WriteDetail(w, http.StatusNotFound, DetailProfileMissing)
		return
	}

	var req profileUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteDetail(w, http.StatusBadRequest, "invalid request body")
		return
	}

	profile, err := h.store.UpdateProfile(id, req.Name, req.Command, req.Args, req.Cwd, req.Env)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			WriteDetail(w, http.StatusNotFound, DetailProfileMissing)
		case errors.Is(err, store.ErrNameConflict):
			WriteDetail(w, http.StatusBadRequest, DetailProfileConflict)
		default:
			WriteDetail(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	WriteJSON(w, http.StatusOK, profile)
}

// Delete removes a profile.
func (h *ProfileHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := profileID(r)
	if err != nil {
		WriteDetail(w, http.StatusNotFound, DetailProfileMissing)
		return
	}

	if err := h.store.DeleteProfile(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			WriteDetail(w, http.StatusNotFound, DetailProfileMissing)
			return
		}
		WriteDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func profileID(r *http.Request) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
}
