// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"net/http"

	"github.com/westarle/releasetracker/internal/model"
)

// masked returns a copy safe for responses: the cleartext token never
// leaves the server.
func masked(c *model.Credential) *model.Credential {
	out := *c
	out.Token = model.MaskToken(c.Token)
	return &out
}

func (s *Server) handleListCredentials(w http.ResponseWriter, r *http.Request) {
	credentials, err := s.store.ListCredentials()
	if err != nil {
		writeStoreError(w, err)
		return
	}
	skip, limit := pagination(r)
	page := paginate(credentials, skip, limit)
	items := make([]*model.Credential, 0, len(page))
	for _, c := range page {
		items = append(items, masked(c))
	}
	writeJSON(w, http.StatusOK, envelope{Items: items, Total: len(credentials), Skip: skip, Limit: limit})
}

func (s *Server) handleCreateCredential(w http.ResponseWriter, r *http.Request) {
	var c model.Credential
	if err := decodeJSON(r, &c); err != nil || c.Name == "" || c.Token == "" {
		writeError(w, http.StatusBadRequest, "name and token required")
		return
	}
	id, err := s.store.CreateCredential(&c)
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not create credential")
		return
	}
	created, err := s.store.GetCredential(id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, masked(created))
}

func (s *Server) handleGetCredential(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid credential id")
		return
	}
	c, err := s.store.GetCredential(id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, masked(c))
}

// handleUpdateCredential updates everything but the name; an omitted token
// keeps the stored one.
func (s *Server) handleUpdateCredential(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid credential id")
		return
	}
	existing, err := s.store.GetCredential(id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	var c model.Credential
	if err := decodeJSON(r, &c); err != nil {
		writeError(w, http.StatusBadRequest, "malformed credential")
		return
	}
	c.Name = existing.Name
	if err := s.store.UpdateCredential(id, &c); err != nil {
		writeStoreError(w, err)
		return
	}
	updated, err := s.store.GetCredential(id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, masked(updated))
}

func (s *Server) handleDeleteCredential(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid credential id")
		return
	}
	if err := s.store.DeleteCredential(id); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleListNotifiers(w http.ResponseWriter, r *http.Request) {
	skip, limit := pagination(r)
	notifiers, err := s.store.ListNotifiers(skip, limit)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	total, err := s.store.CountNotifiers()
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Items: notifiers, Total: total, Skip: skip, Limit: limit})
}

func (s *Server) handleCreateNotifier(w http.ResponseWriter, r *http.Request) {
	var n model.Notifier
	if err := decodeJSON(r, &n); err != nil || n.Name == "" || n.URL == "" {
		writeError(w, http.StatusBadRequest, "name and url required")
		return
	}
	created, err := s.store.CreateNotifier(&n)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetNotifier(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid notifier id")
		return
	}
	n, err := s.store.GetNotifier(id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (s *Server) handleUpdateNotifier(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid notifier id")
		return
	}
	var n model.Notifier
	if err := decodeJSON(r, &n); err != nil {
		writeError(w, http.StatusBadRequest, "malformed notifier")
		return
	}
	updated, err := s.store.UpdateNotifier(id, &n)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteNotifier(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid notifier id")
		return
	}
	if err := s.store.DeleteNotifier(id); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleTestNotifier(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid notifier id")
		return
	}
	n, err := s.store.GetNotifier(id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if err := s.notify.SendTest(r.Context(), n); err != nil {
		writeError(w, http.StatusBadGateway, "test delivery failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"detail": "test notification sent"})
}
