// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"net/http"
)

// Error detail literals surfaced to the browser front-end.
const (
	DetailProfileConflict = "配置名称已存在"
	DetailProfileMissing  = "配置不存在"
	DetailSessionMissing  = "Session 未找到"
	DetailLogMissing      = "日志文件不存在"
)

// ErrorBody is the error response shape: {"detail": "..."}.
type ErrorBody struct {
	Detail string `json:"detail"`
}

// WriteJSON writes a JSON response.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// WriteDetail writes an error response with a detail message.
func WriteDetail(w http.ResponseWriter, status int, detail string) {
	WriteJSON(w, status, ErrorBody{Detail: detail})
}
