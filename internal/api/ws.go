// Prefero - Content Recommendation Training and Serving Engine
// Copyright 2026 Prefero Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/preferolabs/prefero

package api

import (
	"net/http"

	gorilla "github.com/gorilla/websocket"

	"github.com/preferolabs/prefero/internal/logging"
	"github.com/preferolabs/prefero/internal/websocket"
)

// handleTrainingSocket upgrades GET /api/v1/ws/training and streams
// job progress until the client disconnects.
func (router *Router) handleTrainingSocket(w http.ResponseWriter, r *http.Request) {
	if router.deps.Hub == nil {
		NewResponseWriter(w, r).ServiceUnavailable("training progress stream is disabled")
		return
	}

	upgrader := gorilla.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     router.checkWSOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		logging.Ctx(r.Context()).Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}

	websocket.NewClient(router.deps.Hub, conn).Start()
}

func (router *Router) checkWSOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	origins := router.deps.Cfg.API.CORSOrigins
	if len(origins) == 0 {
		return true
	}
	for _, allowed := range origins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}
