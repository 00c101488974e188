// Prefero - Content Recommendation Training and Serving Engine
// Copyright 2026 Prefero Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/preferolabs/prefero

// Package events carries interaction traffic over Watermill. The API
// publishes interaction.recorded messages; the router persists them
// and advances the retraining counter with at-least-once delivery.
package events

import (
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"

	"github.com/preferolabs/prefero/internal/recommend"
)

// TopicInteractionRecorded carries newly recorded interactions.
const TopicInteractionRecorded = "interaction.recorded"

// InteractionRecorded is the wire payload for an interaction event.
type InteractionRecorded struct {
	UserID    string    `json:"user_id"`
	ContentID string    `json:"content_id"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// Interaction converts the payload to the domain type.
func (e InteractionRecorded) Interaction() recommend.Interaction {
	return recommend.Interaction{
		UserID:    e.UserID,
		ContentID: e.ContentID,
		Value:     e.Value,
		Timestamp: e.Timestamp,
	}
}

func newMessage(payload any) (*message.Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal event payload: %w", err)
	}
	return message.NewMessage(watermill.NewUUID(), data), nil
}

func decodeInteraction(msg *message.Message) (InteractionRecorded, error) {
	var e InteractionRecorded
	if err := json.Unmarshal(msg.Payload, &e); err != nil {
		return e, fmt.Errorf("decode interaction event: %w", err)
	}
	return e, nil
}
