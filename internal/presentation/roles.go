// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package presentation maps data-model values to display attributes.
//
// The lookup tables live here, away from the data model, so the model stays
// free of rendering concerns.
package presentation

import "github.com/envoyhq/envoy-core/internal/model"

// =============================================================================
// DISPLAY STYLE
// =============================================================================

// Style is the display attributes for one transcript participant.
type Style struct {
	Icon  string
	Color string // hex color
}

// roleStyles maps each role to its display style.
var roleStyles = map[model.Role]Style{
	model.RoleUser:      {Icon: "●", Color: "#7aa2f7"},
	model.RoleAssistant: {Icon: "◆", Color: "#9ece6a"},
}

// defaultStyle is used for unknown roles and unregistered agents.
var defaultStyle = Style{Icon: "○", Color: "#a9b1d6"}

// agentStyles maps known agent personas to distinct styles.
var agentStyles = map[string]Style{
	"researcher": {Icon: "◈", Color: "#bb9af7"},
	"writer":     {Icon: "✎", Color: "#e0af68"},
	"planner":    {Icon: "▤", Color: "#7dcfff"},
}

// =============================================================================
// LOOKUPS
// =============================================================================

// ForRole returns the display style for a role.
func ForRole(r model.Role) Style {
	if s, ok := roleStyles[r]; ok {
		return s
	}
	return defaultStyle
}

// ForAgent returns the display style for a named agent persona.
func ForAgent(name string) Style {
	if s, ok := agentStyles[name]; ok {
		return s
	}
	return defaultStyle
}

// ForMessage picks the style for one message within a thread: assistant
// turns in an agent-bound thread use the agent's style.
func ForMessage(t *model.Thread, m *model.Message) Style {
	if m.Role == model.RoleAssistant && t.AgentName != "" {
		return ForAgent(t.AgentName)
	}
	return ForRole(m.Role)
}
