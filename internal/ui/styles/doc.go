// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package styles holds the color palette and lipgloss styles shared by the
terminal surfaces.

All colors are lipgloss.AdaptiveColor values so the same palette works on
light and dark terminals:

  - Purple  - assistant accent
  - Cyan    - prompts and the user accent
  - Emerald - success and tool activity
  - Amber   - warnings, a missing model
  - Rose    - errors

Status is never shown by color alone. RenderSuccess, RenderError,
RenderWarning, RenderInfo and RenderTool prefix an ASCII marker from
StatusIndicators.

Theme groups the styles of the full-screen chat; NewTheme detects the
terminal background once.
*/
package styles
