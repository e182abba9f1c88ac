// Package instruction resolves free-text user instructions into action
// commands without calling the remote chat service.
package instruction

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/tjfontaine/twin-gateway/internal/domain"
)

// Matcher inspects a normalized (trimmed, lowercased) instruction and returns
// a command, or nil when it does not apply.
type Matcher func(text string) *domain.ActionCommand

var (
	focusPattern       = regexp.MustCompile(`聚焦(?:到)?([a-z0-9_]+)`)
	rotatePattern      = regexp.MustCompile(`(?:向)?(左|右)(?:旋转)?(?:(\d+)度?)?`)
	rotateAnglePattern = regexp.MustCompile(`旋转\s*(\d+)\s*度?|(\d+)\s*度`)
	zoomPattern        = regexp.MustCompile(`(?:放大|缩小)\s*(\d+(?:\.\d+)?)\s*倍?`)
)

// matchers is evaluated in order; the first command returned wins. The
// keyword checks in rotate and zoom are coarser than their anchored
// patterns, so their position in this list matters.
var matchers = []Matcher{
	matchReset,
	matchFocus,
	matchRotate,
	matchZoom,
}

// Parse resolves text into a command. It returns nil when no rule applies.
func Parse(text string) *domain.ActionCommand {
	normalized := strings.ToLower(strings.TrimSpace(text))
	if normalized == "" {
		return nil
	}
	for _, m := range matchers {
		if cmd := m(normalized); cmd != nil {
			return cmd
		}
	}
	return nil
}

func matchReset(text string) *domain.ActionCommand {
	if strings.Contains(text, "重置") || strings.Contains(text, "reset") {
		return domain.NewReset()
	}
	return nil
}

func matchFocus(text string) *domain.ActionCommand {
	m := focusPattern.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	return domain.NewFocus(m[1])
}

func matchRotate(text string) *domain.ActionCommand {
	m := rotatePattern.FindStringSubmatch(text)
	if m == nil && !strings.Contains(text, "旋转") {
		return nil
	}

	direction := domain.DirectionLeft
	angle := domain.DefaultRotateAngle
	if m != nil {
		if m[1] == "右" {
			direction = domain.DirectionRight
		}
		if n, ok := parseAngle(m[2]); ok {
			angle = n
		}
	} else if am := rotateAnglePattern.FindStringSubmatch(text); am != nil {
		raw := am[1]
		if raw == "" {
			raw = am[2]
		}
		if n, ok := parseAngle(raw); ok {
			angle = n
		}
	}
	return domain.NewRotate(direction, angle)
}

func parseAngle(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

func matchZoom(text string) *domain.ActionCommand {
	zoomIn := strings.Contains(text, "放大")
	zoomOut := strings.Contains(text, "缩小")
	if !zoomIn && !zoomOut {
		return nil
	}

	scale := domain.DefaultZoomScale
	if m := zoomPattern.FindStringSubmatch(text); m != nil {
		if f, err := strconv.ParseFloat(m[1], 64); err == nil && f > 0 {
			scale = f
		}
	}
	if zoomOut && scale > 1 {
		scale = 1 / scale
	}
	return domain.NewZoom(scale)
}
