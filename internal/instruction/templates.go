package instruction

import (
	"fmt"
	"strconv"

	"github.com/tjfontaine/twin-gateway/internal/domain"
)

// Fixed reply texts.
const (
	ResetConfirmation   = "已为您重置视图，恢复到默认状态。"
	UnknownInstruction  = "很抱歉，我无法理解您的指令。"
	GenericConfirmation = "操作已执行。"
)

// Confirmation returns the deterministic reply for a locally executed command.
func Confirmation(cmd *domain.ActionCommand) string {
	if cmd == nil {
		return UnknownInstruction
	}

	switch cmd.Type {
	case domain.ActionReset:
		return ResetConfirmation
	case domain.ActionFocus:
		return fmt.Sprintf("已聚焦到%s区域，您可以近距离查看该区域的细节。", cmd.Target)
	case domain.ActionRotate:
		p := cmd.Params()
		dir := "左"
		if p["direction"] == domain.DirectionRight {
			dir = "右"
		}
		return fmt.Sprintf("已将视图向%s旋转%v度。", dir, p["angle"])
	case domain.ActionZoom:
		scale, _ := cmd.Params()["scale"].(float64)
		if scale > 1 {
			return fmt.Sprintf("已将视图放大%s倍。", FormatScale(scale))
		}
		return fmt.Sprintf("已将视图缩小至原来的%s倍。", FormatScale(scale))
	default:
		return GenericConfirmation
	}
}

// FormatScale renders a zoom factor with at least one decimal place.
func FormatScale(scale float64) string {
	if scale == float64(int64(scale)) {
		return strconv.FormatFloat(scale, 'f', 1, 64)
	}
	return strconv.FormatFloat(scale, 'f', -1, 64)
}
