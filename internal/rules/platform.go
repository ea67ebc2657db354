package rules

import (
	"fmt"
	"strings"
)

// Platform is the closed set of supported marketplaces.
type Platform string

const (
	PlatformWechatVideo Platform = "wechat_video"
	PlatformXiaohongshu Platform = "xiaohongshu"
	PlatformDouyin      Platform = "douyin"
)

// Platforms lists every supported platform in display order.
func Platforms() []Platform {
	return []Platform{PlatformWechatVideo, PlatformXiaohongshu, PlatformDouyin}
}

func ParsePlatform(raw string) (Platform, error) {
	switch p := Platform(strings.ToLower(strings.TrimSpace(raw))); p {
	case PlatformWechatVideo, PlatformXiaohongshu, PlatformDouyin:
		return p, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedPlatform, raw)
}

func (p Platform) String() string { return string(p) }

// RequiresOrders reports whether the platform joins a separate order export.
func (p Platform) RequiresOrders() bool {
	return p == PlatformXiaohongshu
}

// RuleVersion identifies the formula set stamped on produced rows.
func (p Platform) RuleVersion() string {
	switch p {
	case PlatformWechatVideo:
		return "wxv-2025-11-06"
	case PlatformXiaohongshu:
		return "xhs-2025-11-20"
	case PlatformDouyin:
		return "dy-2025-11-01"
	}
	return ""
}
