package core

import (
	"fmt"
	"time"
)

// InteractionType 是用户-菜品交互的闭合枚举。
type InteractionType string

const (
	InteractionView     InteractionType = "view"
	InteractionClick    InteractionType = "click"
	InteractionPurchase InteractionType = "purchase"
	InteractionFavorite InteractionType = "favorite"
	InteractionShare    InteractionType = "share"
	InteractionRate     InteractionType = "rate"
)

var validInteractionTypes = map[InteractionType]bool{
	InteractionView:     true,
	InteractionClick:    true,
	InteractionPurchase: true,
	InteractionFavorite: true,
	InteractionShare:    true,
	InteractionRate:     true,
}

var validSources = map[string]bool{"web": true, "mobile": true, "api": true}

// Weight 返回交互类型的隐式反馈权重，用于 CF 与热度聚合。
// rate 型交互以评分本身为权重，不走此表。
func (t InteractionType) Weight() float64 {
	switch t {
	case InteractionView:
		return 1
	case InteractionClick:
		return 2
	case InteractionFavorite, InteractionShare:
		return 3
	case InteractionPurchase:
		return 5
	default:
		return 1
	}
}

// Interaction 是一条用户-菜品交互事件。一经记录不可变，仅追加。
type Interaction struct {
	ID               string          `json:"id"`
	UserID           string          `json:"userId"`
	ItemID           string          `json:"itemId"`
	Type             InteractionType `json:"type"`
	Value            *float64        `json:"value,omitempty"` // type=rate 时必填，1-5
	Category         string          `json:"category,omitempty"`
	Timestamp        time.Time       `json:"timestamp"`
	Source           string          `json:"source,omitempty"` // web / mobile / api
	SessionID        string          `json:"sessionId,omitempty"`
	RecommendationID string          `json:"recommendationId,omitempty"`
	Position         int             `json:"position,omitempty"`
}

// EffectiveWeight 返回该交互的聚合权重：rate 用评分值，其余按类型。
func (in *Interaction) EffectiveWeight() float64 {
	if in.Type == InteractionRate && in.Value != nil {
		return *in.Value
	}
	return in.Type.Weight()
}

// Validate 校验交互事件的字段契约。
func (in *Interaction) Validate() error {
	if in.UserID == "" {
		return NewFieldError(ModuleInteraction, ErrorCodeMissingUserID, "userId", "userId is required")
	}
	if in.ItemID == "" {
		return NewFieldError(ModuleInteraction, ErrorCodeInvalidInput, "itemId", "itemId is required")
	}
	if !validInteractionTypes[in.Type] {
		return NewFieldError(ModuleInteraction, ErrorCodeInvalidInteractionType, "interactionType",
			fmt.Sprintf("unknown interaction type %q", in.Type))
	}
	if in.Type == InteractionRate {
		if in.Value == nil {
			return NewFieldError(ModuleInteraction, ErrorCodeInvalidInput, "interactionValue",
				"interactionValue is required when interactionType is rate")
		}
		if *in.Value < 1 || *in.Value > 5 {
			return NewFieldError(ModuleInteraction, ErrorCodeInvalidInput, "interactionValue",
				fmt.Sprintf("interactionValue must be in [1,5], got %v", *in.Value))
		}
	}
	if in.Source != "" && !validSources[in.Source] {
		return NewFieldError(ModuleInteraction, ErrorCodeInvalidInput, "source",
			fmt.Sprintf("unknown source %q", in.Source))
	}
	return nil
}
