package core

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dineflow/recommend/pkg/conv"
	"github.com/dineflow/recommend/pkg/utils"
)

// RecommendContext 承载用户/场景/请求上下文，贯穿整个推荐链路透传。
type RecommendContext struct {
	UserID string
	Scene  string // 请求场景：recommendations / personalized / contextual

	// Dining 是校验过的结构化点餐上下文；在边界处校验一次，
	// 链路内部不再重复校验。
	Dining *DiningContext

	// Labels 是请求级标签，可驱动整个链路行为（实验分组、冷启动等）。
	Labels map[string]utils.Label
}

// PutLabel 写入请求级 Label。
func (rctx *RecommendContext) PutLabel(key string, lbl utils.Label) {
	if rctx.Labels == nil {
		rctx.Labels = make(map[string]utils.Label)
	}
	if old, ok := rctx.Labels[key]; ok {
		rctx.Labels[key] = utils.MergeLabel(old, lbl)
		return
	}
	rctx.Labels[key] = lbl
}

// MealPeriod / Season 的合法取值
var (
	validMealPeriods = map[string]bool{"breakfast": true, "lunch": true, "dinner": true, "snack": true}
	validSeasons     = map[string]bool{"spring": true, "summer": true, "autumn": true, "winter": true}
)

// GeoPoint 是经纬度坐标。
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Weather 是请求时刻的天气信息。
type Weather struct {
	Temperature float64 `json:"temperature"`
	Condition   string  `json:"condition"`
	Season      string  `json:"season"`
}

// BudgetRange 是预算区间。Min >= 0 且 Max > 0 且 Max >= Min。
type BudgetRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// DiningContext 是结构化的点餐上下文。所有字段均可缺省：
// 缺省字段不参与任何过滤/加权。未知字段保留在 Extra 中（向前兼容）。
type DiningContext struct {
	TimeOfDay        *int         `json:"timeOfDay,omitempty"` // 0-23
	Location         *GeoPoint    `json:"location,omitempty"`
	Weather          *Weather     `json:"weather,omitempty"`
	Budget           *BudgetRange `json:"budgetRange,omitempty"`
	MealPeriod       string       `json:"mealPeriod,omitempty"`
	Category         string       `json:"category,omitempty"`
	IsFirstVisit     bool         `json:"isFirstVisit,omitempty"`
	IsExploring      bool         `json:"isExploring,omitempty"`
	PromotionalItems []string     `json:"promotionalItems,omitempty"`
	Extra            map[string]any
}

// Season 返回当前季节：优先取天气字段，否则按月份推断（北半球）。
func (d *DiningContext) Season() string {
	if d != nil && d.Weather != nil && d.Weather.Season != "" {
		return d.Weather.Season
	}
	return SeasonOf(time.Now())
}

// SeasonOf 按月份推断季节。
func SeasonOf(t time.Time) string {
	switch t.Month() {
	case time.December, time.January, time.February:
		return "winter"
	case time.March, time.April, time.May:
		return "spring"
	case time.June, time.July, time.August:
		return "summer"
	default:
		return "autumn"
	}
}

func invalidContext(field, format string, args ...any) error {
	return NewFieldError(ModuleContext, ErrorCodeInvalidContext, field, fmt.Sprintf(format, args...))
}

// Validate 校验所有已提供的字段是否在声明范围内。
func (d *DiningContext) Validate() error {
	if d == nil {
		return nil
	}
	if d.TimeOfDay != nil && (*d.TimeOfDay < 0 || *d.TimeOfDay > 23) {
		return invalidContext("timeOfDay", "timeOfDay must be in [0,23], got %d", *d.TimeOfDay)
	}
	if d.Location != nil {
		if d.Location.Lat < -90 || d.Location.Lat > 90 {
			return invalidContext("location.lat", "latitude must be in [-90,90], got %v", d.Location.Lat)
		}
		if d.Location.Lon < -180 || d.Location.Lon > 180 {
			return invalidContext("location.lon", "longitude must be in [-180,180], got %v", d.Location.Lon)
		}
	}
	if d.Weather != nil && d.Weather.Season != "" && !validSeasons[d.Weather.Season] {
		return invalidContext("weather.season", "unknown season %q", d.Weather.Season)
	}
	if d.Budget != nil {
		if d.Budget.Min < 0 {
			return invalidContext("budgetRange.min", "budget min must be >= 0, got %v", d.Budget.Min)
		}
		if d.Budget.Max <= 0 {
			return invalidContext("budgetRange.max", "budget max must be > 0, got %v", d.Budget.Max)
		}
		if d.Budget.Max < d.Budget.Min {
			return invalidContext("budgetRange", "budget max %v is below min %v", d.Budget.Max, d.Budget.Min)
		}
	}
	if d.MealPeriod != "" && !validMealPeriods[d.MealPeriod] {
		return invalidContext("mealPeriod", "unknown meal period %q", d.MealPeriod)
	}
	return nil
}

// ParseContext 将边界输入归一化为 DiningContext。
// 接受结构化对象（*DiningContext / map[string]any）或序列化形态（JSON []byte / string）。
// 解析失败或任一已提供字段越界时返回 INVALID_CONTEXT；纯函数，无副作用。
func ParseContext(raw any) (*DiningContext, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case *DiningContext:
		if err := v.Validate(); err != nil {
			return nil, err
		}
		return v, nil
	case DiningContext:
		return ParseContext(&v)
	case map[string]any:
		return parseContextMap(v)
	case []byte:
		return parseContextJSON(v)
	case string:
		return parseContextJSON([]byte(v))
	default:
		return nil, invalidContext("", "unsupported context payload of type %T", raw)
	}
}

func parseContextJSON(data []byte) (*DiningContext, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, invalidContext("", "context is not valid JSON: %v", err)
	}
	return parseContextMap(m)
}

// parseContextMap 逐字段提取已知 key，其余原样保留在 Extra。
func parseContextMap(m map[string]any) (*DiningContext, error) {
	if len(m) == 0 {
		return nil, nil
	}
	d := &DiningContext{}
	for key, val := range m {
		switch key {
		case "timeOfDay":
			h, ok := conv.ToInt(val)
			if !ok {
				return nil, invalidContext("timeOfDay", "timeOfDay must be a number")
			}
			d.TimeOfDay = &h
		case "location":
			loc, ok := val.(map[string]any)
			if !ok {
				return nil, invalidContext("location", "location must be an object")
			}
			lat, _ := conv.ToFloat64(loc["lat"])
			lon, _ := conv.ToFloat64(loc["lon"])
			d.Location = &GeoPoint{Lat: lat, Lon: lon}
		case "weather":
			w, ok := val.(map[string]any)
			if !ok {
				return nil, invalidContext("weather", "weather must be an object")
			}
			temp, _ := conv.ToFloat64(w["temperature"])
			cond, _ := conv.ToString(w["condition"])
			season, _ := conv.ToString(w["season"])
			d.Weather = &Weather{Temperature: temp, Condition: cond, Season: season}
		case "budgetRange":
			b, ok := val.(map[string]any)
			if !ok {
				return nil, invalidContext("budgetRange", "budgetRange must be an object")
			}
			min, _ := conv.ToFloat64(b["min"])
			max, _ := conv.ToFloat64(b["max"])
			d.Budget = &BudgetRange{Min: min, Max: max}
		case "mealPeriod":
			d.MealPeriod, _ = conv.ToString(val)
		case "category":
			d.Category, _ = conv.ToString(val)
		case "isFirstVisit":
			d.IsFirstVisit, _ = conv.ToBool(val)
		case "isExploring":
			d.IsExploring, _ = conv.ToBool(val)
		case "promotionalItems":
			d.PromotionalItems = conv.SliceAnyToString(val)
		default:
			if d.Extra == nil {
				d.Extra = make(map[string]any)
			}
			d.Extra[key] = val
		}
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}
