package filter

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"pulse-alerts/internal/storage"
)

func pred(confidence float64, assets []string, sentiment string) storage.Prediction {
	return storage.Prediction{
		Preview:    "AAPL beats estimates",
		Confidence: decimal.NewFromFloat(confidence),
		Assets:     assets,
		Sentiment:  sentiment,
		CreatedAt:  time.Now(),
	}
}

func TestMatchesConfidenceThreshold(t *testing.T) {
	prefs := storage.AlertPreference{MinConfidence: decimal.NewFromFloat(0.7)}

	if !Matches(pred(0.85, nil, "bullish"), prefs) {
		t.Fatal("0.85 >= 0.7 应匹配")
	}
	if Matches(pred(0.5, nil, "bullish"), prefs) {
		t.Fatal("0.5 < 0.7 应被拒绝")
	}
	if Matches(storage.Prediction{}, prefs) {
		t.Fatal("缺失 confidence 应被拒绝")
	}
}

func TestMatchesAssetInterest(t *testing.T) {
	prefs := storage.AlertPreference{AssetsOfInterest: []string{"AAPL", "TSLA"}}

	if !Matches(pred(0.9, []string{"aapl"}, "bullish"), prefs) {
		t.Fatal("资产集合交集应忽略大小写")
	}
	if Matches(pred(0.9, []string{"NVDA"}, "bullish"), prefs) {
		t.Fatal("无交集应被拒绝")
	}

	empty := storage.AlertPreference{}
	if !Matches(pred(0.9, []string{"NVDA"}, "bullish"), empty) {
		t.Fatal("空的 assets_of_interest 应匹配所有资产")
	}
}

func TestMatchesSentimentFilter(t *testing.T) {
	prefs := storage.AlertPreference{SentimentFilter: "Bullish"}

	if !Matches(pred(0.9, nil, "BULLISH"), prefs) {
		t.Fatal("sentiment 比较应忽略大小写")
	}
	if Matches(pred(0.9, nil, "bearish"), prefs) {
		t.Fatal("sentiment 不符应被拒绝")
	}

	all := storage.AlertPreference{SentimentFilter: "all"}
	if !Matches(pred(0.9, nil, "bearish"), all) {
		t.Fatal(`filter "all" 应匹配所有 sentiment`)
	}
}

func TestMatchesIsPure(t *testing.T) {
	p := pred(0.9, []string{"AAPL"}, "bullish")
	prefs := storage.AlertPreference{
		MinConfidence:    decimal.NewFromFloat(0.5),
		AssetsOfInterest: []string{"AAPL"},
		SentimentFilter:  "bullish",
	}

	pCopy := p
	pCopy.Assets = append([]string(nil), p.Assets...)
	prefsCopy := prefs
	prefsCopy.AssetsOfInterest = append([]string(nil), prefs.AssetsOfInterest...)

	first := Matches(p, prefs)
	second := Matches(p, prefs)
	if first != second {
		t.Fatal("相同输入应得到相同结果")
	}
	if !reflect.DeepEqual(p.Assets, pCopy.Assets) || !reflect.DeepEqual(prefs.AssetsOfInterest, prefsCopy.AssetsOfInterest) {
		t.Fatal("Matches 不应修改输入")
	}
}

func TestQuietHoursOvernightWindow(t *testing.T) {
	prefs := storage.AlertPreference{
		QuietHoursEnabled: true,
		QuietHoursStart:   "22:00",
		QuietHoursEnd:     "08:00",
	}

	at := func(hour int) time.Time {
		return time.Date(2025, 6, 1, hour, 0, 0, 0, time.Local)
	}

	if !InQuietHours(prefs, at(23)) {
		t.Fatal("23:00 应处于免打扰窗口")
	}
	if !InQuietHours(prefs, at(3)) {
		t.Fatal("03:00 应处于免打扰窗口")
	}
	if InQuietHours(prefs, at(12)) {
		t.Fatal("12:00 不应处于免打扰窗口")
	}
}

func TestQuietHoursSameDayWindow(t *testing.T) {
	prefs := storage.AlertPreference{
		QuietHoursEnabled: true,
		QuietHoursStart:   "09:00",
		QuietHoursEnd:     "17:00",
	}

	noon := time.Date(2025, 6, 1, 12, 0, 0, 0, time.Local)
	evening := time.Date(2025, 6, 1, 20, 0, 0, 0, time.Local)
	boundary := time.Date(2025, 6, 1, 17, 0, 0, 0, time.Local)

	if !InQuietHours(prefs, noon) {
		t.Fatal("12:00 应处于 09:00-17:00 窗口内")
	}
	if InQuietHours(prefs, evening) {
		t.Fatal("20:00 不应处于窗口内")
	}
	if InQuietHours(prefs, boundary) {
		t.Fatal("end 边界为开区间")
	}
}

func TestQuietHoursDisabledOrInvalid(t *testing.T) {
	disabled := storage.AlertPreference{QuietHoursStart: "22:00", QuietHoursEnd: "08:00"}
	if InQuietHours(disabled, time.Date(2025, 6, 1, 23, 0, 0, 0, time.Local)) {
		t.Fatal("未启用时不应进入免打扰")
	}

	invalid := storage.AlertPreference{QuietHoursEnabled: true, QuietHoursStart: "not-a-clock", QuietHoursEnd: "08:00"}
	if InQuietHours(invalid, time.Date(2025, 6, 1, 23, 0, 0, 0, time.Local)) {
		t.Fatal("无法解析的时刻应禁用窗口而非压制投递")
	}
}

func TestDeriveSentiment(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want string
	}{
		{"first value wins", `{"AAPL":"Bullish","TSLA":"bearish"}`, "bullish"},
		{"lower cased", `{"NVDA":"NEUTRAL"}`, "neutral"},
		{"empty object", `{}`, "neutral"},
		{"not an object", `["bullish"]`, "neutral"},
		{"absent", ``, "neutral"},
		{"non-string value", `{"AAPL":42}`, "neutral"},
		{"malformed", `{"AAPL":`, "neutral"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := DeriveSentiment(json.RawMessage(tc.raw)); got != tc.want {
				t.Fatalf("DeriveSentiment(%q) = %q, 期望 %q", tc.raw, got, tc.want)
			}
		})
	}
}
