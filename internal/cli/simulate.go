package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"pulse-alerts/internal/app"
)

var (
	simulateChannel    string
	simulateTarget     string
	simulateConfidence float64
	simulateAssets     []string
	simulateSentiment  string
	simulateThesis     string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "构造一条合成预测并触发告警",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateTarget == "" {
			return errors.New("--target 必须配置")
		}
		if simulateConfidence <= 0 || simulateConfidence > 1 {
			return errors.New("--confidence 必须在 (0, 1] 之间")
		}

		return getApp().SimulateAlert(cmd.Context(), app.SimulateOptions{
			Channel:    simulateChannel,
			Target:     simulateTarget,
			Confidence: simulateConfidence,
			Assets:     simulateAssets,
			Sentiment:  simulateSentiment,
			Thesis:     simulateThesis,
		})
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateChannel, "channel", "telegram", "告警通道 (telegram/email/sms)")
	simulateCmd.Flags().StringVar(&simulateTarget, "target", "", "通道地址 (chat id / 邮箱 / 手机号)")
	simulateCmd.Flags().Float64Var(&simulateConfidence, "confidence", 0.9, "合成预测置信度")
	simulateCmd.Flags().StringSliceVar(&simulateAssets, "assets", []string{"AAPL"}, "合成预测资产列表")
	simulateCmd.Flags().StringVar(&simulateSentiment, "sentiment", "bullish", "合成预测情绪")
	simulateCmd.Flags().StringVar(&simulateThesis, "thesis", "simulated alert", "合成预测论点")
}
